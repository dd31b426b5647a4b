// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package order

import (
	"sync"
	"testing"
	"time"

	"github.com/agentmirror/agentmirror/lib/clock"
	"github.com/agentmirror/agentmirror/lib/testutil"
)

type releaseRecorder struct {
	mu       sync.Mutex
	released []uint64
}

func (r *releaseRecorder) deliver(reply Reply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, reply.Sequence)
}

func (r *releaseRecorder) order() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.released...)
}

func newTestReleaser(t *testing.T, recorder *releaseRecorder, config ReleaserConfig) *Releaser {
	t.Helper()
	config.Deliver = recorder.deliver
	releaser, err := NewReleaser(config)
	if err != nil {
		t.Fatalf("NewReleaser() error: %v", err)
	}
	t.Cleanup(releaser.Close)
	return releaser
}

func sequencesEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReleaser_HeldBlocksUntilEarlyRelease(t *testing.T) {
	recorder := &releaseRecorder{}
	releaser := newTestReleaser(t, recorder, ReleaserConfig{})

	releaser.Enqueue([]byte("r0"), 0, false, "")
	releaser.Enqueue([]byte("r1"), 1, true, "tool-call-7")
	releaser.Enqueue([]byte("r2"), 2, false, "")
	releaser.Enqueue([]byte("r3"), 3, false, "")

	if got := recorder.order(); !sequencesEqual(got, []uint64{0}) {
		t.Fatalf("released %v before early release, want [0]", got)
	}

	if !releaser.EarlyRelease("tool-call-7") {
		t.Fatal("EarlyRelease() found no matching held reply")
	}
	if got := recorder.order(); !sequencesEqual(got, []uint64{0, 1, 2, 3}) {
		t.Fatalf("released %v after early release, want [0 1 2 3]", got)
	}

	if releaser.EarlyRelease("tool-call-7") {
		t.Error("EarlyRelease() matched an already-released token")
	}
}

func TestReleaser_OutOfOrderArrivalStillReleasesInOrder(t *testing.T) {
	recorder := &releaseRecorder{}
	releaser := newTestReleaser(t, recorder, ReleaserConfig{})

	releaser.Enqueue([]byte("r2"), 2, false, "")
	releaser.Enqueue([]byte("r3"), 3, false, "")
	if got := recorder.order(); len(got) != 0 {
		t.Fatalf("released %v before sequence 0 arrived", got)
	}

	releaser.Enqueue([]byte("r1"), 1, true, "tok")
	releaser.Enqueue([]byte("r0"), 0, false, "")
	if got := recorder.order(); !sequencesEqual(got, []uint64{0}) {
		t.Fatalf("released %v, want [0]", got)
	}

	releaser.EarlyRelease("tok")
	if got := recorder.order(); !sequencesEqual(got, []uint64{0, 1, 2, 3}) {
		t.Fatalf("released %v, want [0 1 2 3]", got)
	}
}

func TestReleaser_ConcurrentEnqueueAndRelease(t *testing.T) {
	recorder := &releaseRecorder{}
	releaser := newTestReleaser(t, recorder, ReleaserConfig{})

	const count = 200
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i uint64) {
			defer wg.Done()
			releaser.Enqueue([]byte{byte(i)}, i, false, "")
		}(uint64(i))
	}
	wg.Wait()

	testutil.Eventually(t, func() bool { return len(recorder.order()) == count },
		5*time.Second, "waiting for all replies to release")
	got := recorder.order()
	for i, sequence := range got {
		if sequence != uint64(i) {
			t.Fatalf("release %d has sequence %d, order violated", i, sequence)
		}
	}
}

func TestReleaser_HoldTimeoutBecomesDenial(t *testing.T) {
	recorder := &releaseRecorder{}
	fakeClock := clock.Fake()
	var timedOut []string
	var timedOutMu sync.Mutex
	releaser := newTestReleaser(t, recorder, ReleaserConfig{
		Clock:       fakeClock,
		HoldTimeout: time.Minute,
		OnTimeout: func(token string) {
			timedOutMu.Lock()
			defer timedOutMu.Unlock()
			timedOut = append(timedOut, token)
		},
	})

	releaser.Enqueue([]byte("r0"), 0, true, "abandoned")
	releaser.Enqueue([]byte("r1"), 1, false, "")
	if got := recorder.order(); len(got) != 0 {
		t.Fatalf("released %v while held", got)
	}

	fakeClock.Advance(time.Minute)
	testutil.Eventually(t, func() bool { return len(recorder.order()) == 2 },
		5*time.Second, "waiting for timeout release")
	if got := recorder.order(); !sequencesEqual(got, []uint64{0, 1}) {
		t.Fatalf("released %v after timeout, want [0 1]", got)
	}

	timedOutMu.Lock()
	defer timedOutMu.Unlock()
	if len(timedOut) != 1 || timedOut[0] != "abandoned" {
		t.Errorf("OnTimeout saw %v, want [abandoned]", timedOut)
	}
}

func TestReleaser_EarlyReleaseStopsTimer(t *testing.T) {
	recorder := &releaseRecorder{}
	fakeClock := clock.Fake()
	var timeouts int
	var timeoutsMu sync.Mutex
	releaser := newTestReleaser(t, recorder, ReleaserConfig{
		Clock:       fakeClock,
		HoldTimeout: time.Minute,
		OnTimeout: func(string) {
			timeoutsMu.Lock()
			defer timeoutsMu.Unlock()
			timeouts++
		},
	})

	releaser.Enqueue([]byte("r0"), 0, true, "tok")
	releaser.EarlyRelease("tok")
	fakeClock.Advance(time.Hour)

	timeoutsMu.Lock()
	defer timeoutsMu.Unlock()
	if timeouts != 0 {
		t.Errorf("timeout fired %d times after early release", timeouts)
	}
}

func TestReleaser_CloseDropsBuffered(t *testing.T) {
	recorder := &releaseRecorder{}
	releaser := newTestReleaser(t, recorder, ReleaserConfig{})

	releaser.Enqueue([]byte("r1"), 1, false, "")
	releaser.Enqueue([]byte("r2"), 2, true, "tok")
	releaser.Close()

	// Sequence 0 arriving after Close must not resurrect the stream.
	releaser.Enqueue([]byte("r0"), 0, false, "")
	if got := recorder.order(); len(got) != 0 {
		t.Errorf("released %v after Close", got)
	}
	if releaser.EarlyRelease("tok") {
		t.Error("EarlyRelease() matched after Close")
	}
}
