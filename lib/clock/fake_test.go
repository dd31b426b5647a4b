// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	c := Fake()
	ch := c.After(time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestFake_AfterFuncOrderAndStop(t *testing.T) {
	c := Fake()
	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	stopped := c.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })

	if !stopped.Stop() {
		t.Error("Stop() = false for a pending timer")
	}
	c.Advance(5 * time.Second)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Errorf("fired = %v, want [a b]", fired)
	}
}

func TestFake_TickerRepeatsAndDropsWhenBehind(t *testing.T) {
	c := Fake()
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	// Three intervals with nobody reading: capacity 1, so exactly one
	// tick is pending.
	c.Advance(3 * time.Second)

	pending := 0
	for {
		select {
		case <-ticker.C:
			pending++
			continue
		default:
		}
		break
	}
	if pending != 1 {
		t.Errorf("pending ticks = %d, want 1", pending)
	}
}

func TestFake_NowAdvances(t *testing.T) {
	c := Fake()
	start := c.Now()
	c.Advance(90 * time.Second)
	if got := c.Now().Sub(start); got != 90*time.Second {
		t.Errorf("advanced %v, want 90s", got)
	}
}
