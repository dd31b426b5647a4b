// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package order

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agentmirror/agentmirror/lib/clock"
)

var errDeliverRequired = errors.New("order: ReleaserConfig.Deliver is required")

// Reply is one sequenced agent reply handed to delivery.
type Reply struct {
	Payload  []byte
	Sequence uint64
	// Token is the correlation token for held replies, empty otherwise.
	Token string
}

// DefaultHoldTimeout bounds how long a held reply may wait for its
// permission decision before the hold is treated as a denial.
const DefaultHoldTimeout = 5 * time.Minute

// ReleaserConfig configures a Releaser.
type ReleaserConfig struct {
	// Deliver receives replies in strict sequence order, one call at
	// a time. Required.
	Deliver func(reply Reply)
	// OnTimeout is called when a held reply's timeout expires and the
	// hold is converted to a denial. Optional.
	OnTimeout func(token string)
	// HoldTimeout defaults to DefaultHoldTimeout.
	HoldTimeout time.Duration
	// Clock defaults to clock.Real().
	Clock clock.Clock
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type heldReply struct {
	payload []byte
	token   string
	held    bool
	timer   *clock.Timer
}

// Releaser emits buffered replies in strict sequence order. A reply
// enqueued as held blocks itself and every higher sequence number
// until EarlyRelease resolves it by token or its hold times out.
// Replies never release out of numeric order.
type Releaser struct {
	deliver     func(Reply)
	onTimeout   func(string)
	holdTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	mu      sync.Mutex
	next    uint64
	buffer  map[uint64]*heldReply
	byToken map[string]uint64
	pumping bool
	closed  bool
}

// NewReleaser creates a Releaser expecting sequence numbers from 0.
func NewReleaser(config ReleaserConfig) (*Releaser, error) {
	if config.Deliver == nil {
		return nil, errDeliverRequired
	}
	if config.HoldTimeout <= 0 {
		config.HoldTimeout = DefaultHoldTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Releaser{
		deliver:     config.Deliver,
		onTimeout:   config.OnTimeout,
		holdTimeout: config.HoldTimeout,
		clock:       config.Clock,
		logger:      config.Logger,
		buffer:      make(map[uint64]*heldReply),
		byToken:     make(map[string]uint64),
	}, nil
}

// Enqueue buffers one reply. held marks it as awaiting a permission
// decision correlated by token; the hold is resolved by EarlyRelease
// or, after the hold timeout, converted to a denial. Safe for
// concurrent use with EarlyRelease.
func (r *Releaser) Enqueue(payload []byte, sequence uint64, held bool, token string) {
	r.mu.Lock()
	if r.closed || sequence < r.next {
		r.mu.Unlock()
		return
	}
	entry := &heldReply{payload: payload, token: token, held: held}
	r.buffer[sequence] = entry
	if held && token != "" {
		r.byToken[token] = sequence
		entry.timer = r.clock.AfterFunc(r.holdTimeout, func() {
			r.timeout(token)
		})
	}
	r.mu.Unlock()
	r.pump()
}

// EarlyRelease clears the hold on the buffered reply matching token
// and releases everything that is now eligible. It reports whether a
// held reply with that token was found.
func (r *Releaser) EarlyRelease(token string) bool {
	r.mu.Lock()
	sequence, ok := r.byToken[token]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byToken, token)
	entry := r.buffer[sequence]
	entry.held = false
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	r.mu.Unlock()
	r.pump()
	return true
}

// Close drops every buffered, unreleased reply and stops their hold
// timers. Dropped replies are never resent.
func (r *Releaser) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	dropped := len(r.buffer)
	for _, entry := range r.buffer {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	r.buffer = make(map[uint64]*heldReply)
	r.byToken = make(map[string]uint64)
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Info("dropped unreleased replies", "count", dropped)
	}
}

// timeout fires when a held reply's permission decision never
// arrived. The hold becomes a denial: the reply is released so the
// stream behind it can move, and OnTimeout lets the caller record
// the denied request.
func (r *Releaser) timeout(token string) {
	r.mu.Lock()
	sequence, ok := r.byToken[token]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byToken, token)
	entry := r.buffer[sequence]
	entry.held = false
	entry.timer = nil
	r.mu.Unlock()

	r.logger.Warn("hold timed out, treating as denial", "token", token, "sequence", sequence)
	if r.onTimeout != nil {
		r.onTimeout(token)
	}
	r.pump()
}

// pump releases the longest eligible run starting at the next
// expected sequence. The pumping flag keeps delivery on a single
// goroutine so concurrent Enqueue and EarlyRelease calls cannot
// interleave deliveries out of order.
func (r *Releaser) pump() {
	r.mu.Lock()
	if r.pumping {
		r.mu.Unlock()
		return
	}
	r.pumping = true
	for {
		entry, ok := r.buffer[r.next]
		if !ok || entry.held || r.closed {
			break
		}
		sequence := r.next
		delete(r.buffer, sequence)
		r.next++
		r.mu.Unlock()

		r.deliver(Reply{Payload: entry.payload, Sequence: sequence, Token: entry.token})

		r.mu.Lock()
	}
	r.pumping = false
	r.mu.Unlock()
}
