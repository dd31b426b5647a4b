// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package order

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Batch is a sealed run of agent output produced under a single
// operating mode. Ordinals count sealed batches in seal order.
type Batch struct {
	ModeTag  string
	Ordinal  uint64
	Payloads [][]byte
}

// SendFunc delivers one sealed batch. The batcher calls it from its
// Run goroutine, one batch at a time, in seal order.
type SendFunc func(ctx context.Context, batch Batch) error

// BatcherConfig configures a Batcher.
type BatcherConfig struct {
	// Send delivers sealed batches. Required.
	Send SendFunc
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Batcher assembles agent output into mode-isolated batches. When the
// sender is idle the batch under assembly is sealed and delivered
// immediately; while a send is in flight, messages accumulate and go
// out together once the sender frees up. A message with a different
// mode tag seals the current batch regardless, so a downstream
// consumer never sees two modes interleaved in one delivery unit.
type Batcher struct {
	send   SendFunc
	logger *slog.Logger

	mu              sync.Mutex
	currentTag      string
	currentPayloads [][]byte
	sealed          []Batch
	inFlight        bool
	nextOrdinal     uint64
	flushWaiters    []chan struct{}

	wake chan struct{}
}

// NewBatcher creates a Batcher. Call Run to start delivery.
func NewBatcher(config BatcherConfig) (*Batcher, error) {
	if config.Send == nil {
		return nil, fmt.Errorf("order: BatcherConfig.Send is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		send:   config.Send,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}, nil
}

// Enqueue appends a message to the batch being assembled. If modeTag
// differs from the current batch's tag, the current batch is sealed
// first and the message starts a new batch. Safe for concurrent use.
func (b *Batcher) Enqueue(payload []byte, modeTag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.currentPayloads) > 0 && modeTag != b.currentTag {
		b.sealLocked()
	}
	b.currentTag = modeTag
	b.currentPayloads = append(b.currentPayloads, payload)
	b.wakeLocked()
}

// Flush seals the batch under assembly and blocks until every sealed
// batch has been handed to Send, or ctx is cancelled.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	b.sealLocked()
	if len(b.sealed) == 0 && !b.inFlight {
		b.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	b.flushWaiters = append(b.flushWaiters, done)
	b.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers batches until ctx is cancelled. Exactly one Send call
// is in flight at any time; when none is, the batch under assembly is
// sealed so output reaches the relay as it arrives. Send failures are
// logged and the batch is dropped rather than blocking the ones
// behind it.
func (b *Batcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.wake:
		}

		for {
			b.mu.Lock()
			if len(b.sealed) == 0 && len(b.currentPayloads) > 0 {
				b.sealLocked()
			}
			if len(b.sealed) == 0 {
				b.inFlight = false
				for _, waiter := range b.flushWaiters {
					close(waiter)
				}
				b.flushWaiters = nil
				b.mu.Unlock()
				break
			}
			batch := b.sealed[0]
			b.sealed = b.sealed[1:]
			b.inFlight = true
			b.mu.Unlock()

			if err := b.send(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.logger.Warn("batch send failed",
					"ordinal", batch.Ordinal,
					"modeTag", batch.ModeTag,
					"messages", len(batch.Payloads),
					"error", err)
			}
		}
	}
}

// sealLocked moves the batch under assembly onto the sealed queue.
// Caller holds b.mu.
func (b *Batcher) sealLocked() {
	if len(b.currentPayloads) == 0 {
		return
	}
	b.sealed = append(b.sealed, Batch{
		ModeTag:  b.currentTag,
		Ordinal:  b.nextOrdinal,
		Payloads: b.currentPayloads,
	})
	b.nextOrdinal++
	b.currentPayloads = nil
	b.wakeLocked()
}

func (b *Batcher) wakeLocked() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
