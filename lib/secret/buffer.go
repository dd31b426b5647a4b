// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds key material in memory that is locked against swapping,
// excluded from core dumps, and zeroed on close. The backing memory is
// allocated with mmap outside the Go heap, so the garbage collector
// never copies or relocates it.
//
// A Buffer must not be copied after creation. After Close, any access
// to the contents panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// New allocates a protected buffer of the given size, filled with zeros.
// The caller must Close it when the material is no longer needed.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: mlock failed: %w", err)
	}
	// MADV_DONTDUMP is advisory; some kernels reject it. Swap
	// protection from mlock is the part that matters, so a failure
	// here is not fatal.
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	return &Buffer{data: data}, nil
}

// NewFromBytes copies src into a new protected buffer and zeros src in
// place, so the caller's slice no longer holds the secret.
func NewFromBytes(src []byte) (*Buffer, error) {
	buffer, err := New(len(src))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, src)
	for i := range src {
		src[i] = 0
	}
	return buffer, nil
}

// NewRandom allocates a protected buffer filled with size bytes from
// crypto/rand.
func NewRandom(size int) (*Buffer, error) {
	buffer, err := New(size)
	if err != nil {
		return nil, err
	}
	if _, err := rand.Read(buffer.data); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("secret: reading random bytes: %w", err)
	}
	return buffer, nil
}

// Bytes returns the protected contents. The slice aliases the mmap
// region: it stays valid until Close and must not be retained past the
// buffer's lifetime or written to disk.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: use of closed buffer")
	}
	return b.data
}

// String returns the contents as a string. The string is a heap copy;
// use it only at API boundaries that require string form.
func (b *Buffer) String() string {
	return string(b.Bytes())
}

// Len returns the buffer length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: use of closed buffer")
	}
	return len(b.data)
}

// Equal compares the contents against other in constant time.
func (b *Buffer) Equal(other []byte) bool {
	return subtle.ConstantTimeCompare(b.Bytes(), other) == 1
}

// Close zeros, unlocks, and unmaps the buffer. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for i := range b.data {
		b.data[i] = 0
	}
	err := unix.Munlock(b.data)
	if unmapErr := unix.Munmap(b.data); err == nil {
		err = unmapErr
	}
	b.data = nil
	b.closed = true
	if err != nil {
		return fmt.Errorf("secret: releasing buffer: %w", err)
	}
	return nil
}
