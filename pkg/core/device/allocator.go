// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"sync/atomic"
)

// Deleter frees a raw allocation. A Deleter must remain callable even if the
// Allocator that produced it is no longer reachable: implementations must not
// close over state that can be invalidated by the allocator being replaced
// (the PrivateUse tags allow descriptor re-registration while previously
// issued buffers are still live).
type Deleter func(data []byte)

// Buffer is an owning handle to raw device memory. The deleter is captured at
// allocation time; Free is idempotent and releases the memory exactly once.
type Buffer struct {
	data   []byte
	device Device
	freed  atomic.Bool
	free   Deleter
}

// NewBuffer wraps raw memory into an owning Buffer. free may be nil for
// memory owned elsewhere (e.g. wrapping a foreign allocation).
func NewBuffer(data []byte, dev Device, free Deleter) *Buffer {
	return &Buffer{data: data, device: dev, free: free}
}

// Bytes returns the raw memory. It must not be retained past Free.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the allocation size in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Device returns the device the memory lives on.
func (b *Buffer) Device() Device { return b.device }

// Free releases the memory through the captured deleter. Safe to call more
// than once; only the first call has effect.
func (b *Buffer) Free() {
	if b == nil || b.freed.Swap(true) {
		return
	}
	if b.free != nil {
		b.free(b.data)
	}
	b.data = nil
}

// IsFreed returns whether Free has been called.
func (b *Buffer) IsFreed() bool { return b.freed.Load() }

// Allocator allocates raw memory on one device family.
type Allocator interface {
	// Allocate returns an owning Buffer of nbytes bytes. Allocation failures
	// are returned as errors and are not retried by the runtime.
	Allocate(nbytes int) (*Buffer, error)

	// RawDeleter returns the deleter used for this allocator's buffers. The
	// returned function must be self-contained (see Deleter).
	RawDeleter() Deleter
}

// Guard is the minimal device-context switch capability a backend must
// provide before any tensor can be constructed on its device.
type Guard interface {
	// Tag of the device family this guard controls.
	Tag() Tag

	// DeviceCount reports the number of physical devices of this family.
	DeviceCount() int

	// CurrentDevice returns the active device index for this family.
	CurrentDevice() int

	// SetDevice makes index the active device for this family.
	SetDevice(index int) error
}

// Generator is a per-device pseudorandom number generator.
type Generator interface {
	// Device this generator is bound to.
	Device() Device

	// Seed reseeds the generator.
	Seed(seed uint64)

	// Uint64 returns the next 64 random bits.
	Uint64() uint64

	// Float64 returns a uniform value in [0, 1).
	Float64() float64

	// NormFloat64 returns a normally distributed value (mean 0, stddev 1).
	NormFloat64() float64
}

// GeneratorFactory constructs a Generator for one device index.
type GeneratorFactory func(index int) (Generator, error)

// Hooks are optional device-specific queries a backend can provide:
// default generator lookup and pinned-memory support.
type Hooks interface {
	// DefaultGenerator returns the process-wide default generator for the
	// given device index.
	DefaultGenerator(index int) (Generator, error)

	// IsPinned reports whether data points into pinned (page-locked) host
	// memory managed by this backend.
	IsPinned(data []byte) bool

	// PinnedAllocator returns the allocator for pinned host memory, or an
	// error if the backend has none.
	PinnedAllocator() (Allocator, error)
}
