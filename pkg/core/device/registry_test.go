// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testAllocator allocates plain host memory and counts frees through a
// self-contained deleter.
type testAllocator struct {
	tag   Tag
	frees *atomic.Int64
}

func newTestAllocator(tag Tag) *testAllocator {
	return &testAllocator{tag: tag, frees: &atomic.Int64{}}
}

func (a *testAllocator) Allocate(nbytes int) (*Buffer, error) {
	return NewBuffer(make([]byte, nbytes), Device{Tag: a.tag}, a.RawDeleter()), nil
}

func (a *testAllocator) RawDeleter() Deleter {
	frees := a.frees // Captured by value: survives the allocator being dropped.
	return func(data []byte) { frees.Add(1) }
}

func testDescriptor(tag Tag) *Descriptor {
	return &Descriptor{
		Tag:       tag,
		Allocator: newTestAllocator(tag),
		Guard:     NewNoOpGuard(tag, 2),
	}
}

func TestRegisterBuiltinOnce(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDescriptor(CPU)))
	err := r.Register(testDescriptor(CPU))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyRegistered))
}

func TestRegisterPrivateReplaces(t *testing.T) {
	r := NewRegistry()
	first := testDescriptor(PrivateUse1)
	second := testDescriptor(PrivateUse1)
	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))
	d, err := r.Lookup(PrivateUse1)
	require.NoError(t, err)
	assert.Same(t, second, d)

	// Buffers issued by the replaced allocator must still free correctly.
	buf, err := first.Allocator.Allocate(16)
	require.NoError(t, err)
	buf.Free()
	assert.EqualValues(t, 1, first.Allocator.(*testAllocator).frees.Load())
}

func TestLookupUnregistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup(Metal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotRegistered))
	assert.False(t, r.IsRegistered(Metal))

	_, err = r.Allocate(Metal, 128)
	assert.True(t, errors.Is(err, ErrNotRegistered))
}

func TestAllocateAndFree(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDescriptor(CPU)))
	buf, err := r.Allocate(CPU, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, buf.Len())
	assert.Equal(t, "cpu", buf.Device().String())

	alloc := mustLookup(t, r, CPU).Allocator.(*testAllocator)
	buf.Free()
	buf.Free() // Idempotent.
	assert.True(t, buf.IsFreed())
	assert.EqualValues(t, 1, alloc.frees.Load())
}

func mustLookup(t *testing.T, r *Registry, tag Tag) *Descriptor {
	d, err := r.Lookup(tag)
	require.NoError(t, err)
	return d
}

func TestConcurrentLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDescriptor(CPU)))
	require.NoError(t, r.Register(testDescriptor(PrivateUse2)))

	const goroutines = 32
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				if _, err := r.Lookup(CPU); err != nil {
					t.Error(err)
					return
				}
				if _, err := r.Lookup(PrivateUse2); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDevicePoolOneShot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDescriptor(CPU)))
	require.NoError(t, r.Register(testDescriptor(PrivateUse1)))

	// Concurrent first touch: all goroutines must observe the same result.
	const goroutines = 16
	results := make([][]Device, goroutines)
	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.Devices()
		}()
	}
	wg.Wait()
	for i := 1; i < goroutines; i++ {
		assert.Equal(t, results[0], results[i])
	}
	assert.Len(t, results[0], 4) // 2 CPU + 2 PrivateUse1 from NewNoOpGuard(tag, 2).
	assert.Equal(t, 2, r.DeviceCount(CPU))

	// Registered after first enumeration: not picked up.
	require.NoError(t, r.Register(testDescriptor(PrivateUse3)))
	assert.Equal(t, 0, r.DeviceCount(PrivateUse3))
}

func TestDefaultAcceleratorInvariant(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.SetDefaultAccelerator(CUDA))
	tag, ok := r.DefaultAccelerator()
	require.True(t, ok)
	assert.Equal(t, CUDA, tag)

	// A second non-private accelerator must be rejected.
	require.Error(t, r.SetDefaultAccelerator(Metal))

	// Private tags may coexist with any accelerator.
	require.NoError(t, r.SetDefaultAccelerator(PrivateUse1))
	tag, _ = r.DefaultAccelerator()
	assert.Equal(t, CUDA, tag)

	require.Error(t, r.SetDefaultAccelerator(CPU))
}

func TestDeviceString(t *testing.T) {
	assert.Equal(t, "cpu", Device{Tag: CPU}.String())
	assert.Equal(t, "cuda:1", Device{Tag: CUDA, Index: 1}.String())
	assert.Equal(t, "privateuse1:0", Device{Tag: PrivateUse1}.String())
	assert.True(t, PrivateUse2.IsPrivate())
	assert.False(t, CUDA.IsPrivate())
	assert.True(t, CUDA.IsAccelerator())
	assert.False(t, CPU.IsAccelerator())
}
