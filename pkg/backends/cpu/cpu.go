// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu is the built-in host backend: a heap allocator, a single-device
// guard, a PCG generator and kernels for the minimal operator set. Importing
// the package registers everything into the global registries.
package cpu

import (
	"github.com/janpfeifer/must"

	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/gotensor/gotensor/pkg/core/dispatch"
	"github.com/gotensor/gotensor/pkg/core/generator"
)

// DefaultSeed seeds the default host generators; Seed reseeds them.
const DefaultSeed uint64 = 42

// allocator allocates host memory on the Go heap. Freeing is the garbage
// collector's job, so the deleter only severs the buffer's reference.
type allocator struct{}

// hostDeleter is self-contained: it holds no allocator state, so buffers
// stay freeable regardless of registry changes.
var hostDeleter device.Deleter = func([]byte) {}

// Allocate implements device.Allocator.
func (allocator) Allocate(nbytes int) (*device.Buffer, error) {
	data := make([]byte, nbytes)
	return device.NewBuffer(data, device.Device{Tag: device.CPU}, hostDeleter), nil
}

// RawDeleter implements device.Allocator.
func (allocator) RawDeleter() device.Deleter { return hostDeleter }

// hooks implements device.Hooks for the host: the default generator comes
// from the generator registry, and host memory is never pinned.
type hooks struct{}

func (hooks) DefaultGenerator(index int) (device.Generator, error) {
	return generator.Global().Default(device.Device{Tag: device.CPU, Index: index})
}

func (hooks) IsPinned(data []byte) bool { return false }

func (hooks) PinnedAllocator() (device.Allocator, error) {
	return allocator{}, nil
}

func generatorFactory(index int) (device.Generator, error) {
	return generator.NewHost(device.Device{Tag: device.CPU, Index: index}, DefaultSeed), nil
}

func init() {
	must.M(device.Global().Register(&device.Descriptor{
		Tag:              device.CPU,
		Allocator:        allocator{},
		Guard:            device.NewNoOpGuard(device.CPU, 1),
		GeneratorFactory: generatorFactory,
		Hooks:            hooks{},
	}))
	must.M(generator.Global().RegisterFactory(device.CPU, generatorFactory))
	must.M(device.GlobalHooks().RegisterFactory(device.CPU, "cpu", func() device.Hooks { return hooks{} }))
	RegisterKernels(dispatch.GlobalTable())
}
