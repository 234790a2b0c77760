// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package dummydev is a complete out-of-tree backend built on the open
// registration protocol. Its "device" memory is ordinary host memory, which
// makes it the reference torture test for the protocol itself: it counts
// every allocator, storage and kernel interaction so tests can assert
// exactly which path the runtime took.
//
// It ships one native kernel (elementwise add) and covers the rest of the
// minimal operator set through the host emulation fallback.
package dummydev

import (
	"sync/atomic"

	"github.com/janpfeifer/must"

	"github.com/gotensor/gotensor/pkg/backends/cpu"
	"github.com/gotensor/gotensor/pkg/backends/openreg"
	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/gotensor/gotensor/pkg/core/dispatch"
	"github.com/gotensor/gotensor/pkg/core/generator"
	"github.com/gotensor/gotensor/pkg/core/shapes"
	"github.com/gotensor/gotensor/pkg/core/storage"
	"github.com/gotensor/gotensor/pkg/core/tensor"
)

// Tag is the PrivateUse slot this backend claims.
const Tag = device.PrivateUse1

// DeviceCount is the number of simulated devices.
const DeviceCount = 2

// Counters exposes how often the runtime exercised each backend entry
// point. Tests reset it with Reset.
type Counters struct {
	Allocations  atomic.Int64
	Frees        atomic.Int64
	StorageCtors atomic.Int64
	NativeAdds   atomic.Int64
	FallbackOps  atomic.Int64
}

// Stats are the live counters of the registered backend.
var Stats Counters

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.Allocations.Store(0)
	c.Frees.Store(0)
	c.StorageCtors.Store(0)
	c.NativeAdds.Store(0)
	c.FallbackOps.Store(0)
}

type allocator struct{}

// deleter is shared by all buffers and closes over nothing but the global
// counters, so buffers outlive any descriptor replacement.
var deleter device.Deleter = func([]byte) {
	Stats.Frees.Add(1)
}

func (allocator) Allocate(nbytes int) (*device.Buffer, error) {
	Stats.Allocations.Add(1)
	return device.NewBuffer(make([]byte, nbytes), device.Device{Tag: Tag}, deleter), nil
}

func (allocator) RawDeleter() device.Deleter { return deleter }

// storageCtor counts constructions and defers to the stock behavior.
func storageCtor(dev device.Device, nbytes int, data *device.Buffer, alloc device.Allocator, resizable bool) (*storage.Storage, error) {
	Stats.StorageCtors.Add(1)
	return storage.Default(nil, dev, nbytes, data, alloc, resizable)
}

// addKernel is the backend's one native kernel: it counts the call and then
// re-dispatches nothing -- the arithmetic itself reuses the host
// implementation through the emulation fallback path, the way a young
// backend bootstraps before writing device code.
func addKernel(d *dispatch.Dispatcher, remaining dispatch.KeySet, stack []any) ([]any, error) {
	Stats.NativeAdds.Add(1)
	return cpu.EmulationFallback()(d, tensor.OpAdd, remaining, stack)
}

func fallback() dispatch.FallbackKernel {
	emulate := cpu.EmulationFallback()
	return func(d *dispatch.Dispatcher, op string, remaining dispatch.KeySet, stack []any) ([]any, error) {
		Stats.FallbackOps.Add(1)
		return emulate(d, op, remaining, stack)
	}
}

func generatorFactory(index int) (device.Generator, error) {
	return generator.NewHost(device.Device{Tag: Tag, Index: index}, cpu.DefaultSeed), nil
}

type hooks struct{}

func (hooks) DefaultGenerator(index int) (device.Generator, error) {
	return generator.Global().Default(device.Device{Tag: Tag, Index: index})
}

func (hooks) IsPinned(data []byte) bool { return false }

func (hooks) PinnedAllocator() (device.Allocator, error) {
	return allocator{}, nil
}

// Key is the backend's dispatch key.
var Key = dispatch.KeyForTag(Tag)

func init() {
	must.M(openreg.Register(openreg.Config{
		Tag:              Tag,
		Name:             "dummydev",
		Allocator:        allocator{},
		Guard:            device.NewNoOpGuard(Tag, DeviceCount),
		GeneratorFactory: generatorFactory,
		Hooks:            hooks{},
		StorageCtor:      storageCtor,
		Kernels: map[string]dispatch.Kernel{
			tensor.OpAdd: addKernel,
		},
		Fallback:               fallback(),
		MakeDefaultAccelerator: true,
	}))
	must.M(openreg.ValidateMinimalOpSet(dispatch.GlobalTable(), Key))
}

// Device returns the handle of one simulated device.
func Device(index int) device.Device {
	return device.Device{Tag: Tag, Index: index}
}

// Full is a convenience for tests: a filled tensor resident on the backend.
func Full(index int, shape shapes.Shape, value float64) (*tensor.Tensor, error) {
	return tensor.Full(Device(index), shape, value)
}
