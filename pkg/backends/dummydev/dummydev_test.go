// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package dummydev

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gotensor/gotensor/pkg/backends/cpu"
	"github.com/gotensor/gotensor/pkg/backends/openreg"
	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/gotensor/gotensor/pkg/core/dispatch"
	"github.com/gotensor/gotensor/pkg/core/dtypes"
	"github.com/gotensor/gotensor/pkg/core/generator"
	"github.com/gotensor/gotensor/pkg/core/shapes"
	"github.com/gotensor/gotensor/pkg/core/tensor"
)

func TestRegistration(t *testing.T) {
	require.True(t, device.Global().IsRegistered(Tag))

	d, err := device.Global().Lookup(Tag)
	require.NoError(t, err)
	assert.Equal(t, DeviceCount, d.Guard.DeviceCount())

	accel, ok := device.Global().DefaultAccelerator()
	require.True(t, ok)
	assert.Equal(t, Tag, accel)

	require.NoError(t, openreg.ValidateMinimalOpSet(dispatch.GlobalTable(), Key))
}

func TestRejectsBuiltinTag(t *testing.T) {
	err := openreg.Register(openreg.Config{
		Tag:       device.CUDA,
		Name:      "bogus",
		Allocator: allocator{},
		Guard:     device.NewNoOpGuard(device.CUDA, 1),
	})
	require.Error(t, err)
}

func TestDescriptorReplacementKeepsOldBuffersAlive(t *testing.T) {
	Stats.Reset()

	buf, err := device.Global().Allocate(Tag, 64)
	require.NoError(t, err)
	require.EqualValues(t, 1, Stats.Allocations.Load())

	// Re-register the backend: private slots replace without error.
	require.NoError(t, openreg.Register(openreg.Config{
		Tag:       Tag,
		Name:      "dummydev",
		Allocator: allocator{},
		Guard:     device.NewNoOpGuard(Tag, DeviceCount),
	}))

	// The buffer from before the swap frees through its captured deleter.
	buf.Free()
	assert.EqualValues(t, 1, Stats.Frees.Load())
}

func TestGeneratorSlotIsStrict(t *testing.T) {
	require.True(t, generator.Global().HasFactory(Tag))

	err := generator.Global().RegisterFactory(Tag, generatorFactory)
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrAlreadyRegistered))

	// The original factory stays live and the default stays cached.
	g1, err := generator.Global().Default(Device(0))
	require.NoError(t, err)
	g2, err := generator.Global().Default(Device(0))
	require.NoError(t, err)
	assert.Same(t, g1, g2)
}

func TestEndToEndAddOnDevice(t *testing.T) {
	Stats.Reset()

	x, err := Full(0, shapes.Make(dtypes.Float32, 3), 1)
	require.NoError(t, err)
	defer x.Finalize()
	y, err := Full(0, shapes.Make(dtypes.Float32, 3), 2)
	require.NoError(t, err)
	defer y.Finalize()

	// Dispatch is stateless: adding twice routes through the native kernel
	// both times and yields the same result.
	for i := 0; i < 2; i++ {
		sum, err := tensor.Add(x, y)
		require.NoError(t, err)
		assert.Equal(t, Tag, sum.Device().Tag)
		assert.Equal(t, []float32{3, 3, 3}, tensor.FlatData[float32](sum))
		sum.Finalize()
	}

	// The native kernel served the adds; construction and fill went through
	// the fallback; every storage came from the backend's ctor and
	// allocator.
	assert.EqualValues(t, 2, Stats.NativeAdds.Load())
	assert.Greater(t, Stats.FallbackOps.Load(), int64(0))
	assert.Greater(t, Stats.StorageCtors.Load(), int64(0))
	assert.Greater(t, Stats.Allocations.Load(), int64(0))
}

func TestFallbackServesMinimalSet(t *testing.T) {
	Stats.Reset()

	x, err := tensor.Empty(Device(1), shapes.Make(dtypes.Int32, 4))
	require.NoError(t, err)
	defer x.Finalize()
	require.NoError(t, x.Fill(7))

	// empty and fill_ both lack native kernels.
	assert.GreaterOrEqual(t, Stats.FallbackOps.Load(), int64(2))
	assert.Equal(t, []int32{7, 7, 7, 7}, tensor.FlatData[int32](x))
}

func TestCopyToHost(t *testing.T) {
	x, err := Full(0, shapes.Make(dtypes.Float32, 2), 5)
	require.NoError(t, err)
	defer x.Finalize()

	host, err := x.ToDevice(device.Device{Tag: device.CPU})
	require.NoError(t, err)
	defer host.Finalize()
	assert.Equal(t, device.CPU, host.Device().Tag)
	assert.Equal(t, []float32{5, 5}, tensor.FlatData[float32](host))
}

func TestMixedDeviceAddDispatchesToBackend(t *testing.T) {
	Stats.Reset()

	x, err := Full(0, shapes.Make(dtypes.Float32, 2), 1)
	require.NoError(t, err)
	defer x.Finalize()
	y, err := tensor.Full(device.Device{Tag: device.CPU}, shapes.Make(dtypes.Float32, 2), 2)
	require.NoError(t, err)
	defer y.Finalize()

	// The private key outranks CPU, so the backend's kernel is selected.
	sum, err := tensor.Add(x, y)
	require.NoError(t, err)
	defer sum.Finalize()
	assert.EqualValues(t, 1, Stats.NativeAdds.Load())
	assert.Equal(t, []float32{3, 3}, tensor.FlatData[float32](sum))
}

func TestHooksResolve(t *testing.T) {
	g, err := device.GlobalHooks().For(Tag).DefaultGenerator(1)
	require.NoError(t, err)
	assert.Equal(t, Device(1), g.Device())
}
