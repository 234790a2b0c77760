// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/gotensor/gotensor/pkg/core/dtypes"
	"github.com/gotensor/gotensor/pkg/core/generator"
	"github.com/gotensor/gotensor/pkg/core/shapes"
	"github.com/gotensor/gotensor/pkg/core/tensor"
)

var hostDev = device.Device{Tag: device.CPU}

func TestRegistration(t *testing.T) {
	require.True(t, device.Global().IsRegistered(device.CPU))
	require.True(t, generator.Global().HasFactory(device.CPU))

	d, err := device.Global().Lookup(device.CPU)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Guard.DeviceCount())

	g, err := device.GlobalHooks().For(device.CPU).DefaultGenerator(0)
	require.NoError(t, err)
	assert.Equal(t, hostDev, g.Device())
}

func TestEmptyFillRoundtrip(t *testing.T) {
	x, err := tensor.Empty(hostDev, shapes.Make(dtypes.Float32, 2, 3))
	require.NoError(t, err)
	defer x.Finalize()

	require.NoError(t, x.Fill(1.5))
	assert.Equal(t, []float32{1.5, 1.5, 1.5, 1.5, 1.5, 1.5}, tensor.FlatData[float32](x))
}

func TestFromFlatData(t *testing.T) {
	x, err := tensor.FromFlatData([]int32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	defer x.Finalize()

	assert.Equal(t, dtypes.Int32, x.DType())
	assert.Equal(t, []int{2, 2}, x.Shape().Dimensions)
	assert.Equal(t, []int32{1, 2, 3, 4}, tensor.FlatData[int32](x))
}

func TestAddSameDType(t *testing.T) {
	a, err := tensor.FromFlatData([]float32{1, 2, 3}, 3)
	require.NoError(t, err)
	defer a.Finalize()
	b, err := tensor.FromFlatData([]float32{10, 20, 30}, 3)
	require.NoError(t, err)
	defer b.Finalize()

	sum, err := tensor.Add(a, b)
	require.NoError(t, err)
	defer sum.Finalize()
	assert.Equal(t, []float32{11, 22, 33}, tensor.FlatData[float32](sum))

	diff, err := tensor.Sub(b, a)
	require.NoError(t, err)
	defer diff.Finalize()
	assert.Equal(t, []float32{9, 18, 27}, tensor.FlatData[float32](diff))
}

func TestAddPromotesDType(t *testing.T) {
	half := []float16.Float16{float16.Fromfloat32(1), float16.Fromfloat32(2)}
	a, err := tensor.FromFlatData(half, 2)
	require.NoError(t, err)
	defer a.Finalize()
	b, err := tensor.FromFlatData([]float32{0.5, 0.25}, 2)
	require.NoError(t, err)
	defer b.Finalize()

	sum, err := tensor.Add(a, b)
	require.NoError(t, err)
	defer sum.Finalize()
	assert.Equal(t, dtypes.Float32, sum.DType())
	assert.Equal(t, []float32{1.5, 2.25}, tensor.FlatData[float32](sum))
}

func TestAddInt64Exact(t *testing.T) {
	big := int64(1) << 60
	a, err := tensor.FromFlatData([]int64{big, -1}, 2)
	require.NoError(t, err)
	defer a.Finalize()
	b, err := tensor.FromFlatData([]int64{big, 1}, 2)
	require.NoError(t, err)
	defer b.Finalize()

	sum, err := tensor.Add(a, b)
	require.NoError(t, err)
	defer sum.Finalize()
	assert.Equal(t, []int64{big << 1, 0}, tensor.FlatData[int64](sum))
}

func TestAddShapeMismatch(t *testing.T) {
	a, err := tensor.FromFlatData([]float32{1, 2}, 2)
	require.NoError(t, err)
	defer a.Finalize()
	b, err := tensor.FromFlatData([]float32{1, 2, 3}, 3)
	require.NoError(t, err)
	defer b.Finalize()

	_, err = tensor.Add(a, b)
	require.Error(t, err)
}

func TestAddInPlace(t *testing.T) {
	dst, err := tensor.FromFlatData([]float64{1, 2}, 2)
	require.NoError(t, err)
	defer dst.Finalize()
	src, err := tensor.FromFlatData([]float32{10, 20}, 2)
	require.NoError(t, err)
	defer src.Finalize()

	require.NoError(t, tensor.AddInPlace(dst, src))
	assert.Equal(t, []float64{11, 22}, tensor.FlatData[float64](dst))

	// The reverse direction would truncate Float64 into Float32.
	require.Error(t, tensor.AddInPlace(src, dst))
}

func TestCopyConvertsDType(t *testing.T) {
	src, err := tensor.FromFlatData([]int32{1, 2, 3}, 3)
	require.NoError(t, err)
	defer src.Finalize()

	dst, err := src.To(dtypes.Float64)
	require.NoError(t, err)
	defer dst.Finalize()
	assert.Equal(t, []float64{1, 2, 3}, tensor.FlatData[float64](dst))
}

func TestCloneIsIndependent(t *testing.T) {
	a, err := tensor.FromFlatData([]float32{1, 2}, 2)
	require.NoError(t, err)
	defer a.Finalize()

	c, err := a.Clone()
	require.NoError(t, err)
	defer c.Finalize()
	require.False(t, a.SharesStorageWith(c))

	require.NoError(t, c.Fill(9))
	assert.Equal(t, []float32{1, 2}, tensor.FlatData[float32](a))
}

func TestAsStridedAliases(t *testing.T) {
	x, err := tensor.FromFlatData([]float32{0, 1, 2, 3, 4, 5}, 6)
	require.NoError(t, err)
	defer x.Finalize()

	// Every other element, starting at 1.
	view, err := x.AsStrided(shapes.Make(dtypes.Float32, 3), []int{2}, 1)
	require.NoError(t, err)
	defer view.Finalize()
	require.True(t, view.SharesStorageWith(x))
	require.False(t, view.IsContiguous())

	require.NoError(t, view.Fill(-1))
	assert.Equal(t, []float32{0, -1, 2, -1, 4, -1}, tensor.FlatData[float32](x))
}

func TestStridedAdd(t *testing.T) {
	x, err := tensor.FromFlatData([]float32{0, 1, 2, 3}, 4)
	require.NoError(t, err)
	defer x.Finalize()
	evens, err := x.AsStrided(shapes.Make(dtypes.Float32, 2), []int{2}, 0)
	require.NoError(t, err)
	defer evens.Finalize()
	odds, err := x.AsStrided(shapes.Make(dtypes.Float32, 2), []int{2}, 1)
	require.NoError(t, err)
	defer odds.Finalize()

	sum, err := tensor.Add(evens, odds)
	require.NoError(t, err)
	defer sum.Finalize()
	assert.Equal(t, []float32{1, 5}, tensor.FlatData[float32](sum))
}

func TestResizePreservesPrefix(t *testing.T) {
	x, err := tensor.FromFlatData([]float32{1, 2, 3, 4}, 4)
	require.NoError(t, err)
	defer x.Finalize()

	require.NoError(t, x.Resize(2, 4))
	assert.Equal(t, []int{2, 4}, x.Shape().Dimensions)
	got := tensor.FlatData[float32](x)
	assert.Equal(t, []float32{1, 2, 3, 4}, got[:4])
}

func TestSetFromStorage(t *testing.T) {
	a, err := tensor.FromFlatData([]float32{1, 2, 3, 4}, 4)
	require.NoError(t, err)
	defer a.Finalize()
	b, err := tensor.FromFlatData([]float32{0}, 1)
	require.NoError(t, err)
	defer b.Finalize()

	shape := shapes.Make(dtypes.Float32, 2)
	require.NoError(t, b.SetFromStorage(a.Storage(), shape, shape.Strides(), 2))
	require.True(t, b.SharesStorageWith(a))
	assert.Equal(t, []float32{3, 4}, tensor.FlatData[float32](b))
}

func TestGeneratorReproducible(t *testing.T) {
	g1 := generator.NewHost(hostDev, 7)
	g2 := generator.NewHost(hostDev, 7)
	for i := 0; i < 8; i++ {
		require.Equal(t, g1.Uint64(), g2.Uint64())
	}
}
