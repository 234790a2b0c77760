// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gotensor/gotensor/pkg/backends/cpu"
	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/gotensor/gotensor/pkg/core/dispatch"
	"github.com/gotensor/gotensor/pkg/core/dtypes"
	"github.com/gotensor/gotensor/pkg/core/shapes"
	"github.com/gotensor/gotensor/pkg/core/storage"
	"github.com/gotensor/gotensor/pkg/core/tensor"
)

var hostDev = device.Device{Tag: device.CPU}

func hostStorage(t *testing.T, nbytes int) *storage.Storage {
	st, err := storage.New(nil, hostDev, nbytes, nil, false)
	require.NoError(t, err)
	t.Cleanup(st.Release)
	return st
}

func TestNewFromStorageBounds(t *testing.T) {
	st := hostStorage(t, 4*4) // 4 float32

	shape := shapes.Make(dtypes.Float32, 4)
	x, err := tensor.NewFromStorage(st, shape, shape.Strides(), 0)
	require.NoError(t, err)
	x.Finalize()

	// Offset pushes the last element past the storage.
	_, err = tensor.NewFromStorage(st, shape, shape.Strides(), 2)
	require.Error(t, err)

	// Stride mismatch against rank.
	_, err = tensor.NewFromStorage(st, shape, []int{1, 1}, 0)
	require.Error(t, err)
}

func TestViewRefCounting(t *testing.T) {
	st := hostStorage(t, 16)
	require.EqualValues(t, 1, st.UseCount())

	shape := shapes.Make(dtypes.Float32, 4)
	x, err := tensor.NewFromStorage(st, shape, shape.Strides(), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.UseCount())
	assert.True(t, x.SharesStorageWith(x))

	x.Finalize()
	assert.EqualValues(t, 1, st.UseCount())
	assert.Panics(t, func() { x.Finalize() })
}

func TestIsContiguous(t *testing.T) {
	st := hostStorage(t, 6*4)

	dense, err := tensor.NewFromStorage(st, shapes.Make(dtypes.Float32, 2, 3), []int{3, 1}, 0)
	require.NoError(t, err)
	defer dense.Finalize()
	assert.True(t, dense.IsContiguous())

	strided, err := tensor.NewFromStorage(st, shapes.Make(dtypes.Float32, 3), []int{2}, 0)
	require.NoError(t, err)
	defer strided.Finalize()
	assert.False(t, strided.IsContiguous())

	// Axes of size one never break contiguity, whatever their stride.
	oneAxis, err := tensor.NewFromStorage(st, shapes.Make(dtypes.Float32, 1, 3), []int{17, 1}, 0)
	require.NoError(t, err)
	defer oneAxis.Finalize()
	assert.True(t, oneAxis.IsContiguous())
}

func TestDispatchKeyFollowsDevice(t *testing.T) {
	x, err := tensor.Zeros(hostDev, shapes.Make(dtypes.Float32, 1))
	require.NoError(t, err)
	defer x.Finalize()
	assert.Equal(t, dispatch.KeyCPU, x.DispatchKey())
}

func TestStringer(t *testing.T) {
	x, err := tensor.Zeros(hostDev, shapes.Make(dtypes.Int64, 3, 2))
	require.NoError(t, err)
	defer x.Finalize()
	assert.Equal(t, "Tensor<(Int64)[3 2]@cpu>", x.String())
}
