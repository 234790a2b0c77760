// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gotensor/gotensor/pkg/core/dtypes"
)

// FlatData returns the tensor's elements as a flat []T aliasing the
// underlying storage: writes through the slice are visible to the tensor
// and every view sharing the storage.
//
// It panics if T does not match the tensor dtype or if the view is not
// contiguous. The slice must not be used after the storage is freed.
func FlatData[T dtypes.Supported](t *Tensor) []T {
	want := dtypes.FromGenericsType[T]()
	if want != t.shape.DType {
		exceptions.Panicf("tensor.FlatData[%s] on %s tensor", want, t.shape.DType)
	}
	if !t.IsContiguous() {
		exceptions.Panicf("tensor.FlatData on non-contiguous view %s", t)
	}
	n := t.shape.Size()
	if n == 0 {
		return nil
	}
	raw := t.storage.Bytes()
	base := t.offset * t.shape.DType.Size()
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[base])), n)
}

// FromFlatData builds a contiguous host (CPU) tensor by copying data. The
// length of data must match the product of dims.
func FromFlatData[T dtypes.Supported](data []T, dims ...int) (*Tensor, error) {
	shape := makeShapeFor[T](dims...)
	if len(data) != shape.Size() {
		return nil, errors.Errorf("tensor.FromFlatData: %d values for shape %s", len(data), shape)
	}
	t, err := Empty(hostDevice(), shape)
	if err != nil {
		return nil, err
	}
	copy(FlatData[T](t), data)
	return t, nil
}
