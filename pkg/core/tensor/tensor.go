// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package tensor implements the device-resident tensor handle.
//
// A Tensor is a cheap view object: shape, strides, a storage offset and a
// reference-counted Storage holding the actual bytes. All compute and data
// movement goes through the dispatcher, so an out-of-tree backend that
// registers kernels for the minimal op set gets the whole package API for
// free.
package tensor

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/gotensor/gotensor/pkg/core/dispatch"
	"github.com/gotensor/gotensor/pkg/core/dtypes"
	"github.com/gotensor/gotensor/pkg/core/shapes"
	"github.com/gotensor/gotensor/pkg/core/storage"
)

// Tensor is a handle to a strided view over a Storage. It is not safe for
// concurrent mutation; concurrent reads are fine.
type Tensor struct {
	shape   shapes.Shape
	strides []int // in elements, row-major when contiguous
	offset  int   // in elements, from the start of the storage
	dev     device.Device
	storage *storage.Storage

	requiresGrad bool
}

// NewFromStorage wraps an existing storage in a tensor view. It takes one
// reference on st: the caller keeps its own reference.
func NewFromStorage(st *storage.Storage, shape shapes.Shape, strides []int, offset int) (*Tensor, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("tensor.NewFromStorage: invalid shape %s", shape)
	}
	if len(strides) != shape.Rank() {
		return nil, errors.Errorf("tensor.NewFromStorage: %d strides for rank %d shape", len(strides), shape.Rank())
	}
	if offset < 0 {
		return nil, errors.Errorf("tensor.NewFromStorage: negative storage offset %d", offset)
	}
	need := requiredStorageElems(shape, strides, offset)
	have := st.NBytes() / shape.DType.Size()
	if need > have {
		return nil, errors.Errorf("tensor.NewFromStorage: view needs %d elements of %s, storage holds %d",
			need, shape.DType, have)
	}
	st.Retain()
	return &Tensor{
		shape:   shape.Clone(),
		strides: append([]int(nil), strides...),
		offset:  offset,
		dev:     st.Device(),
		storage: st,
	}, nil
}

// requiredStorageElems returns the smallest storage size, in elements, that
// can back the given view.
func requiredStorageElems(shape shapes.Shape, strides []int, offset int) int {
	if shape.Size() == 0 {
		return offset
	}
	max := offset
	for axis, dim := range shape.Dimensions {
		max += (dim - 1) * strides[axis]
	}
	return max + 1
}

// Finalize releases the tensor's reference on its storage. The tensor must
// not be used afterwards. Calling it twice panics.
func (t *Tensor) Finalize() {
	if t.storage == nil {
		panic("tensor.Finalize called twice")
	}
	t.storage.Release()
	t.storage = nil
}

// Rebind points the tensor at a new storage and geometry, releasing its
// reference on the old storage. Kernels implementing resize_ and set_ use
// it; regular callers go through the dispatcher instead.
func (t *Tensor) Rebind(st *storage.Storage, shape shapes.Shape, strides []int, offset int) {
	if st != t.storage {
		st.Retain()
		t.storage.Release()
		t.storage = st
	}
	t.shape = shape.Clone()
	t.strides = append([]int(nil), strides...)
	t.offset = offset
	t.dev = st.Device()
}

// Shape returns the tensor shape. The caller must not mutate it.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the element type.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the view.
func (t *Tensor) Size() int { return t.shape.Size() }

// Strides returns the per-axis strides in elements. The caller must not
// mutate the returned slice.
func (t *Tensor) Strides() []int { return t.strides }

// Offset returns the view's offset into the storage, in elements.
func (t *Tensor) Offset() int { return t.offset }

// Device returns the device holding the tensor's bytes.
func (t *Tensor) Device() device.Device { return t.dev }

// Storage returns the backing storage without changing its reference count.
func (t *Tensor) Storage() *storage.Storage { return t.storage }

// SharesStorageWith reports whether two tensors alias the same storage
// object. This is an identity check, not an overlap check.
func (t *Tensor) SharesStorageWith(other *Tensor) bool {
	return t.storage != nil && t.storage == other.storage
}

// RequiresGrad reports whether autograd should track this tensor.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// SetRequiresGrad flags the tensor for autograd tracking.
func (t *Tensor) SetRequiresGrad(v bool) { t.requiresGrad = v }

// DispatchKey implements dispatch.Keyed: the key set contributed by this
// tensor when it appears as an operand.
func (t *Tensor) DispatchKey() dispatch.Key {
	return dispatch.KeyForTag(t.dev.Tag)
}

// IsContiguous reports whether the view is dense row-major with no gaps.
func (t *Tensor) IsContiguous() bool {
	if t.shape.Size() <= 1 {
		return true
	}
	expected := t.shape.Strides()
	for axis, s := range t.strides {
		if t.shape.Dimensions[axis] == 1 {
			continue
		}
		if s != expected[axis] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor<%s@%s>", t.shape, t.dev)
}
