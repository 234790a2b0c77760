// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"github.com/pkg/errors"

	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/gotensor/gotensor/pkg/core/dispatch"
	"github.com/gotensor/gotensor/pkg/core/dtypes"
	"github.com/gotensor/gotensor/pkg/core/shapes"
	"github.com/gotensor/gotensor/pkg/core/storage"
)

// Operator names routed through the dispatcher. Backends implement the
// minimal set; everything else in this package is built on top of it.
const (
	OpEmpty        = "empty.memory_format"
	OpEmptyStrided = "empty_strided"
	OpFill         = "fill_.Scalar"
	OpAdd          = "add.Tensor"
	OpAddInPlace   = "add_.Tensor"
	OpSub          = "sub.Tensor"
	OpCopyFrom     = "_copy_from"
	OpResize       = "resize_"
	OpAsStrided    = "as_strided"
	OpSetStorage   = "set_.source_Storage"
)

// MinimalOpSet lists the operators every backend must provide, either as
// per-op kernels or through a boxed fallback.
var MinimalOpSet = []string{
	OpEmpty, OpEmptyStrided, OpFill, OpAdd, OpAddInPlace, OpSub,
	OpCopyFrom, OpResize, OpAsStrided, OpSetStorage,
}

func init() {
	table := dispatch.GlobalTable()
	for _, def := range []struct {
		name    string
		numArgs int
		doc     string
	}{
		{OpEmpty, 2, "allocate an uninitialized contiguous tensor: (device, shape) -> tensor"},
		{OpEmptyStrided, 3, "allocate an uninitialized strided tensor: (device, shape, strides) -> tensor"},
		{OpFill, 2, "fill a tensor with a scalar in place: (tensor, value)"},
		{OpAdd, 2, "elementwise sum with dtype promotion: (a, b) -> tensor"},
		{OpAddInPlace, 2, "elementwise accumulate into the first operand: (dst, src)"},
		{OpSub, 2, "elementwise difference with dtype promotion: (a, b) -> tensor"},
		{OpCopyFrom, 2, "copy elements across devices and dtypes: (src, dst)"},
		{OpResize, 2, "resize a tensor and its storage in place: (tensor, dims)"},
		{OpAsStrided, 4, "strided view over the same storage: (tensor, shape, strides, offset) -> tensor"},
		{OpSetStorage, 5, "rebind a tensor to a storage: (tensor, storage, shape, strides, offset)"},
	} {
		if err := table.DefineOp(dispatch.OpSchema{Name: def.name, NumArgs: def.numArgs, Doc: def.doc}); err != nil {
			panic(err)
		}
	}
}

func hostDevice() device.Device { return device.Device{Tag: device.CPU} }

func makeShapeFor[T dtypes.Supported](dims ...int) shapes.Shape {
	return shapes.Make(dtypes.FromGenericsType[T](), dims...)
}

// keySetFor derives the dispatch key set for an operation whose operands are
// the given tensors, on a dispatcher with no ambient keys.
func keySetFor(ts ...*Tensor) dispatch.KeySet {
	ks := dispatch.EmptyKeySet
	for _, t := range ts {
		ks = ks.Add(t.DispatchKey())
	}
	return ks
}

func one(results []any, err error) (*Tensor, error) {
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, errors.Errorf("kernel returned %d results, expected 1", len(results))
	}
	out, ok := results[0].(*Tensor)
	if !ok {
		return nil, errors.Errorf("kernel returned %T, expected *Tensor", results[0])
	}
	return out, nil
}

// Empty allocates an uninitialized contiguous tensor on dev.
func Empty(dev device.Device, shape shapes.Shape) (*Tensor, error) {
	ks := dispatch.NewKeySet(dispatch.KeyForTag(dev.Tag))
	return one(dispatch.Global().Call(OpEmpty, ks, []any{dev, shape}))
}

// EmptyStrided allocates an uninitialized tensor on dev with explicit
// strides. The storage is sized to cover the furthest addressable element.
func EmptyStrided(dev device.Device, shape shapes.Shape, strides []int) (*Tensor, error) {
	ks := dispatch.NewKeySet(dispatch.KeyForTag(dev.Tag))
	return one(dispatch.Global().Call(OpEmptyStrided, ks, []any{dev, shape, strides}))
}

// Full allocates a tensor on dev and fills it with value.
func Full(dev device.Device, shape shapes.Shape, value float64) (*Tensor, error) {
	t, err := Empty(dev, shape)
	if err != nil {
		return nil, err
	}
	if err := t.Fill(value); err != nil {
		t.Finalize()
		return nil, err
	}
	return t, nil
}

// Zeros allocates a zero-filled tensor on dev.
func Zeros(dev device.Device, shape shapes.Shape) (*Tensor, error) {
	return Full(dev, shape, 0)
}

// Fill sets every element of t to value, converted to t's dtype.
func (t *Tensor) Fill(value float64) error {
	_, err := dispatch.Global().Call(OpFill, keySetFor(t), []any{t, value})
	return errors.WithMessagef(err, "Fill(%v) on %s", value, t)
}

// Add returns a new tensor a+b. The operands must have equal dimensions; the
// result dtype is the promotion of the operand dtypes.
func Add(a, b *Tensor) (*Tensor, error) {
	return one(dispatch.Global().Call(OpAdd, keySetFor(a, b), []any{a, b}))
}

// AddInPlace accumulates src into dst, converting src elements to dst's
// dtype. src's dtype must be promotable to dst's without loss.
func AddInPlace(dst, src *Tensor) error {
	if !src.DType().IsPromotableTo(dst.DType()) {
		return errors.Errorf("AddInPlace: cannot accumulate %s into %s without truncation",
			src.DType(), dst.DType())
	}
	_, err := dispatch.Global().Call(OpAddInPlace, keySetFor(dst, src), []any{dst, src})
	return err
}

// Sub returns a new tensor a-b, with the same shape and dtype rules as Add.
func Sub(a, b *Tensor) (*Tensor, error) {
	return one(dispatch.Global().Call(OpSub, keySetFor(a, b), []any{a, b}))
}

// CopyFrom copies src's elements into dst, converting dtypes and moving
// across devices as needed. The dispatch key derives from src, matching the
// convention that the source backend implements the transfer.
func CopyFrom(src, dst *Tensor) error {
	_, err := dispatch.Global().Call(OpCopyFrom, keySetFor(src), []any{src, dst})
	return err
}

// ToDevice returns a contiguous copy of t on dev. It copies even when t is
// already resident on dev.
func (t *Tensor) ToDevice(dev device.Device) (*Tensor, error) {
	dst, err := Empty(dev, t.shape)
	if err != nil {
		return nil, err
	}
	if err := CopyFrom(t, dst); err != nil {
		dst.Finalize()
		return nil, err
	}
	return dst, nil
}

// Clone returns a contiguous deep copy on the same device.
func (t *Tensor) Clone() (*Tensor, error) {
	return t.ToDevice(t.dev)
}

// To returns a copy of t converted to dtype, on the same device.
func (t *Tensor) To(dtype dtypes.DType) (*Tensor, error) {
	dst, err := Empty(t.dev, t.shape.WithDType(dtype))
	if err != nil {
		return nil, err
	}
	if err := CopyFrom(t, dst); err != nil {
		dst.Finalize()
		return nil, err
	}
	return dst, nil
}

// Resize changes t's dimensions in place, reallocating the storage when it
// grows. The storage must be resizable. Elements up to the smaller of the
// old and new sizes are preserved in flat order.
func (t *Tensor) Resize(dims ...int) error {
	_, err := dispatch.Global().Call(OpResize, keySetFor(t), []any{t, dims})
	return err
}

// AsStrided returns a new view over t's storage with the given geometry.
func (t *Tensor) AsStrided(shape shapes.Shape, strides []int, offset int) (*Tensor, error) {
	return one(dispatch.Global().Call(OpAsStrided, keySetFor(t), []any{t, shape, strides, offset}))
}

// SetFromStorage rebinds t to st with the given geometry, releasing the
// previous storage.
func (t *Tensor) SetFromStorage(st *storage.Storage, shape shapes.Shape, strides []int, offset int) error {
	_, err := dispatch.Global().Call(OpSetStorage, keySetFor(t), []any{t, st, shape, strides, offset})
	return err
}
