// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"

	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/gotensor/gotensor/pkg/core/dispatch"
	"github.com/gotensor/gotensor/pkg/core/dtypes"
	"github.com/gotensor/gotensor/pkg/core/shapes"
	"github.com/gotensor/gotensor/pkg/core/storage"
	"github.com/gotensor/gotensor/pkg/core/tensor"
)

// The kernels do not hard-code the CPU device: they allocate through the
// storage layer, which routes to the operand device's registered allocator
// and storage constructor. Any backend whose memory is host-addressable can
// therefore reuse them as an emulation fallback (see EmulationFallback).

// RegisterKernels installs the host kernels for the minimal operator set
// under KeyCPU. It panics on collision: there is exactly one host backend.
func RegisterKernels(table *dispatch.Table) {
	for op, kernel := range map[string]dispatch.Kernel{
		tensor.OpEmpty:        emptyKernel,
		tensor.OpEmptyStrided: emptyStridedKernel,
		tensor.OpFill:         fillKernel,
		tensor.OpAdd:          addKernel,
		tensor.OpAddInPlace:   addInPlaceKernel,
		tensor.OpSub:          subKernel,
		tensor.OpCopyFrom:     copyFromKernel,
		tensor.OpResize:       resizeKernel,
		tensor.OpAsStrided:    asStridedKernel,
		tensor.OpSetStorage:   setStorageKernel,
	} {
		must.M(table.RegisterKernel(op, dispatch.KeyCPU, kernel, dispatch.InsertOrFail))
	}
}

// EmulationFallback returns a boxed fallback that runs the host kernels for
// any minimal-set operator. Backends with host-addressable memory register
// it for their own key to get full coverage before writing native kernels.
func EmulationFallback() dispatch.FallbackKernel {
	kernels := map[string]dispatch.Kernel{
		tensor.OpEmpty:        emptyKernel,
		tensor.OpEmptyStrided: emptyStridedKernel,
		tensor.OpFill:         fillKernel,
		tensor.OpAdd:          addKernel,
		tensor.OpAddInPlace:   addInPlaceKernel,
		tensor.OpSub:          subKernel,
		tensor.OpCopyFrom:     copyFromKernel,
		tensor.OpResize:       resizeKernel,
		tensor.OpAsStrided:    asStridedKernel,
		tensor.OpSetStorage:   setStorageKernel,
	}
	return func(d *dispatch.Dispatcher, op string, remaining dispatch.KeySet, stack []any) ([]any, error) {
		kernel, found := kernels[op]
		if !found {
			return nil, errors.Wrapf(dispatch.ErrUnimplemented, "host emulation has no kernel for %q", op)
		}
		return kernel(d, remaining, stack)
	}
}

func argErr(op string, stack []any) error {
	return errors.Errorf("cpu: malformed argument stack for %q: %d values", op, len(stack))
}

// newOnDevice allocates storage on dev and wraps it in a tensor owning the
// only reference.
func newOnDevice(dev device.Device, shape shapes.Shape, strides []int) (*tensor.Tensor, error) {
	nelems := 0
	if shape.Size() > 0 {
		nelems = 1
		for axis, dim := range shape.Dimensions {
			nelems += (dim - 1) * strides[axis]
		}
	}
	st, err := storage.New(nil, dev, nelems*shape.DType.Size(), nil, true)
	if err != nil {
		return nil, err
	}
	out, err := tensor.NewFromStorage(st, shape, strides, 0)
	st.Release()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func emptyKernel(_ *dispatch.Dispatcher, _ dispatch.KeySet, stack []any) ([]any, error) {
	if len(stack) != 2 {
		return nil, argErr(tensor.OpEmpty, stack)
	}
	dev, ok1 := stack[0].(device.Device)
	shape, ok2 := stack[1].(shapes.Shape)
	if !ok1 || !ok2 {
		return nil, argErr(tensor.OpEmpty, stack)
	}
	out, err := newOnDevice(dev, shape, shape.Strides())
	if err != nil {
		return nil, err
	}
	return []any{out}, nil
}

func emptyStridedKernel(_ *dispatch.Dispatcher, _ dispatch.KeySet, stack []any) ([]any, error) {
	if len(stack) != 3 {
		return nil, argErr(tensor.OpEmptyStrided, stack)
	}
	dev, ok1 := stack[0].(device.Device)
	shape, ok2 := stack[1].(shapes.Shape)
	strides, ok3 := stack[2].([]int)
	if !ok1 || !ok2 || !ok3 {
		return nil, argErr(tensor.OpEmptyStrided, stack)
	}
	if len(strides) != shape.Rank() {
		return nil, errors.Errorf("cpu: %d strides for rank %d shape", len(strides), shape.Rank())
	}
	out, err := newOnDevice(dev, shape, strides)
	if err != nil {
		return nil, err
	}
	return []any{out}, nil
}

func fillKernel(_ *dispatch.Dispatcher, _ dispatch.KeySet, stack []any) ([]any, error) {
	if len(stack) != 2 {
		return nil, argErr(tensor.OpFill, stack)
	}
	t, ok1 := stack[0].(*tensor.Tensor)
	value, ok2 := stack[1].(float64)
	if !ok1 || !ok2 {
		return nil, argErr(tensor.OpFill, stack)
	}
	raw := t.Storage().Bytes()
	dtype := t.DType()
	iterate(t, func(elem int) {
		storeFloat(dtype, raw, elem, value)
	})
	return nil, nil
}

// binaryKernel implements add/sub: the output is freshly allocated on the
// first operand's device with the promoted dtype.
func binaryKernel(op string, sub bool) dispatch.Kernel {
	return func(_ *dispatch.Dispatcher, _ dispatch.KeySet, stack []any) ([]any, error) {
		if len(stack) != 2 {
			return nil, argErr(op, stack)
		}
		a, ok1 := stack[0].(*tensor.Tensor)
		b, ok2 := stack[1].(*tensor.Tensor)
		if !ok1 || !ok2 {
			return nil, argErr(op, stack)
		}
		if !a.Shape().EqualDimensions(b.Shape()) {
			return nil, errors.Errorf("cpu: %q operand shapes differ: %s vs %s", op, a.Shape(), b.Shape())
		}
		outDType := dtypes.Promote(a.DType(), b.DType())
		if outDType == dtypes.Bool {
			return nil, errors.Errorf("cpu: %q is not defined for Bool tensors", op)
		}
		out, err := newOnDevice(a.Device(), a.Shape().WithDType(outDType), a.Shape().Strides())
		if err != nil {
			return nil, err
		}
		if err := binaryInto(out, a, b, sub); err != nil {
			out.Finalize()
			return nil, err
		}
		return []any{out}, nil
	}
}

var (
	addKernel = binaryKernel(tensor.OpAdd, false)
	subKernel = binaryKernel(tensor.OpSub, true)
)

// binaryInto computes a+b (or a-b) elementwise into out. All three must have
// equal dimensions; dtypes may differ.
func binaryInto(out, a, b *tensor.Tensor, sub bool) error {
	outRaw := out.Storage().Bytes()
	aRaw := a.Storage().Bytes()
	bRaw := b.Storage().Bytes()
	outDType, aDType, bDType := out.DType(), a.DType(), b.DType()

	aElems := elemIndices(a)
	bElems := elemIndices(b)
	i := 0
	if outDType.IsFloat() {
		iterate(out, func(elem int) {
			av := loadFloat(aDType, aRaw, aElems[i])
			bv := loadFloat(bDType, bRaw, bElems[i])
			i++
			if sub {
				storeFloat(outDType, outRaw, elem, av-bv)
			} else {
				storeFloat(outDType, outRaw, elem, av+bv)
			}
		})
		return nil
	}
	// Integer path: modular int64 arithmetic is exact for every integer
	// dtype after truncation to the output width.
	iterate(out, func(elem int) {
		av := loadInt(aDType, aRaw, aElems[i])
		bv := loadInt(bDType, bRaw, bElems[i])
		i++
		if sub {
			storeInt(outDType, outRaw, elem, av-bv)
		} else {
			storeInt(outDType, outRaw, elem, av+bv)
		}
	})
	return nil
}

// elemIndices materializes the storage element index of every logical
// element of t in row-major order.
func elemIndices(t *tensor.Tensor) []int {
	out := make([]int, 0, t.Size())
	iterate(t, func(elem int) { out = append(out, elem) })
	return out
}

func addInPlaceKernel(_ *dispatch.Dispatcher, _ dispatch.KeySet, stack []any) ([]any, error) {
	if len(stack) != 2 {
		return nil, argErr(tensor.OpAddInPlace, stack)
	}
	dst, ok1 := stack[0].(*tensor.Tensor)
	src, ok2 := stack[1].(*tensor.Tensor)
	if !ok1 || !ok2 {
		return nil, argErr(tensor.OpAddInPlace, stack)
	}
	if !dst.Shape().EqualDimensions(src.Shape()) {
		return nil, errors.Errorf("cpu: accumulate shapes differ: %s vs %s", dst.Shape(), src.Shape())
	}
	return nil, binaryInto(dst, dst, src, false)
}

func copyFromKernel(_ *dispatch.Dispatcher, _ dispatch.KeySet, stack []any) ([]any, error) {
	if len(stack) != 2 {
		return nil, argErr(tensor.OpCopyFrom, stack)
	}
	src, ok1 := stack[0].(*tensor.Tensor)
	dst, ok2 := stack[1].(*tensor.Tensor)
	if !ok1 || !ok2 {
		return nil, argErr(tensor.OpCopyFrom, stack)
	}
	if !src.Shape().EqualDimensions(dst.Shape()) {
		return nil, errors.Errorf("cpu: copy shapes differ: %s vs %s", src.Shape(), dst.Shape())
	}
	srcRaw := src.Storage().Bytes()
	dstRaw := dst.Storage().Bytes()
	srcDType, dstDType := src.DType(), dst.DType()

	// Same dtype, both dense: a straight byte copy.
	if srcDType == dstDType && src.IsContiguous() && dst.IsContiguous() {
		esize := srcDType.Size()
		n := src.Size() * esize
		copy(dstRaw[dst.Offset()*esize:dst.Offset()*esize+n], srcRaw[src.Offset()*esize:src.Offset()*esize+n])
		return nil, nil
	}

	srcElems := elemIndices(src)
	i := 0
	if !srcDType.IsFloat() && !dstDType.IsFloat() {
		iterate(dst, func(elem int) {
			storeInt(dstDType, dstRaw, elem, loadInt(srcDType, srcRaw, srcElems[i]))
			i++
		})
		return nil, nil
	}
	iterate(dst, func(elem int) {
		storeFloat(dstDType, dstRaw, elem, loadFloat(srcDType, srcRaw, srcElems[i]))
		i++
	})
	return nil, nil
}

func resizeKernel(_ *dispatch.Dispatcher, _ dispatch.KeySet, stack []any) ([]any, error) {
	if len(stack) != 2 {
		return nil, argErr(tensor.OpResize, stack)
	}
	t, ok1 := stack[0].(*tensor.Tensor)
	dims, ok2 := stack[1].([]int)
	if !ok1 || !ok2 {
		return nil, argErr(tensor.OpResize, stack)
	}
	newShape := shapes.Make(t.DType(), dims...)
	needBytes := int(newShape.Memory())
	st := t.Storage()
	if needBytes > st.NBytes() {
		if err := st.Resize(needBytes); err != nil {
			return nil, errors.WithMessagef(err, "resizing %s to %v", t, dims)
		}
	}
	t.Rebind(st, newShape, newShape.Strides(), 0)
	return nil, nil
}

func asStridedKernel(_ *dispatch.Dispatcher, _ dispatch.KeySet, stack []any) ([]any, error) {
	if len(stack) != 4 {
		return nil, argErr(tensor.OpAsStrided, stack)
	}
	t, ok1 := stack[0].(*tensor.Tensor)
	shape, ok2 := stack[1].(shapes.Shape)
	strides, ok3 := stack[2].([]int)
	offset, ok4 := stack[3].(int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, argErr(tensor.OpAsStrided, stack)
	}
	view, err := tensor.NewFromStorage(t.Storage(), shape, strides, offset)
	if err != nil {
		return nil, err
	}
	return []any{view}, nil
}

func setStorageKernel(_ *dispatch.Dispatcher, _ dispatch.KeySet, stack []any) ([]any, error) {
	if len(stack) != 5 {
		return nil, argErr(tensor.OpSetStorage, stack)
	}
	t, ok1 := stack[0].(*tensor.Tensor)
	st, ok2 := stack[1].(*storage.Storage)
	shape, ok3 := stack[2].(shapes.Shape)
	strides, ok4 := stack[3].([]int)
	offset, ok5 := stack[4].(int)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, argErr(tensor.OpSetStorage, stack)
	}
	t.Rebind(st, shape, strides, offset)
	return nil, nil
}
