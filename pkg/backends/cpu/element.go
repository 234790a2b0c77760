// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"unsafe"

	"github.com/x448/float16"

	"github.com/gotensor/gotensor/pkg/core/dtypes"
	"github.com/gotensor/gotensor/pkg/core/tensor"
)

// Scalar access over raw storage bytes, one element at a time. Kernels use
// two intermediates: float64 whenever a float dtype is involved, and int64
// otherwise. Addition and subtraction are modular, so routing any integer
// dtype (Uint64 included) through a bit-preserving int64 yields exact
// results after truncation to the destination width.

func elemPtr(raw []byte, dtype dtypes.DType, elem int) unsafe.Pointer {
	return unsafe.Pointer(&raw[elem*dtype.Size()])
}

func loadFloat(dtype dtypes.DType, raw []byte, elem int) float64 {
	p := elemPtr(raw, dtype, elem)
	switch dtype {
	case dtypes.Bool:
		if *(*bool)(p) {
			return 1
		}
		return 0
	case dtypes.Int8:
		return float64(*(*int8)(p))
	case dtypes.Int16:
		return float64(*(*int16)(p))
	case dtypes.Int32:
		return float64(*(*int32)(p))
	case dtypes.Int64:
		return float64(*(*int64)(p))
	case dtypes.Uint8:
		return float64(*(*uint8)(p))
	case dtypes.Uint16:
		return float64(*(*uint16)(p))
	case dtypes.Uint32:
		return float64(*(*uint32)(p))
	case dtypes.Uint64:
		return float64(*(*uint64)(p))
	case dtypes.Float16:
		return float64((*(*float16.Float16)(p)).Float32())
	case dtypes.Float32:
		return float64(*(*float32)(p))
	case dtypes.Float64:
		return *(*float64)(p)
	}
	panic("cpu: loadFloat on unsupported dtype " + dtype.String())
}

func storeFloat(dtype dtypes.DType, raw []byte, elem int, v float64) {
	p := elemPtr(raw, dtype, elem)
	switch dtype {
	case dtypes.Bool:
		*(*bool)(p) = v != 0
	case dtypes.Int8:
		*(*int8)(p) = int8(v)
	case dtypes.Int16:
		*(*int16)(p) = int16(v)
	case dtypes.Int32:
		*(*int32)(p) = int32(v)
	case dtypes.Int64:
		*(*int64)(p) = int64(v)
	case dtypes.Uint8:
		*(*uint8)(p) = uint8(v)
	case dtypes.Uint16:
		*(*uint16)(p) = uint16(v)
	case dtypes.Uint32:
		*(*uint32)(p) = uint32(v)
	case dtypes.Uint64:
		*(*uint64)(p) = uint64(v)
	case dtypes.Float16:
		*(*float16.Float16)(p) = float16.Fromfloat32(float32(v))
	case dtypes.Float32:
		*(*float32)(p) = float32(v)
	case dtypes.Float64:
		*(*float64)(p) = v
	default:
		panic("cpu: storeFloat on unsupported dtype " + dtype.String())
	}
}

// loadInt sign-extends signed dtypes and zero-extends unsigned ones; Uint64
// is reinterpreted bit-for-bit.
func loadInt(dtype dtypes.DType, raw []byte, elem int) int64 {
	p := elemPtr(raw, dtype, elem)
	switch dtype {
	case dtypes.Bool:
		if *(*bool)(p) {
			return 1
		}
		return 0
	case dtypes.Int8:
		return int64(*(*int8)(p))
	case dtypes.Int16:
		return int64(*(*int16)(p))
	case dtypes.Int32:
		return int64(*(*int32)(p))
	case dtypes.Int64:
		return *(*int64)(p)
	case dtypes.Uint8:
		return int64(*(*uint8)(p))
	case dtypes.Uint16:
		return int64(*(*uint16)(p))
	case dtypes.Uint32:
		return int64(*(*uint32)(p))
	case dtypes.Uint64:
		return int64(*(*uint64)(p))
	}
	panic("cpu: loadInt on non-integer dtype " + dtype.String())
}

func storeInt(dtype dtypes.DType, raw []byte, elem int, v int64) {
	p := elemPtr(raw, dtype, elem)
	switch dtype {
	case dtypes.Bool:
		*(*bool)(p) = v != 0
	case dtypes.Int8:
		*(*int8)(p) = int8(v)
	case dtypes.Int16:
		*(*int16)(p) = int16(v)
	case dtypes.Int32:
		*(*int32)(p) = int32(v)
	case dtypes.Int64:
		*(*int64)(p) = v
	case dtypes.Uint8:
		*(*uint8)(p) = uint8(v)
	case dtypes.Uint16:
		*(*uint16)(p) = uint16(v)
	case dtypes.Uint32:
		*(*uint32)(p) = uint32(v)
	case dtypes.Uint64:
		*(*uint64)(p) = uint64(v)
	default:
		panic("cpu: storeInt on non-integer dtype " + dtype.String())
	}
}

// iterate calls fn with the storage element index of every logical element of
// t in row-major order. It handles arbitrary (non-negative) strides.
func iterate(t *tensor.Tensor, fn func(elem int)) {
	n := t.Size()
	if n == 0 {
		return
	}
	if t.IsContiguous() {
		base := t.Offset()
		for i := 0; i < n; i++ {
			fn(base + i)
		}
		return
	}
	dims := t.Shape().Dimensions
	strides := t.Strides()
	coord := make([]int, len(dims))
	elem := t.Offset()
	for {
		fn(elem)
		axis := len(dims) - 1
		for ; axis >= 0; axis-- {
			coord[axis]++
			elem += strides[axis]
			if coord[axis] < dims[axis] {
				break
			}
			elem -= coord[axis] * strides[axis]
			coord[axis] = 0
		}
		if axis < 0 {
			return
		}
	}
}
