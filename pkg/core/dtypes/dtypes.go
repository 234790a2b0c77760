// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes defines the DType enum of element types supported by the
// runtime, conversions to/from Go types, and the numeric promotion rules used
// when values of different dtypes are combined (notably during gradient
// accumulation).
package dtypes

import (
	"reflect"
	"strconv"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the
// specifications. In principle, it should never happen.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// DType is an enum of the element data types supported by tensors.
type DType int32

//go:generate go tool enumer -type=DType -output=dtype_enumer.go dtypes.go

const (
	// InvalidDType serves as the default, invalid value.
	InvalidDType DType = iota

	// Bool is a two-state boolean.
	Bool

	// Int8 to Int64 are signed integers of fixed width.
	Int8
	Int16
	Int32
	Int64

	// Uint8 to Uint64 are unsigned integers of fixed width.
	Uint8
	Uint16
	Uint32
	Uint64

	// Float16 is the IEEE 754 half-precision float, backed by
	// github.com/x448/float16.
	Float16

	// Float32 and Float64 are the standard IEEE floats.
	Float32
	Float64
)

// Supported lists the Go types that have a corresponding DType.
//
// Notice `int` is accepted and converted to Int32 or Int64 depending on the
// platform.
type Supported interface {
	bool | int8 | int16 | int32 | int64 | int |
		uint8 | uint16 | uint32 | uint64 |
		float16.Float16 | float32 | float64
}

var (
	float16Type = reflect.TypeOf(float16.Float16(0))

	sizes = map[DType]int{
		Bool:    1,
		Int8:    1,
		Int16:   2,
		Int32:   4,
		Int64:   8,
		Uint8:   1,
		Uint16:  2,
		Uint32:  4,
		Uint64:  8,
		Float16: 2,
		Float32: 4,
		Float64: 8,
	}

	goTypes = map[DType]reflect.Type{
		Bool:    reflect.TypeOf(false),
		Int8:    reflect.TypeOf(int8(0)),
		Int16:   reflect.TypeOf(int16(0)),
		Int32:   reflect.TypeOf(int32(0)),
		Int64:   reflect.TypeOf(int64(0)),
		Uint8:   reflect.TypeOf(uint8(0)),
		Uint16:  reflect.TypeOf(uint16(0)),
		Uint32:  reflect.TypeOf(uint32(0)),
		Uint64:  reflect.TypeOf(uint64(0)),
		Float16: float16Type,
		Float32: reflect.TypeOf(float32(0)),
		Float64: reflect.TypeOf(float64(0)),
	}
)

// FromGenericsType returns the DType corresponding to the Go type T.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case bool:
		return Bool
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case int:
		switch strconv.IntSize {
		case 32:
			return Int32
		case 64:
			return Int64
		default:
			panicf("cannot use int of %d bits -- use int32 or int64 instead", strconv.IntSize)
		}
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return InvalidDType
}

// FromGoType returns the DType for the given reflect.Type.
// It returns InvalidDType for unsupported types.
func FromGoType(t reflect.Type) DType {
	if t == float16Type {
		return Float16
	}
	switch t.Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Int8:
		return Int8
	case reflect.Int16:
		return Int16
	case reflect.Int32:
		return Int32
	case reflect.Int64:
		return Int64
	case reflect.Int:
		if strconv.IntSize == 32 {
			return Int32
		}
		return Int64
	case reflect.Uint8:
		return Uint8
	case reflect.Uint16:
		return Uint16
	case reflect.Uint32:
		return Uint32
	case reflect.Uint64:
		return Uint64
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	default:
		return InvalidDType
	}
}

// Size returns the number of bytes of one element of the given DType.
// It panics for InvalidDType.
func (dtype DType) Size() int {
	size, found := sizes[dtype]
	if !found {
		panicf("DType %s has no defined size", dtype)
	}
	return size
}

// GoType returns the Go type corresponding to the DType.
func (dtype DType) GoType() reflect.Type {
	t, found := goTypes[dtype]
	if !found {
		panicf("DType %s has no defined Go type", dtype)
	}
	return t
}

// IsFloat returns whether the DType is a float type, including Float16.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether the DType is a signed or unsigned integer type.
func (dtype DType) IsInt() bool {
	return dtype >= Int8 && dtype <= Uint64
}

// IsUnsigned returns whether the DType is an unsigned integer type.
func (dtype DType) IsUnsigned() bool {
	return dtype >= Uint8 && dtype <= Uint64
}

// IsSupported returns whether the DType is a valid element type for tensors.
func (dtype DType) IsSupported() bool {
	_, found := sizes[dtype]
	return found
}
