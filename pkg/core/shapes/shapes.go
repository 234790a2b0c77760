// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines the Shape of a tensor: its element DType plus the
// dimensions of each axis. A scalar is a Shape of rank 0.
//
// Shape is a value type: it is cheap to copy (the dimensions slice is shared,
// and considered immutable by convention) and comparable with Shape.Equal.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gotensor/gotensor/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// Shape of a tensor: a DType and the dimensions of each axis.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions.
// It panics if any dimension is negative.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	for _, dim := range dimensions {
		if dim < 0 {
			panic(errors.Errorf("shapes.Make: negative dimension in %v", dimensions))
		}
	}
	return Shape{DType: dtype, Dimensions: dimensions}
}

// Invalid returns the invalid (zero) Shape.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether the Shape is valid: a supported DType and non-negative
// dimensions.
func (s Shape) Ok() bool {
	if !s.DType.IsSupported() {
		return false
	}
	for _, dim := range s.Dimensions {
		if dim < 0 {
			return false
		}
	}
	return true
}

// Rank of the shape: the number of axes. Scalars have rank 0.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// Size returns the number of elements: the product of all dimensions.
// A scalar has size 1; any zero dimension makes the size 0.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Memory returns the number of bytes needed to store the shape's elements
// contiguously.
func (s Shape) Memory() uintptr {
	return uintptr(s.Size()) * uintptr(s.DType.Size())
}

// Strides returns the contiguous row-major strides for the shape, in
// elements (not bytes).
func (s Shape) Strides() []int {
	strides := make([]int, s.Rank())
	stride := 1
	for axis := s.Rank() - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= s.Dimensions[axis]
	}
	return strides
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(other Shape) bool {
	return s.DType == other.DType && slices.Equal(s.Dimensions, other.Dimensions)
}

// EqualDimensions compares dimensions only, ignoring dtype.
func (s Shape) EqualDimensions(other Shape) bool {
	return slices.Equal(s.Dimensions, other.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// WithDType returns a copy of the shape with the dtype replaced.
// The dimensions slice is shared.
func (s Shape) WithDType(dtype dtypes.DType) Shape {
	return Shape{DType: dtype, Dimensions: s.Dimensions}
}

// String implements fmt.Stringer. E.g.: "(Float32)[3 2]".
func (s Shape) String() string {
	if !s.DType.IsSupported() {
		return "(invalid shape)"
	}
	if s.IsScalar() {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, s.Rank())
	for axis, dim := range s.Dimensions {
		parts[axis] = fmt.Sprintf("%d", dim)
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}
