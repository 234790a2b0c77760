// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromGenericsType(t *testing.T) {
	assert.Equal(t, Bool, FromGenericsType[bool]())
	assert.Equal(t, Int8, FromGenericsType[int8]())
	assert.Equal(t, Uint16, FromGenericsType[uint16]())
	assert.Equal(t, Float16, FromGenericsType[float16.Float16]())
	assert.Equal(t, Float32, FromGenericsType[float32]())
	assert.Equal(t, Float64, FromGenericsType[float64]())
}

func TestSizeAndGoType(t *testing.T) {
	assert.Equal(t, 2, Float16.Size())
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, Int64.Size())
	for _, dtype := range DTypeValues() {
		if dtype == InvalidDType {
			continue
		}
		require.Equal(t, dtype, FromGoType(dtype.GoType()), "round-trip for %s", dtype)
	}
	assert.False(t, InvalidDType.IsSupported())
	assert.Panics(t, func() { InvalidDType.Size() })
}

func TestPromote(t *testing.T) {
	tests := []struct {
		a, b, want DType
	}{
		{Float32, Float32, Float32},
		{Float16, Float32, Float32},
		{Float32, Float16, Float32},
		{Float64, Float16, Float64},
		{Int32, Float16, Float16},
		{Int8, Int64, Int64},
		{Uint8, Int8, Int16},
		{Uint32, Int32, Int64},
		{Uint64, Int64, Int64},
		{Uint32, Int16, Int64},
		{Bool, Uint8, Uint8},
		{Bool, Float64, Float64},
	}
	for _, test := range tests {
		got := Promote(test.a, test.b)
		assert.Equal(t, test.want, got, "Promote(%s, %s)", test.a, test.b)
		// Promotion is commutative.
		assert.Equal(t, got, Promote(test.b, test.a), "Promote(%s, %s)", test.b, test.a)
	}
}

func TestIsPromotableTo(t *testing.T) {
	assert.True(t, Float16.IsPromotableTo(Float32))
	assert.False(t, Float32.IsPromotableTo(Float16))
	assert.True(t, Int16.IsPromotableTo(Int16))
}

func TestDTypeString(t *testing.T) {
	dtype, err := DTypeString("float32")
	require.NoError(t, err)
	assert.Equal(t, Float32, dtype)
	_, err = DTypeString("no_such_dtype")
	require.Error(t, err)
}
