// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

// This file implements the numeric promotion rules used when two values of
// different dtypes are combined. The rules follow the usual "wider wins"
// lattice:
//
//   - Floats always win over integers.
//   - Among floats and among integers, the wider type wins.
//   - At equal width, signed wins over unsigned (the result can represent
//     negative values produced by the arithmetic).
//   - Bool promotes to anything.
//
// Accumulated values (gradients in particular) must never be silently
// truncated to a narrower type, so Promote is commutative and always returns
// a type at least as wide as both inputs.

// promotionRank orders dtypes for promotion purpose: higher rank wins.
// Same-width unsigned types rank just below their signed counterpart.
func promotionRank(dtype DType) int {
	switch dtype {
	case Bool:
		return 0
	case Uint8:
		return 1
	case Int8:
		return 2
	case Uint16:
		return 3
	case Int16:
		return 4
	case Uint32:
		return 5
	case Int32:
		return 6
	case Uint64:
		return 7
	case Int64:
		return 8
	case Float16:
		return 9
	case Float32:
		return 10
	case Float64:
		return 11
	default:
		panicf("promotionRank: unsupported DType %s", dtype)
		return -1
	}
}

// Promote returns the dtype resulting from combining values of dtypes a and
// b: the "wider" of the two. It is commutative and idempotent.
//
// Mixed signed/unsigned integers of the same width promote to the signed type
// of the next width up (e.g. Uint32+Int32 -> Int64), since neither can
// represent the full range of the other. Uint64+Int64 saturates at Int64.
func Promote(a, b DType) DType {
	if a == b {
		return a
	}
	ra, rb := promotionRank(a), promotionRank(b)
	if ra < rb {
		a, b, ra, rb = b, a, rb, ra
	}
	// Now a is the higher-ranked dtype.
	_ = rb
	if a.IsFloat() || b == Bool {
		return a
	}
	if a.IsUnsigned() != b.IsUnsigned() && a.Size() == b.Size() {
		switch a.Size() {
		case 1:
			return Int16
		case 2:
			return Int32
		case 4:
			return Int64
		default:
			return Int64
		}
	}
	if a.IsUnsigned() && !b.IsUnsigned() && a.Size() > b.Size() {
		// E.g.: Uint32 + Int16: needs a signed type wider than the unsigned one.
		switch a.Size() {
		case 2:
			return Int32
		case 4:
			return Int64
		default:
			return Int64
		}
	}
	return a
}

// IsPromotableTo returns whether values of the dtype can be promoted to
// target without loss: Promote(dtype, target) == target.
func (dtype DType) IsPromotableTo(target DType) bool {
	return Promote(dtype, target) == target
}
