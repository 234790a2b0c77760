// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package dispatch implements the multi-key kernel dispatch mechanism: every
// logical operator (an OperatorKey like "add.Tensor") maps to a table of
// kernels keyed by dispatch Key, and a call is routed to the kernel of the
// highest-priority key present in the call's KeySet.
//
// Keys come in two classes: backend-component keys, derived from the device
// of each argument tensor (KeyCPU, KeyCUDA, ...), and functionality keys,
// derived from the ambient execution context (KeyAutograd, KeyTracing, ...).
// Functionality keys outrank backend keys, which is what produces the layered
// "wrapper chain": an autograd wrapper kernel runs first and explicitly
// re-dispatches to the remainder of the key set to reach the backend kernel.
package dispatch

import (
	"math/bits"
	"strings"
)

// Key is one dispatch axis: either a backend family or a cross-cutting
// functionality. The declaration order is the priority order -- higher value
// means higher priority -- and it is total, so dispatch is deterministic.
type Key uint8

//go:generate go tool enumer -type=Key -output=key_enumer.go key.go

const (
	// Backend-component keys, in the same order as device.Tag.
	KeyCPU Key = iota
	KeyCUDA
	KeyMetal
	KeyPrivateUse1
	KeyPrivateUse2
	KeyPrivateUse3

	// Functionality keys, all ranked above every backend key.

	// KeyBatching is set while a vmap-style batched execution is active.
	KeyBatching

	// KeyAutograd is set while gradient recording is enabled.
	KeyAutograd

	// KeyTracing is set while a tracer is capturing the program; it outranks
	// KeyAutograd so the tracer observes the autograd wrapper calls too.
	KeyTracing

	// NumKeys is the number of valid keys.
	NumKeys int = iota
)

// IsBackendKey returns whether the key identifies a backend family rather
// than a functionality.
func (k Key) IsBackendKey() bool {
	return k <= KeyPrivateUse3
}

// KeySet is a priority-ranked set of dispatch keys, represented as a bitset.
// The zero KeySet is empty.
type KeySet uint16

// EmptyKeySet is the KeySet with no keys.
const EmptyKeySet KeySet = 0

// NewKeySet returns a KeySet with the given keys.
func NewKeySet(keys ...Key) KeySet {
	var ks KeySet
	for _, k := range keys {
		ks = ks.Add(k)
	}
	return ks
}

// Add returns the set with k included.
func (ks KeySet) Add(k Key) KeySet {
	return ks | (1 << k)
}

// Union returns the union of both sets.
func (ks KeySet) Union(other KeySet) KeySet {
	return ks | other
}

// Has returns whether k is in the set.
func (ks KeySet) Has(k Key) bool {
	return ks&(1<<k) != 0
}

// IsEmpty returns whether the set has no keys.
func (ks KeySet) IsEmpty() bool {
	return ks == 0
}

// Highest returns the highest-priority key in the set; ok is false for the
// empty set.
func (ks KeySet) Highest() (k Key, ok bool) {
	if ks == 0 {
		return 0, false
	}
	return Key(bits.Len16(uint16(ks)) - 1), true
}

// Below returns the subset of keys with priority strictly below k. This is
// the set a kernel receives so its re-dispatch reaches the next layer and
// can never re-trigger the kernel itself (or anything above it).
func (ks KeySet) Below(k Key) KeySet {
	return ks & ((1 << k) - 1)
}

// Keys returns the keys in the set ordered from highest to lowest priority.
func (ks KeySet) Keys() []Key {
	keys := make([]Key, 0, bits.OnesCount16(uint16(ks)))
	for k := Key(NumKeys - 1); ; k-- {
		if ks.Has(k) {
			keys = append(keys, k)
		}
		if k == 0 {
			break
		}
	}
	return keys
}

// String implements fmt.Stringer, e.g. "{Autograd|CPU}".
func (ks KeySet) String() string {
	if ks.IsEmpty() {
		return "{}"
	}
	parts := make([]string, 0, 4)
	for _, k := range ks.Keys() {
		parts = append(parts, strings.TrimPrefix(k.String(), "Key"))
	}
	return "{" + strings.Join(parts, "|") + "}"
}

// Keyed is implemented by argument values that contribute a backend key to
// dispatch (tensors, essentially).
type Keyed interface {
	DispatchKey() Key
}
