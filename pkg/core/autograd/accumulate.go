// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package autograd

import (
	"context"
	"math"

	"github.com/gomlx/exceptions"

	"github.com/gotensor/gotensor/pkg/core/tensor"
)

// Grad is an incoming gradient contribution plus ownership information.
// UniquelyOwned means the producer holds the only live reference to the
// tensor and will not touch it again, which allows the accumulator to adopt
// its storage instead of copying.
type Grad struct {
	Tensor        *tensor.Tensor
	UniquelyOwned bool
}

// AccumulateGrad is the terminal node of every leaf variable: it merges the
// gradients arriving during backward into the variable's grad slot.
//
// It reports the maximum sequence number, giving it the lowest priority
// among ready nodes: the engine defers leaf accumulation until no other
// work is ready.
type AccumulateGrad struct {
	variable *Variable

	// onCommit, when set, observes every write to the variable's grad slot.
	// It runs while the gradient lock is held.
	onCommit func(grad *tensor.Tensor)
}

// Name implements Node.
func (a *AccumulateGrad) Name() string { return "AccumulateGrad" }

// SequenceNr implements Node.
func (a *AccumulateGrad) SequenceNr() uint64 { return math.MaxUint64 }

// NumInputs implements Node.
func (a *AccumulateGrad) NumInputs() int { return 1 }

// NextEdges implements Node: accumulation is terminal.
func (a *AccumulateGrad) NextEdges() []Edge { return nil }

// Variable returns the leaf this accumulator writes into.
func (a *AccumulateGrad) Variable() *Variable { return a.variable }

// SetCommitCallback installs an observer invoked under the gradient lock
// each time the grad slot is written. Optimizers with fused updates use it
// to read the freshly merged gradient atomically.
func (a *AccumulateGrad) SetCommitCallback(fn func(grad *tensor.Tensor)) {
	a.onCommit = fn
}

// Apply implements Node. The engine hands over buffers it uniquely owns.
func (a *AccumulateGrad) Apply(ctx context.Context, grads []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(grads) != 1 {
		exceptions.Panicf("AccumulateGrad expects exactly one gradient, got %d", len(grads))
	}
	return nil, a.Accumulate(Grad{Tensor: grads[0], UniquelyOwned: true})
}

// Accumulate merges one gradient contribution into the leaf.
//
// The contract, in order:
//   - a nil or empty gradient is a no-op;
//   - accumulating into a non-leaf is a bug and panics;
//   - a leaf that does not require gradients drops the contribution;
//   - a shape mismatch against the variable's data is a bug and panics;
//   - first contribution: adopt the incoming tensor's storage when it is
//     uniquely owned (no copy, storage identity preserved), else deep-copy;
//   - later contributions of the same dtype accumulate in place;
//   - mixed dtypes promote to the wider type, never truncating: the merged
//     gradient replaces the old slot with a freshly allocated tensor.
//
// The merge runs under the variable's gradient lock, so concurrent
// contributions serialize and none is lost. Post-accumulate hooks run after
// the lock is released. Accumulate never takes ownership of g.Tensor: the
// adopt path shares its storage through a new handle.
func (a *AccumulateGrad) Accumulate(g Grad) error {
	if g.Tensor == nil || g.Tensor.Size() == 0 {
		return nil
	}
	v := a.variable
	if !v.IsLeaf() {
		exceptions.Panicf("AccumulateGrad on non-leaf variable (gradFn %s)", v.gradFn.Name())
	}
	if !v.requiresGrad {
		// Defensive: correct graph construction never routes a gradient
		// here, but if one arrives it is dropped, not an error.
		return nil
	}
	if !v.data.Shape().EqualDimensions(g.Tensor.Shape()) {
		exceptions.Panicf("gradient shape %s does not match variable shape %s",
			g.Tensor.Shape(), v.data.Shape())
	}

	v.mu.Lock()
	if err := a.lockedMerge(g); err != nil {
		v.mu.Unlock()
		return err
	}
	v.mu.Unlock()

	for _, hook := range v.snapshotHooks() {
		hook(v)
	}
	return nil
}

// lockedMerge performs the actual slot update. Caller holds v.mu.
func (a *AccumulateGrad) lockedMerge(g Grad) error {
	v := a.variable
	if v.grad == nil {
		adopted, err := a.firstGrad(g)
		if err != nil {
			return err
		}
		v.grad = adopted
		a.commitLocked()
		return nil
	}

	if v.grad.DType() == g.Tensor.DType() || g.Tensor.DType().IsPromotableTo(v.grad.DType()) {
		if err := tensor.AddInPlace(v.grad, g.Tensor); err != nil {
			return err
		}
		a.commitLocked()
		return nil
	}

	// The incoming dtype is wider: allocate the promoted result and swap it
	// into the slot. Truncating the incoming gradient is never acceptable.
	merged, err := tensor.Add(v.grad, g.Tensor)
	if err != nil {
		return err
	}
	v.grad.Finalize()
	v.grad = merged
	a.commitLocked()
	return nil
}

// firstGrad materializes the very first contribution: adopt storage when the
// producer uniquely owns it, else clone.
func (a *AccumulateGrad) firstGrad(g Grad) (*tensor.Tensor, error) {
	if g.UniquelyOwned && g.Tensor.Storage().UseCount() <= a.numExpectedRefs() {
		return tensor.NewFromStorage(g.Tensor.Storage(), g.Tensor.Shape(), g.Tensor.Strides(), g.Tensor.Offset())
	}
	return g.Tensor.Clone()
}

// numExpectedRefs is the highest storage use count under which the incoming
// tensor still counts as exclusively held by its producer: one for the
// producer's handle, plus one per registered hook that may have captured it.
func (a *AccumulateGrad) numExpectedRefs() int64 {
	return 1 + int64(len(a.variable.postAccHooks))
}

func (a *AccumulateGrad) commitLocked() {
	if a.onCommit != nil {
		a.onCommit(a.variable.grad)
	}
}
