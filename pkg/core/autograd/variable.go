// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package autograd

import (
	"sync"

	"github.com/gotensor/gotensor/pkg/core/tensor"
)

// PostAccumulateHook runs after a gradient has been merged into a leaf
// variable. Hooks run outside the variable's gradient lock, in registration
// order; they may read and even replace the accumulated gradient.
type PostAccumulateHook func(v *Variable)

// Variable wraps a tensor with autograd state. Leaf variables (no gradFn)
// own a gradient slot that AccumulateGrad merges into; interior variables
// carry the node that produced them.
type Variable struct {
	data         *tensor.Tensor
	requiresGrad bool
	gradFn       Node

	// mu guards grad and postAccHooks. Hook execution happens outside it.
	mu           sync.Mutex
	grad         *tensor.Tensor
	postAccHooks []PostAccumulateHook

	accOnce sync.Once
	accNode *AccumulateGrad
}

// NewLeaf wraps a tensor as a leaf variable. The variable does not take
// ownership of the tensor.
func NewLeaf(data *tensor.Tensor, requiresGrad bool) *Variable {
	return &Variable{data: data, requiresGrad: requiresGrad}
}

// NewFromOp wraps an operation result, recording the node that produced it.
func NewFromOp(data *tensor.Tensor, gradFn Node) *Variable {
	return &Variable{data: data, requiresGrad: true, gradFn: gradFn}
}

// Data returns the wrapped tensor.
func (v *Variable) Data() *tensor.Tensor { return v.data }

// IsLeaf reports whether the variable has no producing node.
func (v *Variable) IsLeaf() bool { return v.gradFn == nil }

// RequiresGrad reports whether gradients are tracked for this variable.
func (v *Variable) RequiresGrad() bool { return v.requiresGrad }

// GradFn returns the node that produced this variable, nil for leaves.
func (v *Variable) GradFn() Node { return v.gradFn }

// Grad returns the accumulated gradient, nil when none has arrived yet. The
// returned tensor stays owned by the variable.
func (v *Variable) Grad() *tensor.Tensor {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.grad
}

// ClearGrad drops the accumulated gradient, releasing its storage
// reference.
func (v *Variable) ClearGrad() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.grad != nil {
		v.grad.Finalize()
		v.grad = nil
	}
}

// AddPostAccumulateHook appends a hook to run after each accumulation.
func (v *Variable) AddPostAccumulateHook(hook PostAccumulateHook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.postAccHooks = append(v.postAccHooks, hook)
}

// GradAccumulator returns the variable's AccumulateGrad node, creating it on
// first use. Every call returns the same node: the graph must funnel all of
// a leaf's gradient contributions through a single accumulator.
func (v *Variable) GradAccumulator() *AccumulateGrad {
	v.accOnce.Do(func() {
		v.accNode = &AccumulateGrad{variable: v}
	})
	return v.accNode
}

// snapshotHooks copies the hook list under the lock so execution can happen
// outside it.
func (v *Variable) snapshotHooks() []PostAccumulateHook {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]PostAccumulateHook(nil), v.postAccHooks...)
}
