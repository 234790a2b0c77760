// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package autograd implements reverse-mode gradient bookkeeping: the graph
// node interface, leaf variables with gradient accumulation, and a
// multi-threaded backward engine.
package autograd

import (
	"context"
	"sync/atomic"

	"github.com/gotensor/gotensor/pkg/core/tensor"
)

// Node is one differentiable function in the backward graph. Apply receives
// the gradients flowing into each of the node's outputs and returns the
// gradients for each of its inputs; a nil entry means "no gradient flows
// along this edge".
//
// Apply does not take ownership of its inputs and must not retain them; the
// engine finalizes them after the call. Returned tensors are owned by the
// caller.
type Node interface {
	// Name identifies the node in logs and errors.
	Name() string

	// SequenceNr orders nodes of equal readiness: among ready nodes the
	// engine runs lower sequence numbers first, so a node with the maximum
	// sequence number has the lowest priority.
	SequenceNr() uint64

	// NumInputs is the number of gradient slots flowing into this node.
	NumInputs() int

	// NextEdges lists where the returned input gradients flow next,
	// parallel to Apply's result.
	NextEdges() []Edge

	// Apply runs the backward function.
	Apply(ctx context.Context, grads []*tensor.Tensor) ([]*tensor.Tensor, error)
}

// Edge points at one gradient input slot of a node. A zero Edge (nil Node)
// is invalid and gradient flow stops there.
type Edge struct {
	Node    Node
	InputNr int
}

// IsValid reports whether the edge leads anywhere.
func (e Edge) IsValid() bool { return e.Node != nil }

var sequenceCounter atomic.Uint64

// NextSequenceNr hands out monotonically increasing sequence numbers.
// Operation nodes take one at construction time, in forward order.
func NextSequenceNr() uint64 {
	return sequenceCounter.Add(1)
}
