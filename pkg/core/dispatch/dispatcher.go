// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Dispatcher routes operator calls to kernels through a Table.
//
// Dispatch is deterministic: for a fixed tuple of argument backend keys and a
// fixed ambient key set, ComputeKeySet and Call always select the same
// kernel.
type Dispatcher struct {
	table *Table
}

// NewDispatcher returns a Dispatcher over the given table.
func NewDispatcher(table *Table) *Dispatcher {
	return &Dispatcher{table: table}
}

var globalDispatcher = NewDispatcher(globalTable)

// Global returns the dispatcher over the process-wide table.
func Global() *Dispatcher {
	return globalDispatcher
}

// Table returns the dispatch table this dispatcher routes through.
func (d *Dispatcher) Table() *Table {
	return d.table
}

// ComputeKeySet unions the backend key of every argument implementing Keyed
// with the ambient functionality keys. Arguments that are not Keyed (scalars,
// shapes, plain Go values) contribute nothing; for an operator with no
// tensor arguments the set derives solely from ambient.
func (d *Dispatcher) ComputeKeySet(ambient KeySet, args ...any) KeySet {
	ks := ambient
	for _, arg := range args {
		if keyed, ok := arg.(Keyed); ok {
			ks = ks.Add(keyed.DispatchKey())
		}
	}
	return ks
}

// Call dispatches op: it selects the highest-priority key in ks, looks up the
// (op, key) kernel -- falling back to the key's boxed fallback if absent --
// and invokes it with the remainder of the key set (the selected key and
// everything above it removed), so the kernel can re-dispatch to the next
// layer without recursing into itself.
//
// An empty key set dispatches to the host backend (KeyCPU): pure-scalar
// overloads with no ambient functionality land on the CPU kernel.
//
// Mixed-device argument stacks dispatch on the highest-priority backend key
// present; it is the kernel's responsibility to reject device combinations it
// does not support, since some kernels legitimately accept mixed placements.
func (d *Dispatcher) Call(op string, ks KeySet, stack []any) ([]any, error) {
	if ks.IsEmpty() {
		ks = NewKeySet(KeyCPU)
	}
	key, _ := ks.Highest()
	kernel := d.table.lookup(op, key)
	if kernel == nil {
		return nil, errors.Wrapf(ErrUnimplemented, "operator %q for key %s (key set %s)", op, key, ks)
	}
	if klog.V(3).Enabled() {
		klog.Infof("dispatch: %q -> %s (remaining %s)", op, key, ks.Below(key))
	}
	return kernel(d, ks.Below(key), stack)
}

// CallWithArgs is a convenience that computes the key set from the arguments
// and ambient keys, then calls.
func (d *Dispatcher) CallWithArgs(op string, ambient KeySet, args ...any) ([]any, error) {
	return d.Call(op, d.ComputeKeySet(ambient, args...), args)
}
