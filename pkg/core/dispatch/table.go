// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrUnimplemented is wrapped when an operator has neither a kernel nor
	// a boxed fallback for the selected backend key. The dispatcher never
	// substitutes a different backend's kernel silently.
	ErrUnimplemented = errors.New("operator not implemented for backend")

	// ErrDuplicateKernel is wrapped when InsertOrFail registration hits an
	// occupied slot.
	ErrDuplicateKernel = errors.New("kernel already registered")
)

// Kernel is the boxed calling convention every registered kernel follows.
//
// The kernel receives the dispatcher (so it can re-dispatch), the *remaining*
// key set -- the caller's key set with the kernel's own key and everything
// above it removed -- and the argument stack. A wrapper kernel calls through
// to the next layer by invoking d.Call with the remaining set it was given,
// never by recomputing a fresh key set, which would re-trigger itself.
type Kernel func(d *Dispatcher, remaining KeySet, stack []any) ([]any, error)

// FallbackKernel is the calling convention of boxed per-backend fallbacks.
// Unlike a per-op Kernel it also receives the operator name: a single
// fallback serves every operator of its backend key (e.g. host emulation),
// so it must know which one it was invoked for.
type FallbackKernel func(d *Dispatcher, op string, remaining KeySet, stack []any) ([]any, error)

// Mode selects the collision policy of RegisterKernel.
type Mode int

const (
	// InsertOrReplace replaces an existing kernel for the same slot, with a
	// warning logged.
	InsertOrReplace Mode = iota

	// InsertOrFail rejects the registration if the slot is occupied, leaving
	// the existing kernel live.
	InsertOrFail
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case InsertOrReplace:
		return "InsertOrReplace"
	case InsertOrFail:
		return "InsertOrFail"
	default:
		return "Mode(?)"
	}
}

// OpSchema declares a logical operator: its stable name (with the overload
// suffix, e.g. "add.Tensor" vs "add.Scalar") and the argument count.
type OpSchema struct {
	Name    string
	NumArgs int
	Doc     string
}

// registration records the bookkeeping of one registered kernel: the slot key
// and a copy of the schema at registration time, used to report collisions
// precisely and to support Deregister.
type registration struct {
	key    Key
	schema OpSchema
	kernel Kernel
}

type opEntry struct {
	schema  OpSchema
	kernels map[Key]*registration
}

// Table is the kernel dispatch table: (operator name, key) -> kernel, plus
// one optional boxed fallback per backend key.
//
// Kernel registration happens at package-load time; lookups are safe for
// concurrent use. Tests build private tables through NewTable to avoid
// cross-test pollution of the global one.
type Table struct {
	mu        sync.RWMutex
	ops       map[string]*opEntry
	fallbacks [NumKeys]FallbackKernel
}

// NewTable returns an empty dispatch table.
func NewTable() *Table {
	return &Table{ops: make(map[string]*opEntry)}
}

var globalTable = NewTable()

// GlobalTable returns the process-wide dispatch table that backend packages
// register into.
func GlobalTable() *Table {
	return globalTable
}

// DefineOp declares an operator schema ahead of kernel registrations.
// Defining the same name twice is an error; registering a kernel for an
// undeclared operator implicitly defines a minimal schema.
func (t *Table) DefineOp(schema OpSchema) error {
	if schema.Name == "" {
		return errors.New("dispatch.DefineOp: empty operator name")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, found := t.ops[schema.Name]; found && entry.schema.NumArgs != schema.NumArgs {
		return errors.Errorf("dispatch.DefineOp: %q already defined with %d args", schema.Name, entry.schema.NumArgs)
	}
	t.lockedEntry(schema).schema = schema
	return nil
}

func (t *Table) lockedEntry(schema OpSchema) *opEntry {
	entry, found := t.ops[schema.Name]
	if !found {
		entry = &opEntry{schema: schema, kernels: make(map[Key]*registration)}
		t.ops[schema.Name] = entry
	}
	return entry
}

// RegisterKernel installs kernel for the (op, key) slot.
//
// At most one kernel is live per slot: with InsertOrReplace a collision
// replaces the previous kernel (warning logged); with InsertOrFail it returns
// an error wrapping ErrDuplicateKernel and the previous kernel stays live.
func (t *Table) RegisterKernel(op string, key Key, kernel Kernel, mode Mode) error {
	if kernel == nil {
		return errors.Errorf("dispatch.RegisterKernel: nil kernel for %q/%s", op, key)
	}
	if !key.IsAKey() {
		return errors.Errorf("dispatch.RegisterKernel: invalid key %d for %q", key, op)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.lockedEntry(OpSchema{Name: op})
	if prev, found := entry.kernels[key]; found {
		if mode == InsertOrFail {
			return errors.Wrapf(ErrDuplicateKernel, "dispatch.RegisterKernel: %q/%s", op, key)
		}
		klog.Warningf("dispatch.RegisterKernel: replacing kernel for %q/%s (previously registered with schema %+v)",
			op, key, prev.schema)
	}
	entry.kernels[key] = &registration{key: key, schema: entry.schema, kernel: kernel}
	return nil
}

// DeregisterKernel removes the kernel for the (op, key) slot.
func (t *Table) DeregisterKernel(op string, key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, found := t.ops[op]
	if !found {
		return errors.Errorf("dispatch.DeregisterKernel: unknown operator %q", op)
	}
	if _, found := entry.kernels[key]; !found {
		return errors.Errorf("dispatch.DeregisterKernel: no kernel for %q/%s", op, key)
	}
	delete(entry.kernels, key)
	return nil
}

// RegisterFallback installs the boxed fallback for a backend key: the
// catch-all invoked for any operator with no specific kernel under that key.
// The slot is device-wide and coarse, so a later registration simply
// replaces the previous one.
func (t *Table) RegisterFallback(key Key, kernel FallbackKernel) error {
	if !key.IsBackendKey() {
		return errors.Errorf("dispatch.RegisterFallback: %s is not a backend key", key)
	}
	if kernel == nil {
		return errors.Errorf("dispatch.RegisterFallback: nil kernel for %s", key)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fallbacks[key] != nil {
		klog.V(1).Infof("dispatch.RegisterFallback: replacing boxed fallback for %s", key)
	}
	t.fallbacks[key] = kernel
	return nil
}

// lookup returns the kernel for (op, key), its fallback, or nil.
func (t *Table) lookup(op string, key Key) Kernel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if entry, found := t.ops[op]; found {
		if reg, found := entry.kernels[key]; found {
			return reg.kernel
		}
	}
	if fallback := t.fallbacks[key]; fallback != nil {
		return func(d *Dispatcher, remaining KeySet, stack []any) ([]any, error) {
			return fallback(d, op, remaining, stack)
		}
	}
	return nil
}

// HasKernel returns whether a specific (non-fallback) kernel is registered
// for the slot.
func (t *Table) HasKernel(op string, key Key) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, found := t.ops[op]
	if !found {
		return false
	}
	_, found = entry.kernels[key]
	return found
}

// HasFallback returns whether a boxed fallback is installed for the key.
func (t *Table) HasFallback(key Key) bool {
	if !key.IsBackendKey() {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fallbacks[key] != nil
}

// Schema returns the declared schema for op.
func (t *Table) Schema(op string) (OpSchema, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, found := t.ops[op]
	if !found {
		return OpSchema{}, false
	}
	return entry.schema, true
}

// Ops returns the sorted list of operator names with at least one
// registration, with the keys each one is registered for. Used for
// introspection and the devices CLI.
func (t *Table) Ops() map[string][]Key {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make(map[string][]Key, len(t.ops))
	for name, entry := range t.ops {
		keys := make([]Key, 0, len(entry.kernels))
		for key := range entry.kernels {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		result[name] = keys
	}
	return result
}
