// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrNotRegistered is wrapped by lookups of a tag with no registered
	// descriptor. Callers must treat it as a hard error: there is no default
	// backend to silently fall back to.
	ErrNotRegistered = errors.New("device tag not registered")

	// ErrAlreadyRegistered is wrapped when a built-in tag is registered a
	// second time, or on any other single-writer registration conflict.
	ErrAlreadyRegistered = errors.New("device tag already registered")
)

// Descriptor is the per-tag singleton bundle of capabilities a backend
// provides. Once registered it is read-only: the runtime never mutates the
// descriptor itself, only resources it hands out.
type Descriptor struct {
	Tag       Tag
	Allocator Allocator
	Guard     Guard

	// GeneratorFactory is optional here; the strict single-writer generator
	// registry lives in the generator package.
	GeneratorFactory GeneratorFactory

	// Hooks is optional; when nil, hooks lookups fall back to a no-op
	// implementation.
	Hooks Hooks
}

// Registry maps device tags to their descriptors.
//
// Registration is expected at package-load time; Lookup and Allocate are safe
// for concurrent use and readers never block each other. Tests should build
// their own Registry via NewRegistry rather than mutate Global.
type Registry struct {
	mu          sync.RWMutex
	descriptors [NumTags]*Descriptor

	// defaultAccel is the process-wide default accelerator tag, at most one
	// non-private accelerator at a time.
	defaultAccel Tag
	hasAccel     bool

	pool     devicePool
	poolOnce sync.Once
}

// NewRegistry returns an empty registry. Most code uses Global; fresh
// registries exist so tests can avoid cross-test pollution.
func NewRegistry() *Registry {
	return &Registry{}
}

var globalRegistry = NewRegistry()

// Global returns the process-wide registry, the one backend `init()`
// functions register into.
func Global() *Registry {
	return globalRegistry
}

// Register installs the descriptor for its tag.
//
// Built-in tags may be registered exactly once: a second attempt returns an
// error wrapping ErrAlreadyRegistered, the original descriptor stays live.
// PrivateUse tags tolerate re-registration: the new descriptor replaces the
// old pointer, and buffers issued by the previous allocator remain valid
// (their deleters are self-contained by the Allocator contract).
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Allocator == nil || d.Guard == nil {
		return errors.New("device.Register: descriptor requires at least an Allocator and a Guard")
	}
	if !d.Tag.IsATag() {
		return errors.Errorf("device.Register: invalid tag %d", d.Tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev := r.descriptors[d.Tag]; prev != nil {
		if !d.Tag.IsPrivate() {
			return errors.Wrapf(ErrAlreadyRegistered, "device.Register: tag %s", d.Tag)
		}
		klog.V(1).Infof("device.Register: replacing descriptor for %s", d.Tag)
	}
	r.descriptors[d.Tag] = d
	return nil
}

// Lookup returns the descriptor for the tag, or an error wrapping
// ErrNotRegistered.
func (r *Registry) Lookup(tag Tag) (*Descriptor, error) {
	if !tag.IsATag() {
		return nil, errors.Errorf("device.Lookup: invalid tag %d", tag)
	}
	r.mu.RLock()
	d := r.descriptors[tag]
	r.mu.RUnlock()
	if d == nil {
		return nil, errors.Wrapf(ErrNotRegistered, "device.Lookup: tag %s", tag)
	}
	return d, nil
}

// IsRegistered returns whether the tag has a descriptor.
func (r *Registry) IsRegistered(tag Tag) bool {
	_, err := r.Lookup(tag)
	return err == nil
}

// Allocate delegates to the tag's registered Allocator.
func (r *Registry) Allocate(tag Tag, nbytes int) (*Buffer, error) {
	d, err := r.Lookup(tag)
	if err != nil {
		return nil, err
	}
	buf, err := d.Allocator.Allocate(nbytes)
	if err != nil {
		return nil, errors.WithMessagef(err, "device.Allocate: %s of %s", tag, humanize.Bytes(uint64(nbytes)))
	}
	if klog.V(2).Enabled() {
		klog.Infof("device.Allocate: %s on %s", humanize.Bytes(uint64(nbytes)), buf.Device())
	}
	return buf, nil
}

// SetDefaultAccelerator makes tag the process-wide default accelerator.
//
// At most one non-private accelerator may be active; private tags may coexist
// with any other accelerator (they are meant for testing side-by-side).
func (r *Registry) SetDefaultAccelerator(tag Tag) error {
	if !tag.IsAccelerator() {
		return errors.Errorf("device.SetDefaultAccelerator: %s is not an accelerator tag", tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasAccel && r.defaultAccel != tag && !tag.IsPrivate() && !r.defaultAccel.IsPrivate() {
		return errors.Errorf("device.SetDefaultAccelerator: %s already active, cannot also activate %s",
			r.defaultAccel, tag)
	}
	if !tag.IsPrivate() || !r.hasAccel {
		r.defaultAccel = tag
		r.hasAccel = true
	}
	return nil
}

// DefaultAccelerator returns the active default accelerator tag, if any.
func (r *Registry) DefaultAccelerator() (Tag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultAccel, r.hasAccel
}
