// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Hooks factories are registered by name under a tag, and the runtime looks
// the hooks object up lazily: the first successful lookup wins and is cached
// for the registry's lifetime. If nothing was registered for a tag, lookups
// return a shared no-op hooks object -- absence of hooks is not an error.

type hooksSlot struct {
	once  sync.Once
	hooks Hooks
}

// HooksRegistry is the name-keyed factory registry for per-tag hooks.
type HooksRegistry struct {
	mu        sync.Mutex
	factories [NumTags]map[string]func() Hooks
	slots     [NumTags]hooksSlot
}

// NewHooksRegistry returns an empty hooks registry, mainly for tests.
func NewHooksRegistry() *HooksRegistry {
	return &HooksRegistry{}
}

var globalHooks = NewHooksRegistry()

// GlobalHooks returns the process-wide hooks registry.
func GlobalHooks() *HooksRegistry {
	return globalHooks
}

// RegisterFactory registers a named hooks factory for the tag. Registering
// after the tag's hooks have already been resolved has no effect on the
// cached value; a warning is logged since it usually indicates an init
// ordering problem.
func (h *HooksRegistry) RegisterFactory(tag Tag, name string, factory func() Hooks) error {
	if !tag.IsATag() {
		return errors.Errorf("hooks.RegisterFactory: invalid tag %d", tag)
	}
	if factory == nil {
		return errors.New("hooks.RegisterFactory: nil factory")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.factories[tag] == nil {
		h.factories[tag] = make(map[string]func() Hooks)
	}
	if _, found := h.factories[tag][name]; found {
		return errors.Wrapf(ErrAlreadyRegistered, "hooks.RegisterFactory: %s/%q", tag, name)
	}
	h.factories[tag][name] = factory
	if h.slots[tag].hooks != nil {
		klog.Warningf("hooks.RegisterFactory: hooks for %s already resolved, factory %q will never be used", tag, name)
	}
	return nil
}

// For returns the hooks for the tag, resolving them on first use: any one of
// the registered factories is invoked (first found wins); with none
// registered the shared no-op hooks are returned. The result is cached, so
// all callers observe the same hooks object.
func (h *HooksRegistry) For(tag Tag) Hooks {
	if !tag.IsATag() {
		return noOpHooksSingleton
	}
	slot := &h.slots[tag]
	slot.once.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for name, factory := range h.factories[tag] {
			if hooks := factory(); hooks != nil {
				klog.V(1).Infof("hooks: resolved %s hooks from factory %q", tag, name)
				slot.hooks = hooks
				return
			}
		}
		slot.hooks = noOpHooksSingleton
	})
	return slot.hooks
}

// NoOpHooks is the default Hooks: no default generator, nothing pinned.
type NoOpHooks struct{}

var noOpHooksSingleton Hooks = NoOpHooks{}

// DefaultGenerator implements Hooks.
func (NoOpHooks) DefaultGenerator(index int) (Generator, error) {
	return nil, errors.New("no hooks registered: no default generator available")
}

// IsPinned implements Hooks: nothing is pinned.
func (NoOpHooks) IsPinned(data []byte) bool { return false }

// PinnedAllocator implements Hooks.
func (NoOpHooks) PinnedAllocator() (Allocator, error) {
	return nil, errors.New("no hooks registered: no pinned allocator available")
}
