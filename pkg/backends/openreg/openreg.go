// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package openreg is the open registration protocol for out-of-tree
// backends: one call wires a backend's allocator, guard, generator, hooks,
// storage constructor and kernels into the runtime registries, under one of
// the reserved PrivateUse device tags.
//
// The protocol is deliberately asymmetric about replacement:
//
//   - the device descriptor slot of a PrivateUse tag is replaceable, so a
//     backend can be reloaded during development;
//   - the generator factory slot is strict single-writer;
//   - per-op kernel slots follow the registration mode the backend picks;
//   - the boxed fallback slot is always replaceable.
package openreg

import (
	"k8s.io/klog/v2"

	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/gotensor/gotensor/pkg/core/dispatch"
	"github.com/gotensor/gotensor/pkg/core/generator"
	"github.com/gotensor/gotensor/pkg/core/storage"
	"github.com/gotensor/gotensor/pkg/core/tensor"
	"github.com/pkg/errors"
)

// Config bundles everything an out-of-tree backend registers. Allocator and
// Guard are mandatory; the rest is optional.
type Config struct {
	// Tag must be one of the PrivateUse tags.
	Tag device.Tag

	// Name identifies the backend in logs and in the hooks registry.
	Name string

	Allocator device.Allocator
	Guard     device.Guard

	// GeneratorFactory, when set, claims the tag's strict generator slot.
	GeneratorFactory device.GeneratorFactory

	// Hooks, when set, is registered under Name in the hooks registry.
	Hooks device.Hooks

	// StorageCtor, when set, overrides storage construction for the tag.
	StorageCtor storage.Ctor

	// Kernels maps operator names to native kernels.
	Kernels map[string]dispatch.Kernel

	// KernelMode is the collision policy for Kernels; zero value replaces.
	KernelMode dispatch.Mode

	// Fallback, when set, is installed as the tag's boxed fallback and
	// catches every operator without a native kernel.
	Fallback dispatch.FallbackKernel

	// MakeDefaultAccelerator claims the process default accelerator slot.
	MakeDefaultAccelerator bool
}

// Register wires the backend into the global registries. It fails on the
// first violation and performs no rollback: registration is expected at
// package-load time, where a failure is fatal anyway.
func Register(cfg Config) error {
	if !cfg.Tag.IsPrivate() {
		return errors.Errorf("openreg: tag %s is not a PrivateUse tag; built-in backends register directly", cfg.Tag)
	}
	if cfg.Name == "" {
		return errors.New("openreg: backend needs a Name")
	}

	if err := device.Global().Register(&device.Descriptor{
		Tag:              cfg.Tag,
		Allocator:        cfg.Allocator,
		Guard:            cfg.Guard,
		GeneratorFactory: cfg.GeneratorFactory,
		Hooks:            cfg.Hooks,
	}); err != nil {
		return errors.WithMessagef(err, "openreg: registering backend %q", cfg.Name)
	}

	if cfg.GeneratorFactory != nil {
		if err := generator.Global().RegisterFactory(cfg.Tag, cfg.GeneratorFactory); err != nil {
			return errors.WithMessagef(err, "openreg: generator factory of backend %q", cfg.Name)
		}
	}
	if cfg.Hooks != nil {
		hooks := cfg.Hooks
		if err := device.GlobalHooks().RegisterFactory(cfg.Tag, cfg.Name, func() device.Hooks { return hooks }); err != nil {
			return errors.WithMessagef(err, "openreg: hooks of backend %q", cfg.Name)
		}
	}
	if cfg.StorageCtor != nil {
		if err := storage.RegisterCtor(cfg.Tag, cfg.StorageCtor); err != nil {
			return errors.WithMessagef(err, "openreg: storage ctor of backend %q", cfg.Name)
		}
	}

	table := dispatch.GlobalTable()
	key := dispatch.KeyForTag(cfg.Tag)
	for op, kernel := range cfg.Kernels {
		if err := table.RegisterKernel(op, key, kernel, cfg.KernelMode); err != nil {
			return errors.WithMessagef(err, "openreg: kernel %q of backend %q", op, cfg.Name)
		}
	}
	if cfg.Fallback != nil {
		if err := table.RegisterFallback(key, cfg.Fallback); err != nil {
			return errors.WithMessagef(err, "openreg: fallback of backend %q", cfg.Name)
		}
	}

	if cfg.MakeDefaultAccelerator {
		if err := device.Global().SetDefaultAccelerator(cfg.Tag); err != nil {
			return errors.WithMessagef(err, "openreg: default accelerator of backend %q", cfg.Name)
		}
	}

	klog.V(1).Infof("openreg: backend %q registered on %s (%d native kernels, fallback=%v)",
		cfg.Name, cfg.Tag, len(cfg.Kernels), cfg.Fallback != nil)
	return nil
}

// MissingOps returns the minimal-set operators the key covers neither with a
// native kernel nor through a boxed fallback.
func MissingOps(table *dispatch.Table, key dispatch.Key) []string {
	var missing []string
	for _, op := range tensor.MinimalOpSet {
		if !table.HasKernel(op, key) && !table.HasFallback(key) {
			missing = append(missing, op)
		}
	}
	return missing
}

// ValidateMinimalOpSet checks that a backend key can serve every operator of
// the minimal set. Backends call it after registration as a self-check.
func ValidateMinimalOpSet(table *dispatch.Table, key dispatch.Key) error {
	if missing := MissingOps(table, key); len(missing) > 0 {
		return errors.Errorf("openreg: key %s is missing kernels for %v and has no fallback", key, missing)
	}
	return nil
}
