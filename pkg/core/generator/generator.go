// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package generator implements per-device pseudorandom generators and the
// factory registry backends register into.
//
// Unlike the device descriptor registry -- where the open PrivateUse slots
// tolerate re-registration -- the generator factory registry is a strict
// single-writer slot per tag: the second registration attempt for the same
// tag fails and the original factory stays live.
package generator

import (
	"math/rand/v2"
	"sync"

	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/pkg/errors"
)

// Registry maps device tags to generator factories, one writer per slot.
type Registry struct {
	mu        sync.RWMutex
	factories [device.NumTags]device.GeneratorFactory

	// defaults caches the default generator per device, built lazily.
	defaults sync.Map // device.Device -> device.Generator
}

// NewRegistry returns an empty generator registry, mainly for tests.
func NewRegistry() *Registry {
	return &Registry{}
}

var globalRegistry = NewRegistry()

// Global returns the process-wide generator registry.
func Global() *Registry {
	return globalRegistry
}

// RegisterFactory installs the generator factory for a tag. A second
// registration for the same tag fails with ErrAlreadyRegistered and leaves
// the first factory in place.
func (r *Registry) RegisterFactory(tag device.Tag, factory device.GeneratorFactory) error {
	if !tag.IsATag() {
		return errors.Errorf("generator.RegisterFactory: invalid tag %d", tag)
	}
	if factory == nil {
		return errors.New("generator.RegisterFactory: nil factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories[tag] != nil {
		return errors.Wrapf(device.ErrAlreadyRegistered, "generator.RegisterFactory: tag %s", tag)
	}
	r.factories[tag] = factory
	return nil
}

// New constructs a fresh generator for the device through the registered
// factory.
func (r *Registry) New(dev device.Device) (device.Generator, error) {
	r.mu.RLock()
	factory := r.factories[dev.Tag]
	r.mu.RUnlock()
	if factory == nil {
		return nil, errors.Wrapf(device.ErrNotRegistered, "generator.New: no factory for tag %s", dev.Tag)
	}
	return factory(dev.Index)
}

// Default returns the process-wide default generator for the device,
// constructing it on first use. All callers observe the same generator.
func (r *Registry) Default(dev device.Device) (device.Generator, error) {
	if g, found := r.defaults.Load(dev); found {
		return g.(device.Generator), nil
	}
	g, err := r.New(dev)
	if err != nil {
		return nil, err
	}
	actual, _ := r.defaults.LoadOrStore(dev, g)
	return actual.(device.Generator), nil
}

// HasFactory returns whether a factory is registered for the tag.
func (r *Registry) HasFactory(tag device.Tag) bool {
	if !tag.IsATag() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories[tag] != nil
}

// hostGenerator is the default generator implementation for host-memory
// backends: a PCG source seeded per device index.
type hostGenerator struct {
	dev  device.Device
	mu   sync.Mutex
	seed uint64
	rng  *rand.Rand
}

// NewHost returns a Generator for the device backed by a PCG source. It is
// the stock implementation for the CPU backend and for test backends whose
// memory is host memory.
func NewHost(dev device.Device, seed uint64) device.Generator {
	return &hostGenerator{
		dev:  dev,
		seed: seed,
		rng:  rand.New(rand.NewPCG(seed, uint64(dev.Index))),
	}
}

// Device implements device.Generator.
func (g *hostGenerator) Device() device.Device { return g.dev }

// Seed implements device.Generator.
func (g *hostGenerator) Seed(seed uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seed = seed
	g.rng = rand.New(rand.NewPCG(seed, uint64(g.dev.Index)))
}

// Uint64 implements device.Generator.
func (g *hostGenerator) Uint64() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Uint64()
}

// Float64 implements device.Generator.
func (g *hostGenerator) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

// NormFloat64 implements device.Generator.
func (g *hostGenerator) NormFloat64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.NormFloat64()
}
