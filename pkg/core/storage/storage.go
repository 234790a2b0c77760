// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package storage implements the reference-counted byte buffer underlying
// tensors.
//
// Multiple tensor handles may alias the same Storage (views and slices):
// mutating through one handle is visible through all aliases, and the memory
// is released only when the last owning handle calls Release.
//
// A backend can override how storages for its device are built (to wrap a
// foreign allocation strategy) by registering a Ctor for its tag.
package storage

import (
	"sync"
	"sync/atomic"

	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Storage is a reference-counted raw byte buffer with the deleter captured
// from the allocator that produced it.
//
// A new Storage starts with use count 1, owned by the caller. Retain/Release
// adjust the count; the underlying buffer is freed when it reaches zero.
type Storage struct {
	refs      atomic.Int64
	buffer    *device.Buffer
	allocator device.Allocator
	resizable bool
}

// New builds a Storage of nbytes on the given device, using the tag's
// registered Ctor override if any, otherwise the default construction
// through alloc. A nil alloc uses the device's registered allocator.
func New(reg *device.Registry, dev device.Device, nbytes int, alloc device.Allocator, resizable bool) (*Storage, error) {
	ctor := CtorFor(dev.Tag)
	if ctor != nil {
		return ctor(dev, nbytes, nil, alloc, resizable)
	}
	return Default(reg, dev, nbytes, nil, alloc, resizable)
}

// Ctor builds a Storage from a byte size, an optional pre-existing data
// buffer, an allocator and a resizability flag. Backends register overrides
// per device tag; see RegisterCtor.
type Ctor func(dev device.Device, nbytes int, data *device.Buffer, alloc device.Allocator, resizable bool) (*Storage, error)

// Default is the stock Ctor: it allocates through alloc (or the device's
// registered allocator when alloc is nil), unless a pre-existing data buffer
// is given, in which case it is adopted as-is.
func Default(reg *device.Registry, dev device.Device, nbytes int, data *device.Buffer, alloc device.Allocator, resizable bool) (*Storage, error) {
	if nbytes < 0 {
		return nil, errors.Errorf("storage: negative size %d", nbytes)
	}
	if reg == nil {
		reg = device.Global()
	}
	if data == nil {
		if alloc == nil {
			d, err := reg.Lookup(dev.Tag)
			if err != nil {
				return nil, err
			}
			alloc = d.Allocator
		}
		var err error
		data, err = alloc.Allocate(nbytes)
		if err != nil {
			return nil, err
		}
	} else if data.Len() < nbytes {
		return nil, errors.Errorf("storage: pre-existing buffer has %d bytes, need %d", data.Len(), nbytes)
	}
	s := &Storage{buffer: data, allocator: alloc, resizable: resizable}
	s.refs.Store(1)
	return s, nil
}

// FromBuffer adopts a raw buffer into a non-resizable Storage with use
// count 1.
func FromBuffer(buf *device.Buffer) *Storage {
	s := &Storage{buffer: buf}
	s.refs.Store(1)
	return s
}

// Retain increments the use count and returns the storage for chaining.
func (s *Storage) Retain() *Storage {
	if s.refs.Add(1) <= 1 {
		panic(errors.New("storage.Retain on a released Storage"))
	}
	return s
}

// Release decrements the use count, freeing the underlying buffer when it
// reaches zero.
func (s *Storage) Release() {
	refs := s.refs.Add(-1)
	if refs > 0 {
		return
	}
	if refs < 0 {
		panic(errors.New("storage.Release: use count went negative"))
	}
	s.buffer.Free()
}

// UseCount returns the current number of owners. Mainly used by the gradient
// accumulator's steal-vs-clone decision and by tests.
func (s *Storage) UseCount() int64 {
	return s.refs.Load()
}

// Bytes returns the raw memory. The caller must hold a reference.
func (s *Storage) Bytes() []byte {
	return s.buffer.Bytes()
}

// NBytes returns the storage size in bytes.
func (s *Storage) NBytes() int {
	return s.buffer.Len()
}

// Device returns the device the storage lives on.
func (s *Storage) Device() device.Device {
	return s.buffer.Device()
}

// Resizable reports whether Resize is allowed.
func (s *Storage) Resizable() bool {
	return s.resizable
}

// Resize grows or shrinks the storage to nbytes, preserving the common
// prefix of the data. It fails on non-resizable storages or when no
// allocator was captured at construction.
func (s *Storage) Resize(nbytes int) error {
	if !s.resizable {
		return errors.New("storage.Resize: storage is not resizable")
	}
	if s.allocator == nil {
		return errors.New("storage.Resize: no allocator to resize with")
	}
	if nbytes == s.NBytes() {
		return nil
	}
	newBuf, err := s.allocator.Allocate(nbytes)
	if err != nil {
		return err
	}
	copy(newBuf.Bytes(), s.buffer.Bytes())
	s.buffer.Free()
	s.buffer = newBuf
	return nil
}

// Ctor override registry, one slot per device tag. Like the descriptor
// registry's private slots, a later registration replaces the previous one
// with a warning; storages already built keep working.
var (
	ctorMu sync.RWMutex
	ctors  [device.NumTags]Ctor
)

// RegisterCtor installs the storage constructor override for a tag.
func RegisterCtor(tag device.Tag, ctor Ctor) error {
	if !tag.IsATag() {
		return errors.Errorf("storage.RegisterCtor: invalid tag %d", tag)
	}
	ctorMu.Lock()
	defer ctorMu.Unlock()
	if ctors[tag] != nil {
		klog.Warningf("storage.RegisterCtor: replacing constructor override for %s", tag)
	}
	ctors[tag] = ctor
	return nil
}

// CtorFor returns the registered override for the tag, or nil.
func CtorFor(tag device.Tag) Ctor {
	if !tag.IsATag() {
		return nil
	}
	ctorMu.RLock()
	defer ctorMu.RUnlock()
	return ctors[tag]
}

// ResetCtorForTesting clears the override for a tag. Tests only.
func ResetCtorForTesting(tag device.Tag) {
	ctorMu.Lock()
	defer ctorMu.Unlock()
	ctors[tag] = nil
}
