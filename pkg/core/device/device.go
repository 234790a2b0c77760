// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package device defines the device tags known to the runtime and the
// registry that maps each tag to its backend descriptor: allocator, guard,
// generator factory and hooks.
//
// Built-in tags (CPU, CUDA, Metal) are register-once: a second registration
// for the same tag fails. The PrivateUse tags are reserved for out-of-tree
// backends and allow re-registration (last one wins), so test extensions can
// be swapped without restarting the process.
//
// Registration is expected to happen at package-load time (typically from an
// `init()` in the backend's package); lookups are safe for concurrent use.
package device

import (
	"fmt"
	"strings"
)

// Tag identifies a backend family. It is one axis of kernel dispatch: every
// tensor carries the Tag of the device holding its storage.
type Tag uint8

//go:generate go tool enumer -type=Tag -output=tag_enumer.go device.go

const (
	// CPU is the default host backend, always available.
	CPU Tag = iota

	// CUDA and Metal are the built-in accelerator families.
	CUDA
	Metal

	// PrivateUse1, PrivateUse2 and PrivateUse3 are reserved for out-of-tree
	// backends. They carry no in-tree implementation; an integrator claims
	// one through the openreg package.
	PrivateUse1
	PrivateUse2
	PrivateUse3

	// NumTags is the number of valid tags, for use as array dimension.
	NumTags int = iota
)

// IsAccelerator returns whether the tag is an accelerator family (anything
// but CPU).
func (t Tag) IsAccelerator() bool {
	return t != CPU
}

// IsPrivate returns whether the tag is one of the reserved open slots.
func (t Tag) IsPrivate() bool {
	return t >= PrivateUse1 && t <= PrivateUse3
}

// Device is a Tag plus a device ordinal within the tag's family
// (e.g. the second CUDA card is {CUDA, 1}).
type Device struct {
	Tag   Tag
	Index int
}

// New returns a Device for the given tag and index.
func New(tag Tag, index int) Device {
	return Device{Tag: tag, Index: index}
}

// String implements fmt.Stringer: "cpu", "cuda:1", "privateuse1:0".
func (d Device) String() string {
	if d.Tag == CPU && d.Index == 0 {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", strings.ToLower(d.Tag.String()), d.Index)
}
