// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// NoOpGuard is a Guard for backends whose memory is plain host memory and
// that need no real device-context switching (the CPU backend, and test
// backends that secretly run on the CPU).
type NoOpGuard struct {
	tag     Tag
	count   int
	current atomic.Int32
}

// NewNoOpGuard returns a guard for the tag exposing count devices.
func NewNoOpGuard(tag Tag, count int) *NoOpGuard {
	return &NoOpGuard{tag: tag, count: count}
}

// Tag implements Guard.
func (g *NoOpGuard) Tag() Tag { return g.tag }

// DeviceCount implements Guard.
func (g *NoOpGuard) DeviceCount() int { return g.count }

// CurrentDevice implements Guard.
func (g *NoOpGuard) CurrentDevice() int { return int(g.current.Load()) }

// SetDevice implements Guard.
func (g *NoOpGuard) SetDevice(index int) error {
	if index < 0 || index >= g.count {
		return errors.Errorf("SetDevice: index %d out of range for %s (%d devices)", index, g.tag, g.count)
	}
	g.current.Store(int32(index))
	return nil
}
