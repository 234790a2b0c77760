// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package generator

import (
	"testing"

	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactorySingleWriter(t *testing.T) {
	r := NewRegistry()
	first := func(index int) (device.Generator, error) {
		return NewHost(device.New(device.PrivateUse1, index), 1), nil
	}
	second := func(index int) (device.Generator, error) {
		return NewHost(device.New(device.PrivateUse1, index), 2), nil
	}

	require.NoError(t, r.RegisterFactory(device.PrivateUse1, first))
	err := r.RegisterFactory(device.PrivateUse1, second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrAlreadyRegistered))

	// The original factory remains the one used.
	g, err := r.New(device.New(device.PrivateUse1, 0))
	require.NoError(t, err)
	seeded := NewHost(device.New(device.PrivateUse1, 0), 1)
	assert.Equal(t, seeded.Uint64(), g.Uint64())
}

func TestNewWithoutFactory(t *testing.T) {
	r := NewRegistry()
	_, err := r.New(device.New(device.Metal, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrNotRegistered))
	assert.False(t, r.HasFactory(device.Metal))
}

func TestDefaultIsCached(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory(device.CPU, func(index int) (device.Generator, error) {
		return NewHost(device.New(device.CPU, index), 42), nil
	}))
	a, err := r.Default(device.New(device.CPU, 0))
	require.NoError(t, err)
	b, err := r.Default(device.New(device.CPU, 0))
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := r.Default(device.New(device.CPU, 1))
	require.NoError(t, err)
	assert.NotSame(t, a, other)
}

func TestHostGenerator(t *testing.T) {
	g := NewHost(device.New(device.CPU, 0), 7)
	h := NewHost(device.New(device.CPU, 0), 7)
	for range 10 {
		assert.Equal(t, g.Uint64(), h.Uint64(), "same seed must reproduce")
	}

	g.Seed(99)
	v := g.Float64()
	assert.GreaterOrEqual(t, v, 0.0)
	assert.Less(t, v, 1.0)
	_ = g.NormFloat64()
	assert.Equal(t, device.CPU, g.Device().Tag)
}
