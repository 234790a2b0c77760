// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package autograd_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gotensor/gotensor/pkg/backends/cpu"
	"github.com/gotensor/gotensor/pkg/core/autograd"
	"github.com/gotensor/gotensor/pkg/core/device"
	"github.com/gotensor/gotensor/pkg/core/dtypes"
	"github.com/gotensor/gotensor/pkg/core/shapes"
	"github.com/gotensor/gotensor/pkg/core/tensor"
)

var hostDev = device.Device{Tag: device.CPU}

func newLeaf(t *testing.T, dims ...int) *autograd.Variable {
	data, err := tensor.Zeros(hostDev, shapes.Make(dtypes.Float32, dims...))
	require.NoError(t, err)
	t.Cleanup(data.Finalize)
	return autograd.NewLeaf(data, true)
}

func gradOf(t *testing.T, values []float32, dims ...int) *tensor.Tensor {
	g, err := tensor.FromFlatData(values, dims...)
	require.NoError(t, err)
	return g
}

func TestEmptyGradIsNoOp(t *testing.T) {
	v := newLeaf(t, 2)
	acc := v.GradAccumulator()

	require.NoError(t, acc.Accumulate(autograd.Grad{}))
	assert.Nil(t, v.Grad())

	empty, err := tensor.Zeros(hostDev, shapes.Make(dtypes.Float32, 0))
	require.NoError(t, err)
	defer empty.Finalize()
	require.NoError(t, acc.Accumulate(autograd.Grad{Tensor: empty, UniquelyOwned: true}))
	assert.Nil(t, v.Grad())
}

func TestNoGradRequiredIsNoOp(t *testing.T) {
	data, err := tensor.Zeros(hostDev, shapes.Make(dtypes.Float32, 2))
	require.NoError(t, err)
	defer data.Finalize()
	v := autograd.NewLeaf(data, false)

	g := gradOf(t, []float32{1, 1}, 2)
	defer g.Finalize()
	require.NoError(t, v.GradAccumulator().Accumulate(autograd.Grad{Tensor: g, UniquelyOwned: true}))
	assert.Nil(t, v.Grad())
}

func TestNonLeafAccumulationPanics(t *testing.T) {
	data, err := tensor.Zeros(hostDev, shapes.Make(dtypes.Float32, 2))
	require.NoError(t, err)
	defer data.Finalize()
	v := autograd.NewFromOp(data, &recordingNode{name: "MulBackward", numInputs: 1})

	g := gradOf(t, []float32{1, 1}, 2)
	defer g.Finalize()
	require.Panics(t, func() {
		_ = v.GradAccumulator().Accumulate(autograd.Grad{Tensor: g, UniquelyOwned: true})
	})
}

func TestShapeMismatchPanics(t *testing.T) {
	v := newLeaf(t, 2)
	g := gradOf(t, []float32{1, 2, 3}, 3)
	defer g.Finalize()
	require.Panics(t, func() {
		_ = v.GradAccumulator().Accumulate(autograd.Grad{Tensor: g, UniquelyOwned: true})
	})
}

func TestFirstGradStealsUniquelyOwnedStorage(t *testing.T) {
	v := newLeaf(t, 3)
	g := gradOf(t, []float32{1, 2, 3}, 3)
	defer g.Finalize()

	require.NoError(t, v.GradAccumulator().Accumulate(autograd.Grad{Tensor: g, UniquelyOwned: true}))
	grad := v.Grad()
	require.NotNil(t, grad)
	// Zero-copy adoption: the slot aliases the producer's storage.
	assert.True(t, grad.SharesStorageWith(g))
	assert.Equal(t, []float32{1, 2, 3}, tensor.FlatData[float32](grad))
}

func TestFirstGradClonesSharedStorage(t *testing.T) {
	v := newLeaf(t, 3)
	g := gradOf(t, []float32{1, 2, 3}, 3)
	defer g.Finalize()

	// A second live view makes the storage non-exclusive.
	view, err := g.AsStrided(g.Shape(), g.Strides(), 0)
	require.NoError(t, err)
	defer view.Finalize()

	require.NoError(t, v.GradAccumulator().Accumulate(autograd.Grad{Tensor: g, UniquelyOwned: true}))
	grad := v.Grad()
	require.NotNil(t, grad)
	assert.False(t, grad.SharesStorageWith(g))

	// Mutating the producer's tensor must not leak into the slot.
	require.NoError(t, g.Fill(9))
	assert.Equal(t, []float32{1, 2, 3}, tensor.FlatData[float32](grad))
}

func TestFirstGradClonesWhenNotUniquelyOwned(t *testing.T) {
	v := newLeaf(t, 2)
	g := gradOf(t, []float32{4, 5}, 2)
	defer g.Finalize()

	require.NoError(t, v.GradAccumulator().Accumulate(autograd.Grad{Tensor: g, UniquelyOwned: false}))
	require.NotNil(t, v.Grad())
	assert.False(t, v.Grad().SharesStorageWith(g))
}

func TestSameDTypeAccumulatesInPlace(t *testing.T) {
	v := newLeaf(t, 2)
	acc := v.GradAccumulator()

	g1 := gradOf(t, []float32{1, 2}, 2)
	defer g1.Finalize()
	require.NoError(t, acc.Accumulate(autograd.Grad{Tensor: g1, UniquelyOwned: true}))
	first := v.Grad()

	g2 := gradOf(t, []float32{10, 20}, 2)
	defer g2.Finalize()
	require.NoError(t, acc.Accumulate(autograd.Grad{Tensor: g2, UniquelyOwned: true}))

	// Same dtype: merged in place, the slot tensor is untouched.
	assert.Same(t, first, v.Grad())
	assert.Equal(t, []float32{11, 22}, tensor.FlatData[float32](v.Grad()))
}

func TestMixedDTypePromotesWithoutTruncation(t *testing.T) {
	v := newLeaf(t, 2)
	acc := v.GradAccumulator()

	g16, err := tensor.Zeros(hostDev, shapes.Make(dtypes.Float16, 2))
	require.NoError(t, err)
	defer g16.Finalize()
	require.NoError(t, g16.Fill(1))
	require.NoError(t, acc.Accumulate(autograd.Grad{Tensor: g16, UniquelyOwned: true}))
	require.Equal(t, dtypes.Float16, v.Grad().DType())

	// A wider contribution replaces the slot with the promoted dtype.
	g32 := gradOf(t, []float32{0.5, 0.25}, 2)
	defer g32.Finalize()
	require.NoError(t, acc.Accumulate(autograd.Grad{Tensor: g32, UniquelyOwned: true}))
	require.Equal(t, dtypes.Float32, v.Grad().DType())
	assert.Equal(t, []float32{1.5, 1.25}, tensor.FlatData[float32](v.Grad()))

	// A narrower contribution accumulates into the wider slot in place.
	g16b, err := tensor.Zeros(hostDev, shapes.Make(dtypes.Float16, 2))
	require.NoError(t, err)
	defer g16b.Finalize()
	require.NoError(t, g16b.Fill(2))
	require.NoError(t, acc.Accumulate(autograd.Grad{Tensor: g16b, UniquelyOwned: true}))
	require.Equal(t, dtypes.Float32, v.Grad().DType())
	assert.Equal(t, []float32{3.5, 3.25}, tensor.FlatData[float32](v.Grad()))
}

func TestCommitCallbackObservesEveryWrite(t *testing.T) {
	v := newLeaf(t, 2)
	acc := v.GradAccumulator()

	var commits int
	acc.SetCommitCallback(func(grad *tensor.Tensor) {
		require.NotNil(t, grad)
		commits++
	})

	for i := 0; i < 3; i++ {
		g := gradOf(t, []float32{1, 1}, 2)
		require.NoError(t, acc.Accumulate(autograd.Grad{Tensor: g, UniquelyOwned: true}))
		g.Finalize()
	}
	assert.Equal(t, 3, commits)
	assert.Equal(t, []float32{3, 3}, tensor.FlatData[float32](v.Grad()))
}

func TestPostAccumulateHooksRunAfterMerge(t *testing.T) {
	v := newLeaf(t, 2)
	acc := v.GradAccumulator()

	var seen []float32
	v.AddPostAccumulateHook(func(v *autograd.Variable) {
		seen = append(seen, tensor.FlatData[float32](v.Grad())[0])
	})

	for i := 0; i < 2; i++ {
		g := gradOf(t, []float32{1, 1}, 2)
		require.NoError(t, acc.Accumulate(autograd.Grad{Tensor: g, UniquelyOwned: true}))
		g.Finalize()
	}
	assert.Equal(t, []float32{1, 2}, seen)
}

func TestGradAccumulatorIsSingleton(t *testing.T) {
	v := newLeaf(t, 1)
	var wg sync.WaitGroup
	accs := make([]*autograd.AccumulateGrad, 16)
	for i := range accs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			accs[i] = v.GradAccumulator()
		}(i)
	}
	wg.Wait()
	for _, acc := range accs {
		assert.Same(t, accs[0], acc)
	}
}

func TestConcurrentAccumulationLosesNothing(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 50

	v := newLeaf(t, 4)
	acc := v.GradAccumulator()

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				g, err := tensor.Full(hostDev, shapes.Make(dtypes.Float32, 4), 1)
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, acc.Accumulate(autograd.Grad{Tensor: g, UniquelyOwned: true}))
				g.Finalize()
			}
		}()
	}
	wg.Wait()

	want := float32(goroutines * perGoroutine)
	for _, got := range tensor.FlatData[float32](v.Grad()) {
		assert.Equal(t, want, got)
	}
}

// recordingNode is a minimal Node for graph-shape tests.
type recordingNode struct {
	name      string
	seq       uint64
	numInputs int
	next      []autograd.Edge
	onApply   func(ctx context.Context, grads []*tensor.Tensor) ([]*tensor.Tensor, error)
}

func (n *recordingNode) Name() string              { return n.name }
func (n *recordingNode) SequenceNr() uint64        { return n.seq }
func (n *recordingNode) NumInputs() int            { return n.numInputs }
func (n *recordingNode) NextEdges() []autograd.Edge { return n.next }

func (n *recordingNode) Apply(ctx context.Context, grads []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if n.onApply != nil {
		return n.onApply(ctx, grads)
	}
	return nil, nil
}
