// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package autograd

import (
	"container/heap"
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gotensor/gotensor/internal/workerspool"
	"github.com/gotensor/gotensor/pkg/core/tensor"
)

// ErrReentrantBackward is returned when a backward pass is started from
// inside a node's Apply. The single-pool engine would deadlock waiting for
// its own workers; detection can be disabled through the environment
// variable named by DisableDeadlockDetectionEnv.
var ErrReentrantBackward = errors.New("reentrant backward pass")

// DisableDeadlockDetectionEnv disables reentrancy detection when present in
// the environment, regardless of its value.
const DisableDeadlockDetectionEnv = "GOTENSOR_DISABLE_DEADLOCK_DETECTION"

func deadlockDetectionEnabled() bool {
	_, disabled := os.LookupEnv(DisableDeadlockDetectionEnv)
	return !disabled
}

type engineMarker struct{}

// Engine executes backward graphs: it counts dependencies, keeps a ready
// queue ordered by sequence number and runs ready nodes on a worker pool.
type Engine struct {
	pool *workerspool.Pool
}

// NewEngine returns an engine with default parallelism.
func NewEngine() *Engine {
	return &Engine{pool: workerspool.New()}
}

// NewEngineWithParallelism returns an engine with an explicit worker target;
// zero runs nodes inline on the calling goroutine.
func NewEngineWithParallelism(maxParallelism int) *Engine {
	return &Engine{pool: workerspool.NewWithParallelism(maxParallelism)}
}

var defaultEngine = NewEngine()

// Default returns the process-wide engine.
func Default() *Engine { return defaultEngine }

// inputBuffer collects the gradient contributions flowing into one node,
// one slot per input. Engine-side sums happen out of band, before the node
// runs, so Apply always sees one tensor per slot.
type inputBuffer struct {
	slots []*tensor.Tensor
}

func newInputBuffer(n int) *inputBuffer {
	return &inputBuffer{slots: make([]*tensor.Tensor, n)}
}

// add merges a contribution into slot nr, taking ownership of incoming.
func (b *inputBuffer) add(nr int, incoming *tensor.Tensor) error {
	if nr < 0 || nr >= len(b.slots) {
		incoming.Finalize()
		return errors.Errorf("gradient routed to input %d of a node with %d inputs", nr, len(b.slots))
	}
	prev := b.slots[nr]
	if prev == nil {
		b.slots[nr] = incoming
		return nil
	}
	sum, err := tensor.Add(prev, incoming)
	if err != nil {
		incoming.Finalize()
		return err
	}
	prev.Finalize()
	incoming.Finalize()
	b.slots[nr] = sum
	return nil
}

func (b *inputBuffer) finalize() {
	for i, t := range b.slots {
		if t != nil {
			t.Finalize()
			b.slots[i] = nil
		}
	}
}

// readyTask is a node whose dependencies are all satisfied.
type readyTask struct {
	node   Node
	inputs *inputBuffer
}

// readyQueue is a min-heap on sequence number: among ready nodes the engine
// picks the lowest first, so AccumulateGrad (maximum sequence number) runs
// only when nothing else is ready.
type readyQueue []readyTask

func (q readyQueue) Len() int            { return len(q) }
func (q readyQueue) Less(i, j int) bool  { return q[i].node.SequenceNr() < q[j].node.SequenceNr() }
func (q readyQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)         { *q = append(*q, x.(readyTask)) }
func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	task := old[n-1]
	*q = old[:n-1]
	return task
}

// Run executes the backward graph rooted at the given edges. Each root edge
// receives the corresponding seed gradient; the engine takes ownership of
// the seeds. Run blocks until every reachable node has executed or a node
// failed, in which case the first error is returned and the remaining work
// is dropped.
func (e *Engine) Run(ctx context.Context, roots []Edge, seeds []*tensor.Tensor) error {
	if len(roots) != len(seeds) {
		return errors.Errorf("autograd: %d roots with %d seed gradients", len(roots), len(seeds))
	}
	if marker := ctx.Value(engineMarker{}); marker != nil {
		if deadlockDetectionEnabled() {
			for _, seed := range seeds {
				if seed != nil {
					seed.Finalize()
				}
			}
			return errors.Wrap(ErrReentrantBackward, "autograd: Run called from inside a node's Apply")
		}
		if marker == e {
			// Nested pass on the same pool: the calling worker blocks for
			// the whole inner pass, so it lends its slot to keep the inner
			// tasks schedulable.
			e.pool.WorkerIsAsleep()
			defer e.pool.WorkerRestarted()
		}
	}
	ctx = context.WithValue(ctx, engineMarker{}, e)

	run := &engineRun{engine: e, ctx: ctx}
	run.cond = sync.Cond{L: &run.mu}
	run.dependencies = make(map[Node]int)
	run.buffers = make(map[Node]*inputBuffer)

	run.countDependencies(roots)

	run.seed(roots, seeds)
	return run.loop()
}

// engineRun is the per-pass state: one backward execution over one graph.
type engineRun struct {
	engine *Engine
	ctx    context.Context

	mu           sync.Mutex
	cond         sync.Cond
	dependencies map[Node]int
	buffers      map[Node]*inputBuffer
	ready        readyQueue
	inFlight     int
	err          error
}

// countDependencies walks the graph once, counting for every reachable node
// how many gradient-producing edges point at it.
func (r *engineRun) countDependencies(roots []Edge) {
	seen := make(map[Node]bool)
	var queue []Node
	for _, root := range roots {
		if root.IsValid() && !seen[root.Node] {
			seen[root.Node] = true
			queue = append(queue, root.Node)
		}
	}
	for len(queue) > 0 {
		node := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, edge := range node.NextEdges() {
			if !edge.IsValid() {
				continue
			}
			r.dependencies[edge.Node]++
			if !seen[edge.Node] {
				seen[edge.Node] = true
				queue = append(queue, edge.Node)
			}
		}
	}
}

// seed fills the root buffers and then queues root nodes with no pending
// dependencies. Merging all seeds before any readiness check keeps a node
// targeted by several root edges from being queued more than once.
func (r *engineRun) seed(roots []Edge, seeds []*tensor.Tensor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, root := range roots {
		grad := seeds[i]
		if !root.IsValid() {
			if grad != nil {
				grad.Finalize()
			}
			continue
		}
		buffer, found := r.buffers[root.Node]
		if !found {
			buffer = newInputBuffer(root.Node.NumInputs())
			r.buffers[root.Node] = buffer
		}
		if grad != nil {
			if err := buffer.add(root.InputNr, grad); err != nil && r.err == nil {
				r.err = err
			}
		}
	}
	for _, root := range roots {
		if !root.IsValid() {
			continue
		}
		buffer, found := r.buffers[root.Node]
		if !found || r.dependencies[root.Node] != 0 {
			continue
		}
		delete(r.buffers, root.Node)
		heap.Push(&r.ready, readyTask{node: root.Node, inputs: buffer})
	}
}

// route delivers one gradient along an edge, taking ownership of grad, and
// marks the target ready once its last dependency is satisfied. Callers
// must NOT hold r.mu.
func (r *engineRun) route(edge Edge, grad *tensor.Tensor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	buffer, found := r.buffers[edge.Node]
	if !found {
		buffer = newInputBuffer(edge.Node.NumInputs())
		r.buffers[edge.Node] = buffer
	}
	if grad != nil {
		if err := buffer.add(edge.InputNr, grad); err != nil {
			return err
		}
	}
	if r.dependencies[edge.Node] == 0 {
		delete(r.buffers, edge.Node)
		heap.Push(&r.ready, readyTask{node: edge.Node, inputs: buffer})
		r.cond.Signal()
	}
	return nil
}

// satisfied decrements the dependency count of every target of the node's
// outgoing edges; targets that reach zero go ready.
func (r *engineRun) satisfied(node Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, edge := range node.NextEdges() {
		if !edge.IsValid() {
			continue
		}
		r.dependencies[edge.Node]--
		if r.dependencies[edge.Node] == 0 {
			buffer, found := r.buffers[edge.Node]
			if found {
				delete(r.buffers, edge.Node)
			} else {
				// Every incoming edge carried a nil gradient. The node still
				// runs, seeing nil slots, so contributions reaching its own
				// targets from other paths are not stranded.
				buffer = newInputBuffer(edge.Node.NumInputs())
			}
			heap.Push(&r.ready, readyTask{node: edge.Node, inputs: buffer})
			r.cond.Signal()
		}
	}
}

func (r *engineRun) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.cond.Signal()
	r.mu.Unlock()
}

// loop dispatches ready tasks to the worker pool until the graph drains.
func (r *engineRun) loop() error {
	for {
		r.mu.Lock()
		for len(r.ready) == 0 && r.inFlight > 0 && r.err == nil {
			r.cond.Wait()
		}
		if r.err != nil || (len(r.ready) == 0 && r.inFlight == 0) {
			// Drain: wait for in-flight tasks, then drop whatever is left.
			for r.inFlight > 0 {
				r.cond.Wait()
			}
			err := r.err
			for _, task := range r.ready {
				task.inputs.finalize()
			}
			r.ready = nil
			for _, buffer := range r.buffers {
				buffer.finalize()
			}
			r.mu.Unlock()
			return err
		}
		task := heap.Pop(&r.ready).(readyTask)
		r.inFlight++
		r.mu.Unlock()

		r.engine.pool.WaitToStart(func() {
			r.execute(task)
			r.mu.Lock()
			r.inFlight--
			r.cond.Signal()
			r.mu.Unlock()
		})
	}
}

// execute runs one node and routes its output gradients.
func (r *engineRun) execute(task readyTask) {
	if err := r.ctx.Err(); err != nil {
		task.inputs.finalize()
		r.fail(err)
		return
	}
	if klog.V(3).Enabled() {
		klog.Infof("autograd: running %s (seq %d)", task.node.Name(), task.node.SequenceNr())
	}
	outputs, err := task.node.Apply(r.ctx, task.inputs.slots)
	task.inputs.finalize()
	if err != nil {
		r.fail(errors.WithMessagef(err, "autograd: node %s failed", task.node.Name()))
		return
	}
	edges := task.node.NextEdges()
	if len(outputs) > len(edges) {
		r.fail(errors.Errorf("autograd: node %s returned %d gradients for %d edges",
			task.node.Name(), len(outputs), len(edges)))
		return
	}
	for i, grad := range outputs {
		if grad == nil || !edges[i].IsValid() {
			if grad != nil {
				grad.Finalize()
			}
			continue
		}
		if err := r.route(edges[i], grad); err != nil {
			r.fail(err)
			return
		}
	}
	r.satisfied(task.node)
}

// Backward runs a backward pass from v using the default engine. A nil seed
// defaults to a ones tensor of v's shape, the gradient of v with respect to
// itself. For a leaf variable the seed is accumulated directly.
func Backward(ctx context.Context, v *Variable, seed *tensor.Tensor) error {
	if !v.RequiresGrad() {
		return errors.New("autograd: Backward on a variable that does not require grad")
	}
	owned := false
	if seed == nil {
		var err error
		seed, err = tensor.Full(v.Data().Device(), v.Data().Shape(), 1)
		if err != nil {
			return err
		}
		owned = true
	}
	if v.IsLeaf() {
		err := v.GradAccumulator().Accumulate(Grad{Tensor: seed, UniquelyOwned: owned})
		if owned {
			seed.Finalize()
		}
		return err
	}
	if !owned {
		// The engine consumes its seeds; keep the caller's tensor alive.
		clone, err := seed.Clone()
		if err != nil {
			return err
		}
		seed = clone
	}
	return Default().Run(ctx, []Edge{{Node: v.GradFn(), InputNr: 0}}, []*tensor.Tensor{seed})
}
