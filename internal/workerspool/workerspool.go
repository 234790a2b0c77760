// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a soft-bounded pool of worker goroutines
// used by the backward engine to run ready nodes in parallel.
package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool limits the number of concurrently running tasks to a soft target.
// The actual goroutine count can temporarily exceed the target when workers
// declare themselves asleep (blocked on another task finishing).
type Pool struct {
	// maxParallelism is a soft target: 0 disables parallelism (tasks run
	// inline), negative means unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // signaled whenever numRunning decreases
	numRunning int

	// extraParallelism is bumped while a worker sleeps, so its slot can be
	// reused without deadlocking the pool.
	extraParallelism atomic.Int32
}

// New returns a Pool targeting runtime.NumCPU() parallel tasks.
func New() *Pool {
	p := &Pool{maxParallelism: runtime.NumCPU()}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// NewWithParallelism returns a Pool with an explicit target. Zero runs every
// task inline; negative is unlimited.
func NewWithParallelism(maxParallelism int) *Pool {
	p := &Pool{maxParallelism: maxParallelism}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// IsEnabled reports whether tasks run in goroutines at all.
func (p *Pool) IsEnabled() bool { return p.maxParallelism != 0 }

// IsUnlimited reports whether the pool caps parallelism.
func (p *Pool) IsUnlimited() bool { return p.maxParallelism < 0 }

// MaxParallelism returns the soft parallelism target.
func (p *Pool) MaxParallelism() int { return p.maxParallelism }

// A task that blocks (sleeps) frees its slot, so the pool tolerates up to
// this ratio of goroutines over the target before making callers wait.
const goroutineToParallelismRatio = 2

// lockedIsFull must be called with p.mu held.
func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism == 0 {
		return true
	}
	if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= goroutineToParallelismRatio*p.maxParallelism+int(p.extraParallelism.Load())
}

// WaitToStart blocks until a slot is free, then runs task in its own
// goroutine. With parallelism disabled it runs task inline instead.
func (p *Pool) WaitToStart(task func()) {
	if p.IsUnlimited() {
		go task()
		return
	}
	if p.maxParallelism == 0 {
		task()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.lockedIsFull() {
		p.cond.Wait()
	}
	p.lockedStart(task)
}

// StartIfAvailable runs task in a goroutine if a slot is free, returning
// whether it did. The caller keeps the task when it returns false.
func (p *Pool) StartIfAvailable(task func()) bool {
	if p.IsUnlimited() {
		go task()
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lockedIsFull() {
		return false
	}
	p.lockedStart(task)
	return true
}

// lockedStart must be called with p.mu held.
func (p *Pool) lockedStart(task func()) {
	p.numRunning++
	go func() {
		task()
		p.mu.Lock()
		p.numRunning--
		p.cond.Signal()
		p.mu.Unlock()
	}()
}

// WorkerIsAsleep marks the calling worker as blocked, lending its slot to
// another task. Pair with WorkerRestarted when the worker resumes.
func (p *Pool) WorkerIsAsleep() {
	if !p.IsEnabled() || p.IsUnlimited() {
		return
	}
	p.extraParallelism.Add(1)
	p.cond.Signal()
}

// WorkerRestarted reclaims the slot lent out by WorkerIsAsleep.
func (p *Pool) WorkerRestarted() {
	if !p.IsEnabled() || p.IsUnlimited() {
		return
	}
	p.extraParallelism.Add(-1)
}
