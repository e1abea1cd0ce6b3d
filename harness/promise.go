// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"sync"

	"github.com/NVIDIA/shardtrace/deadlock"
	"github.com/NVIDIA/shardtrace/heldlocks"
	"github.com/NVIDIA/shardtrace/tracehooks"
	"github.com/NVIDIA/shardtrace/vertex"
)

// Promise is the harness stand-in for the host's real promise type: the
// deadlock.Promise collaborator contract plus the minimal fulfill/await
// machinery Future needs.
type Promise struct {
	address     uint64
	mu          sync.Mutex
	waitingTask *Task
	heldLocks   *heldlocks.Chain
	fulfilled   bool
	value       interface{}
	done        chan struct{}
}

// NewPromise constructs a promise and traces its VERTEX_CTOR.
func NewPromise(concreteType string) *Promise {
	p := &Promise{address: allocAddress(), done: make(chan struct{})}
	tracehooks.TraceVertexConstructor(vertex.New(p.address, vertex.Promise, concreteType, ""))
	return p
}

func (p *Promise) Vertex() vertex.Vertex {
	return vertex.New(p.address, vertex.Promise, "", "")
}

func (p *Promise) WaitingTask() deadlock.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waitingTask == nil {
		return nil
	}
	return p.waitingTask
}

func (p *Promise) SetWaitingTask(t *Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitingTask = t
}

func (p *Promise) HeldLocks() *heldlocks.Chain {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heldLocks
}

func (p *Promise) SetHeldLocks(c *heldlocks.Chain) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heldLocks = c
}

// Fulfill completes p with value and wakes any Future awaiting it. It is a
// programming-contract violation to fulfill the same promise twice.
func (p *Promise) Fulfill(value interface{}) {
	p.mu.Lock()
	if p.fulfilled {
		p.mu.Unlock()
		return
	}
	p.fulfilled = true
	p.value = value
	p.mu.Unlock()
	close(p.done)
}

// Destroy traces the promise's VERTEX_DTOR.
func (p *Promise) Destroy() {
	tracehooks.TraceVertexDestructor(p.Vertex())
}

// MoveTo retraces p's identity onto a fresh promise at a new address,
// scenario S5's decomposed move: ctor(to); edge(from->to); dtor(from);
// ctor(from). Downstream completion is attributed to the returned promise,
// not p.
func (p *Promise) MoveTo() *Promise {
	// DecomposeMoveVertex emits the ctor(to) record itself; NewPromise
	// would emit a second one.
	to := &Promise{address: allocAddress(), done: make(chan struct{})}
	tracehooks.DecomposeMoveVertex(p.Vertex(), to.Vertex())

	p.mu.Lock()
	to.waitingTask = p.waitingTask
	to.heldLocks = p.heldLocks
	p.mu.Unlock()

	return to
}
