// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package harness is a minimal cooperative task/promise/future/semaphore/
// mutex runtime standing in for the real host runtime the tracer hooks
// into. It exists only to drive vertex, curvertex, traceevent, shardtracer,
// tracehooks, heldlocks, and deadlock end to end in tests and in
// cmd/tracedemo: a synthetic load generator, not a production surface.
package harness

import (
	"github.com/NVIDIA/shardtrace/curvertex"
	"github.com/NVIDIA/shardtrace/deadlock"
	"github.com/NVIDIA/shardtrace/heldlocks"
	"github.com/NVIDIA/shardtrace/tracehooks"
	"github.com/NVIDIA/shardtrace/vertex"
)

// Task is the harness stand-in for the host's real task type: it
// implements deadlock.Task, plus enough bookkeeping to drive a
// continuation chain and own a held-locks chain.
type Task struct {
	address        uint64
	concreteType   string
	waitingTask    *Task
	waitingPromise *Promise
	heldLocks      *heldlocks.Chain
}

// NewTask constructs a task and traces its VERTEX_CTOR. concreteType is
// purely informational.
func NewTask(concreteType string) *Task {
	t := &Task{address: allocAddress(), concreteType: concreteType}
	tracehooks.TraceVertexConstructor(t.Vertex())
	return t
}

func (t *Task) Vertex() vertex.Vertex {
	return vertex.New(t.address, vertex.Task, t.concreteType, "")
}

// WaitingTask and WaitingPromise must return a true nil interface, not a
// typed-nil *Task/*Promise boxed into one, or deadlock's DFS and
// PreviousTask nil checks misfire (the documented pitfall in
// deadlock/tasklist.go).
func (t *Task) WaitingTask() deadlock.Task {
	if t.waitingTask == nil {
		return nil
	}
	return t.waitingTask
}

func (t *Task) WaitingPromise() deadlock.Promise {
	if t.waitingPromise == nil {
		return nil
	}
	return t.waitingPromise
}

func (t *Task) HeldLocks() *heldlocks.Chain {
	return t.heldLocks
}

func (t *Task) SetHeldLocks(c *heldlocks.Chain) {
	t.heldLocks = c
}

// SetWaitingTask records that t will resume when waitingTask's continuation
// completes, the link the previous-task scan follows.
func (t *Task) SetWaitingTask(waitingTask *Task) {
	t.waitingTask = waitingTask
}

// SetWaitingPromise records the promise t is blocked completing.
func (t *Task) SetWaitingPromise(p *Promise) {
	t.waitingPromise = p
}

// EnsureHeldLocks lazily installs a fresh root held-locks chain for t if it
// does not have one yet.
func (t *Task) EnsureHeldLocks() *heldlocks.Chain {
	if t.heldLocks == nil {
		t.heldLocks = heldlocks.NewLockLevel(nil)
	}
	return t.heldLocks
}

// Continue creates a fresh task inheriting t's held-locks chain through a
// new lock level, so a lock taken by t can be released by the
// continuation.
func (t *Task) Continue(concreteType string) *Task {
	cont := NewTask(concreteType)
	cont.heldLocks = heldlocks.NewLockLevel(t.EnsureHeldLocks())
	cont.waitingTask = t
	return cont
}

// Run executes body with t installed as the current vertex, restoring the
// previous vertex on return.
func (t *Task) Run(body func()) {
	updater := curvertex.NewUpdater(t.Vertex())
	defer updater.Release()
	body()
}

// Finish traces the task's VERTEX_DTOR and warns (via heldlocks.Chain.Destroy)
// if it ended while still logically holding locks.
func (t *Task) Finish() {
	if t.heldLocks != nil {
		t.heldLocks.Destroy()
	}
	tracehooks.TraceVertexDestructor(t.Vertex())
}
