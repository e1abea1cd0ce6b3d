// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package deadlock

import (
	"github.com/NVIDIA/shardtrace/heldlocks"
	"github.com/NVIDIA/shardtrace/vertex"
)

// fakeTask and fakePromise are minimal Task/Promise implementations used
// only by this package's own tests to drive the DFS, standing in for the
// host runtime's real task/promise types.
type fakeTask struct {
	address        uint64
	waitingTask    Task
	waitingPromise Promise
	heldLocks      *heldlocks.Chain
}

func (f *fakeTask) Vertex() vertex.Vertex {
	return vertex.New(f.address, vertex.Task, "", "")
}

func (f *fakeTask) WaitingTask() Task {
	return f.waitingTask
}

func (f *fakeTask) WaitingPromise() Promise {
	return f.waitingPromise
}

func (f *fakeTask) HeldLocks() *heldlocks.Chain {
	return f.heldLocks
}

func (f *fakeTask) SetHeldLocks(c *heldlocks.Chain) {
	f.heldLocks = c
}

type fakePromise struct {
	address     uint64
	waitingTask Task
	heldLocks   *heldlocks.Chain
}

func (f *fakePromise) Vertex() vertex.Vertex {
	return vertex.New(f.address, vertex.Promise, "", "")
}

func (f *fakePromise) WaitingTask() Task {
	return f.waitingTask
}

func (f *fakePromise) HeldLocks() *heldlocks.Chain {
	return f.heldLocks
}
