// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package deadlock implements the inactive-mutex scanner: a mutex with an
// explicit open/closed state machine and a typed already-unlocked error, a
// per-thread activity index ordered by last-touched time, and the periodic
// DFS that walks the heterogeneous {mutex, promise, task, held_locks}
// graph looking for a cycle among long-idle mutexes.
package deadlock

import (
	"github.com/NVIDIA/shardtrace/heldlocks"
	"github.com/NVIDIA/shardtrace/vertex"
)

// Task is the contract the host runtime's task type must satisfy: its
// continuation chain (WaitingTask), the promise it is blocked completing
// (WaitingPromise), and the held-locks chain it owns.
type Task interface {
	Vertex() vertex.Vertex
	WaitingTask() Task
	WaitingPromise() Promise
	HeldLocks() *heldlocks.Chain
	SetHeldLocks(*heldlocks.Chain)
}

// Promise is the contract the host runtime's promise type must satisfy:
// the task that will resume when it completes, and the held-locks chain
// attached to its completion value.
type Promise interface {
	Vertex() vertex.Vertex
	WaitingTask() Task
	HeldLocks() *heldlocks.Chain
}
