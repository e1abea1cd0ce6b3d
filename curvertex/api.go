// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package curvertex implements the per-thread "current vertex" register:
// whatever vertex is logically executing right now on this goroutine,
// updated through a scoped value whose release asserts, not merely
// assumes, LIFO nesting.
package curvertex

import (
	"sync"

	"github.com/NVIDIA/shardtrace/logger"
	"github.com/NVIDIA/shardtrace/utils"
	"github.com/NVIDIA/shardtrace/vertex"
)

var (
	mu      sync.Mutex
	current = make(map[uint64]vertex.Vertex)
)

// Current returns the vertex logically executing right now on the calling
// goroutine, or the null vertex if none has been installed yet.
func Current() vertex.Vertex {
	if !tracingEnabled {
		return vertex.NullVertex
	}

	gid := utils.GoroutineID()

	mu.Lock()
	defer mu.Unlock()

	v, ok := current[gid]
	if !ok {
		return vertex.NullVertex
	}
	return v
}

func set(v vertex.Vertex) {
	gid := utils.GoroutineID()

	mu.Lock()
	defer mu.Unlock()

	if v.IsNull() {
		delete(current, gid)
		return
	}
	current[gid] = v
}

// Updater is the scoped register update: NewUpdater installs a new
// current vertex and remembers the previous one; Release asserts nothing
// else changed the slot out from under it, then restores the previous
// value. Call Release via defer immediately after constructing one.
type Updater struct {
	previous  vertex.Vertex
	installed vertex.Vertex
	released  bool
	noop      bool
}

var noopUpdater = &Updater{noop: true}

// NewUpdater installs newVertex as the current vertex and returns a handle
// whose Release call restores whatever was current before.
func NewUpdater(newVertex vertex.Vertex) *Updater {
	if !tracingEnabled {
		return noopUpdater
	}

	previous := Current()
	set(newVertex)
	return &Updater{previous: previous, installed: newVertex}
}

// Release restores the previous current vertex. It is a programming-contract
// violation to call Release after some other code has changed the current
// vertex away from what this Updater installed, or to call Release twice.
func (u *Updater) Release() {
	if u.noop {
		return
	}
	if u.released {
		logger.PanicfWithError(nil, "curvertex.Updater.Release called twice for vertex %v", u.installed)
	}

	actual := Current()
	if !actual.Equal(u.installed) {
		logger.PanicfWithError(nil,
			"curvertex LIFO violation: expected current vertex %v, found %v (scoped updater not nested properly)",
			u.installed, actual)
	}

	set(u.previous)
	u.released = true
}
