// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package heldlocks implements the per-task held-locks chain: a
// parent-linked record of the mutexes a task currently owns, inherited
// across continuations. The chain itself, not a single lock, is the unit
// that moves between tasks, and a logical timestamp on each node decides
// which of two candidate chains carries the newer information.
package heldlocks

import (
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/shardtrace/logger"
)

// MutexKey identifies a mutex by address; the deadlock package's Mutex type
// is the only producer of these, kept here as a plain comparable key so
// this package does not need to import deadlock (which imports this one).
type MutexKey uint64

var globalCounter uint64

func nextTimestamp() uint64 {
	return atomic.AddUint64(&globalCounter, 1)
}

// Chain is one held-locks node: a set of owned mutexes, a possibly-nil
// parent, and a timestamp used by ChooseNewerLocks to pick between two
// candidate chains.
type Chain struct {
	mu         sync.Mutex
	ownedLocks map[MutexKey]struct{}
	parent     *Chain
	timestamp  uint64
	destroyed  bool
}

// NewLockLevel creates a child node inheriting current: its parent is
// current and its timestamp starts equal to current's, so the child does
// not win ChooseNewerLocks until a real lock event bumps it. current may
// be nil, yielding a fresh root chain with timestamp 0.
func NewLockLevel(current *Chain) *Chain {
	if !tracingEnabled {
		return nil
	}

	child := &Chain{ownedLocks: make(map[MutexKey]struct{}), parent: current}
	if current != nil {
		current.mu.Lock()
		child.timestamp = current.timestamp
		current.mu.Unlock()
	}
	return child
}

// AddLock records m as owned by this node. It is a programming-contract
// violation to add a lock this node already owns.
func (c *Chain) AddLock(m MutexKey) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, already := c.ownedLocks[m]; already {
		logger.PanicfWithError(nil, "heldlocks.Chain.AddLock: mutex %v already owned by this chain", m)
	}
	c.ownedLocks[m] = struct{}{}
	c.timestamp = nextTimestamp()
}

// RemoveLock bumps the chain's timestamp, then removes m from this node or,
// if m is not here, recurses into parent. Absence everywhere is a lock-usage
// warning, never fatal.
func (c *Chain) RemoveLock(m MutexKey) {
	if c == nil {
		return
	}

	c.mu.Lock()
	c.timestamp = nextTimestamp()
	_, present := c.ownedLocks[m]
	if present {
		delete(c.ownedLocks, m)
	}
	parent := c.parent
	c.mu.Unlock()

	if present {
		return
	}
	if parent != nil {
		parent.RemoveLock(m)
		return
	}
	logger.Warnf("heldlocks.Chain.RemoveLock: mutex %v not found in this chain or any ancestor", m)
}

// Owns reports whether m is held directly by this node (not ancestors).
func (c *Chain) Owns(m MutexKey) bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ownedLocks[m]
	return ok
}

// OwnedLocks returns a snapshot of the mutexes this node (not ancestors)
// directly owns, for the deadlock scanner's graph walk.
func (c *Chain) OwnedLocks() []MutexKey {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MutexKey, 0, len(c.ownedLocks))
	for m := range c.ownedLocks {
		out = append(out, m)
	}
	return out
}

// Parent returns the chain this node inherits from, or nil at the root.
func (c *Chain) Parent() *Chain {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parent
}

// Timestamp returns the chain's last-bumped logical clock value.
func (c *Chain) Timestamp() uint64 {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timestamp
}

// Destroy warns if the chain still owns locks: a task ended while still
// logically holding them. Call it when a task finishes.
func (c *Chain) Destroy() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return
	}
	c.destroyed = true
	if len(c.ownedLocks) > 0 {
		logger.Warnf("heldlocks.Chain.Destroy: chain destroyed while still owning %d lock(s)", len(c.ownedLocks))
	}
}

// ChooseNewerLocks picks whichever of a, b has the larger timestamp; a nil
// operand loses to a non-nil one, and two nils yield nil. Used when a
// promise's completion value carries a chain and the resumed task already
// has one: the newer set wins.
func ChooseNewerLocks(a, b *Chain) *Chain {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Timestamp() >= b.Timestamp() {
		return a
	}
	return b
}
