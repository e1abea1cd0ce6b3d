// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package deadlock

import (
	"sync"

	"github.com/NVIDIA/shardtrace/blunder"
	"github.com/NVIDIA/shardtrace/heldlocks"
	"github.com/NVIDIA/shardtrace/logger"
	"github.com/NVIDIA/shardtrace/utils"
)

// Mutex is the scanner's lock primitive: a closed (held) or open (free)
// latch identified by address, with a FIFO waiter list of the Promises
// blocked trying to acquire it. Every state change registers activity
// with the owning Index.
type Mutex struct {
	mu      sync.Mutex
	address uint64
	open    bool
	waiters []Promise
	index   *Index
}

// NewMutex constructs an open mutex at address, registered with idx so
// FindInactiveMutexes can see it.
func NewMutex(idx *Index, address uint64) *Mutex {
	m := &Mutex{address: address, open: true, index: idx}
	idx.registerActivity(m)
	return m
}

// Key returns the heldlocks.MutexKey identity AddLock/RemoveLock use.
func (m *Mutex) Key() heldlocks.MutexKey {
	return heldlocks.MutexKey(m.address)
}

func (m *Mutex) Address() uint64 {
	return m.address
}

// IsOpen reports whether the mutex is currently unheld.
func (m *Mutex) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Waiters returns a snapshot of the promises currently blocked acquiring
// this mutex, the mutex -> waiting-promise edges of the scan graph.
func (m *Mutex) Waiters() []Promise {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Promise, len(m.waiters))
	copy(out, m.waiters)
	return out
}

// Lock attempts to acquire m on behalf of waiter's eventual owner. If the
// mutex is open, it is granted immediately (acquired == true). Otherwise
// waiter is queued and the caller must await its own completion
// separately; acquired == false.
func (m *Mutex) Lock(waiter Promise) (acquired bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		m.open = false
		acquired = true
	} else {
		m.waiters = append(m.waiters, waiter)
	}
	m.index.registerActivity(m)
	return acquired
}

// Signal releases m: if a waiter is queued, ownership passes to it
// (m stays closed); otherwise m opens. Signaling an already-open mutex is
// a lock-usage warning, logged and reported as the typed
// LockAlreadyUnlockedError, never fatal.
func (m *Mutex) Signal() (granted Promise, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		logger.Warnf("deadlock: Signal on already-open mutex 0x%x", m.address)
		m.index.registerActivity(m)
		return nil, blunder.LockAlreadyUnlocked(utils.FormatAddr(m.address))
	}

	if len(m.waiters) > 0 {
		granted = m.waiters[0]
		m.waiters = m.waiters[1:]
	} else {
		m.open = true
	}
	m.index.registerActivity(m)
	return granted, nil
}

// Delete removes m from its owning Index's activity tracking. Deleting a
// closed mutex is a lock-usage warning, never fatal.
func (m *Mutex) Delete() {
	m.mu.Lock()
	closed := !m.open
	m.mu.Unlock()

	if closed {
		logger.Warnf("deadlock: mutex 0x%x destroyed while still closed", m.address)
	}
	m.index.deleteMutex(m)
}
