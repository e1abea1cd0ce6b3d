// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"sync"

	"github.com/NVIDIA/shardtrace/tracehooks"
	"github.com/NVIDIA/shardtrace/vertex"
)

// Semaphore is the harness stand-in for the host's real counting
// semaphore: a gate identified by address, traced through its full ctor/
// wait/wait-completed/signal/dtor lifecycle. FIFO order is kept but
// partial grants (a waiter for N units unblocked by a signal of fewer
// than N) are not modeled; nothing in this repo exercises that case.
type Semaphore struct {
	address   uint64
	mu        sync.Mutex
	available uint64
	waiters   []chan struct{}
}

// NewSemaphore constructs a semaphore with count available units and traces
// SEM_CTOR.
func NewSemaphore(count uint64) *Semaphore {
	s := &Semaphore{address: allocAddress(), available: count}
	tracehooks.TraceSemaphoreConstructor(s.address, count)
	return s
}

// Wait acquires units of s on behalf of caller, blocking if necessary.
// Traces SEM_WAIT on entry and SEM_WAIT_CMPL once units have been granted,
// using a throwaway promise as the "post" vertex the way the host runtime's
// basic_semaphore::wait(n) returns a future backed by a promise.
func (s *Semaphore) Wait(units uint64, caller vertex.Vertex) {
	p := NewPromise("semaphore_wait")
	tracehooks.TraceSemaphoreWait(s.address, units, caller, p.Vertex())

	s.mu.Lock()
	for s.available < units {
		ch := make(chan struct{})
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()
		<-ch
		s.mu.Lock()
	}
	s.available -= units
	s.mu.Unlock()

	tracehooks.TraceSemaphoreWaitCompleted(s.address, p.Vertex())
	p.Destroy()
}

// Signal releases units back to s and wakes any waiters, traces SEM_SIGNAL.
func (s *Semaphore) Signal(units uint64, caller vertex.Vertex) {
	s.mu.Lock()
	s.available += units
	woken := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	tracehooks.TraceSemaphoreSignal(s.address, units, caller)

	for _, ch := range woken {
		close(ch)
	}
}

// Destroy traces SEM_DTOR with the semaphore's final available-units count.
func (s *Semaphore) Destroy() {
	s.mu.Lock()
	available := s.available
	s.mu.Unlock()
	tracehooks.TraceSemaphoreDestructor(s.address, available)
}
