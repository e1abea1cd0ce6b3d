// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package harness

import "github.com/NVIDIA/shardtrace/deadlock"

// Mutex is the harness stand-in for the host's real mutex type, wiring
// deadlock.Mutex's activity tracking to the acquiring task's held-locks
// chain the way scenario S2/S4 describe: acquire adds the lock to the
// task's current chain, release removes it (possibly from a parent level
// inherited from an ancestor task, scenario S4).
type Mutex struct {
	inner *deadlock.Mutex
}

// NewMutex constructs a mutex registered with idx so deadlock.FindInactiveMutexes
// can see it.
func NewMutex(idx *deadlock.Index, address uint64) *Mutex {
	return &Mutex{inner: deadlock.NewMutex(idx, address)}
}

// Address returns the mutex's identity, e.g. for log messages.
func (m *Mutex) Address() uint64 { return m.inner.Address() }

// Acquire blocks task until m is held, then records m in task's held-locks
// chain (creating one via EnsureHeldLocks if task does not have one yet).
func (m *Mutex) Acquire(task *Task) {
	waiter := NewPromise("mutex_wait")
	waiter.SetWaitingTask(task)

	if !m.inner.Lock(waiter) {
		<-waiter.done
	}
	waiter.Destroy()

	task.EnsureHeldLocks().AddLock(m.inner.Key())
}

// Release removes m from task's held-locks chain (recursing to a parent
// level if task inherited the lock from an ancestor, scenario S4) and hands
// m to the next waiter, if any.
func (m *Mutex) Release(task *Task) {
	task.HeldLocks().RemoveLock(m.inner.Key())

	granted, err := m.inner.Signal()
	if err != nil {
		return
	}
	if granted == nil {
		return
	}
	if waiter, ok := granted.(*Promise); ok {
		waiter.Fulfill(nil)
	}
}

// Delete removes m from its owning Index's activity tracking.
func (m *Mutex) Delete() {
	m.inner.Delete()
}

// ForceRelease signals m directly, without crediting the release to any
// task's held-locks chain, and wakes whichever waiter is granted
// ownership. Unlike Release, it does not require the caller to know who
// is holding m, used to unwind a deliberately constructed deadlock (a
// demo or test that never lets the original holder complete its
// critical section) once the scanner has already captured the cycle.
func (m *Mutex) ForceRelease() {
	granted, err := m.inner.Signal()
	if err != nil || granted == nil {
		return
	}
	if waiter, ok := granted.(*Promise); ok {
		waiter.Fulfill(nil)
	}
}
