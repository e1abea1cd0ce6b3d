// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package deadlock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/shardtrace/heldlocks"
)

// TestScanNoCycleOnSingleMutex exercises the trivial case: a closed mutex
// with no waiters has nothing to chase.
func TestScanNoCycleOnSingleMutex(t *testing.T) {
	idx := NewIndex()
	m := NewMutex(idx, 0x1000)
	require.True(t, m.Lock(nil))

	_, found := scanForCycle(m, idx)
	assert.False(t, found)
}

// TestScanNoCycleOnLinearWaitChain: A is held, B is waiting on a promise
// owned by a task that holds no locks. No cycle back to A.
func TestScanNoCycleOnLinearWaitChain(t *testing.T) {
	idx := NewIndex()
	a := NewMutex(idx, 0x1000)
	require.True(t, a.Lock(nil))

	taskB := &fakeTask{address: 0x3000}
	promise := &fakePromise{address: 0x2000, waitingTask: taskB}
	a.Lock(promise)

	_, found := scanForCycle(a, idx)
	assert.False(t, found)
}

// TestScanFindsABBADeadlock: task 1 holds mutex A and is blocked acquiring
// mutex B; task 2 holds mutex B and is blocked acquiring mutex A. The
// held_locks -> mutex -> waiting promise -> waiting task -> held_locks
// chain closes a cycle back to A.
func TestScanFindsABBADeadlock(t *testing.T) {
	idx := NewIndex()

	mutexA := NewMutex(idx, 0x1000)
	mutexB := NewMutex(idx, 0x2000)
	require.True(t, mutexA.Lock(nil))
	require.True(t, mutexB.Lock(nil))

	locksTask1 := heldlocks.NewLockLevel(nil)
	locksTask1.AddLock(mutexA.Key())
	locksTask2 := heldlocks.NewLockLevel(nil)
	locksTask2.AddLock(mutexB.Key())

	task1 := &fakeTask{address: 0x4000, heldLocks: locksTask1}
	task2 := &fakeTask{address: 0x5000, heldLocks: locksTask2}

	promiseForB := &fakePromise{address: 0x6000, waitingTask: task1}
	promiseForA := &fakePromise{address: 0x7000, waitingTask: task2}

	mutexB.Lock(promiseForB)
	mutexA.Lock(promiseForA)

	report, found := scanForCycle(mutexA, idx)
	require.True(t, found)
	assert.Equal(t, mutexA.address, report.StartMutexAddress)
	assert.NotEmpty(t, report.Route)
}

// TestScanStopsAtVisitedSharedSubgraph: two independent mutexes share a
// waiter's held_locks chain via a common parent level. The DFS must not
// loop forever walking the shared parent twice.
func TestScanStopsAtVisitedSharedSubgraph(t *testing.T) {
	idx := NewIndex()
	shared := NewMutex(idx, 0x1000)
	require.True(t, shared.Lock(nil))

	root := heldlocks.NewLockLevel(nil)
	root.AddLock(shared.Key())

	levelA := heldlocks.NewLockLevel(root)
	levelB := heldlocks.NewLockLevel(root)

	task1 := &fakeTask{address: 0x3000, heldLocks: levelA}
	task2 := &fakeTask{address: 0x4000, heldLocks: levelB}

	promise1 := &fakePromise{address: 0x5000, waitingTask: task1}
	promise2 := &fakePromise{address: 0x6000, waitingTask: task2}

	target := NewMutex(idx, 0x2000)
	require.True(t, target.Lock(nil))
	target.Lock(promise1)
	target.Lock(promise2)

	_, found := scanForCycle(target, idx)
	assert.False(t, found)
}
