// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/shardtrace/conf"
	"github.com/NVIDIA/shardtrace/deadlock"
	"github.com/NVIDIA/shardtrace/traceevent"
	"github.com/NVIDIA/shardtrace/traceevent/wire"
)

type captureSink struct {
	buf bytes.Buffer
}

func (c *captureSink) Trace(raw []byte) {
	c.buf.Write(raw)
}

func withCapture(t *testing.T) *captureSink {
	traceevent.SetCanTrace(true)
	traceevent.SetStartedTrace(true)
	sink := &captureSink{}
	traceevent.RegisterSink(sink)
	t.Cleanup(func() {
		traceevent.UnregisterSink()
		traceevent.SetCanTrace(false)
		traceevent.SetStartedTrace(false)
	})
	return sink
}

func decodeAll(t *testing.T, sink *captureSink) []wire.Record {
	records, err := wire.DecodeNDJSON(bytes.NewReader(sink.buf.Bytes()))
	require.NoError(t, err)
	return records
}

// TestSingleSemaphoreNoCycle: one task acquires a one-unit semaphore,
// releases it, and the inactive-mutex scan reports no cycle.
func TestSingleSemaphoreNoCycle(t *testing.T) {
	sink := withCapture(t)

	sem := NewSemaphore(1)
	task := NewTask("workload")

	task.Run(func() {
		sem.Wait(1, task.Vertex())
		sem.Signal(1, task.Vertex())
	})
	task.Finish()
	sem.Destroy()

	records := decodeAll(t, sink)
	var types []wire.EventType
	for _, r := range records {
		types = append(types, r.Type)
	}
	assert.Contains(t, types, wire.SemCtor)
	assert.Contains(t, types, wire.VertexCtor)
	assert.Contains(t, types, wire.SemWait)
	assert.Contains(t, types, wire.SemWaitCmpl)
	assert.Contains(t, types, wire.SemSignal)
	assert.Contains(t, types, wire.VertexDtor)
	assert.Contains(t, types, wire.SemDtor)

	for i := 1; i < len(records); i++ {
		assert.GreaterOrEqual(t, records[i].Timestamp, records[i-1].Timestamp,
			"timestamps must be monotonic within one thread's stream")
	}

	idx := deadlock.NewIndex()
	assert.Empty(t, idx.FindInactiveMutexes())
}

// TestABBADeadlock: task alpha takes M1 then awaits M2; task beta takes
// M2 then awaits M1. FindInactiveMutexes must report exactly one cycle.
func TestABBADeadlock(t *testing.T) {
	confMap := conf.MakeConfMap()
	require.NoError(t, confMap.UpdateFromString("Deadlock.MaxInactivePeriod=1ms"))
	require.NoError(t, deadlock.Up(confMap))
	defer deadlock.Down(conf.MakeConfMap())

	idx := deadlock.NewIndex()
	m1 := NewMutex(idx, 0x100000)
	m2 := NewMutex(idx, 0x200000)

	alpha := NewTask("alpha")
	beta := NewTask("beta")

	m1.Acquire(alpha)
	m2.Acquire(beta)

	done := make(chan struct{})
	go func() {
		m2.Acquire(alpha)
		close(done)
	}()
	waitAcquireBlocked(t, m2)
	beta2 := make(chan struct{})
	go func() {
		m1.Acquire(beta)
		close(beta2)
	}()
	waitAcquireBlocked(t, m1)

	time.Sleep(5 * time.Millisecond)
	reports := idx.FindInactiveMutexes()
	// Both M1 and M2 sit on the one AB/BA cycle, so whichever the activity
	// index happens to walk to first reports it; FindInactiveMutexes dedups
	// by the set of mutexes already accounted for so the same cycle is not
	// reported a second time starting from the other one.
	require.Len(t, reports, 1)
	assert.Contains(t, []uint64{m1.inner.Address(), m2.inner.Address()}, reports[0].StartMutexAddress)
	assert.ElementsMatch(t, []uint64{m1.inner.Address(), m2.inner.Address()}, reports[0].MutexAddresses)

	// Unwind the still-blocked goroutines so the test exits cleanly: grant
	// M2's first-in-line waiter (alpha's acquire) without waiting for beta's
	// release, since the deadlock itself is now captured.
	granted, err := m2.inner.Signal()
	require.NoError(t, err)
	if p, ok := granted.(*Promise); ok {
		p.Fulfill(nil)
	}
	<-done
	granted, err = m1.inner.Signal()
	require.NoError(t, err)
	if p, ok := granted.(*Promise); ok {
		p.Fulfill(nil)
	}
	<-beta2
}

// TestBoundedConcurrencySemaphoreAccounting: five work items share a
// five-unit semaphore; each acquires one unit, does simulated work,
// releases. No cycle is reported, and total signaled units equal total
// waited units.
func TestBoundedConcurrencySemaphoreAccounting(t *testing.T) {
	sink := withCapture(t)

	// traceevent keys its sink registry by goroutine id, so each work
	// item's task runs on the capturing goroutine rather than a fresh one;
	// 5 units against 5 items still exercises the accounting without
	// oversubscribing any one goroutine's sink registration.
	const workItems = 5
	sem := NewSemaphore(workItems)

	for i := 0; i < workItems; i++ {
		task := NewTask("work_item")
		task.Run(func() {
			sem.Wait(1, task.Vertex())
			sem.Signal(1, task.Vertex())
		})
		task.Finish()
	}
	sem.Destroy()

	records := decodeAll(t, sink)
	var waited, signaled uint64
	for _, r := range records {
		switch r.Type {
		case wire.SemWait:
			waited += r.Value
		case wire.SemSignal:
			signaled += r.Value
		}
	}
	assert.Equal(t, uint64(workItems), waited)
	assert.Equal(t, uint64(workItems), signaled)

	idx := deadlock.NewIndex()
	assert.Empty(t, idx.FindInactiveMutexes())
}

// waitAcquireBlocked polls until m has at least one waiter, since Acquire's
// blocking call happens on a separate goroutine in this test.
func waitAcquireBlocked(t *testing.T, m *Mutex) {
	require.Eventually(t, func() bool {
		return len(m.inner.Waiters()) > 0
	}, time.Second, time.Millisecond)
}

// TestHeldLocksInheritance: task T acquires mutex M, chains a
// continuation; the continuation inherits T's held-locks chain and
// releasing M there removes it from the parent level, leaving the
// continuation's own chain empty (no Destroy warning).
func TestHeldLocksInheritance(t *testing.T) {
	idx := deadlock.NewIndex()
	m := NewMutex(idx, 0x300000)

	parent := NewTask("T")
	m.Acquire(parent)
	assert.True(t, parent.HeldLocks().Owns(m.inner.Key()))

	cont := parent.Continue("cont")
	assert.False(t, cont.HeldLocks().Owns(m.inner.Key()))

	m.Release(cont)
	assert.False(t, parent.HeldLocks().Owns(m.inner.Key()))

	cont.Finish()
	parent.Finish()
}

// TestMoveVertexAttribution: a promise at address A moves to address B;
// downstream completion attributes to B.
func TestMoveVertexAttribution(t *testing.T) {
	sink := withCapture(t)

	a := NewPromise("")
	b := a.MoveTo()

	require.NotEqual(t, a.address, b.address)

	records := decodeAll(t, sink)
	// ctor(A) [NewPromise], ctor(B), edge(A->B), dtor(A), ctor(A) [decompose]
	require.Len(t, records, 5)
	assert.Equal(t, wire.VertexCtor, records[1].Type)
	assert.Equal(t, b.address, records[1].Vertex.Address)
	assert.Equal(t, wire.Edge, records[2].Type)
	assert.Equal(t, a.address, records[2].Pre.Address)
	assert.Equal(t, b.address, records[2].Vertex.Address)
	assert.Equal(t, wire.VertexDtor, records[3].Type)
	assert.Equal(t, wire.VertexCtor, records[4].Type)

	value := "resolved"
	b.Fulfill(value)
	future := NewFuture(b)
	assert.Equal(t, value, future.Get())
}
