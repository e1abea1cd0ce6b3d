// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package deadlock

import (
	"fmt"

	"github.com/NVIDIA/shardtrace/heldlocks"
)

// nodeKind is the closed set of vertex kinds the DFS ever visits, a
// tagged enum rather than an interface hierarchy: the set is closed and
// stable.
type nodeKind int

const (
	kindMutex nodeKind = iota
	kindPromise
	kindTask
	kindHeldLocks
)

// nodeKey is the visited-set key, (kind, address). held_locks nodes have
// no address of their own, so they key off the chain pointer instead.
type nodeKey struct {
	kind  nodeKind
	addr  uint64
	chain *heldlocks.Chain
}

// dfs carries the traversal state: route (the current stack, doubling as
// the membership test: revisiting a node in route signals a cycle) and
// visited (every node ever fully explored, so a shared subgraph is not
// re-walked once cleared).
type dfs struct {
	idx          *Index
	route        []nodeKey
	labels       []string
	inRoute      map[nodeKey]bool
	visited      map[nodeKey]bool
	cycleRoute   []string
	cycleMutexes []uint64
}

// scanForCycle runs the DFS from one closed, long-idle candidate mutex.
// The moment a node already in route is revisited, the full cycle is
// already sitting in route, so it is sliced out directly rather than
// propagated upward frame by frame.
func scanForCycle(start *Mutex, idx *Index) (report CycleReport, found bool) {
	d := &dfs{
		idx:     idx,
		inRoute: make(map[nodeKey]bool),
		visited: make(map[nodeKey]bool),
	}

	if d.visitMutex(start) {
		return CycleReport{StartMutexAddress: start.address, Route: d.cycleRoute, MutexAddresses: d.cycleMutexes}, true
	}
	return CycleReport{}, false
}

// push enters key/label onto the route. If key is already in route, a
// cycle has been found; the caller is responsible for recording
// cycleRoute on first detection.
func (d *dfs) push(key nodeKey, label string) (cycle bool) {
	if d.inRoute[key] {
		if d.cycleRoute == nil {
			d.cycleRoute = d.cyclePath(key, label)
			d.cycleMutexes = d.cycleMutexAddrs(key)
		}
		return true
	}
	d.route = append(d.route, key)
	d.labels = append(d.labels, label)
	d.inRoute[key] = true
	return false
}

func (d *dfs) pop() {
	last := len(d.route) - 1
	delete(d.inRoute, d.route[last])
	d.route = d.route[:last]
	d.labels = d.labels[:len(d.labels)-1]
}

// cyclePath slices the closing edge (revisited, revisitedLabel) onto the
// suffix of route starting at revisited's first occurrence, yielding the
// minimal cycle rather than the whole trail from the scan's root.
func (d *dfs) cyclePath(revisited nodeKey, revisitedLabel string) []string {
	for i, k := range d.route {
		if k == revisited {
			out := append([]string{}, d.labels[i:]...)
			return append(out, revisitedLabel)
		}
	}
	return append(append([]string{}, d.labels...), revisitedLabel)
}

// cycleMutexAddrs extracts the address of every mutex node in the closing
// cycle (the same suffix of route cyclePath slices), so FindInactiveMutexes
// can recognize when a later candidate mutex is already accounted for by a
// cycle this pass already reported.
func (d *dfs) cycleMutexAddrs(revisited nodeKey) []uint64 {
	start := 0
	for i, k := range d.route {
		if k == revisited {
			start = i
			break
		}
	}
	var addrs []uint64
	for _, k := range d.route[start:] {
		if k.kind == kindMutex {
			addrs = append(addrs, k.addr)
		}
	}
	if revisited.kind == kindMutex {
		addrs = append(addrs, revisited.addr)
	}
	return addrs
}

func (d *dfs) visitMutex(m *Mutex) bool {
	key := nodeKey{kind: kindMutex, addr: m.address}
	label := fmt.Sprintf("mutex(0x%x)", m.address)
	if d.push(key, label) {
		return true
	}
	defer d.pop()

	if d.visited[key] {
		return false
	}
	d.visited[key] = true

	for _, p := range m.Waiters() {
		if d.visitPromise(p) {
			return true
		}
	}
	return false
}

func (d *dfs) visitPromise(p Promise) bool {
	if p == nil {
		return false
	}
	v := p.Vertex()
	key := nodeKey{kind: kindPromise, addr: v.Address}
	label := fmt.Sprintf("promise(0x%x)", v.Address)
	if d.push(key, label) {
		return true
	}
	defer d.pop()

	if d.visited[key] {
		return false
	}
	d.visited[key] = true

	if chain := p.HeldLocks(); chain != nil {
		if d.visitHeldLocks(chain) {
			return true
		}
	}
	if t := p.WaitingTask(); t != nil {
		if d.visitTask(t) {
			return true
		}
	}
	return false
}

func (d *dfs) visitTask(t Task) bool {
	if t == nil {
		return false
	}
	v := t.Vertex()
	key := nodeKey{kind: kindTask, addr: v.Address}
	label := fmt.Sprintf("task(0x%x)", v.Address)
	if d.push(key, label) {
		return true
	}
	defer d.pop()

	if d.visited[key] {
		return false
	}
	d.visited[key] = true

	if chain := t.HeldLocks(); chain != nil {
		if d.visitHeldLocks(chain) {
			return true
		}
	}
	if p := t.WaitingPromise(); p != nil {
		if d.visitPromise(p) {
			return true
		}
	}
	if wt := t.WaitingTask(); wt != nil {
		if d.visitTask(wt) {
			return true
		}
	}
	return false
}

func (d *dfs) visitHeldLocks(chain *heldlocks.Chain) bool {
	key := nodeKey{kind: kindHeldLocks, chain: chain}
	label := fmt.Sprintf("held_locks(%p)", chain)
	if d.push(key, label) {
		return true
	}
	defer d.pop()

	if d.visited[key] {
		return false
	}
	d.visited[key] = true

	for _, mk := range chain.OwnedLocks() {
		if mutex := d.idx.lookupMutex(mk); mutex != nil {
			if d.visitMutex(mutex) {
				return true
			}
		}
	}
	if parent := chain.Parent(); parent != nil {
		if d.visitHeldLocks(parent) {
			return true
		}
	}
	return false
}
