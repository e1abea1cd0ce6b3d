// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package deadlock

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NVIDIA/shardtrace/conf"
	"github.com/NVIDIA/shardtrace/heldlocks"
	"github.com/NVIDIA/shardtrace/lifecycle"
	"github.com/NVIDIA/shardtrace/logger"
)

// defaultMaxInactivePeriod is how long a closed mutex must sit untouched
// before the scanner treats it as a deadlock candidate.
const defaultMaxInactivePeriod = 3 * time.Second

var maxInactivePeriod = defaultMaxInactivePeriod

var (
	cyclesFoundCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shardtrace_deadlock_cycles_found_total",
		Help: "Number of deadlock cycles found by the inactive-mutex scanner.",
	})
	inactiveMutexGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shardtrace_deadlock_inactive_mutexes",
		Help: "Number of closed mutexes exceeding MAX_INACTIVE_PERIOD at the last scan.",
	})
)

func init() {
	prometheus.MustRegister(cyclesFoundCounter, inactiveMutexGauge)
	lifecycle.Register("deadlock", callbacks{})
}

type callbacks struct{}

func (callbacks) Up(confMap conf.ConfMap) (err error) {
	return Up(confMap)
}

func (callbacks) Down(confMap conf.ConfMap) (err error) {
	return Down(confMap)
}

// Up configures MAX_INACTIVE_PERIOD from ConfMap["Deadlock"]["MaxInactivePeriod"],
// defaulting to 3s if unset.
func Up(confMap conf.ConfMap) (err error) {
	d, fetchErr := confMap.FetchOptionValueDuration("Deadlock", "MaxInactivePeriod")
	if fetchErr != nil {
		maxInactivePeriod = defaultMaxInactivePeriod
		return nil
	}
	maxInactivePeriod = d
	return nil
}

// Down resets MAX_INACTIVE_PERIOD to its default.
func Down(confMap conf.ConfMap) (err error) {
	maxInactivePeriod = defaultMaxInactivePeriod
	return nil
}

// activityItem is one (lastSeen, mutex address) entry in the by-time
// btree. Ties on lastSeen break by address so two mutexes touched within
// the clock's resolution still order deterministically.
type activityItem struct {
	lastSeen time.Time
	address  uint64
}

func (item *activityItem) Less(than btree.Item) bool {
	other := than.(*activityItem)
	if item.lastSeen.Equal(other.lastSeen) {
		return item.address < other.address
	}
	return item.lastSeen.Before(other.lastSeen)
}

// Index is the per-thread mutex activity index: a last-touched time per
// mutex, kept as a btree ordered by that time so the scan walks candidates
// oldest-first without re-sorting, plus a per-address map locating each
// mutex's current btree entry.
type Index struct {
	mu           sync.Mutex
	byTime       *btree.BTree
	lastActivity map[uint64]*activityItem
	mutexes      map[uint64]*Mutex
}

// NewIndex returns an empty activity index, one per shard.
func NewIndex() *Index {
	return &Index{
		byTime:       btree.New(2),
		lastActivity: make(map[uint64]*activityItem),
		mutexes:      make(map[uint64]*Mutex),
	}
}

// registerActivity removes m's previous by-time entry, if any, and inserts
// a fresh one timestamped now.
func (idx *Index) registerActivity(m *Mutex) {
	if !tracingEnabled {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if previous, ok := idx.lastActivity[m.address]; ok {
		idx.byTime.Delete(previous)
	}
	item := &activityItem{lastSeen: time.Now(), address: m.address}
	idx.byTime.ReplaceOrInsert(item)
	idx.lastActivity[m.address] = item
	idx.mutexes[m.address] = m
}

// deleteMutex removes m from the by-time btree and both tables.
func (idx *Index) deleteMutex(m *Mutex) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if previous, ok := idx.lastActivity[m.address]; ok {
		idx.byTime.Delete(previous)
	}
	delete(idx.lastActivity, m.address)
	delete(idx.mutexes, m.address)
}

// lookupMutex resolves a heldlocks.MutexKey back to the live *Mutex for
// the held_locks -> owned-mutex edges of the DFS.
func (idx *Index) lookupMutex(key heldlocks.MutexKey) *Mutex {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.mutexes[uint64(key)]
}

// CycleReport describes one deadlock cycle the DFS found, in route order
// starting and ending at the initiating mutex. MutexAddresses lists every
// mutex participating in the cycle, used by FindInactiveMutexes to avoid
// re-reporting the same cycle once per mutex that sits on it.
type CycleReport struct {
	StartMutexAddress uint64
	Route             []string
	MutexAddresses    []uint64
}

// FindInactiveMutexes is the scanner's periodic entry point: it ascends
// the by-time btree, stopping at the first entry younger than the
// configured inactive period, and for every closed mutex among the stale
// prefix runs the DFS cycle search. An empty index is a no-op.
func (idx *Index) FindInactiveMutexes() []CycleReport {
	if !tracingEnabled {
		return nil
	}

	idx.mu.Lock()
	now := time.Now()
	var stale []*Mutex
	idx.byTime.Ascend(func(i btree.Item) bool {
		item := i.(*activityItem)
		if now.Sub(item.lastSeen) < maxInactivePeriod {
			return false
		}
		if m, ok := idx.mutexes[item.address]; ok {
			stale = append(stale, m)
		}
		return true
	})
	idx.mu.Unlock()

	var candidates []*Mutex
	for _, m := range stale {
		if !m.IsOpen() {
			candidates = append(candidates, m)
		}
	}

	var reports []CycleReport
	alreadyReported := make(map[uint64]bool)
	for _, m := range candidates {
		if alreadyReported[m.address] {
			continue
		}
		report, found := scanForCycle(m, idx)
		if !found {
			continue
		}
		reports = append(reports, report)
		cyclesFoundCounter.Inc()
		logger.Warnf("deadlock: cycle found starting at mutex 0x%x: %v", m.address, report.Route)
		for _, addr := range report.MutexAddresses {
			alreadyReported[addr] = true
		}
	}

	inactiveMutexGauge.Set(float64(len(candidates)))
	return reports
}
