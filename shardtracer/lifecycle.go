// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package shardtracer

import (
	"sync"

	"github.com/NVIDIA/shardtrace/conf"
	"github.com/NVIDIA/shardtrace/traceevent"
)

// InvokeOnAll is the host-supplied broadcast primitive: run fn once on
// each shard's own execution context (so a shard's Tracer.Up registers
// under the right goroutine id) and return only once every shard has
// finished.
type InvokeOnAll func(fn func(shardID uint64))

var (
	registryMu sync.Mutex
	registry   = make(map[uint64]*Tracer)
)

func registerShard(shardID uint64, t *Tracer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[shardID] = t
}

func unregisterShard(shardID uint64) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, shardID)
}

func lookupShard(shardID uint64) *Tracer {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[shardID]
}

// InitTracing brings up the process-wide, goroutine-independent half of
// the tracer (wire format selection) ahead of any per-shard start.
func InitTracing(confMap conf.ConfMap) error {
	return traceevent.Up(confMap)
}

// StartTracing runs Tracer.Up on every shard named by shardIDs, via
// invokeOnAll, then flips the process-wide control flags once every shard
// has a file open and a drain loop running.
func StartTracing(confMap conf.ConfMap, shardIDs []uint64, invokeOnAll InvokeOnAll) error {
	var (
		mu       sync.Mutex
		firstErr error
	)

	invokeOnAll(func(shardID uint64) {
		outputDir := ""
		if dir, fetchErr := confMap.FetchOptionValueString("Tracer", "OutputDir"); fetchErr == nil {
			outputDir = dir
		}

		t := NewTracer(shardID, outputDir)
		if upErr := t.Up(confMap); upErr != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = upErr
			}
			mu.Unlock()
			return
		}
		registerShard(shardID, t)
	})

	if firstErr != nil {
		return firstErr
	}

	traceevent.SetStartedTrace(true)
	traceevent.SetCanTrace(true)
	return nil
}

// StopTracing drops the can-trace flag first (so no new trace call races
// the shutdown), then runs Tracer.Down on every still-registered shard
// via invokeOnAll.
func StopTracing(confMap conf.ConfMap, shardIDs []uint64, invokeOnAll InvokeOnAll) error {
	traceevent.SetCanTrace(false)

	var (
		mu       sync.Mutex
		firstErr error
	)

	invokeOnAll(func(shardID uint64) {
		t := lookupShard(shardID)
		if t == nil {
			return
		}
		if downErr := t.Down(confMap); downErr != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = downErr
			}
			mu.Unlock()
		}
		unregisterShard(shardID)
	})

	traceevent.SetStartedTrace(false)
	return firstErr
}

// DeleteTracing releases any remaining per-process state. Call after
// StopTracing has brought every shard back to Disabled.
func DeleteTracing(confMap conf.ConfMap) error {
	registryMu.Lock()
	registry = make(map[uint64]*Tracer)
	registryMu.Unlock()
	return traceevent.Down(confMap)
}
