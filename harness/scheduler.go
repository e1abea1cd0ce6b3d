// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package harness

import "sync"

// ShardRuntime is a cooperative shard: every Task, Promise, and Mutex it
// owns must be constructed and operated on from ShardRuntime.Run's fn,
// since traceevent.RegisterSink and curvertex key their state off the
// calling goroutine id; shards never share hot-path state. It is the
// harness's idea of the host's one-OS-thread-per-shard reactor.
type ShardRuntime struct {
	ID       uint64
	commands chan func()
	stopped  chan struct{}
}

// NewShardRuntime starts a shard's long-lived goroutine and returns a
// handle to dispatch work onto it.
func NewShardRuntime(id uint64) *ShardRuntime {
	sr := &ShardRuntime{ID: id, commands: make(chan func()), stopped: make(chan struct{})}
	go sr.loop()
	return sr
}

func (sr *ShardRuntime) loop() {
	for fn := range sr.commands {
		fn()
	}
	close(sr.stopped)
}

// Run executes fn on this shard's goroutine and blocks until it returns.
func (sr *ShardRuntime) Run(fn func()) {
	done := make(chan struct{})
	sr.commands <- func() {
		fn()
		close(done)
	}
	<-done
}

// Close stops the shard's goroutine once any in-flight Run has completed.
func (sr *ShardRuntime) Close() {
	close(sr.commands)
	<-sr.stopped
}

// Runtime owns a fixed set of shards and is the harness's InvokeOnAll
// provider: shardtracer.StartTracing/StopTracing dispatch each shard's
// Tracer.Up/Down through Runtime.InvokeOnAll so every sink registers under
// the right goroutine.
type Runtime struct {
	shards map[uint64]*ShardRuntime
}

// NewRuntime starts shardCount shards, numbered 0..shardCount-1.
func NewRuntime(shardCount uint64) *Runtime {
	rt := &Runtime{shards: make(map[uint64]*ShardRuntime, shardCount)}
	for id := uint64(0); id < shardCount; id++ {
		rt.shards[id] = NewShardRuntime(id)
	}
	return rt
}

// Shard returns the shard runtime for id, or nil if id is out of range.
func (rt *Runtime) Shard(id uint64) *ShardRuntime {
	return rt.shards[id]
}

// ShardIDs returns every shard id this runtime owns, for passing to
// shardtracer.StartTracing/StopTracing.
func (rt *Runtime) ShardIDs() []uint64 {
	ids := make([]uint64, 0, len(rt.shards))
	for id := range rt.shards {
		ids = append(ids, id)
	}
	return ids
}

// InvokeOnAll runs fn on every shard's own goroutine concurrently and
// returns once all have finished, matching shardtracer.InvokeOnAll's shape.
func (rt *Runtime) InvokeOnAll(fn func(shardID uint64)) {
	var wg sync.WaitGroup
	for id, sr := range rt.shards {
		wg.Add(1)
		go func(id uint64, sr *ShardRuntime) {
			defer wg.Done()
			sr.Run(func() { fn(id) })
		}(id, sr)
	}
	wg.Wait()
}

// Close stops every shard's goroutine.
func (rt *Runtime) Close() {
	for _, sr := range rt.shards {
		sr.Close()
	}
}
