// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package harness

import "github.com/NVIDIA/shardtrace/vertex"

// Future is the harness stand-in for the host's real future type: a
// one-shot receiver for a Promise's eventual value, letting tests and
// cmd/tracedemo await a promise the way a continuation would.
type Future struct {
	promise *Promise
}

// NewFuture wraps promise for a caller that wants to block on its completion.
func NewFuture(promise *Promise) *Future {
	return &Future{promise: promise}
}

// Vertex exposes the underlying promise's vertex, e.g. for trace_edge calls
// linking a task to the future it is awaiting.
func (f *Future) Vertex() vertex.Vertex {
	return f.promise.Vertex()
}

// Get blocks until the underlying promise is fulfilled and returns its value.
func (f *Future) Get() interface{} {
	<-f.promise.done
	f.promise.mu.Lock()
	defer f.promise.mu.Unlock()
	return f.promise.value
}
