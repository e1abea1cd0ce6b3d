// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package tracehooks is the public tracing surface the host runtime calls
// into: the vertex ctor/dtor/move hooks, the edge hook, the full semaphore
// hook family, and AttachFuncType. Each hook is a small, fixed-purpose
// function that assembles one tagged record and hands it to
// traceevent.WriteData, rather than a generic "do an operation" call.
package tracehooks

import (
	"fmt"

	"github.com/NVIDIA/shardtrace/traceevent"
	"github.com/NVIDIA/shardtrace/traceevent/wire"
	"github.com/NVIDIA/shardtrace/vertex"
)

// TraceVertexConstructor emits VERTEX_CTOR{vertex: v}.
func TraceVertexConstructor(v vertex.Vertex) {
	traceevent.WriteData(wire.VertexCtor, v, vertex.NullVertex, 0, 0, v.Extra)
}

// TraceVertexDestructor emits VERTEX_DTOR{vertex: v}.
func TraceVertexDestructor(v vertex.Vertex) {
	traceevent.WriteData(wire.VertexDtor, v, vertex.NullVertex, 0, 0, "")
}

// TraceMoveVertex emits VERTEX_MOVE{vertex: to, pre: from}. A move is
// semantically ctor(to); edge(from->to); dtor(from); ctor(from); callers
// that want that decomposed stream should call DecomposeMoveVertex
// instead.
func TraceMoveVertex(from, to vertex.Vertex) {
	traceevent.WriteData(wire.VertexMove, to, from, 0, 0, "")
}

// DecomposeMoveVertex emits the four-event expansion of a move:
// ctor(to); edge(from->to); dtor(from); ctor(from), leaving the
// moved-from slot a valid, empty vertex.
func DecomposeMoveVertex(from, to vertex.Vertex) {
	TraceVertexConstructor(to)
	TraceEdge(from, to, false)
	TraceVertexDestructor(from)
	TraceVertexConstructor(from)
}

// TraceEdge emits EDGE{pre, vertex: post, value: speculative}. speculative
// marks edges inferred rather than observed, e.g. deadlock's
// previous-task scan.
func TraceEdge(pre, post vertex.Vertex, speculative bool) {
	value := uint64(0)
	if speculative {
		value = 1
	}
	traceevent.WriteData(wire.Edge, post, pre, 0, value, "")
}

// TraceSemaphoreConstructor emits SEM_CTOR{sem, value: count}.
func TraceSemaphoreConstructor(sem uint64, count uint64) {
	traceevent.WriteData(wire.SemCtor, vertex.NullVertex, vertex.NullVertex, sem, count, "")
}

// TraceSemaphoreDestructor emits SEM_DTOR{sem, value: count}.
func TraceSemaphoreDestructor(sem uint64, count uint64) {
	traceevent.WriteData(wire.SemDtor, vertex.NullVertex, vertex.NullVertex, sem, count, "")
}

// TraceMoveSemaphore emits SEM_MOVE{sem: to, pre.address: from}.
func TraceMoveSemaphore(from, to uint64) {
	traceevent.WriteData(wire.SemMove, vertex.NullVertex, vertex.New(from, vertex.Null, "", ""), to, 0, "")
}

// TraceSemaphoreSignal emits SEM_SIGNAL{sem, value: count, vertex: caller}.
func TraceSemaphoreSignal(sem uint64, count uint64, caller vertex.Vertex) {
	traceevent.WriteData(wire.SemSignal, caller, vertex.NullVertex, sem, count, "")
}

// TraceSemaphoreWait emits SEM_WAIT{sem, value: count, pre, vertex: post}.
func TraceSemaphoreWait(sem uint64, count uint64, pre, post vertex.Vertex) {
	traceevent.WriteData(wire.SemWait, post, pre, sem, count, "")
}

// TraceSemaphoreWaitCompleted emits SEM_WAIT_CMPL{sem, vertex: post}.
func TraceSemaphoreWaitCompleted(sem uint64, post vertex.Vertex) {
	traceevent.WriteData(wire.SemWaitCmpl, post, vertex.NullVertex, sem, 0, "")
}

// TraceSpeculativeEdge emits EDGE{pre, vertex: post, value: 1, extra}, the
// inferred-edge form TraceEdge(pre, post, true) produces, but with room
// for a diagnostic payload. deadlock's previous-task resolution uses the
// payload to record how many candidates tied.
func TraceSpeculativeEdge(pre, post vertex.Vertex, extra string) {
	traceevent.WriteData(wire.Edge, post, pre, 0, 1, extra)
}

// AttachFuncType emits FUNC_TYPE{vertex: v, value: string_id(funcType),
// extra: "file:line"}. funcType is interned through the string table the
// same way vertex.ConcreteType values are.
func AttachFuncType(v vertex.Vertex, funcType string, file string, line int) {
	traceevent.WriteFuncType(v, funcType, fmt.Sprintf("%s:%d", file, line))
}
