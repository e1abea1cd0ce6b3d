// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package tracehooks

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/shardtrace/traceevent"
	"github.com/NVIDIA/shardtrace/traceevent/wire"
	"github.com/NVIDIA/shardtrace/vertex"
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

func TestTraceVertexCtorDtor(t *testing.T) {
	sink := withCapture(t)

	task := vertex.New(0x1000, vertex.Task, "task<f>", "")
	TraceVertexConstructor(task)
	TraceVertexDestructor(task)

	records := decodeAll(t, sink)
	require.Len(t, records, 2)
	assert.Equal(t, wire.VertexCtor, records[0].Type)
	assert.Equal(t, wire.VertexDtor, records[1].Type)
	assert.Equal(t, task.Address, records[0].Vertex.Address)
}

func TestDecomposeMoveVertexOrder(t *testing.T) {
	sink := withCapture(t)

	from := vertex.New(0x1000, vertex.Promise, "", "")
	to := vertex.New(0x2000, vertex.Promise, "", "")
	DecomposeMoveVertex(from, to)

	records := decodeAll(t, sink)
	require.Len(t, records, 4)
	assert.Equal(t, wire.VertexCtor, records[0].Type)
	assert.Equal(t, to.Address, records[0].Vertex.Address)
	assert.Equal(t, wire.Edge, records[1].Type)
	assert.Equal(t, from.Address, records[1].Pre.Address)
	assert.Equal(t, to.Address, records[1].Vertex.Address)
	assert.Equal(t, wire.VertexDtor, records[2].Type)
	assert.Equal(t, from.Address, records[2].Vertex.Address)
	assert.Equal(t, wire.VertexCtor, records[3].Type)
	assert.Equal(t, from.Address, records[3].Vertex.Address)
}

func TestTraceEdgeSpeculativeFlag(t *testing.T) {
	sink := withCapture(t)

	a := vertex.New(0x1000, vertex.Task, "", "")
	b := vertex.New(0x2000, vertex.Task, "", "")
	TraceEdge(a, b, true)

	records := decodeAll(t, sink)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].Value)
}

func TestSemaphoreWaitAndWaitCompleted(t *testing.T) {
	sink := withCapture(t)

	task := vertex.New(0x1000, vertex.Task, "", "")
	promise := vertex.New(0x2000, vertex.Promise, "", "")
	TraceSemaphoreWait(0xAAAA, 1, task, promise)
	TraceSemaphoreWaitCompleted(0xAAAA, promise)

	records := decodeAll(t, sink)
	require.Len(t, records, 2)
	assert.Equal(t, wire.SemWait, records[0].Type)
	assert.Equal(t, uint64(0xAAAA), records[0].Sem)
	assert.Equal(t, wire.SemWaitCmpl, records[1].Type)
}

func TestAttachFuncTypeInternsString(t *testing.T) {
	sink := withCapture(t)

	task := vertex.New(0x1000, vertex.Task, "", "")
	AttachFuncType(task, "lambda<foo>", "foo.go", 42)

	records := decodeAll(t, sink)
	require.Len(t, records, 2)
	assert.Equal(t, wire.StringID, records[0].Type)
	assert.Equal(t, "lambda<foo>", records[0].Extra)
	assert.Equal(t, wire.FuncType, records[1].Type)
	assert.Equal(t, "foo.go:42", records[1].Extra)
	assert.Equal(t, records[0].Value, records[1].Value)
}
