// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package traceevent

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/shardtrace/traceevent/wire"
	"github.com/NVIDIA/shardtrace/vertex"
)

type fakeSink struct {
	raw [][]byte
}

func (f *fakeSink) Trace(raw []byte) {
	f.raw = append(f.raw, append([]byte{}, raw...))
}

func (f *fakeSink) decode() []wire.Record {
	var records []wire.Record
	for _, raw := range f.raw {
		decoded, err := wire.DecodeNDJSON(bytes.NewReader(raw))
		if err != nil {
			panic(err)
		}
		records = append(records, decoded...)
	}
	return records
}

func resetState() {
	mu.Lock()
	sinks = make(map[uint64]Sink)
	stringTabs = make(map[uint64]*stringTable)
	mu.Unlock()
	format = wire.NDJSON
	canTrace = false
	startedTrace = false
}

func TestWriteDataNoopsWhenCanTraceFalse(t *testing.T) {
	resetState()
	sink := &fakeSink{}
	RegisterSink(sink)
	defer UnregisterSink()

	WriteData(wire.VertexCtor, vertex.New(0x1000, vertex.Task, "", ""), vertex.NullVertex, 0, 0, "")
	assert.Empty(t, sink.raw)
}

func TestWriteDataEmitsStringIDOnce(t *testing.T) {
	resetState()
	SetCanTrace(true)
	sink := &fakeSink{}
	RegisterSink(sink)
	defer UnregisterSink()

	v := vertex.New(0x1000, vertex.Task, "task<foo>", "")
	WriteData(wire.VertexCtor, v, vertex.NullVertex, 0, 0, "")
	WriteData(wire.VertexDtor, v, vertex.NullVertex, 0, 0, "")

	records := sink.decode()
	require.Len(t, records, 3)
	assert.Equal(t, wire.StringID, records[0].Type)
	assert.Equal(t, "task<foo>", records[0].Extra)
	assert.Equal(t, wire.VertexCtor, records[1].Type)
	assert.Equal(t, uint32(0), records[1].Vertex.TypeID)
	assert.Equal(t, wire.VertexDtor, records[2].Type)
	assert.Equal(t, uint32(0), records[2].Vertex.TypeID)
}

func TestWriteDataFatalWhenStartedWithoutSink(t *testing.T) {
	resetState()
	SetCanTrace(true)
	SetStartedTrace(true)

	assert.Panics(t, func() {
		WriteData(wire.VertexCtor, vertex.New(0x1000, vertex.Task, "", ""), vertex.NullVertex, 0, 0, "")
	})
}

func TestWriteFuncTypeInternsValue(t *testing.T) {
	resetState()
	SetCanTrace(true)
	sink := &fakeSink{}
	RegisterSink(sink)
	defer UnregisterSink()

	v := vertex.New(0x1000, vertex.Task, "", "")
	WriteFuncType(v, "cont<lambda#1>", "foo.go:42")

	records := sink.decode()
	require.Len(t, records, 2)
	assert.Equal(t, wire.StringID, records[0].Type)
	assert.Equal(t, wire.FuncType, records[1].Type)
	assert.Equal(t, uint64(0), records[1].Value)
	assert.Equal(t, "foo.go:42", records[1].Extra)
}
