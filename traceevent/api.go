// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package traceevent implements the event encoder: the single WriteData
// entry point, per-thread string interning, and the monotonic timestamping
// every record carries. It hands already-encoded bytes to whichever
// per-thread tracer (shardtracer) currently owns this goroutine's shard,
// so this package never imports shardtracer; the dependency runs the
// other way, keeping record encoding separate from the buffer it lands in.
package traceevent

import (
	"sync"
	"time"

	"github.com/NVIDIA/shardtrace/conf"
	"github.com/NVIDIA/shardtrace/lifecycle"
	"github.com/NVIDIA/shardtrace/logger"
	"github.com/NVIDIA/shardtrace/traceevent/wire"
	"github.com/NVIDIA/shardtrace/utils"
	"github.com/NVIDIA/shardtrace/vertex"
)

// callbacks adapts this package's Up/Down funcs to lifecycle.Callbacks so
// traceevent can be brought up in the same registration-ordered pass as
// every other package with tunables.
type callbacks struct{}

func (callbacks) Up(confMap conf.ConfMap) (err error) {
	return Up(confMap)
}

func (callbacks) Down(confMap conf.ConfMap) (err error) {
	return Down(confMap)
}

func init() {
	lifecycle.Register("traceevent", callbacks{})
}

// Sink is the per-thread tracer's hot-path append: encoded records are
// handed to whichever Sink the current goroutine registered.
type Sink interface {
	Trace(raw []byte)
}

var (
	mu           sync.Mutex
	sinks        = make(map[uint64]Sink)
	stringTabs   = make(map[uint64]*stringTable)
	processStart = time.Now()
	format       = wire.NDJSON

	canTrace     bool
	startedTrace bool
)

type stringTable struct {
	next uint32
	ids  map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{ids: make(map[string]uint32)}
}

// intern assigns s a dense per-thread id the first time it is seen, so
// every later record carrying the same type name references the small id
// instead of repeating the string. Returns the id and whether this was
// the first time it was observed.
func (t *stringTable) intern(s string) (id uint32, isNew bool) {
	if existing, ok := t.ids[s]; ok {
		return existing, false
	}
	id = t.next
	t.next++
	t.ids[s] = id
	return id, true
}

// RegisterSink installs sink as the current goroutine's per-thread tracer.
// Called by shardtracer.Start when it transitions Disabled -> Running.
func RegisterSink(sink Sink) {
	gid := utils.GoroutineID()

	mu.Lock()
	defer mu.Unlock()

	sinks[gid] = sink
	if _, ok := stringTabs[gid]; !ok {
		stringTabs[gid] = newStringTable()
	}
}

// UnregisterSink removes the current goroutine's per-thread tracer and
// discards its string table, since a fresh start reassigns dense ids
// from 0.
func UnregisterSink() {
	gid := utils.GoroutineID()

	mu.Lock()
	defer mu.Unlock()

	delete(sinks, gid)
	delete(stringTabs, gid)
}

func lookupSink(gid uint64) Sink {
	mu.Lock()
	defer mu.Unlock()
	return sinks[gid]
}

func lookupOrCreateStringTable(gid uint64) *stringTable {
	mu.Lock()
	defer mu.Unlock()
	t, ok := stringTabs[gid]
	if !ok {
		t = newStringTable()
		stringTabs[gid] = t
	}
	return t
}

// SetCanTrace and SetStartedTrace flip the process-wide control flags,
// written only during StartTracing/StopTracing/DeleteTracing. Callers are
// expected to serialize these control operations; the hot path reads the
// flags unsynchronized.
func SetCanTrace(enabled bool) {
	canTrace = enabled
}

func SetStartedTrace(started bool) {
	startedTrace = started
}

// Up configures the wire format from ConfMap["Tracer"]["WireFormat"],
// defaulting to ndjson, implementing lifecycle.Callbacks for this package.
func Up(confMap conf.ConfMap) (err error) {
	wireFormatString, fetchErr := confMap.FetchOptionValueString("Tracer", "WireFormat")
	if fetchErr != nil {
		format = wire.NDJSON
		return nil
	}
	format, err = wire.ParseFormat(wireFormatString)
	return err
}

// Down resets process-wide tracing state.
func Down(confMap conf.ConfMap) (err error) {
	canTrace = false
	startedTrace = false
	return nil
}

// Format reports the wire format selected by the most recent Up.
func Format() wire.Format {
	return format
}

func monotonicNanosSinceStart() uint64 {
	return uint64(time.Since(processStart).Nanoseconds())
}

func vertexRef(gid uint64, t *stringTable, v vertex.Vertex) wire.VertexRef {
	if v.IsNull() {
		return wire.VertexRef{}
	}
	ref := wire.VertexRef{Address: v.Address}
	if v.ConcreteType != "" {
		ref.TypeID = internAndEmit(gid, t, v.ConcreteType)
	}
	return ref
}

// internAndEmit assigns s an id in this goroutine's string table, emitting
// a STRING_ID record ahead of the caller's own record on first sight.
func internAndEmit(gid uint64, t *stringTable, s string) uint32 {
	id, isNew := t.intern(s)
	if !isNew {
		return id
	}

	rec := wire.Record{
		Type:      wire.StringID,
		Timestamp: monotonicNanosSinceStart(),
		Value:     uint64(id),
		Extra:     s,
	}
	if sink := lookupSink(gid); sink != nil {
		sink.Trace(wire.Encode(format, rec))
	}
	return id
}

// WriteData is the single entry point every tracehooks call funnels
// through: check the control flags, stamp the timestamp, intern any type
// names, and hand the encoded record to this goroutine's tracer.
func WriteData(typ wire.EventType, v vertex.Vertex, pre vertex.Vertex, sem uint64, value uint64, extra string) {
	if !tracingEnabled || !canTrace {
		return
	}

	gid := utils.GoroutineID()
	sink := lookupSink(gid)
	if startedTrace && sink == nil {
		logger.PanicfWithError(nil, "traceevent.WriteData: can_trace && started_trace but no tracer registered for goroutine %d", gid)
	}
	if sink == nil {
		return
	}

	t := lookupOrCreateStringTable(gid)

	rec := wire.Record{
		Type:      typ,
		Timestamp: monotonicNanosSinceStart(),
		Vertex:    vertexRef(gid, t, v),
		Pre:       vertexRef(gid, t, pre),
		Sem:       sem,
		Value:     value,
		Extra:     extra,
	}

	sink.Trace(wire.Encode(format, rec))
}

// WriteFuncType handles FUNC_TYPE's peculiar field mapping: its Value is
// itself an interned string id rather than a plain count.
func WriteFuncType(v vertex.Vertex, funcType string, fileLine string) {
	if !tracingEnabled || !canTrace {
		return
	}

	gid := utils.GoroutineID()
	sink := lookupSink(gid)
	if sink == nil {
		return
	}

	t := lookupOrCreateStringTable(gid)
	funcTypeID := internAndEmit(gid, t, funcType)

	rec := wire.Record{
		Type:      wire.FuncType,
		Timestamp: monotonicNanosSinceStart(),
		Vertex:    vertexRef(gid, t, v),
		Value:     uint64(funcTypeID),
		Extra:     fileLine,
	}

	sink.Trace(wire.Encode(format, rec))
}
