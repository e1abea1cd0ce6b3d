// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package shardtracer implements the per-thread tracer: a double-buffered
// byte accumulator with a Disabled -> Running -> Flushing -> Disabled
// lifecycle, a background drain loop, and backpressure via a condition
// variable, writing aligned chunks through platform's direct-I/O file.
// The producer/drain split keeps the hot path off the slow path: a trace
// call only ever appends to memory.
package shardtracer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/NVIDIA/shardtrace/blunder"
	"github.com/NVIDIA/shardtrace/conf"
	"github.com/NVIDIA/shardtrace/logger"
	"github.com/NVIDIA/shardtrace/platform"
	"github.com/NVIDIA/shardtrace/traceevent"
	"github.com/NVIDIA/shardtrace/traceevent/wire"
	"github.com/NVIDIA/shardtrace/utils"
)

// State is the closed set of tracer lifecycle states.
type State int

const (
	Disabled State = iota
	Running
	Flushing
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Flushing:
		return "Flushing"
	default:
		return "Disabled"
	}
}

// minimalChunkCount and platform.ChunkSize together give the 256 KiB
// hot-path drain threshold (64 x 4096).
const minimalChunkCount = 64

var minBytesToDrain = platform.ChunkSize * minimalChunkCount

// SetMinimalChunkCountForTest overrides the drain threshold so tests don't
// need to push a quarter megabyte through the hot path to observe a
// buffer-crossing wakeup; it restores the default when count is 0.
func SetMinimalChunkCountForTest(count int) {
	if count <= 0 {
		minBytesToDrain = platform.ChunkSize * minimalChunkCount
		return
	}
	minBytesToDrain = platform.ChunkSize * count
}

// Tracer is one shard's per-thread tracer state. Exactly one exists per
// OS thread/goroutine that has ever called Up; it must be constructed and
// brought Up on the goroutine whose trace calls it will serve, since
// traceevent keys its sink registry by the calling goroutine's id.
type Tracer struct {
	mu                     sync.Mutex
	shardID                uint64
	outputDir              string
	format                 wire.Format
	sessionID              string
	st                     State
	traceBuf               *buffer
	writeBuf               *buffer
	disableConditionSignal bool
	fileSize               int64
	file                   *os.File
	cond                   *utils.MultiWaiterWaitGroup
	drainDone              chan struct{}
}

// NewTracer constructs a Tracer for shardID, not yet started. Call Up from
// the goroutine that will own this shard's hot path.
func NewTracer(shardID uint64, outputDir string) *Tracer {
	return &Tracer{
		shardID:   shardID,
		outputDir: outputDir,
		cond:      utils.NewMultiWaiterWaitGroup(),
	}
}

// OutputPath returns the on-disk path this tracer writes to:
// deadlock_detection_graphdump.<tid>.json under the configured directory.
func (t *Tracer) OutputPath() string {
	return filepath.Join(t.outputDir, fmt.Sprintf("deadlock_detection_graphdump.%d.json", t.shardID))
}

// State reports the tracer's current lifecycle state.
func (t *Tracer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st
}

// Up transitions Disabled -> Running: opens the output file with
// create+truncate+direct-I/O, writes the per-file session header, and
// launches the drain loop. Called once per shard, on that shard's own
// goroutine, as the InvokeOnAll-dispatched half of StartTracing.
func (t *Tracer) Up(confMap conf.ConfMap) (err error) {
	t.mu.Lock()
	if t.st != Disabled {
		t.mu.Unlock()
		logger.PanicfWithError(nil, "shardtracer.Tracer.Up: shard %d double start (state=%v)", t.shardID, t.st)
	}
	t.mu.Unlock()

	t.format = traceevent.Format()
	t.sessionID = uuid.New().String()

	if dir, fetchErr := confMap.FetchOptionValueString("Tracer", "OutputDir"); fetchErr == nil {
		t.outputDir = dir
	}

	file, openErr := platform.OpenDirect(t.OutputPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if openErr != nil {
		return blunder.AddError(openErr, blunder.IOError)
	}

	t.mu.Lock()
	t.file = file
	t.fileSize = 0
	t.traceBuf = newBuffer()
	t.writeBuf = newBuffer()
	t.traceBuf.write(wire.EncodeSessionHeader(t.format, t.sessionID))
	t.disableConditionSignal = false
	t.drainDone = make(chan struct{})
	t.st = Running
	t.mu.Unlock()

	traceevent.RegisterSink(t)

	go t.drainLoop()

	logger.Tracef("shardtracer: shard %d started, session %s, file %s", t.shardID, t.sessionID, t.OutputPath())
	return nil
}

// Down transitions Running -> Flushing -> Disabled: signals the drain
// loop, awaits it, and truncates the file to its exact logical size.
// Called once per shard, on any goroutine, as the InvokeOnAll-dispatched
// half of StopTracing.
func (t *Tracer) Down(confMap conf.ConfMap) (err error) {
	t.mu.Lock()
	if t.st != Running {
		t.mu.Unlock()
		logger.PanicfWithError(nil, "shardtracer.Tracer.Down: shard %d stop() while state is %v, not Running", t.shardID, t.st)
	}
	t.st = Flushing
	done := t.drainDone
	t.mu.Unlock()

	t.cond.Signal()
	<-done

	traceevent.UnregisterSink()

	t.mu.Lock()
	t.st = Disabled
	t.mu.Unlock()

	logger.Tracef("shardtracer: shard %d stopped", t.shardID)
	return nil
}

// Trace is the hot path: append raw to the active buffer, and on the
// single edge crossing the drain threshold, wake the drain loop.
// disableConditionSignal is the single-slot reentrancy guard that stops
// the drain fiber's own writes from re-triggering a wakeup.
func (t *Tracer) Trace(raw []byte) {
	t.mu.Lock()
	if t.st != Running {
		t.mu.Unlock()
		logger.PanicfWithError(nil, "shardtracer.Tracer.Trace: shard %d traced while state is %v, not Running", t.shardID, t.st)
	}

	before := t.traceBuf.len()
	t.traceBuf.write(raw)
	after := t.traceBuf.len()

	shouldSignal := !t.disableConditionSignal && before < minBytesToDrain && after >= minBytesToDrain
	if shouldSignal {
		t.disableConditionSignal = true
	}
	t.mu.Unlock()

	if shouldSignal {
		t.cond.Signal()
		t.mu.Lock()
		t.disableConditionSignal = false
		t.mu.Unlock()
	}
}

// drainLoop is the background half of the tracer: it owns the only
// blocking points in this package, awaiting either the condition or I/O.
func (t *Tracer) drainLoop() {
	for {
		t.mu.Lock()

		if t.st == Flushing {
			t.flushLocked()
			t.mu.Unlock()
			close(t.drainDone)
			return
		}

		if t.traceBuf.len() < minBytesToDrain {
			t.mu.Unlock()
			t.cond.Wait()
			continue
		}

		t.traceBuf, t.writeBuf = t.writeBuf, t.traceBuf
		chunkCount := t.writeBuf.len() / platform.ChunkSize
		writeLen := chunkCount * platform.ChunkSize
		tail := append([]byte(nil), t.writeBuf.bytes()[writeLen:]...)
		t.traceBuf.reset()
		t.traceBuf.write(tail)
		// O_DIRECT requires the source buffer itself be page-aligned, not
		// just the length.
		toWrite := platform.AlignedBuffer(writeLen)
		copy(toWrite, t.writeBuf.bytes()[:writeLen])
		offset := t.fileSize
		file := t.file
		t.mu.Unlock()

		n, writeErr := platform.DMAWrite(file, offset, toWrite)
		if writeErr != nil || n != len(toWrite) {
			logger.PanicfWithError(writeErr, "shardtracer: shard %d short direct-I/O write: wrote %d of %d bytes", t.shardID, n, len(toWrite))
		}

		t.mu.Lock()
		t.fileSize += int64(writeLen)
		t.writeBuf.reset()
		t.mu.Unlock()
	}
}

// flushLocked implements the flush path: swap buffers, pad to a whole
// number of chunks, one direct-I/O write, truncate off the padding,
// flush, close. Called with t.mu held, from the one place (drainLoop,
// once) that observes state == Flushing.
func (t *Tracer) flushLocked() {
	t.traceBuf, t.writeBuf = t.writeBuf, t.traceBuf
	logical := t.writeBuf.len()

	padded := logical
	if remainder := padded % platform.ChunkSize; remainder != 0 {
		padded += platform.ChunkSize - remainder
	}
	if padded > logical {
		t.writeBuf.write(make([]byte, padded-logical))
	}

	toWrite := platform.AlignedBuffer(padded)
	copy(toWrite, t.writeBuf.bytes())
	offset := t.fileSize
	file := t.file

	n, writeErr := platform.DMAWrite(file, offset, toWrite)
	if writeErr != nil || n != len(toWrite) {
		logger.PanicfWithError(writeErr, "shardtracer: shard %d short direct-I/O flush write: wrote %d of %d bytes", t.shardID, n, len(toWrite))
	}

	t.fileSize = offset + int64(logical)

	if truncErr := platform.Truncate(file, t.fileSize); truncErr != nil {
		logger.PanicfWithError(truncErr, "shardtracer: shard %d truncate failed", t.shardID)
	}
	if flushErr := platform.Flush(file); flushErr != nil {
		logger.PanicfWithError(flushErr, "shardtracer: shard %d flush failed", t.shardID)
	}
	if closeErr := file.Close(); closeErr != nil {
		logger.PanicfWithError(closeErr, "shardtracer: shard %d close failed", t.shardID)
	}

	t.writeBuf.reset()
}
