// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package shardtracer

import "github.com/NVIDIA/shardtrace/platform"

// buffer is the tracer's byte accumulator: it grows geometrically in
// ChunkSize multiples and never shrinks, keeping its backing array across
// resets rather than reallocating.
type buffer struct {
	data []byte
}

func newBuffer() *buffer {
	return &buffer{}
}

// write appends p, growing the backing array in ChunkSize-rounded
// doublings when the append would exceed capacity.
func (b *buffer) write(p []byte) {
	needed := len(b.data) + len(p)
	if needed > cap(b.data) {
		grown := make([]byte, len(b.data), growCapacity(cap(b.data), needed))
		copy(grown, b.data)
		b.data = grown
	}
	b.data = append(b.data, p...)
}

func growCapacity(current, needed int) int {
	if current == 0 {
		current = platform.ChunkSize
	}
	for current < needed {
		current *= 2
	}
	return current
}

// reset zeroes the length but keeps the backing array's capacity, so a
// buffer that has grown to fit a burst does not pay for reallocation on
// the next one.
func (b *buffer) reset() {
	b.data = b.data[:0]
}

func (b *buffer) len() int {
	return len(b.data)
}

func (b *buffer) bytes() []byte {
	return b.data
}
