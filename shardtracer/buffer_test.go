// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package shardtracer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/shardtrace/platform"
)

func TestBufferGrowsAndResets(t *testing.T) {
	b := newBuffer()
	assert.Equal(t, 0, b.len())

	big := make([]byte, platform.ChunkSize*2+10)
	b.write(big)
	assert.Equal(t, len(big), b.len())
	capBefore := cap(b.data)

	b.reset()
	assert.Equal(t, 0, b.len())
	assert.Equal(t, capBefore, cap(b.data))
}

func TestBufferAppendsAcrossCalls(t *testing.T) {
	b := newBuffer()
	b.write([]byte("abc"))
	b.write([]byte("def"))
	assert.Equal(t, []byte("abcdef"), b.bytes())
}
