// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package harness

import "sync/atomic"

// addresses stands in for the runtime's real task/promise/mutex addresses;
// nothing here is ever dereferenced, matching vertex.Vertex's contract that
// address is an opaque identity, not a usable pointer.
var nextAddress uint64 = 0x1000

func allocAddress() uint64 {
	return atomic.AddUint64(&nextAddress, 8)
}
