//go:build !shardtrace_notrace

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package deadlock

// tracingEnabled is flipped off by the shardtrace_notrace build tag, which
// empties the activity index and makes FindInactiveMutexes return nothing.
const tracingEnabled = true
