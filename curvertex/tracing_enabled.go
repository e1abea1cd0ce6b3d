//go:build !shardtrace_notrace

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package curvertex

// tracingEnabled is flipped off by the shardtrace_notrace build tag, which
// turns the register into a permanently-null slot and the scoped updater
// into a shared no-op.
const tracingEnabled = true
