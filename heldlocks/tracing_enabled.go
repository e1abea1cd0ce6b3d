//go:build !shardtrace_notrace

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package heldlocks

// tracingEnabled is flipped off by the shardtrace_notrace build tag:
// NewLockLevel then returns nil and every Chain method tolerates a nil
// receiver, so the whole chain bookkeeping disappears from call sites.
const tracingEnabled = true
