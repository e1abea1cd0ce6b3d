//go:build shardtrace_notrace

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package traceevent

const tracingEnabled = false
