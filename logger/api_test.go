// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetTraceLoggingPackagesEnablesNamed(t *testing.T) {
	SetTraceLoggingPackages([]string{"deadlock", "heldlocks"})
	assert.True(t, traceEnabled("deadlock"))
	assert.True(t, traceEnabled("heldlocks"))
	assert.False(t, traceEnabled("shardtracer"))
}

func TestSetTraceLoggingPackagesNoneDisablesAll(t *testing.T) {
	SetTraceLoggingPackages([]string{"deadlock"})
	SetTraceLoggingPackages([]string{"none"})
	assert.False(t, traceLevelEnabled)
	assert.False(t, traceEnabled("deadlock"))
}

func TestTracefNoopsWhenDisabled(t *testing.T) {
	SetTraceLoggingPackages([]string{"none"})
	assert.NotPanics(t, func() {
		Tracef("should be a no-op: %v", fmt.Errorf("unused"))
	})
}

func TestCallerPackageAndFunc(t *testing.T) {
	pkg, fn := callerPackageAndFunc(1)
	assert.Equal(t, "logger", pkg)
	assert.Equal(t, "TestCallerPackageAndFunc", fn)
}
