// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vertex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewZeroAddressIsNull(t *testing.T) {
	v := New(0, Task, "any_task", "")
	assert.True(t, v.IsNull())
	assert.Equal(t, NullVertex, v)
}

func TestEqualIgnoresConcreteType(t *testing.T) {
	a := New(0x1000, Task, "task<foo>", `{"n":1}`)
	b := New(0x1000, Task, "task<bar>", "")
	assert.True(t, a.Equal(b))
}

func TestEqualDiffersByBaseType(t *testing.T) {
	a := New(0x1000, Task, "", "")
	b := New(0x1000, Promise, "", "")
	assert.False(t, a.Equal(b))
}

func TestPtr(t *testing.T) {
	v := New(0xdeadbeef, Promise, "", "")
	assert.Equal(t, uint64(0xdeadbeef), v.Ptr())
}
