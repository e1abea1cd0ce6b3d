// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package heldlocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLockLevelInheritsTimestamp(t *testing.T) {
	root := NewLockLevel(nil)
	root.AddLock(MutexKey(1))

	child := NewLockLevel(root)
	assert.Equal(t, root.Timestamp(), child.Timestamp())
	assert.Same(t, root, child.Parent())
}

func TestAddAndRemoveLock(t *testing.T) {
	c := NewLockLevel(nil)
	c.AddLock(MutexKey(0x1000))
	assert.True(t, c.Owns(MutexKey(0x1000)))

	c.RemoveLock(MutexKey(0x1000))
	assert.False(t, c.Owns(MutexKey(0x1000)))
}

func TestRemoveLockRecursesToParent(t *testing.T) {
	root := NewLockLevel(nil)
	root.AddLock(MutexKey(0x1000))

	child := NewLockLevel(root)
	assert.False(t, child.Owns(MutexKey(0x1000)))

	child.RemoveLock(MutexKey(0x1000))
	assert.False(t, root.Owns(MutexKey(0x1000)))
}

func TestRemoveLockUnknownWarnsNotFatal(t *testing.T) {
	c := NewLockLevel(nil)
	assert.NotPanics(t, func() {
		c.RemoveLock(MutexKey(0xdead))
	})
}

func TestChooseNewerLocksPicksLargerTimestamp(t *testing.T) {
	a := NewLockLevel(nil)
	a.AddLock(MutexKey(1))

	b := NewLockLevel(nil)
	b.AddLock(MutexKey(2))
	b.AddLock(MutexKey(3))

	assert.Same(t, b, ChooseNewerLocks(a, b))
	assert.Same(t, a, ChooseNewerLocks(a, nil))
	assert.Same(t, b, ChooseNewerLocks(nil, b))
	assert.Nil(t, ChooseNewerLocks(nil, nil))
}

func TestDestroyWarnsWhenNonEmpty(t *testing.T) {
	c := NewLockLevel(nil)
	c.AddLock(MutexKey(1))
	assert.NotPanics(t, func() {
		c.Destroy()
	})
}

func TestNilChainOperationsAreSafe(t *testing.T) {
	var c *Chain
	assert.NotPanics(t, func() {
		c.AddLock(MutexKey(1))
		c.RemoveLock(MutexKey(1))
		c.Destroy()
	})
	assert.False(t, c.Owns(MutexKey(1)))
	assert.Empty(t, c.OwnedLocks())
	assert.Nil(t, c.Parent())
	assert.Zero(t, c.Timestamp())
}

func TestAddLockDuplicatePanics(t *testing.T) {
	c := NewLockLevel(nil)
	c.AddLock(MutexKey(1))
	assert.Panics(t, func() {
		c.AddLock(MutexKey(1))
	})
}
