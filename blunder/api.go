// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides error-handling wrappers on top of
// github.com/ansel1/merry so that callers can attach an errno-style value to
// a plain Go error without losing a stack trace.
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"
)

// FsError is an errno-like error classifier, mapping POSIX errno values
// onto Go errors.
type FsError int

const (
	NotPermError    FsError = FsError(int(unix.EPERM))
	InvalidArgError FsError = FsError(int(unix.EINVAL))
	TryAgainError   FsError = FsError(int(unix.EAGAIN))
	IOError         FsError = FsError(int(unix.EIO))
	NotFoundError   FsError = FsError(int(unix.ENOENT))
	DevBusyError    FsError = FsError(int(unix.EBUSY))
	// LockAlreadyUnlockedError has no direct POSIX errno; it classifies the
	// typed error a mutex raises when Signal is called while the mutex is
	// already open.
	LockAlreadyUnlockedError FsError = FsError(-1)
)

const successErrno = 0
const failureErrno = -1

func (err FsError) Value() int {
	return int(err)
}

// NewError creates a new merry-annotated error carrying errValue's errno.
func NewError(errValue FsError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue("errno", int(errValue))
}

// AddError attaches errValue's errno to an existing error, preserving (and
// extending) its stack trace.
func AddError(e error, errValue FsError) error {
	if e == nil {
		return merry.New("regular error").WithValue("errno", int(errValue))
	}
	return merry.WrapSkipping(e, 1).WithValue("errno", int(errValue))
}

// Errno extracts the errno previously attached by NewError/AddError.
func Errno(e error) int {
	if e == nil {
		return successErrno
	}
	if v := merry.Value(e, "errno"); v != nil {
		return v.(int)
	}
	return failureErrno
}

// Is reports whether e carries theError's errno.
func Is(e error, theError FsError) bool {
	return Errno(e) == theError.Value()
}

// LockAlreadyUnlocked is the typed error raised at the mutex API surface
// when Signal is called on a mutex that is already open.
func LockAlreadyUnlocked(lockID string) error {
	return NewError(LockAlreadyUnlockedError, "mutex %v: signal on an already-open mutex", lockID)
}
