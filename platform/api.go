// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package platform supplies the direct-I/O file primitives the tracer's
// drain loop writes through: an O_DIRECT|O_SYNC open, positional DMA-style
// writes, truncate/flush, and a page-aligned buffer allocator.
package platform

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ChunkSize is the page size every direct-I/O write is aligned to.
const ChunkSize = 4096

// OpenDirect opens name with O_DIRECT|O_SYNC added to flag, for the
// tracer's one-file-per-thread output stream.
func OpenDirect(name string, flag int, perm os.FileMode) (file *os.File, err error) {
	modifiedFlag := flag
	modifiedFlag |= unix.O_DIRECT
	modifiedFlag |= unix.O_SYNC

	file, err = os.OpenFile(name, modifiedFlag, perm)

	return
}

// AlignedBuffer returns a byte slice of exactly size bytes whose backing
// array starts on a ChunkSize boundary, as O_DIRECT requires of the
// buffers passed to pwrite.
func AlignedBuffer(size int) []byte {
	if size == 0 {
		return nil
	}

	unaligned := make([]byte, size+ChunkSize-1)
	unalignedAddr := uintptr(unsafe.Pointer(&unaligned[0]))
	alignedAddr := (unalignedAddr + ChunkSize - 1) &^ (ChunkSize - 1)
	offset := alignedAddr - unalignedAddr

	return unaligned[offset : offset+uintptr(size)]
}

// DMAWrite writes buf (whose start and length must both be ChunkSize
// aligned) at offset. A short write is reported to the caller, who treats
// it as fatal.
func DMAWrite(file *os.File, offset int64, buf []byte) (n int, err error) {
	return file.WriteAt(buf, offset)
}

// Truncate implements the `truncate(len)` collaborator contract.
func Truncate(file *os.File, length int64) error {
	return file.Truncate(length)
}

// Flush implements the `flush()` collaborator contract.
func Flush(file *os.File) error {
	return file.Sync()
}
