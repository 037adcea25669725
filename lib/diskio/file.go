// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package diskio provides random-access files addressed by a typed
// offset.
package diskio

import (
	"errors"
	"fmt"
	"io"
)

// File is an image that is read and written at typed offsets.
type File[A ~int64] interface {
	Name() string
	Size() A
	Close() error
	Sync() error
	ReadAt(p []byte, off A) (n int, err error)
	WriteAt(p []byte, off A) (n int, err error)
}

type assertAddr int64

var (
	_ io.WriterAt = File[int64](nil)
	_ io.ReaderAt = File[int64](nil)
)

// ReadFull fills dat from off, treating a short read as an error.
func ReadFull[A ~int64](f File[A], dat []byte, off A) error {
	n, err := f.ReadAt(dat, off)
	if n == len(dat) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%s: read %d of %d bytes at %#x: %w", f.Name(), n, len(dat), int64(off), err)
}

// WriteFull writes all of dat at off, treating a short write as an
// error.
func WriteFull[A ~int64](f File[A], dat []byte, off A) error {
	n, err := f.WriteAt(dat, off)
	if err == nil && n < len(dat) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("%s: wrote %d of %d bytes at %#x: %w", f.Name(), n, len(dat), int64(off), err)
	}
	return nil
}
