// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"os"
)

// OSFile is a File backed by an *os.File.
type OSFile[A ~int64] struct {
	*os.File
}

var _ File[assertAddr] = (*OSFile[assertAddr])(nil)

// OpenOSFile is os.OpenFile for typed offsets.  With os.O_CREATE and
// a positive size, the file is also extended to size bytes.
func OpenOSFile[A ~int64](filename string, flag int, size A) (*OSFile[A], error) {
	fh, err := os.OpenFile(filename, flag, 0o644)
	if err != nil {
		return nil, err
	}
	if flag&os.O_CREATE != 0 && size > 0 {
		if err := fh.Truncate(int64(size)); err != nil {
			_ = fh.Close()
			return nil, err
		}
	}
	return &OSFile[A]{File: fh}, nil
}

// Size is sampled from the file system on every call.
func (f *OSFile[A]) Size() A {
	fi, err := f.Stat()
	if err != nil {
		return 0
	}
	return A(fi.Size())
}

func (f *OSFile[A]) ReadAt(dat []byte, off A) (int, error)  { return f.File.ReadAt(dat, int64(off)) }
func (f *OSFile[A]) WriteAt(dat []byte, off A) (int, error) { return f.File.WriteAt(dat, int64(off)) }
