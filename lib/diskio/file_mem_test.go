// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ox-ftl-ng/lib/diskio"
)

func TestMemFileReadWrite(t *testing.T) {
	t.Parallel()
	f := diskio.NewMemFile[int64](t.Name(), 16)
	assert.Equal(t, int64(16), f.Size())

	n, err := f.WriteAt([]byte("hello"), 4)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = f.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))

	_, err = f.WriteAt([]byte("overflow"), 12)
	assert.Error(t, err)

	n, err = f.ReadAt(buf, 14)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMemFileSectionReader(t *testing.T) {
	t.Parallel()
	content := []byte("0123456789abcdef")
	f := diskio.NewMemFile[int64](t.Name(), int64(len(content)))
	_, err := f.WriteAt(content, 0)
	require.NoError(t, err)
	r := io.NewSectionReader(f, 0, f.Size())
	assert.NoError(t, iotest.TestReader(r, content))
	got, err := io.ReadAll(io.NewSectionReader(f, 10, 6))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content[10:], got))
}

func TestFull(t *testing.T) {
	t.Parallel()
	f := diskio.NewMemFile[int64]("mem", 8)
	require.NoError(t, diskio.WriteFull[int64](f, []byte("abcd"), 4))
	assert.Error(t, diskio.WriteFull[int64](f, []byte("abcd"), 6))

	buf := make([]byte, 4)
	require.NoError(t, diskio.ReadFull[int64](f, buf, 4))
	assert.Equal(t, "abcd", string(buf))
	err := diskio.ReadFull[int64](f, buf, 6)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.EqualError(t, err, "mem: read 2 of 4 bytes at 0x6: unexpected EOF")
}

func TestOSFile(t *testing.T) {
	t.Parallel()
	name := filepath.Join(t.TempDir(), "img")
	f, err := diskio.OpenOSFile[int64](name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 64)
	require.NoError(t, err)
	assert.Equal(t, int64(64), f.Size())
	require.NoError(t, diskio.WriteFull[int64](f, []byte("hi"), 62))
	require.NoError(t, f.Close())

	_, err = diskio.OpenOSFile[int64](name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 64)
	assert.ErrorIs(t, err, os.ErrExist)

	f, err = diskio.OpenOSFile[int64](name, os.O_RDONLY, 0)
	require.NoError(t, err)
	buf := make([]byte, 2)
	require.NoError(t, diskio.ReadFull[int64](f, buf, 62))
	assert.Equal(t, "hi", string(buf))
	require.NoError(t, f.Close())
}
