// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/lbaio"
)

func TestParseUint(t *testing.T) {
	t.Parallel()
	n, err := parseUint[uint8]("x", "0x10")
	require.NoError(t, err)
	assert.Equal(t, uint8(16), n)

	_, err = parseUint[uint8]("x", "256")
	assert.EqualError(t, err, "x: 256 is out of range")

	_, err = parseUint[uint16]("x", "-1")
	assert.Error(t, err)
}

func TestReadSectors(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Input  string
		Output [][]byte
	}
	testcases := map[string]TestCase{
		"empty": {Input: "", Output: nil},
		"exact": {Input: "abcdefgh", Output: [][]byte{[]byte("abcd"), []byte("efgh")}},
		"short": {Input: "abcdef", Output: [][]byte{[]byte("abcd"), []byte("ef\x00\x00")}},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			out, err := readSectors(strings.NewReader(tc.Input), 4)
			require.NoError(t, err)
			assert.Equal(t, tc.Output, out)
		})
	}
}

func TestChunks(t *testing.T) {
	t.Parallel()
	var got [][2]int
	require.NoError(t, chunks(10, 4, func(off, cnt int) error {
		got = append(got, [2]int{off, cnt})
		return nil
	}))
	assert.Equal(t, [][2]int{{0, 4}, {4, 4}, {8, 2}}, got)
}

func TestParseRecord(t *testing.T) {
	t.Parallel()
	_, ok := parseRecord(bytes.Repeat([]byte{0xFF}, 16))
	assert.False(t, ok)

	oob := bytes.Repeat([]byte{0xFF}, 16)
	require.NoError(t, lbaio.PutOOB(oob, lbaio.OOBNamespace, 1234))
	rec, ok := parseRecord(oob)
	require.True(t, ok)
	assert.Equal(t, "data", rec.Kind)
	assert.Equal(t, uint64(1234), rec.LBA)

	require.NoError(t, lbaio.PutOOB(oob, lbaio.OOBPadding, 0))
	rec, ok = parseRecord(oob)
	require.True(t, ok)
	assert.Equal(t, "padding", rec.Kind)

	rec, ok = parseRecord([]byte{0xAA, 0x01, 0, 0, 0, 0, 0, 0, 0})
	require.True(t, ok)
	assert.Equal(t, "metadata", rec.Kind)

	rec, ok = parseRecord([]byte{0x01, 0x02})
	require.True(t, ok)
	assert.Equal(t, "metadata", rec.Kind)
}

func TestBlockState(t *testing.T) {
	t.Parallel()
	for _, arg := range []string{"good", "BAD", "0x02"} {
		v, err := parseBlockState(arg)
		require.NoError(t, err)
		assert.Equal(t, strings.ToLower(arg), blockState(v))
	}
}
