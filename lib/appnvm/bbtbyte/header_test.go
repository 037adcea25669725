// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bbtbyte

import (
	"testing"

	"github.com/OneOfOne/xxhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
)

func TestHeaderLayout(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 14, headerLen)

	tbl := []byte{0, 1, 0, 2}
	meta := make([]byte, 16)
	require.NoError(t, putHeader(meta, tbl))
	sum := xxhash.Checksum64(tbl)
	exp := []byte{
		appnvm.PageMagic, kindBBT,
		0, 0, 0, 4,
		byte(sum >> 56), byte(sum >> 48), byte(sum >> 40), byte(sum >> 32),
		byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum),
		0, 0,
	}
	assert.Equal(t, exp, meta)
	assert.NoError(t, checkHeader(meta, tbl))
}

func TestCheckHeader(t *testing.T) {
	t.Parallel()
	tbl := []byte{0, 1, 0, 2}
	type TestCase struct {
		Mangle func(meta []byte) []byte
		Tbl    []byte
		ErrStr string
	}
	testcases := map[string]TestCase{
		"magic": {
			Mangle: func(meta []byte) []byte {
				meta[0] = 0
				return meta
			},
			Tbl:    tbl,
			ErrStr: "bbtbyte: not a bad-block table page",
		},
		"length": {
			Tbl:    []byte{0, 1, 0},
			ErrStr: "bbtbyte: stored table is 4 bytes, want 3",
		},
		"checksum": {
			Tbl:    []byte{0, 1, 0, 1},
			ErrStr: "bbtbyte: checksum mismatch",
		},
		"short": {
			Mangle: func(meta []byte) []byte { return meta[:8] },
			Tbl:    tbl,
			ErrStr: "need at least 14 bytes",
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			meta := make([]byte, 16)
			require.NoError(t, putHeader(meta, tbl))
			if tc.Mangle != nil {
				meta = tc.Mangle(meta)
			}
			assert.ErrorContains(t, checkHeader(meta, tc.Tbl), tc.ErrStr)
		})
	}
}
