// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fmtutil_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"git.lukeshu.com/ox-ftl-ng/lib/fmtutil"
)

type echoFormatter struct{}

func (echoFormatter) Format(f fmt.State, verb rune) {
	_, _ = fmt.Fprint(f, fmtutil.FmtStateString(f, verb))
}

func TestFmtStateString(t *testing.T) {
	t.Parallel()
	for _, directive := range []string{"%v", "%-8s", "%#x", "%08d", "%+.3v", "% 5q", "%.d"} {
		directive := directive
		t.Run(directive, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, directive, fmt.Sprintf(directive, echoFormatter{}))
		})
	}
}

func TestBitfieldString(t *testing.T) {
	t.Parallel()
	names := []string{"A", "B", "", "D"}
	assert.Equal(t, "none", fmtutil.BitfieldString(uint8(0), names, fmtutil.HexNone))
	assert.Equal(t, "A|D", fmtutil.BitfieldString(uint8(0b1001), names, fmtutil.HexNone))
	assert.Equal(t, "0x5(A|(1<<2))", fmtutil.BitfieldString(uint32(0b101), names, fmtutil.HexLower))
	assert.Equal(t, "0x2A(B|D|(1<<5))", fmtutil.BitfieldString(uint16(0x2a), names, fmtutil.HexUpper))
}
