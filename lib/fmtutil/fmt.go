// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fmtutil holds small helpers for implementing fmt.Formatter.
package fmtutil

import (
	"strconv"
	"strings"
)

// State is the subset of fmt.State that FmtStateString looks at.
type State interface {
	Width() (wid int, ok bool)
	Precision() (prec int, ok bool)
	Flag(c int) bool
}

// FmtStateString rebuilds the printf directive (such as "%-08x")
// that produced a given fmt.State and verb, so that a Formatter can
// hand the same directive on to an inner value.
func FmtStateString(st State, verb rune) string {
	var ret strings.Builder
	ret.WriteByte('%')
	for _, flag := range "-+# 0" {
		if st.Flag(int(flag)) {
			ret.WriteRune(flag)
		}
	}
	if width, ok := st.Width(); ok {
		ret.WriteString(strconv.Itoa(width))
	}
	if prec, ok := st.Precision(); ok {
		ret.WriteByte('.')
		if prec != 0 {
			ret.WriteString(strconv.Itoa(prec))
		}
	}
	ret.WriteRune(verb)
	return ret.String()
}
