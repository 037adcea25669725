// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package textui implements utilities for emitting human-friendly
// text on stdout and stderr.
package textui

import (
	"fmt"
	"io"

	"golang.org/x/exp/constraints"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"git.lukeshu.com/ox-ftl-ng/lib/fmtutil"
)

var printer = message.NewPrinter(language.English)

// Fprintf is like `fmt.Fprintf`, but includes the extensions of
// `golang.org/x/text/message.Printer` (digit grouping and the like).
// Use it for output that is part of the UI.
func Fprintf(w io.Writer, key string, a ...any) (n int, err error) {
	return printer.Fprintf(w, key, a...)
}

// Sprintf is to Fprintf as `fmt.Sprintf` is to `fmt.Fprintf`.
func Sprintf(key string, a ...any) string {
	return printer.Sprintf(key, a...)
}

// Humanized wraps a value so that plain `fmt` formatting of it gets
// the `message.Printer` extensions.
func Humanized(x any) any {
	return humanized{val: x}
}

type humanized struct {
	val any
}

var (
	_ fmt.Formatter = humanized{}
	_ fmt.Stringer  = humanized{}
)

// Format implements fmt.Formatter.
func (h humanized) Format(f fmt.State, verb rune) {
	_, _ = printer.Fprintf(f, fmtutil.FmtStateString(f, verb), h.val)
}

// String implements fmt.Stringer.
func (h humanized) String() string {
	return fmt.Sprint(h)
}

// Portion renders a fraction N/D as a percentage followed by the
// exact fraction:
//
//	fmt.Sprint(Portion[int]{N: 1, D: 12345}) ⇒ "0% (1/12,345)"
type Portion[T constraints.Integer] struct {
	N, D T
}

var _ fmt.Stringer = Portion[int]{}

// String implements fmt.Stringer.
func (p Portion[T]) String() string {
	pct := uint64(100)
	if p.D > 0 {
		pct = (uint64(p.N) * 100) / uint64(p.D)
	}
	return printer.Sprintf("%d%% (%v/%v)", pct, uint64(p.N), uint64(p.D))
}

var iecPrefixes = []string{"", "Ki", "Mi", "Gi", "Ti", "Pi", "Ei"}

// IEC renders a byte count with a binary prefix, as in "1.5MiB".
// Counts below 1KiB are rendered exactly.
func IEC[T constraints.Integer](x T, unit string) string {
	val := float64(x)
	i := 0
	for ; (val >= 1024 || val <= -1024) && i < len(iecPrefixes)-1; i++ {
		val /= 1024
	}
	if i == 0 {
		return printer.Sprintf("%d%s", int64(x), unit)
	}
	return printer.Sprintf("%.1f%s%s", val, iecPrefixes[i], unit)
}
