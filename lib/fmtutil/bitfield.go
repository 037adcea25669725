// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fmtutil

import (
	"fmt"
	"strings"
)

type BitfieldFormat uint8

const (
	HexNone = BitfieldFormat(iota)
	HexLower
	HexUpper
)

// BitfieldString renders a bitmask as "name|name|(1<<n)", optionally
// prefixed by its hex value.
func BitfieldString[T ~uint8 | ~uint16 | ~uint32 | ~uint64](bitfield T, bitnames []string, cfg BitfieldFormat) string {
	var names []string
	for i := 0; i < 64 && bitfield>>i != 0; i++ {
		if bitfield&(1<<i) == 0 {
			continue
		}
		if i < len(bitnames) && bitnames[i] != "" {
			names = append(names, bitnames[i])
		} else {
			names = append(names, fmt.Sprintf("(1<<%d)", i))
		}
	}
	body := "none"
	if len(names) > 0 {
		body = strings.Join(names, "|")
	}
	switch cfg {
	case HexLower:
		return fmt.Sprintf("0x%x(%s)", uint64(bitfield), body)
	case HexUpper:
		return fmt.Sprintf("0x%X(%s)", uint64(bitfield), body)
	default:
		return body
	}
}
