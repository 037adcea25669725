// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

// Tunable marks a value as a knob that might want turning once there
// are real workloads to measure against.  It returns x unchanged.
func Tunable[T any](x T) T {
	return x
}
