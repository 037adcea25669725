// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"git.lukeshu.com/go/lowmemjson"
	"golang.org/x/exp/constraints"
)

func writeJSONFile(w io.Writer, obj any, cfg lowmemjson.ReEncoder) (err error) {
	buffer := bufio.NewWriter(w)
	defer func() {
		if _err := buffer.Flush(); err == nil && _err != nil {
			err = _err
		}
	}()
	cfg.Out = buffer
	return lowmemjson.Encode(&cfg, obj)
}

// parseUint parses a decimal, 0x-hex, or 0o-octal argument that must
// fit in T.
func parseUint[T constraints.Unsigned](name, arg string) (T, error) {
	var zero T
	n, err := strconv.ParseUint(arg, 0, 64)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	if uint64(T(n)) != n {
		return zero, fmt.Errorf("%s: %d is out of range", name, n)
	}
	return T(n), nil
}

// chunks calls fn for each run of at most size consecutive elements
// of n, passing the offset and the length of the run.
func chunks(n, size int, fn func(off, cnt int) error) error {
	for off := 0; off < n; off += size {
		if err := fn(off, min(size, n-off)); err != nil {
			return err
		}
	}
	return nil
}
