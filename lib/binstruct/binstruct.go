// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package binstruct marshals fixed-layout structs to and from bytes.
//
// Each field of a struct carries a `bin:"off=…,siz=…"` tag giving its
// offset and size; the offsets must be contiguous, and the struct
// ends with a binstruct.End field marking its total size.  Plain Go
// unsigned integers are little-endian; use the binint types (also
// aliased here) to pick a byte order explicitly.
package binstruct

import (
	"reflect"

	"git.lukeshu.com/ox-ftl-ng/lib/binstruct/binint"
)

type (
	U8    = binint.U8
	U16le = binint.U16le
	U32le = binint.U32le
	U64le = binint.U64le
	U16be = binint.U16be
	U32be = binint.U32be
	U64be = binint.U64be
)

var intKind2Type = map[reflect.Kind]reflect.Type{
	reflect.Uint8:  reflect.TypeOf(U8(0)),
	reflect.Uint16: reflect.TypeOf(U16le(0)),
	reflect.Uint32: reflect.TypeOf(U32le(0)),
	reflect.Uint64: reflect.TypeOf(U64le(0)),
}
