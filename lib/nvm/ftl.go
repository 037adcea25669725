// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package nvm

import (
	"context"
	"fmt"

	"git.lukeshu.com/ox-ftl-ng/lib/fmtutil"
)

type Caps uint32

const (
	CapGetBBTbl Caps = 1 << iota
	CapSetBBTbl
	CapInitFn
	CapExitFn
)

var capNames = []string{
	"GET_BBTBL",
	"SET_BBTBL",
	"INIT_FN",
	"EXIT_FN",
}

func (c Caps) Has(req Caps) bool { return c&req == req }

func (c Caps) String() string {
	return fmtutil.BitfieldString(c, capNames, fmtutil.HexNone)
}

type BBTFormat uint8

const (
	BBTFormatByte BBTFormat = iota
	BBTFormatBit
)

func (f BBTFormat) String() string {
	switch f {
	case BBTFormatByte:
		return "byte"
	case BBTFormatBit:
		return "bit"
	default:
		return fmt.Sprintf("BBTFormat(%d)", uint8(f))
	}
}

// FnID selects a target for the FTL's generic init/exit extension
// point.
type FnID uint16

const (
	FnGlobal FnID = 0
)

type FTLInfo struct {
	ID        uint16    `json:"id"`
	Name      string    `json:"name"`
	NQueues   int       `json:"nq"`
	Caps      Caps      `json:"cap"`
	BBTFormat BBTFormat `json:"bbtbl_format"`
}

// FTL is the surface a flash translation layer exposes to the
// controller framework.
type FTL interface {
	Info() FTLInfo

	InitChannel(ctx context.Context, ch Channel) error
	Exit(ctx context.Context) error

	SubmitIO(ctx context.Context, cmd *IOCmd) error
	CallbackIO(cmd *MmgrCmd)

	GetBBTbl(ppa PPA, out []byte) error
	SetBBTbl(ctx context.Context, ppa PPA, value byte) error

	InitFn(ctx context.Context, id FnID, arg any) error
	ExitFn(ctx context.Context, id FnID) error
}
