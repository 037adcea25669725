// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvm

import (
	"context"
	"fmt"

	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

type IOType uint8

const (
	IONormal IOType = iota
	// IOReserved addresses the reserved metadata region, which
	// lives on LUN 0 of each channel.
	IOReserved
)

func (t IOType) String() string {
	switch t {
	case IONormal:
		return "normal"
	case IOReserved:
		return "reserved"
	default:
		return fmt.Sprintf("IOType(%d)", uint8(t))
	}
}

// PgIO runs op on every plane of the page at ppa, in plane order,
// stopping at the first failure.  plVec is ignored for erases.
func PgIO(ctx context.Context, lch *Channel, op nvm.Opcode, plVec [][]byte, ppa nvm.PPA) error {
	return planeIO(ctx, lch, op, plVec, ppa.LUN, ppa.Blk, ppa.Pg)
}

// IORsvBlk is PgIO for the reserved region.
//
// TODO: mirror reserved blocks across every LUN of the channel.
func IORsvBlk(ctx context.Context, lch *Channel, op nvm.Opcode, plVec [][]byte, blk, pg uint16) error {
	return planeIO(ctx, lch, op, plVec, 0, blk, pg)
}

func PgIOSwitch(ctx context.Context, lch *Channel, op nvm.Opcode, plVec [][]byte, ppa nvm.PPA, typ IOType) error {
	switch typ {
	case IONormal:
		return PgIO(ctx, lch, op, plVec, ppa)
	case IOReserved:
		return IORsvBlk(ctx, lch, op, plVec, ppa.Blk, ppa.Pg)
	default:
		return fmt.Errorf("%w: %v", ErrInvalid, typ)
	}
}

func planeIO(ctx context.Context, lch *Channel, op nvm.Opcode, plVec [][]byte, lun uint8, blk, pg uint16) error {
	npl := lch.Geometry().PlanesPerBlock
	if op != nvm.OpErase && len(plVec) < npl {
		return fmt.Errorf("%w: %v needs %d plane buffers, have %d", ErrInvalid, op, npl, len(plVec))
	}
	for pl := 0; pl < npl; pl++ {
		cmd := &nvm.MmgrCmd{
			PPA: nvm.PPA{
				Ch:  uint8(lch.ID()),
				LUN: lun,
				Blk: blk,
				Pl:  uint8(pl),
				Pg:  pg,
			},
		}
		var buf []byte
		if op != nvm.OpErase {
			buf = plVec[pl]
		}
		if err := lch.dev.SubmitSync(ctx, cmd, buf, op); err != nil {
			return &IOError{Op: op, PPA: cmd.PPA, Plane: pl, Err: err}
		}
	}
	return nil
}
