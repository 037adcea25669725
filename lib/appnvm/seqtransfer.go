// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvm

import (
	"context"
	"fmt"

	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

type TransDir uint8

const (
	TransFromNVM TransDir = iota
	TransToNVM
)

func (d TransDir) String() string {
	switch d {
	case TransFromNVM:
		return "from-nvm"
	case TransToNVM:
		return "to-nvm"
	default:
		return fmt.Sprintf("TransDir(%d)", uint8(d))
	}
}

// SeqTransfer moves a table of entLeft fixed-size entries between
// userBuf and pgs consecutive multi-plane pages starting at ppa.Pg.
//
// Each page holds entPerPg entries, split evenly over the planes.
// The last page may be partially filled; planes past the end of the
// table are left untouched.  The caller sizes pgs, entPerPg and
// entLeft consistently with the geometry.
func SeqTransfer(ctx context.Context, io *IOData, ppa nvm.PPA, userBuf []byte,
	pgs, entPerPg, entLeft, entrySz int, dir TransDir, typ IOType,
) error {
	if io == nil || io.Ch == nil {
		return fmt.Errorf("%w: nil I/O descriptor", ErrInvalid)
	}
	if dir != TransFromNVM && dir != TransToNVM {
		return fmt.Errorf("%w: %v", ErrInvalid, dir)
	}
	plCap := entPerPg / io.NPl
	startPg := ppa.Pg
	for i := 0; i < pgs; i++ {
		ppa.Pg = startPg + uint16(i)
		if dir == TransFromNVM {
			if err := PgIOSwitch(ctx, io.Ch, nvm.OpRead, io.PlVec, ppa, typ); err != nil {
				return err
			}
		}
		for pl := 0; pl < io.NPl; pl++ {
			n := min(entLeft, plCap) * entrySz
			off := (i*entPerPg + pl*plCap) * entrySz
			if off+n > len(userBuf) || n > len(io.PlVec[pl]) {
				return fmt.Errorf("%w: page %d plane %d: %d bytes at %d do not fit (table=%d, plane=%d)",
					ErrInvalid, i, pl, n, off, len(userBuf), len(io.PlVec[pl]))
			}
			if dir == TransToNVM {
				copy(io.PlVec[pl], userBuf[off:off+n])
			} else {
				copy(userBuf[off:off+n], io.PlVec[pl][:n])
			}
			entLeft = max(entLeft-plCap, 0)
			if entLeft == 0 {
				break
			}
		}
		if dir == TransToNVM {
			if err := PgIOSwitch(ctx, io.Ch, nvm.OpWrite, io.PlVec, ppa, typ); err != nil {
				return err
			}
		}
	}
	return nil
}
