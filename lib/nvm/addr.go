// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package nvm

import (
	"fmt"

	"git.lukeshu.com/ox-ftl-ng/lib/fmtutil"
)

// PPA is a physical page address.  Sec is only meaningful for
// sector-granular addressing (LBA mapping entries); page I/O ignores
// it.
type PPA struct {
	Ch  uint8
	LUN uint8
	Blk uint16
	Pl  uint8
	Pg  uint16
	Sec uint8
}

// Packed layout, least-significant first:
//
//	blk:16 pg:16 sec:8 pl:8 lun:8 ch:7 rsvd:1
const (
	ppaBlkBits = 16
	ppaPgBits  = 16
	ppaSecBits = 8
	ppaPlBits  = 8
	ppaLUNBits = 8
	ppaChBits  = 7

	ppaPgShift  = ppaBlkBits
	ppaSecShift = ppaPgShift + ppaPgBits
	ppaPlShift  = ppaSecShift + ppaSecBits
	ppaLUNShift = ppaPlShift + ppaPlBits
	ppaChShift  = ppaLUNShift + ppaLUNBits
)

// MaxChannels is the number of channel IDs a packed PPA can address;
// valid IDs are 0 through MaxChannels-1.
const MaxChannels = 1 << ppaChBits

// PPAUnmapped is the packed value of a table entry that does not
// point anywhere.  It is all-ones, which is also what erased flash
// reads back as.
const PPAUnmapped = ^uint64(0)

func mask(bits int) uint64 { return (1 << bits) - 1 }

func (a PPA) Pack() uint64 {
	return uint64(a.Blk) |
		uint64(a.Pg)<<ppaPgShift |
		uint64(a.Sec)<<ppaSecShift |
		uint64(a.Pl)<<ppaPlShift |
		uint64(a.LUN)<<ppaLUNShift |
		(uint64(a.Ch)&mask(ppaChBits))<<ppaChShift
}

func UnpackPPA(v uint64) PPA {
	return PPA{
		Blk: uint16(v & mask(ppaBlkBits)),
		Pg:  uint16((v >> ppaPgShift) & mask(ppaPgBits)),
		Sec: uint8((v >> ppaSecShift) & mask(ppaSecBits)),
		Pl:  uint8((v >> ppaPlShift) & mask(ppaPlBits)),
		LUN: uint8((v >> ppaLUNShift) & mask(ppaLUNBits)),
		Ch:  uint8((v >> ppaChShift) & mask(ppaChBits)),
	}
}

// SamePage reports whether a and b name the same multi-plane page
// (ignoring plane and sector).
func (a PPA) SamePage(b PPA) bool {
	return a.Ch == b.Ch && a.LUN == b.LUN && a.Blk == b.Blk && a.Pg == b.Pg
}

func (a PPA) String() string {
	return fmt.Sprintf("ch%d/lun%d/blk%d/pl%d/pg%d/sec%d", a.Ch, a.LUN, a.Blk, a.Pl, a.Pg, a.Sec)
}

func (a PPA) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v', 's', 'q':
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), a.String())
	default:
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), a.Pack())
	}
}
