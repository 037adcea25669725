// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvm

import (
	"context"
	"fmt"
	"sync"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

// Bad-block table entry values.
const (
	BlockGood byte = 0x00
	BlockBad  byte = 0x01
	// BlockReserved marks blocks the FTL keeps for its own
	// metadata.
	BlockReserved byte = 0x02
)

// BBTable is a channel's bad-block table: one byte per (lun, block,
// plane), indexed lun-major, then block, then plane.
type BBTable struct {
	geom *nvm.Geometry

	mu  sync.RWMutex
	tbl []byte
}

func NewBBTable(geom *nvm.Geometry) *BBTable {
	return &BBTable{
		geom: geom,
		tbl:  make([]byte, geom.BBTLen()),
	}
}

func (t *BBTable) Len() int { return len(t.tbl) }

// RowLen is the number of entries per LUN.
func (t *BBTable) RowLen() int { return t.geom.BlocksPerLUN * t.geom.PlanesPerBlock }

func (t *BBTable) Index(lun, blk, pl int) int {
	return lun*t.RowLen() + blk*t.geom.PlanesPerBlock + pl
}

func (t *BBTable) Get(lun, blk, pl int) byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tbl[t.Index(lun, blk, pl)]
}

// IsGood reports whether every plane of (lun, blk) is good.
func (t *BBTable) IsGood(lun, blk int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for pl := 0; pl < t.geom.PlanesPerBlock; pl++ {
		if t.tbl[t.Index(lun, blk, pl)] != BlockGood {
			return false
		}
	}
	return true
}

// set stores v at idx and reports whether the stored value changed.
func (t *BBTable) set(idx int, v byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tbl[idx] == v {
		return false
	}
	t.tbl[idx] = v
	return true
}

// Bytes returns a copy of the whole table.
func (t *BBTable) Bytes() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]byte(nil), t.tbl...)
}

// Load replaces the whole table.
func (t *BBTable) Load(dat []byte) error {
	if len(dat) != len(t.tbl) {
		return fmt.Errorf("%w: bad-block table is %d bytes, want %d", ErrInvalid, len(dat), len(t.tbl))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	copy(t.tbl, dat)
	return nil
}

func (f *FTL) bbtChannel(ppa nvm.PPA) (*Channel, error) {
	lch, ok := f.reg.Channels.Get(uint16(ppa.Ch))
	if !ok || lch.BBT == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoChannel, ppa.Ch)
	}
	if int(ppa.LUN) >= lch.Geometry().LUNsPerChannel {
		return nil, fmt.Errorf("%w: lun %d", ErrBounds, ppa.LUN)
	}
	return lch, nil
}

// GetBBTbl copies the bad-block row of ppa's LUN into out, which
// must be exactly one row (BlocksPerLUN*PlanesPerBlock) long.
func (f *FTL) GetBBTbl(ppa nvm.PPA, out []byte) error {
	if out == nil {
		return fmt.Errorf("%w: nil bad-block buffer", ErrInvalid)
	}
	lch, err := f.bbtChannel(ppa)
	if err != nil {
		return err
	}
	row := lch.BBT.RowLen()
	if len(out) != row {
		return fmt.Errorf("%w: bad-block buffer is %d bytes, want %d", ErrInvalid, len(out), row)
	}
	base := int(ppa.LUN) * row
	lch.BBT.mu.RLock()
	defer lch.BBT.mu.RUnlock()
	copy(out, lch.BBT.tbl[base:base+row])
	return nil
}

// SetBBTbl stores value for (ppa.LUN, ppa.Blk, ppa.Pl).  If that
// changes the table, the table is flushed; a failed flush is logged
// and the in-memory table stays authoritative.
func (f *FTL) SetBBTbl(ctx context.Context, ppa nvm.PPA, value byte) error {
	lch, err := f.bbtChannel(ppa)
	if err != nil {
		return err
	}
	npl := lch.Geometry().PlanesPerBlock
	row := lch.BBT.RowLen()
	off := int(ppa.Blk)*npl + int(ppa.Pl)
	// The plane is checked on its own too; otherwise Pl=npl would
	// alias the next block's plane 0.
	if off > row-1 || int(ppa.Pl) >= npl {
		return fmt.Errorf("%w: blk %d pl %d", ErrBounds, ppa.Blk, ppa.Pl)
	}
	if !lch.BBT.set(int(ppa.LUN)*row+off, value) {
		return nil
	}
	if f.reg.BBT == nil {
		return nil
	}
	if err := f.reg.BBT.Flush(ctx, lch); err != nil {
		dlog.Warnf(dlog.WithField(ctx, "appnvm.ch", lch.ID()), "error flushing bad-block table: %v", err)
	}
	return nil
}
