// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bbtbyte persists byte-per-block bad-block tables in a
// channel's reserved block 0.
//
// Every flush appends a complete copy of the table to the block.  A
// copy spans "stride" consecutive pages; each page of a copy carries
// a pageHeader in its plane-0 metadata.
//
// The newest copy is the one just before the first unmarked copy
// slot.  Once the block has no room left it is erased and the next
// copy goes to page 0.
package bbtbyte

import (
	"context"
	"fmt"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/binstruct"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

// Block is the reserved block that holds the table.
const Block uint16 = 0

const kindBBT = 0x01

type pageHeader struct {
	Magic binstruct.U8    `bin:"off=0x0, siz=0x1"` // appnvm.PageMagic
	Kind  binstruct.U8    `bin:"off=0x1, siz=0x1"` // kindBBT
	Len   binstruct.U32be `bin:"off=0x2, siz=0x4"` // table length
	Sum   binstruct.U64be `bin:"off=0x6, siz=0x8"` // xxhash64 of the table

	binstruct.End `bin:"off=0xe"`
}

var headerLen = binstruct.StaticSize(pageHeader{})

type Persister struct {
	// mu serializes flushes, which do read-locate-write on the
	// reserved block.
	mu sync.Mutex
}

var _ appnvm.BBTPersister = (*Persister)(nil)

func New() *Persister {
	return &Persister{}
}

// Stride is the number of pages one copy of a table occupies.
func Stride(geom *nvm.Geometry) int {
	n := geom.BBTLen()
	pp := geom.PlanePageSize()
	return (n + pp - 1) / pp
}

func check(geom *nvm.Geometry) error {
	if geom.MetaSize() < headerLen {
		return fmt.Errorf("bbtbyte: %dB of page metadata cannot hold a %dB header", geom.MetaSize(), headerLen)
	}
	if Stride(geom) > geom.PagesPerBlock {
		return fmt.Errorf("bbtbyte: %d-byte table does not fit in one block", geom.BBTLen())
	}
	return nil
}

func putHeader(meta, tbl []byte) error {
	dat, err := binstruct.Marshal(pageHeader{
		Magic: binstruct.U8(appnvm.PageMagic),
		Kind:  kindBBT,
		Len:   binstruct.U32be(len(tbl)),
		Sum:   binstruct.U64be(xxhash.Checksum64(tbl)),
	})
	if err != nil {
		return fmt.Errorf("bbtbyte: %w", err)
	}
	copy(meta, dat)
	return nil
}

func checkHeader(meta, tbl []byte) error {
	var hdr pageHeader
	if _, err := binstruct.Unmarshal(meta, &hdr); err != nil {
		return fmt.Errorf("bbtbyte: %w", err)
	}
	if byte(hdr.Magic) != appnvm.PageMagic || hdr.Kind != kindBBT {
		return fmt.Errorf("bbtbyte: not a bad-block table page (magic=%#02x kind=%#02x)", hdr.Magic, hdr.Kind)
	}
	if int(hdr.Len) != len(tbl) {
		return fmt.Errorf("bbtbyte: stored table is %d bytes, want %d", hdr.Len, len(tbl))
	}
	if sum := xxhash.Checksum64(tbl); sum != uint64(hdr.Sum) {
		return fmt.Errorf("bbtbyte: checksum mismatch: %#016x != %#016x", sum, uint64(hdr.Sum))
	}
	return nil
}

// Load reads the newest stored copy into lch.BBT.  If the block holds
// no copy, or the newest copy does not verify, the table is left
// all-good.
func (p *Persister) Load(ctx context.Context, lch *appnvm.Channel) error {
	geom := lch.Geometry()
	if err := check(geom); err != nil {
		return err
	}
	io, err := appnvm.AllocPgIO(lch)
	if err != nil {
		return err
	}
	defer io.Free()

	stride := Stride(geom)
	cur, err := appnvm.BlkCurrentPage(ctx, lch, io, Block, stride)
	if err != nil {
		return err
	}
	if cur == 0 {
		dlog.Infof(ctx, "no bad-block table stored, starting with an all-good table")
		return nil
	}
	pg := cur - stride
	tbl := make([]byte, lch.BBT.Len())
	if err := appnvm.SeqTransfer(ctx, io, nvm.PPA{Blk: Block, Pg: uint16(pg)}, tbl,
		stride, geom.PlanePageSize(), len(tbl), 1, appnvm.TransFromNVM, appnvm.IOReserved); err != nil {
		return err
	}
	if err := checkHeader(io.MetaVec[0], tbl); err != nil {
		dlog.Warnf(ctx, "bad-block table at page %d: %v; starting with an all-good table", pg, err)
		return nil
	}
	dlog.Debugf(ctx, "bad-block table loaded from page %d", pg)
	return lch.BBT.Load(tbl)
}

func (p *Persister) Flush(ctx context.Context, lch *appnvm.Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	geom := lch.Geometry()
	if err := check(geom); err != nil {
		return err
	}
	io, err := appnvm.AllocPgIO(lch)
	if err != nil {
		return err
	}
	defer io.Free()

	stride := Stride(geom)
	cur, err := appnvm.BlkCurrentPage(ctx, lch, io, Block, stride)
	if err != nil {
		return err
	}
	if cur >= geom.PagesPerBlock-stride {
		if err := appnvm.IORsvBlk(ctx, lch, nvm.OpErase, nil, Block, 0); err != nil {
			return err
		}
		cur = 0
	}

	tbl := lch.BBT.Bytes()
	io.Reset()
	if err := putHeader(io.MetaVec[0], tbl); err != nil {
		return err
	}
	if err := appnvm.SeqTransfer(ctx, io, nvm.PPA{Blk: Block, Pg: uint16(cur)}, tbl,
		stride, geom.PlanePageSize(), len(tbl), 1, appnvm.TransToNVM, appnvm.IOReserved); err != nil {
		return err
	}
	dlog.Debugf(ctx, "bad-block table flushed to page %d", cur)
	return nil
}
