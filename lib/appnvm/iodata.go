// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvm

import (
	"fmt"

	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

// maxIOBuf bounds the size of one descriptor's buffer.
const maxIOBuf = 1 << 30

// IOData describes one multi-plane page held in a single flat
// buffer.  The buffer is plane-major; within a plane the sector data
// comes first and the per-sector metadata follows it:
//
//	| pl0: sec0 .. secN | oob0 .. oobN | pl1: sec0 .. secN | oob0 .. oobN | ...
//
// Every vector below is a view into Buf; none of them copy.
type IOData struct {
	Ch *Channel

	Buf    []byte
	NPl    int
	PgSz   int
	MetaSz int

	// PlVec[p] is plane p's data-plus-metadata slot, which is
	// what gets handed to the medium.
	PlVec [][]byte
	// MetaVec[p] is plane p's whole metadata region.
	MetaVec [][]byte
	// OOBVec[p*spp+s] is the metadata of sector s of plane p.
	OOBVec [][]byte
	// SecVec[p][s] is sector s of plane p.  SecVec[p] has one
	// extra element, SecVec[p][spp], which is plane p's metadata
	// region, so that code iterating sector slots can treat the
	// metadata as one more slot.
	SecVec [][][]byte
}

// AllocPgIO builds a zeroed descriptor for one multi-plane page of
// lch.  On failure nothing is returned.
func AllocPgIO(lch *Channel) (*IOData, error) {
	if lch == nil {
		return nil, fmt.Errorf("%w: nil channel", ErrAlloc)
	}
	geom := lch.Geometry()
	if geom == nil {
		return nil, fmt.Errorf("%w: channel has no geometry", ErrAlloc)
	}
	if err := geom.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAlloc, err)
	}
	size := (geom.PageSize() + geom.MetaSize()) * geom.PlanesPerBlock
	if size > maxIOBuf {
		return nil, fmt.Errorf("%w: %d-byte page buffer exceeds %d", ErrAlloc, size, maxIOBuf)
	}
	io := layoutPgIO(make([]byte, size), geom)
	io.Ch = lch
	return io, nil
}

func layoutPgIO(buf []byte, geom *nvm.Geometry) *IOData {
	var (
		npl   = geom.PlanesPerBlock
		spp   = geom.SectorsPerPage
		secSz = geom.SectorSize
		oobSz = geom.SectorOOBSize
		pgSz  = geom.PageSize()
		mdSz  = geom.MetaSize()
		slot  = pgSz + mdSz
	)
	io := &IOData{
		Buf:     buf,
		NPl:     npl,
		PgSz:    pgSz,
		MetaSz:  mdSz,
		PlVec:   make([][]byte, npl),
		MetaVec: make([][]byte, npl),
		OOBVec:  make([][]byte, npl*spp),
		SecVec:  make([][][]byte, npl),
	}
	for pl := 0; pl < npl; pl++ {
		base := pl * slot
		io.PlVec[pl] = buf[base : base+slot : base+slot]
		io.MetaVec[pl] = buf[base+pgSz : base+slot : base+slot]
		io.SecVec[pl] = make([][]byte, spp+1)
		for sec := 0; sec < spp; sec++ {
			beg := base + sec*secSz
			io.SecVec[pl][sec] = buf[beg : beg+secSz : beg+secSz]
			beg = base + pgSz + sec*oobSz
			io.OOBVec[pl*spp+sec] = buf[beg : beg+oobSz : beg+oobSz]
		}
		io.SecVec[pl][spp] = io.MetaVec[pl]
	}
	return io
}

// Reset zeroes the buffer.
func (io *IOData) Reset() {
	clear(io.Buf)
}

// Free releases the buffer.  The descriptor must not be used
// afterwards.
func (io *IOData) Free() {
	if io == nil {
		return
	}
	io.Ch = nil
	io.Buf = nil
	io.PlVec = nil
	io.MetaVec = nil
	io.OOBVec = nil
	io.SecVec = nil
}
