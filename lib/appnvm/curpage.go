// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvm

import (
	"context"
	"fmt"

	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

// PageMagic marks a committed page in a reserved block.  It is
// stored in the first metadata byte of plane 0.
const PageMagic byte = 0x3C

// SetPageMagic stamps io as a committed page.
func SetPageMagic(io *IOData) {
	io.MetaVec[0][0] = PageMagic
}

func hasPageMagic(io *IOData) bool {
	return io.MetaVec[0][0] == PageMagic
}

// BlkCurrentPage scans reserved block blk at pages 0, stride,
// 2*stride, ... and returns the first page that does not carry
// PageMagic, which is the next free slot for a stride-sized record.
// The scan stops once the offset reaches PagesPerBlock-stride, and
// that offset is returned without being read.
//
// If io is nil, a descriptor is allocated for the duration of the
// call.  A failed read ends the scan with ErrNotFound.
func BlkCurrentPage(ctx context.Context, lch *Channel, io *IOData, blk uint16, stride int) (int, error) {
	if stride <= 0 {
		return 0, fmt.Errorf("%w: stride=%d", ErrInvalid, stride)
	}
	if io == nil {
		var err error
		io, err = AllocPgIO(lch)
		if err != nil {
			return 0, err
		}
		defer io.Free()
	}
	pgPerBlk := lch.Geometry().PagesPerBlock
	pg := 0
	for {
		io.Reset()
		if err := IORsvBlk(ctx, lch, nvm.OpRead, io.PlVec, blk, uint16(pg)); err != nil {
			return 0, fmt.Errorf("%w: blk %d page %d: %w", ErrNotFound, blk, pg, err)
		}
		if !hasPageMagic(io) {
			break
		}
		pg += stride
		if pg >= pgPerBlk-stride {
			break
		}
	}
	return pg, nil
}
