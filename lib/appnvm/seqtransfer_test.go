// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

func TestSeqTransferRoundTrip(t *testing.T) {
	t.Parallel()
	// testGeom: 2 planes of 128 data bytes each.
	type TestCase struct {
		EntrySz int
		Entries int
		Type    appnvm.IOType
	}
	testcases := map[string]TestCase{
		"full-pages":        {EntrySz: 8, Entries: 3 * 32, Type: appnvm.IOReserved},
		"partial-last-page": {EntrySz: 8, Entries: 70, Type: appnvm.IOReserved},
		"half-plane":        {EntrySz: 8, Entries: 40, Type: appnvm.IONormal},
		"single-entry":      {EntrySz: 8, Entries: 1, Type: appnvm.IONormal},
		"byte-entries":      {EntrySz: 1, Entries: 600, Type: appnvm.IOReserved},
		"whole-block":       {EntrySz: 4, Entries: 16 * 64, Type: appnvm.IOReserved},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			ctx, _, lch := newTestChannel(t)
			entPerPg := testGeom.PlanePageSize() / tc.EntrySz
			pgs := (tc.Entries + entPerPg - 1) / entPerPg

			table := make([]byte, tc.Entries*tc.EntrySz)
			for i := range table {
				table[i] = byte(i*13 + 5)
			}
			ppa := nvm.PPA{LUN: 1, Blk: 5, Pg: 0}

			wr, err := appnvm.AllocPgIO(lch)
			require.NoError(t, err)
			defer wr.Free()
			require.NoError(t, appnvm.SeqTransfer(ctx, wr, ppa, table, pgs, entPerPg, tc.Entries, tc.EntrySz,
				appnvm.TransToNVM, tc.Type))

			rd, err := appnvm.AllocPgIO(lch)
			require.NoError(t, err)
			defer rd.Free()
			out := make([]byte, len(table))
			require.NoError(t, appnvm.SeqTransfer(ctx, rd, ppa, out, pgs, entPerPg, tc.Entries, tc.EntrySz,
				appnvm.TransFromNVM, tc.Type))
			assert.Equal(t, table, out)
		})
	}
}

func TestSeqTransferStartPage(t *testing.T) {
	t.Parallel()
	ctx, medium, lch := newTestChannel(t)
	var pages []uint16
	medium.SetFailFunc(func(_ uint16, cmd *nvm.MmgrCmd, op nvm.Opcode) error {
		if op == nvm.OpWrite && cmd.PPA.Pl == 0 {
			pages = append(pages, cmd.PPA.Pg)
		}
		return nil
	})
	io, err := appnvm.AllocPgIO(lch)
	require.NoError(t, err)
	defer io.Free()
	table := make([]byte, 3*256)
	require.NoError(t, appnvm.SeqTransfer(ctx, io, nvm.PPA{Blk: 1, Pg: 4}, table, 3, 256, 3*256, 1,
		appnvm.TransToNVM, appnvm.IOReserved))
	assert.Equal(t, []uint16{4, 5, 6}, pages)
}

func TestSeqTransferReadFailure(t *testing.T) {
	t.Parallel()
	ctx, medium, lch := newTestChannel(t)
	errMedia := errors.New("uncorrectable")
	medium.SetFailFunc(func(_ uint16, cmd *nvm.MmgrCmd, op nvm.Opcode) error {
		if op == nvm.OpRead && cmd.PPA.Pg == 1 {
			return errMedia
		}
		return nil
	})
	io, err := appnvm.AllocPgIO(lch)
	require.NoError(t, err)
	defer io.Free()
	out := make([]byte, 3*32*8)
	err = appnvm.SeqTransfer(ctx, io, nvm.PPA{Blk: 2}, out, 3, 32, 3*32, 8, appnvm.TransFromNVM, appnvm.IOReserved)
	assert.ErrorIs(t, err, appnvm.ErrIO)
	assert.ErrorIs(t, err, errMedia)
}

func TestSeqTransferShortTable(t *testing.T) {
	t.Parallel()
	ctx, _, lch := newTestChannel(t)
	io, err := appnvm.AllocPgIO(lch)
	require.NoError(t, err)
	defer io.Free()
	err = appnvm.SeqTransfer(ctx, io, nvm.PPA{}, make([]byte, 10), 1, 32, 32, 8, appnvm.TransToNVM, appnvm.IONormal)
	assert.ErrorIs(t, err, appnvm.ErrInvalid)
}
