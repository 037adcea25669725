// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package glmap_test

import (
	"context"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/channels"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/glmap"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/glprov"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/lbaio"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/ppaio"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm/nvmfile"
)

// 64-byte multi-plane pages hold 8 entries; 4 pages make a 32-entry
// segment; 2 channels with 2 map blocks each hold 128 LBAs.
var geom = nvm.Geometry{
	LUNsPerChannel: 1,
	BlocksPerLUN:   4,
	PagesPerBlock:  4,
	PlanesPerBlock: 2,
	SectorsPerPage: 2,
	SectorSize:     16,
	SectorOOBSize:  8,
}

func setup(t *testing.T) (context.Context, *nvmfile.Medium, *appnvm.FTL) {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	medium, err := nvmfile.NewMemory(ctx, geom, 2)
	require.NoError(t, err)
	reg := &appnvm.Registry{}
	reg.Channels = channels.New(reg)
	ftl := appnvm.New(reg)
	for i := 0; i < medium.NumChannels(); i++ {
		require.NoError(t, ftl.InitChannel(ctx, medium.Channel(i)))
	}
	return ctx, medium, ftl
}

func TestReadUpsert(t *testing.T) {
	t.Parallel()
	ctx, _, ftl := setup(t)
	m := glmap.New(ftl, glmap.Config{RsvBlocks: 3})
	require.NoError(t, m.Init(ctx))
	assert.Equal(t, uint64(128), m.NLBAs())

	for _, lba := range []uint64{0, 31, 32, 127} {
		ppa, err := m.Read(ctx, lba)
		require.NoError(t, err)
		assert.Equal(t, nvm.PPAUnmapped, ppa, "lba %d", lba)
	}

	want := nvm.PPA{Ch: 1, LUN: 0, Blk: 3, Pl: 1, Pg: 2, Sec: 1}.Pack()
	require.NoError(t, m.Upsert(ctx, 33, want))
	got, err := m.Read(ctx, 33)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	got, err = m.Read(ctx, 34)
	require.NoError(t, err)
	assert.Equal(t, nvm.PPAUnmapped, got)

	_, err = m.Read(ctx, 128)
	assert.ErrorIs(t, err, appnvm.ErrBounds)
	assert.ErrorIs(t, m.Upsert(ctx, 128, 0), appnvm.ErrBounds)
	m.Exit(ctx)
}

func TestEviction(t *testing.T) {
	t.Parallel()
	ctx, medium, ftl := setup(t)
	m := glmap.New(ftl, glmap.Config{RsvBlocks: 3, CacheSegments: 1})
	require.NoError(t, m.Init(ctx))

	require.NoError(t, m.Upsert(ctx, 5, 500))
	erases := medium.Stats().Erases
	// Segment 1 pushes the dirty segment 0 out.
	require.NoError(t, m.Upsert(ctx, 40, 4000))
	assert.Equal(t, erases+int64(geom.PlanesPerBlock), medium.Stats().Erases)

	got, err := m.Read(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got)
	got, err = m.Read(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, uint64(4000), got)

	// Clean segments are dropped without a write-back.
	erases = medium.Stats().Erases
	_, err = m.Read(ctx, 70)
	require.NoError(t, err)
	_, err = m.Read(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, erases, medium.Stats().Erases)
	m.Exit(ctx)
}

func TestPersistence(t *testing.T) {
	t.Parallel()
	ctx, _, ftl := setup(t)
	cfg := glmap.Config{RsvBlocks: 3, NLBAs: 100}

	m := glmap.New(ftl, cfg)
	require.NoError(t, m.Init(ctx))
	for lba := uint64(0); lba < 100; lba += 7 {
		require.NoError(t, m.Upsert(ctx, lba, lba*3))
	}
	m.Exit(ctx)

	m = glmap.New(ftl, cfg)
	require.NoError(t, m.Init(ctx))
	for lba := uint64(0); lba < 100; lba++ {
		got, err := m.Read(ctx, lba)
		require.NoError(t, err)
		if lba%7 == 0 {
			assert.Equal(t, lba*3, got, "lba %d", lba)
		} else {
			assert.Equal(t, nvm.PPAUnmapped, got, "lba %d", lba)
		}
	}
	m.Exit(ctx)
}

func TestFlushWriteBackFailure(t *testing.T) {
	t.Parallel()
	ctx, medium, ftl := setup(t)
	m := glmap.New(ftl, glmap.Config{RsvBlocks: 3})
	require.NoError(t, m.Init(ctx))
	require.NoError(t, m.Upsert(ctx, 1, 10))

	medium.SetFailFunc(func(_ uint16, _ *nvm.MmgrCmd, op nvm.Opcode) error {
		if op == nvm.OpErase {
			return assert.AnError
		}
		return nil
	})
	assert.ErrorIs(t, m.Flush(ctx), assert.AnError)

	// Still dirty, so the next flush retries.
	medium.SetFailFunc(nil)
	require.NoError(t, m.Flush(ctx))
	m.Exit(ctx)
}

func TestInitErrors(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Cfg    glmap.Config
		ErrStr string
	}
	testcases := map[string]TestCase{
		"no-map-blocks": {
			Cfg:    glmap.Config{RsvBlocks: 1},
			ErrStr: "glmap: need between 2 and 4 reserved blocks, have 1",
		},
		"too-many-lbas": {
			Cfg:    glmap.Config{RsvBlocks: 2, NLBAs: 65},
			ErrStr: "glmap: 65 LBAs do not fit in 1 reserved block(s) per channel (max 64)",
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			ctx, _, ftl := setup(t)
			m := glmap.New(ftl, tc.Cfg)
			assert.EqualError(t, m.Init(ctx), tc.ErrStr)
			_, err := m.Read(ctx, 0)
			assert.Error(t, err)
		})
	}
}

func TestWriteBackTakesGCMappingLock(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	g := geom
	g.BlocksPerLUN = 8
	g.SectorOOBSize = 16
	medium, err := nvmfile.NewMemory(ctx, g, 2)
	require.NoError(t, err)

	reg := &appnvm.Registry{}
	ftl := appnvm.New(reg)
	reg.Channels = channels.New(reg)
	reg.GlProv = glprov.New(ftl, 3)
	m := glmap.New(ftl, glmap.Config{RsvBlocks: 3})
	reg.GlMap = m
	reg.PPAIO = ppaio.New(ftl)
	reg.LBAIO = lbaio.New(ftl, 0)
	for i := 0; i < medium.NumChannels(); i++ {
		require.NoError(t, ftl.InitChannel(ctx, medium.Channel(i)))
	}
	require.NoError(t, ftl.InitFn(ctx, nvm.FnGlobal, nil))
	t.Cleanup(func() {
		assert.NoError(t, ftl.ExitFn(ctx, nvm.FnGlobal))
		assert.NoError(t, ftl.Exit(ctx))
	})

	mu := reg.GCMappingLock()
	require.NotNil(t, mu)
	require.NoError(t, m.Upsert(ctx, 5, 500))
	erases := medium.Stats().Erases

	mu.Lock()
	done := make(chan error, 1)
	go func() { done <- m.Flush(ctx) }()
	select {
	case err := <-done:
		mu.Unlock()
		t.Fatalf("flush finished while the GC mapping lock was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, erases, medium.Stats().Erases)
	mu.Unlock()

	require.NoError(t, <-done)
	assert.Equal(t, erases+int64(g.PlanesPerBlock), medium.Stats().Erases)

	// Clean segments need no write-back, so no lock.
	mu.Lock()
	assert.NoError(t, m.Flush(ctx))
	mu.Unlock()
}
