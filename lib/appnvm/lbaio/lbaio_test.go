// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package lbaio_test

import (
	"bytes"
	"context"
	"sync"
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

// 4 sectors per multi-plane page; the map holds 128 LBAs.
var geom = nvm.Geometry{
	LUNsPerChannel: 2,
	BlocksPerLUN:   8,
	PagesPerBlock:  4,
	PlanesPerBlock: 2,
	SectorsPerPage: 2,
	SectorSize:     16,
	SectorOOBSize:  16,
}

const rsvBlocks = 3

func init() {
	// Keep each test command within one line.
	lbaio.EmptyWait = 20 * time.Millisecond
}

type stack struct {
	ctx    context.Context
	medium *nvmfile.Medium
	ftl    *appnvm.FTL
	lbaio  *lbaio.Submitter
}

// newStack brings up a 2-channel FTL.  If mapper is nil, the real
// mapping table is used.
func newStack(t *testing.T, mapper appnvm.Mapper) *stack {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	medium, err := nvmfile.NewMemory(ctx, geom, 2)
	require.NoError(t, err)

	reg := &appnvm.Registry{}
	ftl := appnvm.New(reg)
	reg.Channels = channels.New(reg)
	reg.GlProv = glprov.New(ftl, rsvBlocks)
	if mapper == nil {
		mapper = glmap.New(ftl, glmap.Config{RsvBlocks: rsvBlocks})
	}
	reg.GlMap = mapper
	reg.PPAIO = ppaio.New(ftl)
	lba := lbaio.New(ftl, 0)
	reg.LBAIO = lba

	for i := 0; i < medium.NumChannels(); i++ {
		require.NoError(t, ftl.InitChannel(ctx, medium.Channel(i)))
	}
	require.NoError(t, ftl.InitFn(ctx, nvm.FnGlobal, nil))
	t.Cleanup(func() {
		assert.NoError(t, ftl.ExitFn(ctx, nvm.FnGlobal))
		assert.NoError(t, ftl.Exit(ctx))
	})
	return &stack{ctx: ctx, medium: medium, ftl: ftl, lbaio: lba}
}

func sectors(n int, fill func(i int) byte) [][]byte {
	ret := make([][]byte, n)
	for i := range ret {
		if fill == nil {
			ret[i] = make([]byte, geom.SectorSize)
		} else {
			ret[i] = bytes.Repeat([]byte{fill(i)}, geom.SectorSize)
		}
	}
	return ret
}

func (s *stack) submit(op nvm.IOOp, slba uint64, data [][]byte) (*nvm.IOCmd, <-chan struct{}, error) {
	done := make(chan struct{})
	cmd := &nvm.IOCmd{
		Op:       op,
		SLBA:     slba,
		NSec:     len(data),
		Data:     data,
		Complete: func(*nvm.IOCmd) { close(done) },
	}
	return cmd, done, s.ftl.SubmitIO(s.ctx, cmd)
}

func (s *stack) do(t *testing.T, op nvm.IOOp, slba uint64, data [][]byte) error {
	t.Helper()
	cmd, done, err := s.submit(op, slba, data)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("%v did not complete", cmd)
	}
	return cmd.Err()
}

func TestWriteRead(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)

	data := sectors(10, func(i int) byte { return byte(i + 1) })
	require.NoError(t, s.do(t, nvm.IOWrite, 5, data))

	got := sectors(12, func(int) byte { return 0xEE })
	require.NoError(t, s.do(t, nvm.IORead, 4, got))
	assert.Equal(t, make([]byte, geom.SectorSize), got[0])
	assert.Equal(t, data, got[1:11])
	assert.Equal(t, make([]byte, geom.SectorSize), got[11])
}

func TestOverwrite(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	require.NoError(t, s.do(t, nvm.IOWrite, 0, sectors(1, func(int) byte { return 'A' })))
	require.NoError(t, s.do(t, nvm.IOWrite, 0, sectors(1, func(int) byte { return 'B' })))
	got := sectors(1, nil)
	require.NoError(t, s.do(t, nvm.IORead, 0, got))
	assert.Equal(t, sectors(1, func(int) byte { return 'B' }), got)
}

func TestMultipleLines(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	data := sectors(100, func(i int) byte { return byte(i) })
	require.NoError(t, s.do(t, nvm.IOWrite, 20, data))
	got := sectors(100, nil)
	require.NoError(t, s.do(t, nvm.IORead, 20, got))
	assert.Equal(t, data, got)
	assert.GreaterOrEqual(t, s.lbaio.Stats().Lines, int64(4))
}

func TestConcurrentCommands(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd, done, err := s.submit(nvm.IOWrite, uint64(c*8), sectors(8, func(int) byte { return byte(c) }))
			if !assert.NoError(t, err) {
				return
			}
			<-done
			assert.NoError(t, cmd.Err())
		}()
	}
	wg.Wait()
	got := sectors(64, nil)
	require.NoError(t, s.do(t, nvm.IORead, 0, got))
	for i, sec := range got {
		assert.Equal(t, byte(i/8), sec[0], "lba %d", i)
	}
}

func TestOOB(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	require.NoError(t, s.do(t, nvm.IOWrite, 7, sectors(1, func(int) byte { return 0x77 })))

	v, err := s.ftl.Registry().GlMap.Read(s.ctx, 7)
	require.NoError(t, err)
	ppa := nvm.UnpackPPA(v)

	// The whole page was written: the sector, then padding.
	var ppas []nvm.PPA
	for pl := 0; pl < geom.PlanesPerBlock; pl++ {
		for sec := 0; sec < geom.SectorsPerPage; sec++ {
			p := ppa
			p.Pl, p.Sec = uint8(pl), uint8(sec)
			ppas = append(ppas, p)
		}
	}
	oob := make([][]byte, len(ppas))
	for i := range oob {
		oob[i] = make([]byte, geom.SectorOOBSize)
	}
	require.NoError(t, s.ftl.Registry().PPAIO.Submit(s.ctx, &appnvm.PPACmd{
		Op:   nvm.OpRead,
		PPAs: ppas,
		Data: sectors(len(ppas), nil),
		OOB:  oob,
	}))
	for i, p := range ppas {
		typ, lba, err := lbaio.ParseOOB(oob[i])
		require.NoError(t, err)
		if p == ppa {
			assert.Equal(t, lbaio.OOBNamespace, typ)
			assert.Equal(t, uint64(7), lba)
		} else {
			assert.Equal(t, lbaio.OOBPadding, typ, "%v", p)
			assert.Equal(t, nvm.PPAUnmapped, lba, "%v", p)
		}
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	var mu sync.Mutex
	failures := 1
	s.medium.SetFailFunc(func(_ uint16, _ *nvm.MmgrCmd, op nvm.Opcode) error {
		mu.Lock()
		defer mu.Unlock()
		if op == nvm.OpWrite && failures > 0 {
			failures--
			return assert.AnError
		}
		return nil
	})
	data := sectors(3, func(i int) byte { return byte(0x30 + i) })
	require.NoError(t, s.do(t, nvm.IOWrite, 50, data))
	assert.Equal(t, int64(1), s.lbaio.Stats().Retries)

	got := sectors(3, nil)
	require.NoError(t, s.do(t, nvm.IORead, 50, got))
	assert.Equal(t, data, got)
}

func TestOutOfRange(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	err := s.do(t, nvm.IOWrite, 127, sectors(2, nil))
	assert.ErrorIs(t, err, appnvm.ErrBounds)
	assert.Equal(t, int64(0), s.lbaio.Stats().Retries)
	assert.Equal(t, int64(2), s.lbaio.Stats().Failed)

	// LBA 127 was rolled back along with the failed 128.
	v, err := s.ftl.Registry().GlMap.Read(s.ctx, 127)
	require.NoError(t, err)
	assert.Equal(t, nvm.PPAUnmapped, v)
}

// faultyMap is an in-memory mapping table that refuses one LBA.
type faultyMap struct {
	mu   sync.Mutex
	ents map[uint64]uint64
	bad  uint64
}

func (m *faultyMap) Init(context.Context) error {
	m.ents = make(map[uint64]uint64)
	return nil
}

func (m *faultyMap) Exit(context.Context) {}

func (m *faultyMap) Read(_ context.Context, lba uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.ents[lba]; ok {
		return v, nil
	}
	return nvm.PPAUnmapped, nil
}

func (m *faultyMap) Upsert(_ context.Context, lba, ppa uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lba == m.bad {
		return appnvm.ErrInvalid
	}
	m.ents[lba] = ppa
	return nil
}

func TestRollback(t *testing.T) {
	t.Parallel()
	m := &faultyMap{bad: 12}
	s := newStack(t, m)
	require.NoError(t, s.do(t, nvm.IOWrite, 10, sectors(1, nil)))
	before, err := m.Read(s.ctx, 10)
	require.NoError(t, err)

	err = s.do(t, nvm.IOWrite, 10, sectors(3, nil))
	assert.ErrorIs(t, err, appnvm.ErrInvalid)

	after, err := m.Read(s.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	v, err := m.Read(s.ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, nvm.PPAUnmapped, v)
}

func TestSubmitErrors(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	reg := &appnvm.Registry{}
	reg.Channels = channels.New(reg)
	sub := lbaio.New(appnvm.New(reg), 0)
	assert.ErrorIs(t, sub.Submit(ctx, &nvm.IOCmd{Op: nvm.IORead, NSec: 1, Data: sectors(1, nil)}), lbaio.ErrStopped)

	s := newStack(t, nil)
	type TestCase struct {
		Cmd *nvm.IOCmd
		Err error
	}
	testcases := map[string]TestCase{
		"no-sectors": {Cmd: &nvm.IOCmd{Op: nvm.IOWrite}, Err: appnvm.ErrInvalid},
		"short-buf":  {Cmd: &nvm.IOCmd{Op: nvm.IOWrite, NSec: 1, Data: [][]byte{make([]byte, 3)}}, Err: appnvm.ErrInvalid},
		"bad-op":     {Cmd: &nvm.IOCmd{Op: nvm.IOOp(9), NSec: 1, Data: sectors(1, nil)}, Err: appnvm.ErrInvalid},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			assert.ErrorIs(t, s.ftl.SubmitIO(s.ctx, tc.Cmd), tc.Err)
		})
	}

	for _, lch := range s.ftl.Registry().Channels.GetList() {
		lch.SetActive(false)
	}
	err := s.ftl.SubmitIO(s.ctx, &nvm.IOCmd{Op: nvm.IORead, NSec: 1, Data: sectors(1, nil)})
	assert.ErrorIs(t, err, appnvm.ErrNoChannel)
	for _, lch := range s.ftl.Registry().Channels.GetList() {
		lch.SetActive(true)
	}
}

func TestExitDrainsQueue(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	var wg sync.WaitGroup
	var errs [4]error
	for i := range errs {
		i := i
		wg.Add(1)
		cmd := &nvm.IOCmd{
			Op:   nvm.IOWrite,
			SLBA: uint64(i * 4),
			NSec: 4,
			Data: sectors(4, func(int) byte { return byte(i) }),
			Complete: func(cmd *nvm.IOCmd) {
				errs[i] = cmd.Err()
				wg.Done()
			},
		}
		require.NoError(t, s.ftl.SubmitIO(s.ctx, cmd))
	}
	s.lbaio.Exit(s.ctx)
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "cmd %d", i)
	}
	err := s.ftl.SubmitIO(s.ctx, &nvm.IOCmd{Op: nvm.IORead, NSec: 1, Data: sectors(1, nil)})
	assert.ErrorIs(t, err, lbaio.ErrStopped)
}

func TestOOBRecord(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 9, lbaio.OOBSize)

	oob := make([]byte, 12)
	require.NoError(t, lbaio.PutOOB(oob, lbaio.OOBNamespace, 0x0102030405060708))
	assert.Equal(t, []byte{0x01, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01, 0, 0, 0}, oob)
	typ, lba, err := lbaio.ParseOOB(oob)
	require.NoError(t, err)
	assert.Equal(t, lbaio.OOBNamespace, typ)
	assert.Equal(t, uint64(0x0102030405060708), lba)

	assert.ErrorContains(t, lbaio.PutOOB(make([]byte, 8), lbaio.OOBPadding, 0), "cannot hold a 9B mapping record")
	_, _, err = lbaio.ParseOOB(oob[:8])
	assert.ErrorContains(t, err, "need at least 9 bytes, only have 8")
}
