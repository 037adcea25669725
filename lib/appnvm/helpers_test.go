// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvm_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm/nvmfile"
)

var testGeom = nvm.Geometry{
	LUNsPerChannel: 2,
	BlocksPerLUN:   8,
	PagesPerBlock:  16,
	PlanesPerBlock: 2,
	SectorsPerPage: 4,
	SectorSize:     32,
	SectorOOBSize:  8,
}

func newTestChannel(t *testing.T) (context.Context, *nvmfile.Medium, *appnvm.Channel) {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	medium, err := nvmfile.NewMemory(ctx, testGeom, 1)
	require.NoError(t, err)
	return ctx, medium, appnvm.NewChannel(medium.Channel(0))
}

type fakeChannels struct {
	mu     sync.Mutex
	chans  map[uint16]*appnvm.Channel
	exited []uint16
}

var _ appnvm.ChannelManager = (*fakeChannels)(nil)

func (m *fakeChannels) InitChannel(_ context.Context, dev nvm.Channel) (*appnvm.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chans == nil {
		m.chans = make(map[uint16]*appnvm.Channel)
	}
	lch := appnvm.NewChannel(dev)
	m.chans[dev.ID()] = lch
	return lch, nil
}

func (m *fakeChannels) ExitChannel(_ context.Context, lch *appnvm.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chans, lch.ID())
	m.exited = append(m.exited, lch.ID())
	return nil
}

func (m *fakeChannels) Get(id uint16) (*appnvm.Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lch, ok := m.chans[id]
	return lch, ok
}

func (m *fakeChannels) GetList() []*appnvm.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*appnvm.Channel, 0, len(m.chans))
	for _, lch := range m.chans {
		ret = append(ret, lch)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID() < ret[j].ID() })
	return ret
}

type countingBBT struct {
	mu      sync.Mutex
	flushes int
	err     error
}

func (b *countingBBT) Load(context.Context, *appnvm.Channel) error { return nil }

func (b *countingBBT) Flush(context.Context, *appnvm.Channel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushes++
	return b.err
}

func (b *countingBBT) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

// newTestFTL returns an FTL over a single in-memory channel.
func newTestFTL(t *testing.T, reg *appnvm.Registry) (context.Context, *nvmfile.Medium, *appnvm.FTL) {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	medium, err := nvmfile.NewMemory(ctx, testGeom, 1)
	require.NoError(t, err)
	if reg.Channels == nil {
		reg.Channels = &fakeChannels{}
	}
	ftl := appnvm.New(reg)
	require.NoError(t, ftl.InitChannel(ctx, medium.Channel(0)))
	return ctx, medium, ftl
}
