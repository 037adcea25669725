// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package channels is the default channel manager: it keeps the set
// of initialized channels and loads each one's bad-block table when
// it comes up.
package channels

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/containers"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

type Manager struct {
	reg   *appnvm.Registry
	chans containers.SyncMap[uint16, *appnvm.Channel]
}

var _ appnvm.ChannelManager = (*Manager)(nil)

func New(reg *appnvm.Registry) *Manager {
	return &Manager{reg: reg}
}

// InitChannel registers dev.  Its ID must be below nvm.MaxChannels,
// since PPAs carry the channel in a 7-bit field.
func (m *Manager) InitChannel(ctx context.Context, dev nvm.Channel) (*appnvm.Channel, error) {
	if dev.ID() >= nvm.MaxChannels {
		return nil, fmt.Errorf("%w: channel id %d >= %d", appnvm.ErrBounds, dev.ID(), nvm.MaxChannels)
	}
	if _, ok := m.chans.Load(dev.ID()); ok {
		return nil, fmt.Errorf("channel %d: already initialized", dev.ID())
	}
	if err := dev.Geometry().Validate(); err != nil {
		return nil, fmt.Errorf("channel %d: %w", dev.ID(), err)
	}
	lch := appnvm.NewChannel(dev)
	if m.reg.BBT != nil {
		if err := m.reg.BBT.Load(ctx, lch); err != nil {
			return nil, fmt.Errorf("channel %d: load bad-block table: %w", dev.ID(), err)
		}
	}
	if _, loaded := m.chans.LoadOrStore(dev.ID(), lch); loaded {
		return nil, fmt.Errorf("channel %d: already initialized", dev.ID())
	}
	dlog.Debugf(ctx, "channel %d registered", dev.ID())
	return lch, nil
}

func (m *Manager) ExitChannel(ctx context.Context, lch *appnvm.Channel) error {
	if _, ok := m.chans.LoadAndDelete(lch.ID()); !ok {
		return fmt.Errorf("%w: %d", appnvm.ErrNoChannel, lch.ID())
	}
	dlog.Debugf(ctx, "channel %d unregistered", lch.ID())
	return nil
}

func (m *Manager) Get(id uint16) (*appnvm.Channel, bool) {
	return m.chans.Load(id)
}

func (m *Manager) GetList() []*appnvm.Channel {
	return m.chans.Values(func(a, b *appnvm.Channel) bool {
		return a.ID() < b.ID()
	})
}
