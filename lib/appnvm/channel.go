// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvm

import (
	"sync"
	"sync/atomic"

	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

// Channel is the FTL's view of one physical channel.
//
// The busy, active and needGC flags each have their own lock; no
// two of them are ever read or written together atomically.  The
// in-flight operation counter is lock-free.
type Channel struct {
	dev nvm.Channel
	BBT *BBTable

	busyMu sync.Mutex
	busy   bool

	activeMu sync.Mutex
	active   bool

	needGCMu sync.Mutex
	needGC   bool

	threads atomic.Int32
}

func NewChannel(dev nvm.Channel) *Channel {
	return &Channel{
		dev: dev,
		BBT: NewBBTable(dev.Geometry()),
	}
}

func (c *Channel) ID() uint16              { return c.dev.ID() }
func (c *Channel) Geometry() *nvm.Geometry { return c.dev.Geometry() }
func (c *Channel) Device() nvm.Channel     { return c.dev }

// NThreads is the number of operations in flight on the channel.
func (c *Channel) NThreads() int32 { return c.threads.Load() }
func (c *Channel) IncThreads()     { c.threads.Add(1) }
func (c *Channel) DecThreads()     { c.threads.Add(-1) }

func (c *Channel) Busy() bool {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	return c.busy
}

func (c *Channel) SetBusy(v bool) {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	c.busy = v
}

func (c *Channel) Active() bool {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	return c.active
}

func (c *Channel) SetActive(v bool) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	c.active = v
}

func (c *Channel) NeedGC() bool {
	c.needGCMu.Lock()
	defer c.needGCMu.Unlock()
	return c.needGC
}

func (c *Channel) SetNeedGC(v bool) {
	c.needGCMu.Lock()
	defer c.needGCMu.Unlock()
	c.needGC = v
}
