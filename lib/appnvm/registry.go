// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvm

import (
	"context"
	"sync"
	"sync/atomic"

	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

// Subsystem is a module with a global init/exit lifecycle.
type Subsystem interface {
	Init(ctx context.Context) error
	Exit(ctx context.Context)
}

type ChannelManager interface {
	InitChannel(ctx context.Context, dev nvm.Channel) (*Channel, error)
	ExitChannel(ctx context.Context, lch *Channel) error
	Get(id uint16) (*Channel, bool)
	// GetList returns every channel, ordered by ID.
	GetList() []*Channel
}

// BBTPersister stores bad-block tables on the medium.
type BBTPersister interface {
	// Load fills lch.BBT from the medium, or leaves it all-good
	// if no table has been stored yet.
	Load(ctx context.Context, lch *Channel) error
	Flush(ctx context.Context, lch *Channel) error
}

// Prov is a set of freshly provisioned sectors, one PPA per sector,
// covering whole multi-plane pages.
type Prov struct {
	PPAs []nvm.PPA
}

type Provisioner interface {
	Subsystem
	New(ctx context.Context, pgs int) (*Prov, error)
	Free(prov *Prov)
}

// Mapper is the logical-to-physical table.  Values are packed PPAs;
// nvm.PPAUnmapped means the LBA has never been written.
type Mapper interface {
	Subsystem
	Read(ctx context.Context, lba uint64) (uint64, error)
	Upsert(ctx context.Context, lba, ppa uint64) error
}

// PPACmd is a sector-granular physical command.  PPAs, Data and OOB
// are parallel; consecutive sectors of one multi-plane page are
// grouped into one page operation.
type PPACmd struct {
	Op   nvm.Opcode
	PPAs []nvm.PPA
	Data [][]byte
	OOB  [][]byte
}

type PPASubmitter interface {
	Submit(ctx context.Context, cmd *PPACmd) error
	Callback(cmd *nvm.MmgrCmd)
}

type LBASubmitter interface {
	Subsystem
	Submit(ctx context.Context, cmd *nvm.IOCmd) error
}

type Collector interface {
	Subsystem
}

// Registry holds the modules the FTL is assembled from.  It is built
// once at startup and handed to every module that needs another.
// GC may be left nil.
type Registry struct {
	Channels ChannelManager
	BBT      BBTPersister
	GlProv   Provisioner
	GlMap    Mapper
	PPAIO    PPASubmitter
	LBAIO    LBASubmitter
	GC       Collector

	gcNS  atomic.Pointer[sync.Mutex]
	gcMap atomic.Pointer[sync.Mutex]
}

// GCNamespaceLock serializes mapping updates against garbage
// collection.  It is nil outside of global init/exit.
func (r *Registry) GCNamespaceLock() *sync.Mutex { return r.gcNS.Load() }

// GCMappingLock is held while the mapping table rewrites one of its
// reserved blocks, so that a collector does not see the block half
// erased.  It is taken after the Mapper's own lock; a collector
// holding it must not call into the Mapper.  It is nil outside of
// global init/exit.
func (r *Registry) GCMappingLock() *sync.Mutex { return r.gcMap.Load() }
