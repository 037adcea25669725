// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package glmap is the default global logical-to-physical mapping
// table.
//
// The table is an array of packed PPAs (8 bytes each, little-endian),
// split into segments of one reserved block each.  Segment i lives in
// reserved block 1+i/N of channel i%N, where N is the number of
// channels; block 0 belongs to the bad-block table.  An erased block
// reads as all-ones, which is nvm.PPAUnmapped, so a segment that has
// never been written maps nothing.
//
// Segments are cached in memory.  A dirty segment is written back
// when it is evicted, on Flush and on Exit; write-back erases the
// block and rewrites the whole segment, holding the registry's GC
// mapping lock while the block is in flux.
package glmap

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/containers"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
	"git.lukeshu.com/ox-ftl-ng/lib/textui"
)

const entrySize = 8

// DefaultCacheSegments is the number of segments kept in memory when
// Config.CacheSegments is not set.
var DefaultCacheSegments = textui.Tunable(8)

type Config struct {
	// RsvBlocks is the number of reserved blocks at the start of
	// LUN 0 of each channel.  All but the first hold segments.
	RsvBlocks int
	// NLBAs is the size of the table; 0 means as many as the
	// reserved blocks can hold.
	NLBAs uint64
	// CacheSegments is the number of segments kept in memory.
	CacheSegments int
}

type segment struct {
	idx   int
	ents  []byte
	dirty bool
}

func (seg *segment) get(i int) uint64 {
	return binary.LittleEndian.Uint64(seg.ents[i*entrySize:])
}

func (seg *segment) set(i int, v uint64) {
	binary.LittleEndian.PutUint64(seg.ents[i*entrySize:], v)
	seg.dirty = true
}

type Mapper struct {
	ftl *appnvm.FTL
	cfg Config

	mu         sync.Mutex
	chans      []*appnvm.Channel
	geom       *nvm.Geometry
	entPerPg   int
	segEntries int
	nlbas      uint64
	cache      *containers.LRUCache[int, *segment]
}

var _ appnvm.Mapper = (*Mapper)(nil)

func New(ftl *appnvm.FTL, cfg Config) *Mapper {
	return &Mapper{
		ftl: ftl,
		cfg: cfg,
	}
}

func (m *Mapper) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chans := m.ftl.Registry().Channels.GetList()
	if len(chans) == 0 {
		return errors.New("glmap: no channels")
	}
	geom := chans[0].Geometry()
	for _, lch := range chans[1:] {
		if *lch.Geometry() != *geom {
			return fmt.Errorf("glmap: channel %d geometry %v differs from channel %d geometry %v",
				lch.ID(), lch.Geometry(), chans[0].ID(), geom)
		}
	}
	if m.cfg.RsvBlocks < 2 || m.cfg.RsvBlocks > geom.BlocksPerLUN {
		return fmt.Errorf("glmap: need between 2 and %d reserved blocks, have %d", geom.BlocksPerLUN, m.cfg.RsvBlocks)
	}
	entPerPg := geom.PlanePageSize() / entrySize
	if entPerPg == 0 || entPerPg%geom.PlanesPerBlock != 0 {
		return fmt.Errorf("glmap: %d-byte pages cannot hold %d-byte entries on every plane", geom.PlanePageSize(), entrySize)
	}
	segEntries := entPerPg * geom.PagesPerBlock
	maxLBAs := uint64(segEntries) * uint64(len(chans)) * uint64(m.cfg.RsvBlocks-1)
	nlbas := m.cfg.NLBAs
	if nlbas == 0 {
		nlbas = maxLBAs
	}
	if nlbas > maxLBAs {
		return fmt.Errorf("glmap: %d LBAs do not fit in %d reserved block(s) per channel (max %d)",
			nlbas, m.cfg.RsvBlocks-1, maxLBAs)
	}
	size := m.cfg.CacheSegments
	if size <= 0 {
		size = DefaultCacheSegments
	}
	cache, err := containers.NewLRUCache[int, *segment](size)
	if err != nil {
		return fmt.Errorf("glmap: %w", err)
	}

	m.chans = chans
	m.geom = geom
	m.entPerPg = entPerPg
	m.segEntries = segEntries
	m.nlbas = nlbas
	m.cache = cache
	dlog.Infof(ctx, "global mapping started: %d LBAs in %d segment(s) of %d, caching %d",
		nlbas, m.nSegments(), segEntries, size)
	return nil
}

func (m *Mapper) nSegments() int {
	return int((m.nlbas + uint64(m.segEntries) - 1) / uint64(m.segEntries))
}

// NLBAs is the number of LBAs the table maps.  It is 0 before Init.
func (m *Mapper) NLBAs() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nlbas
}

func (m *Mapper) location(idx int) (*appnvm.Channel, uint16) {
	n := len(m.chans)
	return m.chans[idx%n], uint16(1 + idx/n)
}

func (m *Mapper) load(ctx context.Context, idx int) (*segment, error) {
	lch, blk := m.location(idx)
	io, err := appnvm.AllocPgIO(lch)
	if err != nil {
		return nil, err
	}
	defer io.Free()
	seg := &segment{
		idx:  idx,
		ents: make([]byte, m.segEntries*entrySize),
	}
	if err := appnvm.SeqTransfer(ctx, io, nvm.PPA{Blk: blk}, seg.ents,
		m.geom.PagesPerBlock, m.entPerPg, m.segEntries, entrySize, appnvm.TransFromNVM, appnvm.IOReserved); err != nil {
		return nil, fmt.Errorf("glmap: load segment %d: %w", idx, err)
	}
	dlog.Debugf(ctx, "glmap: loaded segment %d from ch%d/blk%d", idx, lch.ID(), blk)
	return seg, nil
}

func (m *Mapper) writeBack(ctx context.Context, seg *segment) error {
	if !seg.dirty {
		return nil
	}
	if mu := m.ftl.Registry().GCMappingLock(); mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	lch, blk := m.location(seg.idx)
	if err := appnvm.IORsvBlk(ctx, lch, nvm.OpErase, nil, blk, 0); err != nil {
		return fmt.Errorf("glmap: write back segment %d: %w", seg.idx, err)
	}
	io, err := appnvm.AllocPgIO(lch)
	if err != nil {
		return err
	}
	defer io.Free()
	if err := appnvm.SeqTransfer(ctx, io, nvm.PPA{Blk: blk}, seg.ents,
		m.geom.PagesPerBlock, m.entPerPg, m.segEntries, entrySize, appnvm.TransToNVM, appnvm.IOReserved); err != nil {
		return fmt.Errorf("glmap: write back segment %d: %w", seg.idx, err)
	}
	seg.dirty = false
	dlog.Debugf(ctx, "glmap: wrote back segment %d to ch%d/blk%d", seg.idx, lch.ID(), blk)
	return nil
}

// evictOldest writes back the least recently used segment and drops
// it.  If the write-back fails the segment stays cached.
func (m *Mapper) evictOldest(ctx context.Context) error {
	idx, seg, ok := m.cache.Oldest()
	if !ok {
		return nil
	}
	if err := m.writeBack(ctx, seg); err != nil {
		return err
	}
	m.cache.Remove(idx)
	return nil
}

func (m *Mapper) segment(ctx context.Context, lba uint64) (*segment, int, error) {
	if m.cache == nil {
		return nil, 0, errors.New("glmap: not initialized")
	}
	if lba >= m.nlbas {
		return nil, 0, fmt.Errorf("%w: lba %d >= %d", appnvm.ErrBounds, lba, m.nlbas)
	}
	idx := int(lba / uint64(m.segEntries))
	off := int(lba % uint64(m.segEntries))
	if seg, ok := m.cache.Get(idx); ok {
		return seg, off, nil
	}
	seg, err := m.load(ctx, idx)
	if err != nil {
		return nil, 0, err
	}
	for m.cache.Len() >= m.cacheSize() {
		if err := m.evictOldest(ctx); err != nil {
			return nil, 0, err
		}
	}
	m.cache.Add(idx, seg)
	return seg, off, nil
}

func (m *Mapper) cacheSize() int {
	if m.cfg.CacheSegments > 0 {
		return m.cfg.CacheSegments
	}
	return DefaultCacheSegments
}

func (m *Mapper) Read(ctx context.Context, lba uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, off, err := m.segment(ctx, lba)
	if err != nil {
		return nvm.PPAUnmapped, err
	}
	return seg.get(off), nil
}

func (m *Mapper) Upsert(ctx context.Context, lba, ppa uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, off, err := m.segment(ctx, lba)
	if err != nil {
		return err
	}
	seg.set(off, ppa)
	return nil
}

// Flush writes every dirty cached segment back to the medium.
func (m *Mapper) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flush(ctx)
}

func (m *Mapper) flush(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	for _, idx := range m.cache.Keys() {
		seg, ok := m.cache.Peek(idx)
		if !ok {
			continue
		}
		if err := m.writeBack(ctx, seg); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) Exit(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.flush(ctx); err != nil {
		dlog.Errorf(ctx, "global mapping: %v", err)
	}
	if m.cache != nil {
		m.cache.Purge()
	}
	m.cache = nil
	m.chans = nil
	dlog.Infof(ctx, "global mapping stopped")
}
