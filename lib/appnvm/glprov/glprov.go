// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package glprov is the default global provisioner.  It hands out
// whole multi-plane pages, striping consecutive pages over channels
// first and LUNs second, with one open block per LUN.
package glprov

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

var ErrNoSpace = errors.New("glprov: no free blocks")

type lunState struct {
	lch *appnvm.Channel
	lun int

	// used marks blocks that are reserved, bad, already written
	// when the provisioner started, or handed out since.
	used []bool

	open   int
	nextPg int
}

func (st *lunState) String() string {
	return fmt.Sprintf("ch%d/lun%d", st.lch.ID(), st.lun)
}

type Provisioner struct {
	ftl       *appnvm.FTL
	rsvBlocks int

	mu          sync.Mutex
	luns        []*lunState
	cursor      int
	outstanding int
}

var _ appnvm.Provisioner = (*Provisioner)(nil)

// New returns a provisioner that never hands out the first rsvBlocks
// blocks of LUN 0, which hold the FTL's own metadata.
func New(ftl *appnvm.FTL, rsvBlocks int) *Provisioner {
	return &Provisioner{
		ftl:       ftl,
		rsvBlocks: rsvBlocks,
	}
}

func (p *Provisioner) reserved(lun, blk int) bool {
	return lun == 0 && blk < p.rsvBlocks
}

func (p *Provisioner) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	chans := p.ftl.Registry().Channels.GetList()
	if len(chans) == 0 {
		return fmt.Errorf("glprov: no channels")
	}
	var luns []*lunState
	for lun := 0; ; lun++ {
		more := false
		for _, lch := range chans {
			if lun >= lch.Geometry().LUNsPerChannel {
				continue
			}
			more = true
			st, err := p.scanLUN(ctx, lch, lun)
			if err != nil {
				return err
			}
			luns = append(luns, st)
		}
		if !more {
			break
		}
	}
	p.luns = luns
	p.cursor = 0
	p.outstanding = 0
	dlog.Infof(ctx, "global provisioning started: %d free block(s) over %d LUN(s)", p.freeBlocks(), len(luns))
	return nil
}

// scanLUN builds the state of one LUN.  A block whose first page is
// not erased is treated as in use.
func (p *Provisioner) scanLUN(ctx context.Context, lch *appnvm.Channel, lun int) (*lunState, error) {
	geom := lch.Geometry()
	st := &lunState{
		lch:  lch,
		lun:  lun,
		used: make([]bool, geom.BlocksPerLUN),
		open: -1,
	}
	io, err := appnvm.AllocPgIO(lch)
	if err != nil {
		return nil, err
	}
	defer io.Free()
	for blk := range st.used {
		if p.reserved(lun, blk) || !lch.BBT.IsGood(lun, blk) {
			st.used[blk] = true
			continue
		}
		ppa := nvm.PPA{LUN: uint8(lun), Blk: uint16(blk)}
		if err := appnvm.PgIO(ctx, lch, nvm.OpRead, io.PlVec, ppa); err != nil {
			dlog.Warnf(ctx, "%v: skipping block %d: %v", st, blk, err)
			st.used[blk] = true
			continue
		}
		st.used[blk] = !erased(io.MetaVec[0])
	}
	return st, nil
}

func erased(dat []byte) bool {
	for _, b := range dat {
		if b != 0xFF {
			return false
		}
	}
	return true
}

func (p *Provisioner) freeBlocks() int {
	n := 0
	for _, st := range p.luns {
		for _, used := range st.used {
			if !used {
				n++
			}
		}
	}
	return n
}

// FreeBlocks is the number of blocks that have not been handed out.
func (p *Provisioner) FreeBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeBlocks()
}

// Outstanding is the number of provisioned sets not yet freed.
func (p *Provisioner) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// openBlock erases the next usable block of st and makes it the open
// block.  A block that fails to erase is marked bad.
func (p *Provisioner) openBlock(ctx context.Context, st *lunState) error {
	for blk, used := range st.used {
		if used {
			continue
		}
		st.used[blk] = true
		if !st.lch.BBT.IsGood(st.lun, blk) {
			continue
		}
		ppa := nvm.PPA{Ch: uint8(st.lch.ID()), LUN: uint8(st.lun), Blk: uint16(blk)}
		if err := appnvm.PgIO(ctx, st.lch, nvm.OpErase, nil, ppa); err != nil {
			dlog.Warnf(ctx, "%v: erase of block %d failed, marking bad: %v", st, blk, err)
			for pl := 0; pl < st.lch.Geometry().PlanesPerBlock; pl++ {
				ppa.Pl = uint8(pl)
				if err := p.ftl.SetBBTbl(ctx, ppa, appnvm.BlockBad); err != nil {
					return err
				}
			}
			continue
		}
		st.open = blk
		st.nextPg = 0
		return nil
	}
	st.open = -1
	return fmt.Errorf("%w: %v", ErrNoSpace, st)
}

func (p *Provisioner) nextPage(ctx context.Context) (*lunState, int, error) {
	for range p.luns {
		st := p.luns[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.luns)
		if !st.lch.Active() {
			continue
		}
		if st.open < 0 || st.nextPg >= st.lch.Geometry().PagesPerBlock {
			if err := p.openBlock(ctx, st); err != nil {
				if errors.Is(err, ErrNoSpace) {
					continue
				}
				return nil, 0, err
			}
		}
		pg := st.nextPg
		st.nextPg++
		return st, pg, nil
	}
	return nil, 0, ErrNoSpace
}

// New provisions pgs multi-plane pages and returns one PPA per
// sector, plane-major within each page.
func (p *Provisioner) New(ctx context.Context, pgs int) (*appnvm.Prov, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.luns) == 0 {
		return nil, fmt.Errorf("glprov: not initialized")
	}
	prov := new(appnvm.Prov)
	for i := 0; i < pgs; i++ {
		st, pg, err := p.nextPage(ctx)
		if err != nil {
			return nil, err
		}
		geom := st.lch.Geometry()
		for pl := 0; pl < geom.PlanesPerBlock; pl++ {
			for sec := 0; sec < geom.SectorsPerPage; sec++ {
				prov.PPAs = append(prov.PPAs, nvm.PPA{
					Ch:  uint8(st.lch.ID()),
					LUN: uint8(st.lun),
					Blk: uint16(st.open),
					Pl:  uint8(pl),
					Pg:  uint16(pg),
					Sec: uint8(sec),
				})
			}
		}
	}
	p.outstanding++
	return prov, nil
}

func (p *Provisioner) Free(prov *appnvm.Prov) {
	if prov == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outstanding--
}

func (p *Provisioner) Exit(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outstanding != 0 {
		dlog.Warnf(ctx, "global provisioning stopped with %d provisioned set(s) not freed", p.outstanding)
	}
	p.luns = nil
	dlog.Infof(ctx, "global provisioning stopped")
}
