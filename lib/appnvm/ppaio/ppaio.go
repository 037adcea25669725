// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ppaio submits sector-granular physical commands as
// multi-plane page operations.
package ppaio

import (
	"context"
	"fmt"
	"sync/atomic"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

type Submitter struct {
	ftl *appnvm.FTL

	pages     atomic.Int64
	callbacks atomic.Int64
}

var _ appnvm.PPASubmitter = (*Submitter)(nil)

func New(ftl *appnvm.FTL) *Submitter {
	return &Submitter{ftl: ftl}
}

// Pages is the number of page operations run so far.
func (s *Submitter) Pages() int64 { return s.pages.Load() }

// Callbacks is the number of completions forwarded so far.
func (s *Submitter) Callbacks() int64 { return s.callbacks.Load() }

func validate(cmd *appnvm.PPACmd) error {
	if cmd == nil || len(cmd.PPAs) == 0 {
		return fmt.Errorf("%w: empty ppa command", appnvm.ErrInvalid)
	}
	switch cmd.Op {
	case nvm.OpRead, nvm.OpWrite:
		if len(cmd.Data) != len(cmd.PPAs) {
			return fmt.Errorf("%w: %v: %d data buffers for %d sectors",
				appnvm.ErrInvalid, cmd.Op, len(cmd.Data), len(cmd.PPAs))
		}
		if cmd.OOB != nil && len(cmd.OOB) != len(cmd.PPAs) {
			return fmt.Errorf("%w: %v: %d oob buffers for %d sectors",
				appnvm.ErrInvalid, cmd.Op, len(cmd.OOB), len(cmd.PPAs))
		}
	case nvm.OpErase:
	default:
		return fmt.Errorf("%w: opcode %v", appnvm.ErrInvalid, cmd.Op)
	}
	return nil
}

// Submit runs cmd one page at a time.  Consecutive PPAs that share a
// multi-plane page make up one page operation; sectors of a written
// page that cmd does not name are written as zeroes.  Submit stops at
// the first failed page.
func (s *Submitter) Submit(ctx context.Context, cmd *appnvm.PPACmd) error {
	if err := validate(cmd); err != nil {
		return err
	}
	for beg := 0; beg < len(cmd.PPAs); {
		end := beg + 1
		for end < len(cmd.PPAs) && cmd.PPAs[end].SamePage(cmd.PPAs[beg]) {
			end++
		}
		if err := s.submitPage(ctx, cmd, beg, end); err != nil {
			return err
		}
		beg = end
	}
	return nil
}

func (s *Submitter) submitPage(ctx context.Context, cmd *appnvm.PPACmd, beg, end int) error {
	ppa := cmd.PPAs[beg]
	lch, ok := s.ftl.Registry().Channels.Get(uint16(ppa.Ch))
	if !ok {
		return fmt.Errorf("%w: %d", appnvm.ErrNoChannel, ppa.Ch)
	}
	if !lch.Active() {
		return fmt.Errorf("%w: channel %d is not active", appnvm.ErrNoChannel, ppa.Ch)
	}
	geom := lch.Geometry()
	for _, sec := range cmd.PPAs[beg:end] {
		if int(sec.Pl) >= geom.PlanesPerBlock || int(sec.Sec) >= geom.SectorsPerPage {
			return fmt.Errorf("%w: %v", appnvm.ErrBounds, sec)
		}
	}

	lch.IncThreads()
	defer lch.DecThreads()
	s.pages.Add(1)

	if cmd.Op == nvm.OpErase {
		return appnvm.PgIO(ctx, lch, nvm.OpErase, nil, ppa)
	}

	io, err := appnvm.AllocPgIO(lch)
	if err != nil {
		return err
	}
	defer io.Free()
	spp := geom.SectorsPerPage

	if cmd.Op == nvm.OpWrite {
		for i := beg; i < end; i++ {
			sec := cmd.PPAs[i]
			copy(io.SecVec[sec.Pl][sec.Sec], cmd.Data[i])
			if cmd.OOB != nil {
				copy(io.OOBVec[int(sec.Pl)*spp+int(sec.Sec)], cmd.OOB[i])
			}
		}
	}
	if err := appnvm.PgIO(ctx, lch, cmd.Op, io.PlVec, ppa); err != nil {
		return err
	}
	if cmd.Op == nvm.OpRead {
		for i := beg; i < end; i++ {
			sec := cmd.PPAs[i]
			copy(cmd.Data[i], io.SecVec[sec.Pl][sec.Sec])
			if cmd.OOB != nil {
				copy(cmd.OOB[i], io.OOBVec[int(sec.Pl)*spp+int(sec.Sec)])
			}
		}
	}
	return nil
}

// Callback delivers a low-level completion to whoever submitted it.
func (s *Submitter) Callback(cmd *nvm.MmgrCmd) {
	if cmd == nil {
		return
	}
	s.callbacks.Add(1)
	if cmd.Callback != nil {
		cmd.Callback(cmd)
	}
}
