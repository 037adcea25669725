// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package appnvmutil assembles a running FTL out of the appnvm
// modules.
package appnvmutil

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/bbtbyte"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/channels"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/glmap"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/glprov"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/lbaio"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/ppaio"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm/nvmfile"
)

// OpenMedium opens cfg.Image, or an in-memory medium if cfg.Image is
// empty.  With create set, a missing image is formatted from cfg.
func OpenMedium(ctx context.Context, cfg *Config, flag int, create bool) (*nvmfile.Medium, error) {
	if cfg.Image == "" {
		return nvmfile.NewMemory(ctx, cfg.Geometry, cfg.Channels)
	}
	if create {
		return nvmfile.Create(ctx, cfg.Image, cfg.Geometry, cfg.Channels)
	}
	return nvmfile.Open(ctx, cfg.Image, flag)
}

type Instance struct {
	Medium *nvmfile.Medium
	FTL    *appnvm.FTL

	Prov  *glprov.Provisioner
	Map   *glmap.Mapper
	PPAIO *ppaio.Submitter
	LBAIO *lbaio.Submitter

	started bool
}

// New wires every module into a Registry and an FTL over medium.  The
// geometry comes from the medium, not from cfg.
func New(cfg *Config, medium *nvmfile.Medium) *Instance {
	reg := &appnvm.Registry{}
	ftl := appnvm.New(reg)
	if cfg.DrainInterval > 0 {
		ftl.DrainInterval = cfg.DrainInterval
	}
	if cfg.DrainAttempts > 0 {
		ftl.DrainAttempts = cfg.DrainAttempts
	}
	inst := &Instance{
		Medium: medium,
		FTL:    ftl,
		Prov:   glprov.New(ftl, cfg.RsvBlocks),
		Map: glmap.New(ftl, glmap.Config{
			RsvBlocks:     cfg.RsvBlocks,
			NLBAs:         cfg.NLBAs,
			CacheSegments: cfg.MapCacheSegments,
		}),
		PPAIO: ppaio.New(ftl),
		LBAIO: lbaio.New(ftl, cfg.QueueDepth),
	}
	reg.Channels = channels.New(reg)
	reg.BBT = bbtbyte.New()
	reg.GlProv = inst.Prov
	reg.GlMap = inst.Map
	reg.PPAIO = inst.PPAIO
	reg.LBAIO = inst.LBAIO
	return inst
}

// Start brings up every channel of the medium and then the global
// modules.  On failure, whatever was started is stopped again.
func (inst *Instance) Start(ctx context.Context) error {
	for i := 0; i < inst.Medium.NumChannels(); i++ {
		if err := inst.FTL.InitChannel(ctx, inst.Medium.Channel(i)); err != nil {
			if err2 := inst.FTL.Exit(ctx); err2 != nil {
				dlog.Errorf(ctx, "%v", err2)
			}
			return err
		}
	}
	if err := inst.FTL.InitFn(ctx, nvm.FnGlobal, nil); err != nil {
		if err2 := inst.FTL.Exit(ctx); err2 != nil {
			dlog.Errorf(ctx, "%v", err2)
		}
		return err
	}
	inst.started = true
	info := inst.FTL.Info()
	dlog.Infof(ctx, "%s FTL (id %#x) started on %d channel(s), caps %v",
		info.Name, info.ID, inst.FTL.NChannels(), info.Caps)
	return nil
}

// Stop is the reverse of Start.
func (inst *Instance) Stop(ctx context.Context) error {
	if !inst.started {
		return nil
	}
	inst.started = false
	var errs derror.MultiError
	if err := inst.FTL.ExitFn(ctx, nvm.FnGlobal); err != nil {
		errs = append(errs, err)
	}
	if err := inst.FTL.Exit(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (inst *Instance) do(ctx context.Context, op nvm.IOOp, slba uint64, data [][]byte) error {
	done := make(chan struct{})
	cmd := &nvm.IOCmd{
		Op:       op,
		SLBA:     slba,
		NSec:     len(data),
		Data:     data,
		Complete: func(*nvm.IOCmd) { close(done) },
	}
	if err := inst.FTL.SubmitIO(ctx, cmd); err != nil {
		return err
	}
	select {
	case <-done:
		return cmd.Err()
	case <-ctx.Done():
		return fmt.Errorf("%v: %w", cmd, ctx.Err())
	}
}

// Write writes one sector per element of data, starting at slba, and
// waits for the command to complete.
func (inst *Instance) Write(ctx context.Context, slba uint64, data [][]byte) error {
	return inst.do(ctx, nvm.IOWrite, slba, data)
}

// Read is the counterpart of Write.
func (inst *Instance) Read(ctx context.Context, slba uint64, data [][]byte) error {
	return inst.do(ctx, nvm.IORead, slba, data)
}

// SectorSize is the LBA size of the medium.
func (inst *Instance) SectorSize() int {
	return inst.Medium.Geometry().SectorSize
}
