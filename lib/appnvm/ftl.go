// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package appnvm is the core of the AppNVM flash translation layer:
// multi-plane page I/O, table transfer to and from reserved blocks,
// bad-block table access, and the channel and subsystem lifecycle.
// Provisioning, mapping and the I/O paths are supplied as modules
// through a Registry.
package appnvm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

const (
	FTLID   uint16 = 0x2
	FTLName        = "APPNVM"
)

const (
	DefaultDrainInterval = 5 * time.Millisecond
	DefaultDrainAttempts = 200
)

type FTL struct {
	reg *Registry

	// DrainInterval and DrainAttempts bound how long Exit waits
	// for a channel's in-flight operations.
	DrainInterval time.Duration
	DrainAttempts int

	nch           atomic.Int32
	drainTimeouts atomic.Int64

	globalMu sync.Mutex
	globalUp bool
}

var _ nvm.FTL = (*FTL)(nil)

func New(reg *Registry) *FTL {
	return &FTL{
		reg:           reg,
		DrainInterval: DefaultDrainInterval,
		DrainAttempts: DefaultDrainAttempts,
	}
}

func (f *FTL) Registry() *Registry { return f.reg }

// NChannels is the number of initialized channels.
func (f *FTL) NChannels() int { return int(f.nch.Load()) }

// DrainTimeouts counts channels that were torn down with operations
// still in flight.
func (f *FTL) DrainTimeouts() int64 { return f.drainTimeouts.Load() }

func (f *FTL) Info() nvm.FTLInfo {
	return nvm.FTLInfo{
		ID:        FTLID,
		Name:      FTLName,
		NQueues:   2,
		Caps:      nvm.CapGetBBTbl | nvm.CapSetBBTbl | nvm.CapInitFn | nvm.CapExitFn,
		BBTFormat: nvm.BBTFormatByte,
	}
}

func (f *FTL) InitChannel(ctx context.Context, dev nvm.Channel) error {
	ctx = dlog.WithField(ctx, "appnvm.ch", dev.ID())
	lch, err := f.reg.Channels.InitChannel(ctx, dev)
	if err != nil {
		return fmt.Errorf("appnvm: init channel %d: %w", dev.ID(), err)
	}
	lch.threads.Store(0)
	lch.SetActive(true)
	lch.SetNeedGC(false)
	f.nch.Add(1)
	dlog.Infof(ctx, "channel started: %v", dev.Geometry())
	return nil
}

// Exit tears down every channel.  Each channel is first given a
// bounded time to drain its in-flight operations; a channel that
// does not drain is torn down anyway.
func (f *FTL) Exit(ctx context.Context) error {
	var errs derror.MultiError
	for _, lch := range f.reg.Channels.GetList() {
		ctx := dlog.WithField(ctx, "appnvm.ch", lch.ID())
		drained := poll(ctx, f.DrainInterval, f.DrainAttempts, func() bool {
			return lch.NThreads() == 0
		})
		if !drained {
			f.drainTimeouts.Add(1)
			dlog.Warnf(ctx, "channel still has %d operation(s) in flight after %v, tearing down anyway",
				lch.NThreads(), f.DrainInterval*time.Duration(f.DrainAttempts))
		}
		lch.SetActive(false)
		if err := f.reg.Channels.ExitChannel(ctx, lch); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", lch.ID(), err))
		}
		f.nch.Add(-1)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (f *FTL) SubmitIO(ctx context.Context, cmd *nvm.IOCmd) error {
	return f.reg.LBAIO.Submit(ctx, cmd)
}

func (f *FTL) CallbackIO(cmd *nvm.MmgrCmd) {
	f.reg.PPAIO.Callback(cmd)
}

func (f *FTL) InitFn(ctx context.Context, id nvm.FnID, _ any) error {
	switch id {
	case nvm.FnGlobal:
		f.globalMu.Lock()
		defer f.globalMu.Unlock()
		if f.globalUp {
			return nil
		}
		if err := f.globalInit(ctx); err != nil {
			return err
		}
		f.globalUp = true
		return nil
	default:
		dlog.Infof(ctx, "init fn: function not found: id %d", id)
		return fmt.Errorf("%w: %d", ErrNoFunction, id)
	}
}

func (f *FTL) ExitFn(ctx context.Context, id nvm.FnID) error {
	switch id {
	case nvm.FnGlobal:
		f.globalMu.Lock()
		defer f.globalMu.Unlock()
		if f.globalUp {
			f.globalExit(ctx)
			f.globalUp = false
		}
		return nil
	default:
		dlog.Infof(ctx, "exit fn: function not found: id %d", id)
		return fmt.Errorf("%w: %d", ErrNoFunction, id)
	}
}

type globalStage struct {
	name string
	init func(context.Context) error
	exit func(context.Context)
}

func lockStage(name string, ptr *atomic.Pointer[sync.Mutex]) globalStage {
	return globalStage{
		name: name,
		init: func(context.Context) error {
			ptr.Store(new(sync.Mutex))
			return nil
		},
		exit: func(context.Context) {
			ptr.Store(nil)
		},
	}
}

func (f *FTL) globalStages() []globalStage {
	r := f.reg
	stages := []globalStage{
		{"global provisioning", r.GlProv.Init, r.GlProv.Exit},
		{"global mapping", r.GlMap.Init, r.GlMap.Exit},
		{"LBA I/O", r.LBAIO.Init, r.LBAIO.Exit},
		lockStage("GC namespace lock", &r.gcNS),
		lockStage("GC mapping lock", &r.gcMap),
	}
	if r.GC != nil {
		stages = append(stages, globalStage{"GC", r.GC.Init, r.GC.Exit})
	}
	return stages
}

// globalInit brings up every global stage in order.  If a stage
// fails, the stages before it are exited in reverse order.
func (f *FTL) globalInit(ctx context.Context) error {
	stages := f.globalStages()
	for i, stage := range stages {
		if err := stage.init(ctx); err != nil {
			dlog.Errorf(ctx, "%s NOT started: %v", stage.name, err)
			for j := i - 1; j >= 0; j-- {
				stages[j].exit(ctx)
			}
			return fmt.Errorf("appnvm: global init: %s: %w", stage.name, err)
		}
		dlog.Debugf(ctx, "%s started", stage.name)
	}
	return nil
}

func (f *FTL) globalExit(ctx context.Context) {
	stages := f.globalStages()
	for i := len(stages) - 1; i >= 0; i-- {
		stages[i].exit(ctx)
	}
}
