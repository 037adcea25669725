// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package nvm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type IOOp uint8

const (
	IORead IOOp = iota
	IOWrite
)

func (op IOOp) String() string {
	switch op {
	case IORead:
		return "read"
	case IOWrite:
		return "write"
	default:
		return fmt.Sprintf("IOOp(%d)", uint8(op))
	}
}

// IOCmd is an LBA-level command from the host.  Data holds one
// buffer per sector, each SectorSize long.
//
// An IOCmd completes exactly once: after every sector has been
// accounted for by SectorDone, Complete is called with the first
// error any sector reported (or nil).
type IOCmd struct {
	Op   IOOp
	SLBA uint64
	NSec int
	Data [][]byte

	// Complete may be nil.
	Complete func(*IOCmd)

	mu       sync.Mutex
	err      error
	pending  atomic.Int64
	complete sync.Once
}

func (cmd *IOCmd) String() string {
	return fmt.Sprintf("%v slba=%d nsec=%d", cmd.Op, cmd.SLBA, cmd.NSec)
}

func (cmd *IOCmd) Validate(geom *Geometry) error {
	if cmd.NSec <= 0 {
		return fmt.Errorf("io cmd: nsec=%d must be positive", cmd.NSec)
	}
	if len(cmd.Data) != cmd.NSec {
		return fmt.Errorf("io cmd: have %d sector buffers, want %d", len(cmd.Data), cmd.NSec)
	}
	for i, buf := range cmd.Data {
		if len(buf) != geom.SectorSize {
			return fmt.Errorf("io cmd: sector %d: buffer is %dB, want %dB", i, len(buf), geom.SectorSize)
		}
	}
	return nil
}

// Arm resets the per-sector bookkeeping before the command is split
// into sectors.  It must be called once, before any SectorDone.
func (cmd *IOCmd) Arm() {
	cmd.pending.Store(int64(cmd.NSec))
}

// SectorDone records the completion of one sector.  The final call
// fires Complete.
func (cmd *IOCmd) SectorDone(err error) {
	if err != nil {
		cmd.mu.Lock()
		if cmd.err == nil {
			cmd.err = err
		}
		cmd.mu.Unlock()
	}
	if cmd.pending.Add(-1) == 0 {
		cmd.finish()
	}
}

// Fail completes the command immediately, without waiting for
// outstanding sectors.  Subsequent SectorDone calls are ignored by
// the completion.
func (cmd *IOCmd) Fail(err error) {
	cmd.mu.Lock()
	if cmd.err == nil {
		cmd.err = err
	}
	cmd.mu.Unlock()
	cmd.finish()
}

func (cmd *IOCmd) finish() {
	cmd.complete.Do(func() {
		if cmd.Complete != nil {
			cmd.Complete(cmd)
		}
	})
}

// Err is the command's status once it has completed.
func (cmd *IOCmd) Err() error {
	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	return cmd.err
}
