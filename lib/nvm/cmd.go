// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package nvm

import (
	"context"
	"fmt"
)

type Opcode uint8

const (
	OpRead Opcode = iota
	OpWrite
	OpErase
)

func (op Opcode) String() string {
	switch op {
	case OpRead:
		return "READ_PG"
	case OpWrite:
		return "WRITE_PG"
	case OpErase:
		return "ERASE_BLK"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(op))
	}
}

type IOStatus uint8

const (
	IONew IOStatus = iota
	IOProcess
	IOSuccess
	IOFail
	IOTimeout
)

func (s IOStatus) String() string {
	switch s {
	case IONew:
		return "new"
	case IOProcess:
		return "process"
	case IOSuccess:
		return "success"
	case IOFail:
		return "fail"
	case IOTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("IOStatus(%d)", uint8(s))
	}
}

// MmgrCmd is a single-plane command handed to the media manager.
type MmgrCmd struct {
	PPA    PPA
	Status IOStatus
	Err    error

	// Callback, if set, is invoked by the FTL's completion entry
	// point once the media manager is done with the command.
	Callback func(*MmgrCmd)
}

// Channel is a physical channel as provided by the media manager.
type Channel interface {
	// ID is the media manager's id for the channel; it goes in
	// PPA.Ch of every command.
	ID() uint16
	Geometry() *Geometry

	// SubmitSync submits one single-plane command and blocks until
	// the medium has completed or failed it.  buf is the plane's
	// page-plus-metadata buffer and is nil for erases.
	SubmitSync(ctx context.Context, cmd *MmgrCmd, buf []byte, op Opcode) error
}
