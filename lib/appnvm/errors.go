// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvm

import (
	"errors"
	"fmt"

	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

var (
	ErrAlloc      = errors.New("appnvm: cannot allocate I/O buffer")
	ErrIO         = errors.New("appnvm: I/O error")
	ErrInvalid    = errors.New("appnvm: invalid argument")
	ErrBounds     = errors.New("appnvm: address out of bounds")
	ErrNotFound   = errors.New("appnvm: current page not found")
	ErrNoFunction = errors.New("appnvm: function not found")
	ErrNoChannel  = errors.New("appnvm: no such channel")
)

// IOError is a failed per-plane submission.  Planes before Plane
// have already been submitted and are not rolled back, so the whole
// block should be retried or retired.
type IOError struct {
	Op    nvm.Opcode
	PPA   nvm.PPA
	Plane int
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("appnvm: %v %v: plane %d: %v", e.Op, e.PPA, e.Plane, e.Err)
}

func (e *IOError) Is(target error) bool { return target == ErrIO }
func (e *IOError) Unwrap() error        { return e.Err }
