// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	"git.lukeshu.com/go/typedsync"
)

// SyncPool is a typedsync.Pool that resets values as they are put
// back, so that a pooled value never pins what it last referenced.
type SyncPool[T any] struct {
	// New, if set, makes a value when the pool is empty.
	New func() T
	// Reset, if set, is called on each value passed to Put.
	Reset func(T)

	inner typedsync.Pool[T]
}

func (p *SyncPool[T]) Get() (val T, ok bool) {
	if val, ok := p.inner.Get(); ok {
		return val, true
	}
	if p.New != nil {
		return p.New(), true
	}
	var zero T
	return zero, false
}

func (p *SyncPool[T]) Put(val T) {
	if p.Reset != nil {
		p.Reset(val)
	}
	p.inner.Put(val)
}
