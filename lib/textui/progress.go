// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"
)

type Stats interface {
	comparable
	fmt.Stringer
}

// Progress logs the most recent value passed to Set once per
// interval, skipping the line if nothing changed.  The logging
// goroutine starts on the first Set.
type Progress[T Stats] struct {
	ctx      context.Context
	lvl      dlog.LogLevel
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	started bool
	cur     T
	logged  T
}

func NewProgress[T Stats](ctx context.Context, lvl dlog.LogLevel, interval time.Duration) *Progress[T] {
	ctx, cancel := context.WithCancel(ctx)
	return &Progress[T]{
		ctx:      ctx,
		lvl:      lvl,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (p *Progress[T]) Set(val T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur = val
	if !p.started {
		p.started = true
		go p.run()
	}
}

// Done logs the final value (if it has not been logged yet) and
// stops the logging goroutine.
func (p *Progress[T]) Done() {
	p.cancel()
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		<-p.done
	}
}

func (p *Progress[T]) flush(force bool) {
	p.mu.Lock()
	cur := p.cur
	if !force && cur == p.logged {
		p.mu.Unlock()
		return
	}
	p.logged = cur
	p.mu.Unlock()
	dlog.Log(p.ctx, p.lvl, cur.String())
}

func (p *Progress[T]) run() {
	defer close(p.done)
	p.flush(true)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			p.flush(false)
			return
		case <-ticker.C:
			p.flush(false)
		}
	}
}
