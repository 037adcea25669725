// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvm

import (
	"context"
	"time"

	"github.com/datawire/dlib/dcontext"
)

// poll checks cond, then re-checks it every interval up to attempts
// more times.  It reports whether cond became true.  Only a hard
// cancellation of ctx cuts the wait short.
func poll(ctx context.Context, interval time.Duration, attempts int, cond func() bool) bool {
	if cond() {
		return true
	}
	ctx = dcontext.HardContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return cond()
		case <-ticker.C:
		}
		if cond() {
			return true
		}
	}
	return false
}
