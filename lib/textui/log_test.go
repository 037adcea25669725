// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui_test

import (
	"context"
	"strings"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ox-ftl-ng/lib/textui"
)

func logLineRegexp(inner string) string {
	return `[0-9]{4}-[0-9]{2}-[0-9]{2} [0-9]{2}:[0-9]{2}:[0-9]{2}\.[0-9]{4} ` + inner + `\n`
}

func TestLogFormat(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	ctx := dlog.WithLogger(context.Background(), textui.NewLogger(&out, dlog.LogLevelTrace))
	dlog.Debugf(ctx, "foo %d", 12345)
	assert.Regexp(t,
		`^`+logLineRegexp(`DBG : foo 12345`)+`$`,
		out.String())
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	ctx := dlog.WithLogger(context.Background(), textui.NewLogger(&out, dlog.LogLevelInfo))
	dlog.Error(ctx, "Error")
	dlog.Warn(ctx, "Warn")
	dlog.Info(ctx, "Info")
	dlog.Debug(ctx, "Debug")
	dlog.Trace(ctx, "Trace")
	assert.Regexp(t,
		`^`+
			logLineRegexp(`ERR : Error`)+
			logLineRegexp(`WRN : Warn`)+
			logLineRegexp(`INF : Info`)+
			`$`,
		out.String())
}

func TestLogField(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	ctx := dlog.WithLogger(context.Background(), textui.NewLogger(&out, dlog.LogLevelInfo))
	ctx = dlog.WithField(ctx, "foo", 12345)
	ctx = dlog.WithField(ctx, "appnvm.ch", 3)
	ctx = dlog.WithField(ctx, "note", "two words")
	dlog.Info(ctx, "msg")
	assert.Regexp(t,
		`^`+logLineRegexp(`INF ch=3 : msg : foo=12,345 note="two words"`)+`$`,
		out.String())
}

func TestLogLevelFlag(t *testing.T) {
	t.Parallel()
	var flag textui.LogLevelFlag
	require.NoError(t, flag.Set("DEBUG"))
	assert.Equal(t, dlog.LogLevelDebug, flag.Level)
	assert.Equal(t, "debug", flag.String())
	require.NoError(t, flag.Set("warning"))
	assert.Equal(t, "warn", flag.String())
	assert.EqualError(t, flag.Set("loud"), `invalid log level: "loud"`)
	assert.Equal(t, "loglevel", flag.Type())
}
