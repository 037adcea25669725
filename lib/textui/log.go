// Copyright (C) 2019-2022  Ambassador Labs
// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: Apache-2.0
//
// Contains code based on:
// https://github.com/datawire/dlib/blob/b09ab2e017e16d261f05fff5b3b860d645e774d4/dlog/logger_logrus.go
// https://github.com/telepresenceio/telepresence/blob/ece94a40b00a90722af36b12e40f91cbecc0550c/pkg/log/formatter.go

package textui

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"

	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"git.lukeshu.com/ox-ftl-ng/lib/containers"
)

type LogLevelFlag struct {
	Level dlog.LogLevel
}

var _ pflag.Value = (*LogLevelFlag)(nil)

// Type implements pflag.Value.
func (lvl *LogLevelFlag) Type() string { return "loglevel" }

// Set implements pflag.Value.
func (lvl *LogLevelFlag) Set(str string) error {
	for l := dlog.LogLevelError; l <= dlog.LogLevelTrace; l++ {
		if levelNames[l] == strings.ToLower(str) {
			lvl.Level = l
			return nil
		}
	}
	if strings.EqualFold(str, "warning") {
		lvl.Level = dlog.LogLevelWarn
		return nil
	}
	return fmt.Errorf("invalid log level: %q", str)
}

// String implements pflag.Value.
func (lvl *LogLevelFlag) String() string {
	name, ok := levelNames[lvl.Level]
	if !ok {
		panic(fmt.Errorf("invalid log level: %#v", lvl.Level))
	}
	return name
}

var levelNames = map[dlog.LogLevel]string{
	dlog.LogLevelError: "error",
	dlog.LogLevelWarn:  "warn",
	dlog.LogLevelInfo:  "info",
	dlog.LogLevelDebug: "debug",
	dlog.LogLevelTrace: "trace",
}

var logrusLevels = map[dlog.LogLevel]logrus.Level{
	dlog.LogLevelError: logrus.ErrorLevel,
	dlog.LogLevelWarn:  logrus.WarnLevel,
	dlog.LogLevelInfo:  logrus.InfoLevel,
	dlog.LogLevelDebug: logrus.DebugLevel,
	dlog.LogLevelTrace: logrus.TraceLevel,
}

var levelTags = map[logrus.Level]string{
	logrus.PanicLevel: "PNC",
	logrus.FatalLevel: "FTL",
	logrus.ErrorLevel: "ERR",
	logrus.WarnLevel:  "WRN",
	logrus.InfoLevel:  "INF",
	logrus.DebugLevel: "DBG",
	logrus.TraceLevel: "TRC",
}

// NewLogger returns a logrus-backed dlog.Logger that writes one line
// per message to out:
//
//	2006-01-02 15:04:05.0000 INF thread : message : field=value
func NewLogger(out io.Writer, lvl dlog.LogLevel) dlog.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrusLevels[lvl])
	logger.SetFormatter(formatter{})
	return dlog.WrapLogrus(logger)
}

var logBufPool = containers.SyncPool[*bytes.Buffer]{
	New: func() *bytes.Buffer {
		return new(bytes.Buffer)
	},
	Reset: (*bytes.Buffer).Reset,
}

type formatter struct{}

var _ logrus.Formatter = formatter{}

// Format implements logrus.Formatter.
func (formatter) Format(entry *logrus.Entry) ([]byte, error) {
	logBuf, _ := logBufPool.Get()
	defer logBufPool.Put(logBuf)

	// time and level //////////////////////////////////////////////////////
	logBuf.WriteString(entry.Time.Format("2006-01-02 15:04:05.0000"))
	logBuf.WriteByte(' ')
	logBuf.WriteString(levelTags[entry.Level])

	// fields (early) //////////////////////////////////////////////////////
	fieldKeys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		fieldKeys = append(fieldKeys, key)
	}
	sort.Slice(fieldKeys, func(i, j int) bool {
		iOrd := fieldOrd(fieldKeys[i])
		jOrd := fieldOrd(fieldKeys[j])
		if iOrd != jOrd {
			return iOrd < jOrd
		}
		return fieldKeys[i] < fieldKeys[j]
	})
	nextField := len(fieldKeys)
	for i, fieldKey := range fieldKeys {
		if fieldOrd(fieldKey) >= 0 {
			nextField = i
			break
		}
		writeField(logBuf, fieldKey, entry.Data[fieldKey])
	}

	// message /////////////////////////////////////////////////////////////
	logBuf.WriteString(" : ")
	logBuf.WriteString(strings.TrimSuffix(entry.Message, "\n"))

	// fields (late) ///////////////////////////////////////////////////////
	if nextField < len(fieldKeys) {
		logBuf.WriteString(" :")
	}
	for _, fieldKey := range fieldKeys[nextField:] {
		writeField(logBuf, fieldKey, entry.Data[fieldKey])
	}

	logBuf.WriteByte('\n')
	return bytes.Clone(logBuf.Bytes()), nil
}

// fieldOrd returns the sort-position for a given log-field-key.
// Values <0 go to the left of the message, values >=0 to the right.
func fieldOrd(key string) int {
	switch key {
	case "THREAD": // dgroup
		return -99
	case "appnvm.ch":
		return -10
	case "appnvm.lbaio.line":
		return -9
	default:
		return 1
	}
}

func writeField(w io.Writer, key string, val any) {
	valStr := printer.Sprint(val)
	needsQuote := strings.HasPrefix(valStr, `"`) ||
		strings.ContainsFunc(valStr, func(r rune) bool { return !unicode.IsPrint(r) || r == ' ' })
	if needsQuote {
		valStr = fmt.Sprintf("%q", valStr)
	}

	name := key
	switch {
	case name == "THREAD":
		valStr = strings.TrimPrefix(strings.TrimPrefix(valStr, "/main"), "/")
		if valStr == "" {
			return
		}
		fmt.Fprintf(w, " %s", valStr)
		return
	case strings.HasPrefix(name, "appnvm."):
		name = strings.TrimPrefix(name, "appnvm.")
	}
	fmt.Fprintf(w, " %s=%s", name, valStr)
}
