// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"errors"
	"io"
	"os"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/lbaio"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvmutil"
	"git.lukeshu.com/ox-ftl-ng/lib/textui"
)

// sectorsPerCommand is how many sectors each host command carries.
var sectorsPerCommand = textui.Tunable(4 * lbaio.LineSize)

// readSectors splits everything r has into sectors of size bytes,
// zero-padding the last one.
func readSectors(r io.Reader, size int) ([][]byte, error) {
	br := bufio.NewReader(r)
	var ret [][]byte
	for {
		sec := make([]byte, size)
		n, err := io.ReadFull(br, sec)
		if n > 0 {
			ret = append(ret, sec)
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return ret, nil
		case err != nil:
			return nil, err
		}
	}
}

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "write SLBA [FILE]",
			Short: "Write FILE (or stdin) to the LBAs starting at SLBA",
			Args:  cliutil.WrapPositionalArgs(cobra.RangeArgs(1, 2)),
		},
		RunE: func(inst *appnvmutil.Instance, cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			slba, err := parseUint[uint64]("slba", args[0])
			if err != nil {
				return err
			}
			in := io.Reader(os.Stdin)
			if len(args) > 1 && args[1] != "-" {
				fh, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer fh.Close()
				in = fh
			}
			data, err := readSectors(in, inst.SectorSize())
			if err != nil {
				return err
			}

			progress := textui.NewProgress[textui.Portion[int]](ctx, dlog.LogLevelInfo, textui.Tunable(1*time.Second))
			defer progress.Done()
			return chunks(len(data), sectorsPerCommand, func(off, cnt int) error {
				progress.Set(textui.Portion[int]{N: off, D: len(data)})
				if err := inst.Write(ctx, slba+uint64(off), data[off:off+cnt]); err != nil {
					return err
				}
				progress.Set(textui.Portion[int]{N: off + cnt, D: len(data)})
				return nil
			})
		},
	})

	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "read SLBA NSEC",
			Short: "Copy NSEC sectors starting at SLBA to stdout",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		},
		RunE: func(inst *appnvmutil.Instance, cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			slba, err := parseUint[uint64]("slba", args[0])
			if err != nil {
				return err
			}
			nsec, err := parseUint[uint32]("nsec", args[1])
			if err != nil {
				return err
			}

			out := bufio.NewWriter(os.Stdout)
			defer func() {
				if _err := out.Flush(); err == nil && _err != nil {
					err = _err
				}
			}()
			progress := textui.NewProgress[textui.Portion[int]](ctx, dlog.LogLevelInfo, textui.Tunable(1*time.Second))
			defer progress.Done()
			buf := make([][]byte, sectorsPerCommand)
			for i := range buf {
				buf[i] = make([]byte, inst.SectorSize())
			}
			return chunks(int(nsec), sectorsPerCommand, func(off, cnt int) error {
				progress.Set(textui.Portion[int]{N: off, D: int(nsec)})
				if err := inst.Read(ctx, slba+uint64(off), buf[:cnt]); err != nil {
					return err
				}
				for _, sec := range buf[:cnt] {
					if _, err := out.Write(sec); err != nil {
						return err
					}
				}
				progress.Set(textui.Portion[int]{N: off + cnt, D: int(nsec)})
				return nil
			})
		},
	})
}
