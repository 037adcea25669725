// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvmutil"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
	"git.lukeshu.com/ox-ftl-ng/lib/textui"
)

func blockState(v byte) string {
	switch v {
	case appnvm.BlockGood:
		return "good"
	case appnvm.BlockBad:
		return "bad"
	default:
		return fmt.Sprintf("%#04x", v)
	}
}

func parseBlockState(arg string) (byte, error) {
	switch strings.ToLower(arg) {
	case "good":
		return appnvm.BlockGood, nil
	case "bad":
		return appnvm.BlockBad, nil
	default:
		return parseUint[byte]("state", arg)
	}
}

func parseLUN(args []string) (nvm.PPA, error) {
	var ppa nvm.PPA
	var err error
	if ppa.Ch, err = parseUint[uint8]("channel", args[0]); err != nil {
		return ppa, err
	}
	if ppa.LUN, err = parseUint[uint8]("lun", args[1]); err != nil {
		return ppa, err
	}
	return ppa, nil
}

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "bbt-get CHANNEL LUN",
			Short: "Print the bad-block table of one LUN",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		},
		RunE: func(inst *appnvmutil.Instance, _ *cobra.Command, args []string) error {
			ppa, err := parseLUN(args)
			if err != nil {
				return err
			}
			geom := inst.Medium.Geometry()
			row := make([]byte, geom.BlocksPerLUN*geom.PlanesPerBlock)
			if err := inst.FTL.GetBBTbl(ppa, row); err != nil {
				return err
			}
			for blk := 0; blk < geom.BlocksPerLUN; blk++ {
				var line strings.Builder
				textui.Fprintf(&line, "ch%d/lun%d/blk%d:", ppa.Ch, ppa.LUN, blk)
				for pl := 0; pl < geom.PlanesPerBlock; pl++ {
					textui.Fprintf(&line, " pl%d=%s", pl, blockState(row[blk*geom.PlanesPerBlock+pl]))
				}
				line.WriteByte('\n')
				if _, err := os.Stdout.WriteString(line.String()); err != nil {
					return err
				}
			}
			return nil
		},
	})

	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "bbt-set CHANNEL LUN BLOCK PLANE {good|bad|VALUE}",
			Short: "Change one entry of the bad-block table and flush it to the medium",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(5)),
		},
		RunE: func(inst *appnvmutil.Instance, cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ppa, err := parseLUN(args)
			if err != nil {
				return err
			}
			if ppa.Blk, err = parseUint[uint16]("block", args[2]); err != nil {
				return err
			}
			if ppa.Pl, err = parseUint[uint8]("plane", args[3]); err != nil {
				return err
			}
			val, err := parseBlockState(args[4])
			if err != nil {
				return err
			}
			if err := inst.FTL.SetBBTbl(ctx, ppa, val); err != nil {
				return err
			}
			dlog.Infof(ctx, "%v: marked %s", ppa, blockState(val))
			return nil
		},
	})
}
