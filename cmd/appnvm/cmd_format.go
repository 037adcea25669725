// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvmutil"
	"git.lukeshu.com/ox-ftl-ng/lib/textui"
)

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "format",
			Short: "Create an erased medium image with the configured geometry",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		Create: true,
		RunE: func(inst *appnvmutil.Instance, _ *cobra.Command, _ []string) error {
			hdr := inst.Medium.Header()
			_, err := textui.Fprintf(os.Stdout, "%v: %d channel(s) of %v, %d LBAs\n",
				hdr.UUID, hdr.NChannels, hdr.Geometry, inst.Map.NLBAs())
			return err
		},
	})
}
