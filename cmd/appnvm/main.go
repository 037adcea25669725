// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvmutil"
	"git.lukeshu.com/ox-ftl-ng/lib/textui"
)

type subcommand struct {
	cobra.Command

	// Create formats a new image instead of opening an existing
	// one.
	Create bool
	// Raw leaves the FTL stopped; RunE gets the medium only.
	Raw bool

	RunE func(*appnvmutil.Instance, *cobra.Command, []string) error
}

var subcommands []subcommand

func main() {
	logLevelFlag := textui.LogLevelFlag{
		Level: dlog.LogLevelInfo,
	}
	var configFlag, imageFlag string

	argparser := &cobra.Command{
		Use:   "appnvm {[flags]|SUBCOMMAND}",
		Short: "Run the AppNVM flash translation layer over an open-channel SSD image",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
		SilenceUsage:  true, // our FlagErrorFunc will handle it

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&logLevelFlag, "verbosity", "set the verbosity (default: log_level from the config)")
	argparser.PersistentFlags().StringVar(&configFlag, "config", "", "read the configuration from `appnvm.yaml`")
	if err := argparser.MarkPersistentFlagFilename("config", "yaml", "yml", "json", "toml"); err != nil {
		panic(err)
	}
	argparser.PersistentFlags().StringVar(&imageFlag, "image", "", "use the medium image `nvm.img` instead of the configured one")
	if err := argparser.MarkPersistentFlagFilename("image"); err != nil {
		panic(err)
	}

	for _, child := range subcommands {
		child := child
		cmd := child.Command
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			cfg, err := appnvmutil.LoadConfig(configFlag)
			if err != nil {
				return err
			}
			if imageFlag != "" {
				cfg.Image = imageFlag
			}
			if !cmd.Flags().Changed("verbosity") {
				if err := logLevelFlag.Set(cfg.LogLevel); err != nil {
					return fmt.Errorf("config: log_level: %w", err)
				}
			}

			ctx := cmd.Context()
			logger := textui.NewLogger(os.Stderr, logLevelFlag.Level)
			ctx = dlog.WithLogger(ctx, logger)
			dlog.SetFallbackLogger(logger.WithField("appnvm.THIS_IS_A_BUG", true))

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
				EnableSignalHandling: true,
			})
			grp.Go("main", func(ctx context.Context) (err error) {
				maybeSetErr := func(_err error) {
					if _err != nil && err == nil {
						err = _err
					}
				}
				if child.Create && cfg.Image == "" {
					return fmt.Errorf("no image to format: set --image or \"image\" in the config")
				}
				medium, err := appnvmutil.OpenMedium(ctx, cfg, os.O_RDWR, child.Create)
				if err != nil {
					return err
				}
				defer func() {
					maybeSetErr(medium.Close())
				}()

				inst := appnvmutil.New(cfg, medium)
				if !child.Raw {
					if err := inst.Start(ctx); err != nil {
						return err
					}
					defer func() {
						// Stop even after a signal, so that the
						// mapping table reaches the medium.
						maybeSetErr(inst.Stop(dcontext.WithoutCancel(ctx)))
					}()
				}

				cmd.SetContext(ctx)
				return child.RunE(inst, cmd, args)
			})
			return grp.Wait()
		}
		argparser.AddCommand(&cmd)
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
