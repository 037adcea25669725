// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"os"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/lbaio"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvmutil"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
	"git.lukeshu.com/ox-ftl-ng/lib/textui"
)

type oobRecord struct {
	Kind string
	LBA  uint64
	OOB  []byte
}

func parseRecord(oob []byte) (oobRecord, bool) {
	if len(bytes.Trim(oob, "\xff")) == 0 {
		return oobRecord{}, false
	}
	rec := oobRecord{OOB: oob}
	typ, lba, err := lbaio.ParseOOB(oob)
	switch {
	case err != nil:
		rec.Kind = "metadata"
	case typ == lbaio.OOBNamespace:
		rec.Kind = "data"
		rec.LBA = lba
	case typ == lbaio.OOBPadding:
		rec.Kind = "padding"
	default:
		rec.Kind = "metadata"
	}
	return rec, true
}

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "dump-oob",
			Short: "Spew the out-of-band record of every written sector",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(inst *appnvmutil.Instance, cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			spew := spew.NewDefaultConfig()
			spew.DisablePointerAddresses = true
			spew.DisableCapacities = true

			geom := inst.Medium.Geometry()
			nsec := geom.SectorsPerPlanePage()
			cmdBuf := &appnvm.PPACmd{
				Op:   nvm.OpRead,
				PPAs: make([]nvm.PPA, nsec),
				Data: make([][]byte, nsec),
				OOB:  make([][]byte, nsec),
			}
			for i := 0; i < nsec; i++ {
				cmdBuf.Data[i] = make([]byte, geom.SectorSize)
				cmdBuf.OOB[i] = make([]byte, geom.SectorOOBSize)
			}

			pagesPerCh := geom.LUNsPerChannel * geom.BlocksPerLUN * geom.PagesPerBlock
			progress := textui.NewProgress[textui.Portion[int]](ctx, dlog.LogLevelInfo, textui.Tunable(1*time.Second))
			defer progress.Done()
			stats := textui.Portion[int]{D: inst.Medium.NumChannels() * pagesPerCh}

			var ppa nvm.PPA
			for ch := 0; ch < inst.Medium.NumChannels(); ch++ {
				ppa.Ch = uint8(ch)
				for lun := 0; lun < geom.LUNsPerChannel; lun++ {
					ppa.LUN = uint8(lun)
					for blk := 0; blk < geom.BlocksPerLUN; blk++ {
						ppa.Blk = uint16(blk)
						for pg := 0; pg < geom.PagesPerBlock; pg++ {
							if err := ctx.Err(); err != nil {
								return err
							}
							ppa.Pg = uint16(pg)
							for i := range cmdBuf.PPAs {
								cmdBuf.PPAs[i] = ppa
								cmdBuf.PPAs[i].Pl = uint8(i / geom.SectorsPerPage)
								cmdBuf.PPAs[i].Sec = uint8(i % geom.SectorsPerPage)
							}
							if err := inst.PPAIO.Submit(ctx, cmdBuf); err != nil {
								dlog.Errorf(ctx, "%v: %v", ppa, err)
							} else {
								for i, oob := range cmdBuf.OOB {
									rec, ok := parseRecord(oob)
									if !ok {
										continue
									}
									textui.Fprintf(os.Stdout, "%v = ", cmdBuf.PPAs[i])
									spew.Dump(rec)
								}
							}
							stats.N++
							progress.Set(stats)
						}
					}
				}
			}
			return nil
		},
	})
}
