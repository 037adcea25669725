// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvm/lbaio"
	"git.lukeshu.com/ox-ftl-ng/lib/appnvmutil"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm/nvmfile"
	"git.lukeshu.com/ox-ftl-ng/lib/textui"
)

type badBlock struct {
	PPA   nvm.PPA `json:"ppa"`
	Value byte    `json:"value"`
}

type infoReport struct {
	Medium     nvmfile.Header `json:"medium"`
	FTL        nvm.FTLInfo    `json:"ftl"`
	NLBAs      uint64         `json:"nlbas"`
	Capacity   string         `json:"capacity"`
	FreeBlocks int            `json:"free_blocks"`
	BadBlocks  []badBlock     `json:"bad_blocks"`
	IO         nvmfile.Stats  `json:"io"`
	LBAIO      lbaio.Stats    `json:"lbaio"`
}

func collectBadBlocks(inst *appnvmutil.Instance) ([]badBlock, error) {
	geom := inst.Medium.Geometry()
	row := make([]byte, geom.BlocksPerLUN*geom.PlanesPerBlock)
	var ret []badBlock
	for ch := 0; ch < inst.Medium.NumChannels(); ch++ {
		for lun := 0; lun < geom.LUNsPerChannel; lun++ {
			ppa := nvm.PPA{Ch: uint8(ch), LUN: uint8(lun)}
			if err := inst.FTL.GetBBTbl(ppa, row); err != nil {
				return nil, err
			}
			for i, v := range row {
				if v == appnvm.BlockGood {
					continue
				}
				ppa.Blk = uint16(i / geom.PlanesPerBlock)
				ppa.Pl = uint8(i % geom.PlanesPerBlock)
				ret = append(ret, badBlock{PPA: ppa, Value: v})
			}
		}
	}
	return ret, nil
}

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "info",
			Short: "Describe the medium and the running FTL as JSON",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(inst *appnvmutil.Instance, _ *cobra.Command, _ []string) error {
			bad, err := collectBadBlocks(inst)
			if err != nil {
				return err
			}
			report := infoReport{
				Medium:     inst.Medium.Header(),
				FTL:        inst.FTL.Info(),
				NLBAs:      inst.Map.NLBAs(),
				Capacity:   textui.IEC(inst.Map.NLBAs()*uint64(inst.SectorSize()), "B"),
				FreeBlocks: inst.Prov.FreeBlocks(),
				BadBlocks:  bad,
				IO:         inst.Medium.Stats(),
				LBAIO:      inst.LBAIO.Stats(),
			}
			return writeJSONFile(os.Stdout, report, lowmemjson.ReEncoder{
				Indent:                "\t",
				ForceTrailingNewlines: true,
			})
		},
	})
}
