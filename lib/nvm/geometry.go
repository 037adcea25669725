// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package nvm describes an open-channel NAND device as it is seen by
// a flash translation layer: the geometry of a channel, physical page
// addresses, the synchronous per-plane command primitive, and the
// LBA-level commands that arrive from the host.
package nvm

import (
	"fmt"
)

// Geometry is the shape of one channel.  It is supplied by the
// physical channel, never modified, and shared by pointer.
type Geometry struct {
	LUNsPerChannel int `json:"lun_per_ch"    mapstructure:"lun_per_ch"`
	BlocksPerLUN   int `json:"blk_per_lun"   mapstructure:"blk_per_lun"`
	PagesPerBlock  int `json:"pg_per_blk"    mapstructure:"pg_per_blk"`
	PlanesPerBlock int `json:"n_of_planes"   mapstructure:"n_of_planes"`
	SectorsPerPage int `json:"sec_per_pg"    mapstructure:"sec_per_pg"`
	SectorSize     int `json:"sec_size"      mapstructure:"sec_size"`
	SectorOOBSize  int `json:"sec_oob_sz"    mapstructure:"sec_oob_sz"`
}

// PageSize is the number of data bytes in one page of one plane.
func (g *Geometry) PageSize() int { return g.SectorsPerPage * g.SectorSize }

// MetaSize is the number of out-of-band bytes in one page of one
// plane.
func (g *Geometry) MetaSize() int { return g.SectorsPerPage * g.SectorOOBSize }

// SectorsPerPlanePage is the number of sectors in a multi-plane page.
func (g *Geometry) SectorsPerPlanePage() int { return g.SectorsPerPage * g.PlanesPerBlock }

// PlanePageSize is the data size of a multi-plane page.
func (g *Geometry) PlanePageSize() int { return g.PageSize() * g.PlanesPerBlock }

// BBTLen is the number of entries in a channel's bad-block table:
// one per (lun, block, plane).
func (g *Geometry) BBTLen() int { return g.LUNsPerChannel * g.BlocksPerLUN * g.PlanesPerBlock }

// maxField bounds each dimension to what fits in a packed PPA.
var maxField = map[string]int{
	"lun_per_ch":  1 << ppaLUNBits,
	"blk_per_lun": 1 << ppaBlkBits,
	"pg_per_blk":  1 << ppaPgBits,
	"n_of_planes": 1 << ppaPlBits,
	"sec_per_pg":  1 << ppaSecBits,
}

func (g *Geometry) Validate() error {
	for _, field := range []struct {
		name string
		val  int
	}{
		{"lun_per_ch", g.LUNsPerChannel},
		{"blk_per_lun", g.BlocksPerLUN},
		{"pg_per_blk", g.PagesPerBlock},
		{"n_of_planes", g.PlanesPerBlock},
		{"sec_per_pg", g.SectorsPerPage},
		{"sec_size", g.SectorSize},
		{"sec_oob_sz", g.SectorOOBSize},
	} {
		if field.val <= 0 {
			return fmt.Errorf("geometry: %s=%d must be positive", field.name, field.val)
		}
		if max, ok := maxField[field.name]; ok && field.val > max {
			return fmt.Errorf("geometry: %s=%d exceeds addressable maximum %d", field.name, field.val, max)
		}
	}
	return nil
}

func (g Geometry) String() string {
	return fmt.Sprintf("lun=%d blk=%d pg=%d pl=%d sec=%dx%dB oob=%dB",
		g.LUNsPerChannel, g.BlocksPerLUN, g.PagesPerBlock, g.PlanesPerBlock,
		g.SectorsPerPage, g.SectorSize, g.SectorOOBSize)
}
