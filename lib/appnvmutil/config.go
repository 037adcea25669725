// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package appnvmutil

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

// Config describes a medium image and how to run the FTL on it.
type Config struct {
	// Image is the medium image file; empty means an in-memory
	// medium.
	Image    string       `mapstructure:"image"`
	Channels int          `mapstructure:"channels"`
	Geometry nvm.Geometry `mapstructure:"geometry"`

	RsvBlocks        int    `mapstructure:"rsv_blocks"`
	NLBAs            uint64 `mapstructure:"nlbas"`
	MapCacheSegments int    `mapstructure:"map_cache_segments"`
	QueueDepth       int    `mapstructure:"queue_depth"`

	DrainInterval time.Duration `mapstructure:"drain_interval"`
	DrainAttempts int           `mapstructure:"drain_attempts"`

	LogLevel string `mapstructure:"log_level"`
}

// DefaultGeometry is small enough to keep in memory.
var DefaultGeometry = nvm.Geometry{
	LUNsPerChannel: 2,
	BlocksPerLUN:   32,
	PagesPerBlock:  32,
	PlanesPerBlock: 2,
	SectorsPerPage: 4,
	SectorSize:     512,
	SectorOOBSize:  16,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("image", "")
	v.SetDefault("channels", 2)
	v.SetDefault("geometry.lun_per_ch", DefaultGeometry.LUNsPerChannel)
	v.SetDefault("geometry.blk_per_lun", DefaultGeometry.BlocksPerLUN)
	v.SetDefault("geometry.pg_per_blk", DefaultGeometry.PagesPerBlock)
	v.SetDefault("geometry.n_of_planes", DefaultGeometry.PlanesPerBlock)
	v.SetDefault("geometry.sec_per_pg", DefaultGeometry.SectorsPerPage)
	v.SetDefault("geometry.sec_size", DefaultGeometry.SectorSize)
	v.SetDefault("geometry.sec_oob_sz", DefaultGeometry.SectorOOBSize)
	v.SetDefault("rsv_blocks", 4)
	v.SetDefault("nlbas", 0)
	v.SetDefault("map_cache_segments", 0)
	v.SetDefault("queue_depth", 0)
	v.SetDefault("drain_interval", appnvm.DefaultDrainInterval)
	v.SetDefault("drain_attempts", appnvm.DefaultDrainAttempts)
	v.SetDefault("log_level", "info")
}

// LoadConfig reads the configuration file at filename, or if filename
// is empty, looks for "appnvm.yaml" in the usual places; a missing
// file is not an error in that case.  APPNVM_* environment variables
// override the file (for example APPNVM_GEOMETRY_SEC_SIZE).
func LoadConfig(filename string) (*Config, error) {
	v := viper.New()
	if filename != "" {
		v.SetConfigFile(filename)
	} else {
		v.SetConfigName("appnvm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.appnvm")
		v.AddConfigPath("/etc/appnvm")
	}
	setDefaults(v)

	v.SetEnvPrefix("APPNVM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) Validate() error {
	if err := cfg.Geometry.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Channels < 1 {
		return fmt.Errorf("config: channels=%d must be positive", cfg.Channels)
	}
	if cfg.RsvBlocks < 2 || cfg.RsvBlocks >= cfg.Geometry.BlocksPerLUN {
		return fmt.Errorf("config: rsv_blocks=%d must be in [2, %d)", cfg.RsvBlocks, cfg.Geometry.BlocksPerLUN)
	}
	if cfg.DrainAttempts < 0 || cfg.DrainInterval < 0 {
		return fmt.Errorf("config: drain_interval=%v drain_attempts=%d must not be negative",
			cfg.DrainInterval, cfg.DrainAttempts)
	}
	return nil
}
