// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config loads the two contractual settings spec §6 names ("one to
// override the library search path, and one to tune the GC growth factor;
// both are optional and their absence must not affect correctness"), layered
// defaults -> optional project file -> environment, env winning, matching
// the teacher's own flag/file/env config precedence.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/naoina/toml"
)

const (
	// EnvLibPath overrides Config.LibPath, the library search path (spec
	// §6). Load fills the field; no other package reads it.
	EnvLibPath = "PSEUDOCODE_LIB_PATH"
	// EnvGCGrowthFactor overrides the GC's threshold growth multiplier
	// (spec §4.3 step 5's default 2x).
	EnvGCGrowthFactor = "PSEUDOCODE_GC_GROWTH_FACTOR"

	// ProjectFile is the optional per-directory config file, read only if
	// present; its absence is not an error (spec §6 "their absence must not
	// affect correctness").
	ProjectFile = "pseudocode.toml"

	defaultGCGrowthFactor = 2.0
)

// Config is every value spec §6's environment-variable table documents.
type Config struct {
	LibPath        string  `toml:"lib_path"`
	GCGrowthFactor float64 `toml:"gc_growth_factor"`
}

func defaults() Config {
	return Config{LibPath: "", GCGrowthFactor: defaultGCGrowthFactor}
}

// Load reads ProjectFile out of dir if present, then applies the two
// contractual environment variables on top, returning a Config that is
// always valid even when neither source exists.
func Load(dir string) (Config, error) {
	cfg := defaults()

	path := filepath.Join(dir, ProjectFile)
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if v, ok := os.LookupEnv(EnvLibPath); ok {
		cfg.LibPath = v
	}
	if v, ok := os.LookupEnv(EnvGCGrowthFactor); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.GCGrowthFactor = f
		}
	}
	return cfg, nil
}
