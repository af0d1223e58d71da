// Copyright 2024 The hwcompose Authors. All rights reserved.

// Package config resolves the composer's ambient configuration: a
// handful of boolean environment flags checked once at startup, and
// an optional on-disk file of per-display color-correction defaults.
package config

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Flags are the boolean environment switches the composer recognizes.
// All default to false when the variable is unset or unparseable.
type Flags struct {
	// DisableExplicitSync reports DISABLE_EXPLICIT_SYNC. It is only
	// parsed here: no other package reads it, so fence handling is
	// unchanged when it is set.
	DisableExplicitSync bool
	// DisableOverlayUsage reports DISABLE_OVERLAY_USAGE. It is only
	// parsed here: no other package reads it, so frames still take the
	// plane manager's direct scan-out path when it is set.
	DisableOverlayUsage bool
	// EnableDownscaling lets the plane manager try display downscaling
	// (checked with a TEST_ONLY commit) for an oversized source crop
	// instead of leaving the minification to the GPU; it reaches the
	// manager through Manager.SetEnableDownscaling.
	EnableDownscaling bool
	// SurfaceRecycleTracing reports SURFACE_RECYCLE_TRACING. It is only
	// parsed here: the surface pool does no logging of its own.
	SurfaceRecycleTracing bool
}

// FlagsFromEnv reads Flags from the process environment.
func FlagsFromEnv() Flags {
	var f Flags
	f.DisableExplicitSync = boolEnv("DISABLE_EXPLICIT_SYNC")
	f.DisableOverlayUsage = boolEnv("DISABLE_OVERLAY_USAGE")
	f.EnableDownscaling = boolEnv("ENABLE_DOWNSCALING")
	f.SurfaceRecycleTracing = boolEnv("SURFACE_RECYCLE_TRACING")
	return f
}

func boolEnv(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: %s=%q is not a valid bool, treating as false", name, v)
		return false
	}
	return b
}

// ColorDefaults is one display's persisted gamma/contrast/brightness
// starting point, loaded once at startup and applied before the first
// frame rather than recomputed every commit.
type ColorDefaults struct {
	GammaRed   float32 `toml:"gamma_red"`
	GammaGreen float32 `toml:"gamma_green"`
	GammaBlue  float32 `toml:"gamma_blue"`

	ContrastRed   uint32 `toml:"contrast_red"`
	ContrastGreen uint32 `toml:"contrast_green"`
	ContrastBlue  uint32 `toml:"contrast_blue"`

	BrightnessRed   uint32 `toml:"brightness_red"`
	BrightnessGreen uint32 `toml:"brightness_green"`
	BrightnessBlue  uint32 `toml:"brightness_blue"`
}

// defaultColor is the identity correction: gamma 1, no contrast or
// brightness adjustment.
func defaultColor() ColorDefaults {
	return ColorDefaults{GammaRed: 1, GammaGreen: 1, GammaBlue: 1}
}

// File is the on-disk configuration format: a table of per-display
// color defaults keyed by a stable display name (e.g. "eDP-1").
type File struct {
	Displays map[string]ColorDefaults `toml:"displays"`
}

// ForDisplay returns the color defaults configured for name, or the
// identity correction if name has no entry.
func (f *File) ForDisplay(name string) ColorDefaults {
	if f == nil || f.Displays == nil {
		return defaultColor()
	}
	if c, ok := f.Displays[name]; ok {
		return c
	}
	return defaultColor()
}

// Load decodes the TOML file at path. A missing file is not an error:
// it returns an empty File so callers fall back to identity color
// correction for every display.
func Load(path string) (*File, error) {
	f := &File{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return f, nil
	}
	if _, err := toml.DecodeFile(path, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Save encodes f as TOML and writes it to path, creating its parent
// directory if needed.
func Save(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Dir resolves the directory the composer's config file lives in,
// honoring XDG_CONFIG_HOME before falling back to ~/.config.
func Dir() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdg != "" {
		return filepath.Join(xdg, "hwcompose")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "hwcompose")
}

// FilePath is the default location Load/Save operate on.
func FilePath() string {
	return filepath.Join(Dir(), "config.toml")
}
