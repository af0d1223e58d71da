package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFlagsFromEnvDefaultsFalse(t *testing.T) {
	for _, name := range []string{
		"DISABLE_EXPLICIT_SYNC",
		"DISABLE_OVERLAY_USAGE",
		"ENABLE_DOWNSCALING",
		"SURFACE_RECYCLE_TRACING",
	} {
		os.Unsetenv(name)
	}
	f := FlagsFromEnv()
	if f.DisableExplicitSync || f.DisableOverlayUsage || f.EnableDownscaling || f.SurfaceRecycleTracing {
		t.Fatalf("got %+v, want all false", f)
	}
}

func TestFlagsFromEnvParsesBooleans(t *testing.T) {
	os.Setenv("DISABLE_OVERLAY_USAGE", "true")
	defer os.Unsetenv("DISABLE_OVERLAY_USAGE")
	os.Setenv("ENABLE_DOWNSCALING", "1")
	defer os.Unsetenv("ENABLE_DOWNSCALING")

	f := FlagsFromEnv()
	if !f.DisableOverlayUsage {
		t.Fatal("DisableOverlayUsage = false, want true")
	}
	if !f.EnableDownscaling {
		t.Fatal("EnableDownscaling = false, want true")
	}
}

func TestFlagsFromEnvTreatsGarbageAsFalse(t *testing.T) {
	os.Setenv("DISABLE_EXPLICIT_SYNC", "sideways")
	defer os.Unsetenv("DISABLE_EXPLICIT_SYNC")

	f := FlagsFromEnv()
	if f.DisableExplicitSync {
		t.Fatal("expected an unparseable value to be treated as false")
	}
}

func TestForDisplayFallsBackToIdentity(t *testing.T) {
	f := &File{}
	got := f.ForDisplay("eDP-1")
	want := defaultColor()
	if got != want {
		t.Fatalf("ForDisplay = %+v, want identity %+v", got, want)
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Displays) != 0 {
		t.Fatalf("Displays = %v, want empty", f.Displays)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	want := &File{Displays: map[string]ColorDefaults{
		"eDP-1": {GammaRed: 1.2, GammaGreen: 1.0, GammaBlue: 0.9, ContrastRed: 128},
	}}
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := got.ForDisplay("eDP-1")
	if c != want.Displays["eDP-1"] {
		t.Fatalf("ForDisplay after round trip = %+v, want %+v", c, want.Displays["eDP-1"])
	}
}

func TestDirHonorsXDGConfigHome(t *testing.T) {
	os.Setenv("XDG_CONFIG_HOME", "/tmp/xdgtest")
	defer os.Unsetenv("XDG_CONFIG_HOME")
	if got, want := Dir(), filepath.Join("/tmp/xdgtest", "hwcompose"); got != want {
		t.Fatalf("Dir() = %q, want %q", got, want)
	}
}
