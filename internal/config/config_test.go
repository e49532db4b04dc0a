package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.TimeoutSec != 60 {
		t.Errorf("timeout = %d, want default 60", cfg.Dispatch.TimeoutSec)
	}
	if !cfg.Interrupt.Enabled || cfg.Interrupt.Max != 3 {
		t.Errorf("interrupt defaults wrong: %+v", cfg.Interrupt)
	}
	if cfg.Database.Mode != "file" {
		t.Errorf("mode = %q, want file", cfg.Database.Mode)
	}
}

func TestLoadParsesJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// comments are allowed
		dispatch: { timeout_sec: 90 },
		interrupt: { enabled: false, max: 5 },
	}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.TimeoutSec != 90 {
		t.Errorf("timeout = %d, want 90", cfg.Dispatch.TimeoutSec)
	}
	if cfg.Interrupt.Enabled || cfg.Interrupt.Max != 5 {
		t.Errorf("interrupt = %+v", cfg.Interrupt)
	}
	// Untouched sections keep their defaults.
	if cfg.Energy.HighThreshold != 0.7 {
		t.Errorf("high threshold = %v, want default 0.7", cfg.Energy.HighThreshold)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTOREPLY_RATE_LIMIT_RPM", "33")
	t.Setenv("AUTOREPLY_INTERRUPT_ENABLED", "false")
	t.Setenv("AUTOREPLY_POSTGRES_DSN", "postgres://env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.RateLimitRPM != 33 {
		t.Errorf("rpm = %d, want 33", cfg.Dispatch.RateLimitRPM)
	}
	if cfg.Interrupt.Enabled {
		t.Error("env disable not applied")
	}
	if cfg.Database.PostgresDSN != "postgres://env" {
		t.Errorf("dsn = %q", cfg.Database.PostgresDSN)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := Default()
	cfg.Dispatch.RateLimitRPM = 77

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Dispatch.RateLimitRPM != 77 {
		t.Errorf("rpm = %d after round trip, want 77", got.Dispatch.RateLimitRPM)
	}
}

func TestApplyReloadCopiesTunablesOnly(t *testing.T) {
	cfg := Default()
	next := Default()
	next.Interrupt.Max = 9
	next.Dispatch.TimeoutSec = 120
	next.Database.Mode = "pg"
	next.Dispatch.BusBuffer = 4096

	cfg.applyReload(next)

	if cfg.Interrupt.Max != 9 || cfg.Dispatch.TimeoutSec != 120 {
		t.Errorf("tunables not reloaded: %+v %+v", cfg.Interrupt, cfg.Dispatch)
	}
	if cfg.Database.Mode != "file" {
		t.Error("structural database setting changed on reload")
	}
	if cfg.Dispatch.BusBuffer != 256 {
		t.Error("structural bus buffer changed on reload")
	}
}

func TestAccessorConversions(t *testing.T) {
	cfg := Default()
	if got := cfg.DispatchTimeout(); got != 60*time.Second {
		t.Errorf("DispatchTimeout = %v", got)
	}
	if got := cfg.PreemptDelay(); got != time.Second {
		t.Errorf("PreemptDelay = %v", got)
	}
	lo, hi := cfg.IntervalBounds()
	if lo != time.Second || hi != 60*time.Second {
		t.Errorf("bounds = %v, %v", lo, hi)
	}
	if pol := cfg.InterruptPolicy(); !pol.Enabled || pol.Max != 3 {
		t.Errorf("InterruptPolicy = %+v", pol)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x"); got != home+"/x" {
		t.Errorf("ExpandHome(~/x) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome(/abs/path) = %q", got)
	}
}
