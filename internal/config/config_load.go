package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Dispatch: DispatchConfig{
			MinIntervalMs: 1000,
			MaxIntervalMs: 60000,
			TimeoutSec:    60,
			RateLimitRPM:  120,
			BusBuffer:     256,
		},
		Energy: EnergyConfig{
			HighThreshold:  0.7,
			ReplyThreshold: 0.4,
			CacheTTLSec:    60,
		},
		Interrupt: InterruptConfig{
			Enabled:        true,
			AllowWhileBusy: false,
			Max:            3,
			PreemptDelayMs: 1000,
		},
		Health: HealthConfig{
			PeriodSec: 30,
			StaleSec:  120,
			SweepCron: "*/5 * * * *",
		},
		History: HistoryConfig{
			Capacity: 200,
		},
		Streams: StreamsConfig{
			IdleEvictSec: 3600,
		},
		Database: DatabaseConfig{
			Mode:    "file",
			FileDir: "~/.autoreply/state",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "autoreply",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("AUTOREPLY_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("AUTOREPLY_MODE", &c.Database.Mode)
	envStr("AUTOREPLY_STATE_DIR", &c.Database.FileDir)

	envInt("AUTOREPLY_DISPATCH_TIMEOUT_SEC", &c.Dispatch.TimeoutSec)
	envInt("AUTOREPLY_RATE_LIMIT_RPM", &c.Dispatch.RateLimitRPM)
	envInt("AUTOREPLY_MAX_INTERRUPTIONS", &c.Interrupt.Max)
	envBool("AUTOREPLY_INTERRUPT_ENABLED", &c.Interrupt.Enabled)
	envBool("AUTOREPLY_INTERRUPT_WHILE_BUSY", &c.Interrupt.AllowWhileBusy)

	envStr("AUTOREPLY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AUTOREPLY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("AUTOREPLY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("AUTOREPLY_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("AUTOREPLY_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
