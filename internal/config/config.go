package config

import (
	"sync"
	"time"
)

// Config is the full engine configuration. All reads of tunable sections
// go through accessor methods so the fsnotify watcher can swap values at
// runtime without racing the scheduler.
type Config struct {
	Dispatch  DispatchConfig  `json:"dispatch"`
	Energy    EnergyConfig    `json:"energy"`
	Interrupt InterruptConfig `json:"interrupt"`
	Health    HealthConfig    `json:"health"`
	History   HistoryConfig   `json:"history"`
	Streams   StreamsConfig   `json:"streams"`
	Database  DatabaseConfig  `json:"database"`
	Telemetry TelemetryConfig `json:"telemetry"`

	mu sync.RWMutex
}

// DispatchConfig bounds dispatch pacing.
type DispatchConfig struct {
	MinIntervalMs int `json:"min_interval_ms"` // floor for computed intervals
	MaxIntervalMs int `json:"max_interval_ms"` // ceiling for computed intervals
	TimeoutSec    int `json:"timeout_sec"`     // outer timeout per dispatch
	RateLimitRPM  int `json:"rate_limit_rpm"`  // global dispatches per minute, 0 = unlimited
	BusBuffer     int `json:"bus_buffer"`      // inbound bus channel capacity
}

// EnergyConfig tunes the activity scorer.
type EnergyConfig struct {
	HighThreshold  float64 `json:"high_threshold"`  // above this, energy is compressed upward
	ReplyThreshold float64 `json:"reply_threshold"` // below this, energy is compressed downward
	CacheTTLSec    int     `json:"cache_ttl_sec"`
}

// InterruptConfig governs preemption of pending dispatch timers.
type InterruptConfig struct {
	Enabled        bool `json:"enabled"`
	AllowWhileBusy bool `json:"allow_while_busy"` // permit preemption while a dispatch is running
	Max            int  `json:"max"`              // interruptions per stream between dispatches
	PreemptDelayMs int  `json:"preempt_delay_ms"` // fixed near-immediate reschedule delay
}

// HealthConfig drives the stuck-dispatch monitor and the idle sweep.
type HealthConfig struct {
	PeriodSec int    `json:"period_sec"` // monitor scan period
	StaleSec  int    `json:"stale_sec"`  // processing older than this is suspect
	SweepCron string `json:"sweep_cron"` // cron expression for idle-stream eviction
}

// HistoryConfig bounds the per-stream processed-message ring.
type HistoryConfig struct {
	Capacity int `json:"capacity"`
}

// StreamsConfig governs stream lifecycle.
type StreamsConfig struct {
	IdleEvictSec int `json:"idle_evict_sec"` // streams inactive longer than this are evicted
}

// DatabaseConfig selects the read-mark persistence backend.
type DatabaseConfig struct {
	Mode        string `json:"mode"` // "file" (default) or "pg"
	PostgresDSN string `json:"postgres_dsn,omitempty"`
	FileDir     string `json:"file_dir,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// DispatchTimeout returns the outer per-dispatch timeout.
func (c *Config) DispatchTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Dispatch.TimeoutSec) * time.Second
}

// IntervalBounds returns the configured [min, max] dispatch interval.
func (c *Config) IntervalBounds() (time.Duration, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Dispatch.MinIntervalMs) * time.Millisecond,
		time.Duration(c.Dispatch.MaxIntervalMs) * time.Millisecond
}

// InterruptPolicy returns a copy of the current interruption settings.
func (c *Config) InterruptPolicy() InterruptConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Interrupt
}

// PreemptDelay returns the fixed reschedule delay used after a preemption.
func (c *Config) PreemptDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Interrupt.PreemptDelayMs) * time.Millisecond
}

// EnergySettings returns a copy of the current scorer settings.
func (c *Config) EnergySettings() EnergyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Energy
}

// HealthSettings returns a copy of the current health monitor settings.
func (c *Config) HealthSettings() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// applyReload copies the runtime-tunable sections from a freshly parsed
// config. Structural settings (database, telemetry, buffer sizes) need a
// restart and are deliberately not touched.
func (c *Config) applyReload(next *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Dispatch.MinIntervalMs = next.Dispatch.MinIntervalMs
	c.Dispatch.MaxIntervalMs = next.Dispatch.MaxIntervalMs
	c.Dispatch.TimeoutSec = next.Dispatch.TimeoutSec
	c.Energy = next.Energy
	c.Interrupt = next.Interrupt
	c.Health = next.Health
}
