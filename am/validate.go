package am

import (
	"net/url"

	"github.com/teranos/gbvm/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Dialog.Root == "" {
		return errors.New("dialog.root cannot be empty")
	}
	if c.Dialog.FreshnessSeconds < 0 {
		return errors.Newf("dialog.freshness_seconds must be >= 0, got %d", c.Dialog.FreshnessSeconds)
	}

	switch c.Sandbox.Mode {
	case ModePooled, ModeDirect:
	default:
		return errors.Newf("sandbox.mode must be %q or %q, got %q", ModePooled, ModeDirect, c.Sandbox.Mode)
	}

	// Ceilings: 0 = disabled, negative = invalid
	if c.Sandbox.DirectTimeoutSeconds < 0 {
		return errors.Newf("sandbox.direct_timeout_seconds must be >= 0, got %d", c.Sandbox.DirectTimeoutSeconds)
	}
	if c.Sandbox.PoolSize < 0 {
		return errors.Newf("sandbox.pool_size must be >= 0, got %d", c.Sandbox.PoolSize)
	}
	if c.Sandbox.TimeSeconds < 0 {
		return errors.Newf("sandbox.time_seconds must be >= 0, got %d", c.Sandbox.TimeSeconds)
	}
	if c.Sandbox.MemoryMB < 0 {
		return errors.Newf("sandbox.memory_mb must be >= 0, got %d", c.Sandbox.MemoryMB)
	}
	if c.Sandbox.CPUPercent < 0 {
		return errors.Newf("sandbox.cpu_percent must be >= 0, got %f", c.Sandbox.CPUPercent)
	}
	if c.Sandbox.SampleIntervalMillis < 0 {
		return errors.Newf("sandbox.sample_interval_ms must be >= 0, got %d", c.Sandbox.SampleIntervalMillis)
	}

	if c.RPC.BaseURL == "" {
		return errors.New("rpc.base_url cannot be empty")
	}
	if u, err := url.Parse(c.RPC.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Newf("rpc.base_url must be an absolute URL, got %q", c.RPC.BaseURL)
	}
	if c.RPC.TimeoutSeconds < 0 {
		return errors.Newf("rpc.timeout_seconds must be >= 0, got %d", c.RPC.TimeoutSeconds)
	}

	if c.Schedule.Enabled && c.Schedule.TickerMillis <= 0 {
		return errors.Newf("schedule.ticker_interval_ms must be > 0 when enabled, got %d", c.Schedule.TickerMillis)
	}
	if c.Schedule.RetentionDays < 0 {
		return errors.Newf("schedule.retention_days must be >= 0, got %d", c.Schedule.RetentionDays)
	}

	return nil
}
