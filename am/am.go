// Package am holds the gbvm configuration: where dialog packages live, how
// scripts are pre-processed and executed, and where the schedule store is.
//
// Values are merged from /etc/gbvm/gbvm.toml, ~/.gbvm/gbvm.toml, the
// nearest gbvm.toml above the working directory, GBVM_* variables and the
// platform's historical toggles (ENABLE_AUTH, GBDIALOG_NOEND,
// GBDIALOG_HOTSWAP, VM3, DEFAULT_CONTENT_LANGUAGE), lowest to highest.
package am

import "time"

// Config represents the gbvm configuration
type Config struct {
	Dialog   DialogConfig   `mapstructure:"dialog" json:"dialog" yaml:"dialog" toml:"dialog"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox" json:"sandbox" yaml:"sandbox" toml:"sandbox"`
	RPC      RPCConfig      `mapstructure:"rpc" json:"rpc" yaml:"rpc" toml:"rpc"`
	Database DatabaseConfig `mapstructure:"database" json:"database" yaml:"database" toml:"database"`
	Schedule ScheduleConfig `mapstructure:"schedule" json:"schedule" yaml:"schedule" toml:"schedule"`
	Log      LogConfig      `mapstructure:"log" json:"log" yaml:"log" toml:"log"`
}

// DialogConfig configures loading of dialog packages
type DialogConfig struct {
	// Root contains one <bot>.gbdialog folder per bot.
	Root string `mapstructure:"root" json:"root" yaml:"root" toml:"root"`
	// Auth prepends an implicit login prompt to every script (ENABLE_AUTH).
	Auth bool `mapstructure:"auth" json:"auth" yaml:"auth" toml:"auth"`
	// NoEnd strips END lines instead of truncating at the first one (GBDIALOG_NOEND).
	NoEnd bool `mapstructure:"no_end" json:"no_end" yaml:"no_end" toml:"no_end"`
	// HotSwap recompiles scripts when they are saved (GBDIALOG_HOTSWAP).
	HotSwap bool `mapstructure:"hot_swap" json:"hot_swap" yaml:"hot_swap" toml:"hot_swap"`
	// ContentLanguage is the locale of sessions that carry none (DEFAULT_CONTENT_LANGUAGE).
	ContentLanguage string `mapstructure:"content_language" json:"content_language" yaml:"content_language" toml:"content_language"`
	// FreshnessSeconds is the staleness window of compiled artifacts (default: 30)
	FreshnessSeconds int `mapstructure:"freshness_seconds" json:"freshness_seconds" yaml:"freshness_seconds" toml:"freshness_seconds"`
	// InstallCommand provisions script dependencies; empty disables provisioning.
	InstallCommand string `mapstructure:"install_command" json:"install_command" yaml:"install_command" toml:"install_command"`
}

// SandboxConfig configures script execution
type SandboxConfig struct {
	// Mode is "pooled" (default) or "direct". VM3=true selects direct.
	Mode string `mapstructure:"mode" json:"mode" yaml:"mode" toml:"mode"`
	// DirectTimeoutSeconds bounds direct invocations (0 = caller decides)
	DirectTimeoutSeconds int `mapstructure:"direct_timeout_seconds" json:"direct_timeout_seconds" yaml:"direct_timeout_seconds" toml:"direct_timeout_seconds"`
	// InProcess runs pooled workers as goroutines instead of child processes.
	InProcess bool `mapstructure:"in_process" json:"in_process" yaml:"in_process" toml:"in_process"`

	PoolSize             int     `mapstructure:"pool_size" json:"pool_size" yaml:"pool_size" toml:"pool_size"`                                     // Concurrent invocations per bot (0 = CPU count)
	TimeSeconds          int     `mapstructure:"time_seconds" json:"time_seconds" yaml:"time_seconds" toml:"time_seconds"`                         // Wall-clock ceiling (default: 14 days)
	MemoryMB             int     `mapstructure:"memory_mb" json:"memory_mb" yaml:"memory_mb" toml:"memory_mb"`                                     // Worker RSS ceiling (default: 50000)
	CPUPercent           float64 `mapstructure:"cpu_percent" json:"cpu_percent" yaml:"cpu_percent" toml:"cpu_percent"`                             // Worker CPU share ceiling (default: 100)
	CPUStrikes           int     `mapstructure:"cpu_strikes" json:"cpu_strikes" yaml:"cpu_strikes" toml:"cpu_strikes"`                             // Consecutive samples over the CPU ceiling (default: 3)
	SampleIntervalMillis int     `mapstructure:"sample_interval_ms" json:"sample_interval_ms" yaml:"sample_interval_ms" toml:"sample_interval_ms"` // Watchdog interval (default: 1000)
}

// RPCConfig configures the remote call surface scripts talk to
type RPCConfig struct {
	BaseURL        string `mapstructure:"base_url" json:"base_url" yaml:"base_url" toml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	// HTTPModuleTimeoutSeconds bounds requests scripts make with require("http")
	HTTPModuleTimeoutSeconds int `mapstructure:"http_module_timeout_seconds" json:"http_module_timeout_seconds" yaml:"http_module_timeout_seconds" toml:"http_module_timeout_seconds"`
}

// DatabaseConfig configures the SQLite schedule store
type DatabaseConfig struct {
	Path string `mapstructure:"path" json:"path" yaml:"path" toml:"path"`
}

// ScheduleConfig configures the scheduled script ticker
type ScheduleConfig struct {
	Enabled         bool `mapstructure:"enabled" json:"enabled" yaml:"enabled" toml:"enabled"`
	TickerMillis    int  `mapstructure:"ticker_interval_ms" json:"ticker_interval_ms" yaml:"ticker_interval_ms" toml:"ticker_interval_ms"`
	Batch           int  `mapstructure:"batch" json:"batch" yaml:"batch" toml:"batch"`
	RetentionDays   int  `mapstructure:"retention_days" json:"retention_days" yaml:"retention_days" toml:"retention_days"` // Run history kept (0 = forever)
	RunTimeoutHours int  `mapstructure:"run_timeout_hours" json:"run_timeout_hours" yaml:"run_timeout_hours" toml:"run_timeout_hours"`
}

// LogConfig configures the global logger
type LogConfig struct {
	JSON  bool   `mapstructure:"json" json:"json" yaml:"json" toml:"json"`
	Level string `mapstructure:"level" json:"level" yaml:"level" toml:"level"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// DirectTimeout returns the direct-mode bound as a duration
func (c SandboxConfig) DirectTimeout() time.Duration {
	return time.Duration(c.DirectTimeoutSeconds) * time.Second
}

// Time returns the pooled wall-clock ceiling as a duration
func (c SandboxConfig) Time() time.Duration {
	return time.Duration(c.TimeSeconds) * time.Second
}

// SampleInterval returns the watchdog interval as a duration
func (c SandboxConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMillis) * time.Millisecond
}

// MemoryBytes returns the worker memory ceiling in bytes
func (c SandboxConfig) MemoryBytes() uint64 {
	if c.MemoryMB <= 0 {
		return 0
	}
	return uint64(c.MemoryMB) * 1024 * 1024
}

// Freshness returns the artifact staleness window
func (c DialogConfig) Freshness() time.Duration {
	return time.Duration(c.FreshnessSeconds) * time.Second
}

// TickerInterval returns the schedule polling interval
func (c ScheduleConfig) TickerInterval() time.Duration {
	return time.Duration(c.TickerMillis) * time.Millisecond
}

// RunTimeout bounds one scheduled run (0 = unbounded)
func (c ScheduleConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutHours) * time.Hour
}
