package am

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Sandbox modes
const (
	ModePooled = "pooled"
	ModeDirect = "direct"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Dialog packages
	v.SetDefault("dialog.root", "work")
	v.SetDefault("dialog.auth", false)
	v.SetDefault("dialog.no_end", false)
	v.SetDefault("dialog.hot_swap", false)
	v.SetDefault("dialog.content_language", "en")
	v.SetDefault("dialog.freshness_seconds", 30)
	v.SetDefault("dialog.install_command", "")

	// Sandbox; ceilings only stop runaway workers
	v.SetDefault("sandbox.mode", ModePooled)
	v.SetDefault("sandbox.direct_timeout_seconds", 0)
	v.SetDefault("sandbox.in_process", false)
	v.SetDefault("sandbox.pool_size", 0)
	v.SetDefault("sandbox.time_seconds", 60*60*24*14)
	v.SetDefault("sandbox.memory_mb", 50000)
	v.SetDefault("sandbox.cpu_percent", 100.0)
	v.SetDefault("sandbox.cpu_strikes", 3)
	v.SetDefault("sandbox.sample_interval_ms", 1000)

	// Remote call surface
	v.SetDefault("rpc.base_url", "http://localhost:4242")
	v.SetDefault("rpc.timeout_seconds", 60)
	v.SetDefault("rpc.http_module_timeout_seconds", 30)

	// Schedule store
	v.SetDefault("database.path", "gbvm.db")

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.ticker_interval_ms", 1000)
	v.SetDefault("schedule.batch", 100)
	v.SetDefault("schedule.retention_days", 30)
	v.SetDefault("schedule.run_timeout_hours", 0)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// BindEnvToggles binds the platform's historical environment variables.
// They take precedence over GBVM_* variables and config files.
func BindEnvToggles(v *viper.Viper) {
	v.BindEnv("dialog.auth", "ENABLE_AUTH", "GBVM_DIALOG_AUTH")
	v.BindEnv("dialog.no_end", "GBDIALOG_NOEND", "GBVM_DIALOG_NO_END")
	v.BindEnv("dialog.hot_swap", "GBDIALOG_HOTSWAP", "GBVM_DIALOG_HOT_SWAP")
	v.BindEnv("dialog.content_language", "DEFAULT_CONTENT_LANGUAGE", "GBVM_DIALOG_CONTENT_LANGUAGE")
	v.BindEnv("sandbox.mode", "GBVM_SANDBOX_MODE")
	v.BindEnv("sandbox.vm3", "VM3")
	v.BindEnv("database.path", "GBVM_DATABASE_PATH")
}

// Mode returns the effective sandbox mode. Once loaded, VM3=true has
// already overridden sandbox.mode.
func (c *Config) Mode() string {
	return c.Sandbox.Mode
}

// applyToggles folds toggles that need more than a key binding into cfg.
func applyToggles(v *viper.Viper, cfg *Config) {
	if v.GetBool("sandbox.vm3") {
		cfg.Sandbox.Mode = ModeDirect
	}
	cfg.Sandbox.Mode = strings.ToLower(strings.TrimSpace(cfg.Sandbox.Mode))
	if cfg.Sandbox.Mode == "" {
		cfg.Sandbox.Mode = ModePooled
	}
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "gbvm.db" // Fallback default
	}
	return c.Database.Path
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Dialog: %s, Sandbox: {Mode: %s}, Database: %s}",
		c.Dialog.Root, c.Sandbox.Mode, c.Database.Path)
}
