package am

import (
	"os"
	"sort"
	"strings"

	"github.com/teranos/gbvm/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/gbvm/gbvm.toml
	SourceUser        ConfigSource = "user"        // ~/.gbvm/gbvm.toml
	SourceProject     ConfigSource = "project"     // nearest gbvm.toml
	SourceEnvironment ConfigSource = "environment" // GBVM_* and toggle env vars
)

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"` // File path or env var name
}

// ConfigIntrospection provides metadata about the active configuration
type ConfigIntrospection struct {
	Settings []SettingInfo `json:"settings"`
}

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string
}

// toggleEnv lists the historical variables bound to each key
var toggleEnv = map[string][]string{
	"dialog.auth":             {"ENABLE_AUTH"},
	"dialog.no_end":           {"GBDIALOG_NOEND"},
	"dialog.hot_swap":         {"GBDIALOG_HOTSWAP"},
	"dialog.content_language": {"DEFAULT_CONTENT_LANGUAGE"},
	"sandbox.mode":            {"VM3"},
}

// GetConfigIntrospection returns every effective setting with its source
func GetConfigIntrospection() (*ConfigIntrospection, error) {
	if _, err := Load(); err != nil {
		return nil, errors.Wrap(err, "failed to load config for introspection")
	}
	v := GetViper()

	mu.Lock()
	sources := make(map[string]SourceInfo, len(ConfigSources))
	for k, s := range ConfigSources {
		sources[k] = s
	}
	mu.Unlock()

	introspection := &ConfigIntrospection{Settings: make([]SettingInfo, 0)}
	flattenSettingsWithSources(v.AllSettings(), "", introspection, sources)
	return introspection, nil
}

// flattenSettingsWithSources flattens settings and assigns sources from sourceMap
func flattenSettingsWithSources(settings map[string]interface{}, prefix string, introspection *ConfigIntrospection, sourceMap map[string]SourceInfo) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nestedMap, ok := value.(map[string]interface{}); ok {
			flattenSettingsWithSources(nestedMap, fullKey, introspection, sourceMap)
			continue
		}

		si := sourceOf(fullKey, sourceMap)
		introspection.Settings = append(introspection.Settings, SettingInfo{
			Key:        fullKey,
			Value:      value,
			Source:     si.Source,
			SourcePath: si.Path,
		})
	}
}

func sourceOf(key string, sourceMap map[string]SourceInfo) SourceInfo {
	envKeys := append([]string{"GBVM_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, toggleEnv[key]...)
	for _, envKey := range envKeys {
		if os.Getenv(envKey) != "" {
			return SourceInfo{Source: SourceEnvironment, Path: envKey}
		}
	}
	if si, ok := sourceMap[key]; ok {
		return si
	}
	return SourceInfo{Source: SourceDefault, Path: "built-in default"}
}
