package config

import "github.com/spf13/viper"

// Registry plugin registry config struct
type Registry struct {
	PluginDir string   // directory scanned for plugin artifacts
	Mode      string   // "inprocess" or "sandbox"
	Includes  []string // plugin names to include, empty means all
	Excludes  []string // plugin names to skip
	Watch     bool     // discover artifacts dropped into PluginDir at runtime
}

// getRegistryConfig returns the registry config
func getRegistryConfig(v *viper.Viper) *Registry {
	return &Registry{
		PluginDir: getStringOrDefault(v, "registry.plugin_dir", "./plugins"),
		Mode:      getStringOrDefault(v, "registry.mode", "sandbox"),
		Includes:  v.GetStringSlice("registry.includes"),
		Excludes:  v.GetStringSlice("registry.excludes"),
		Watch:     getBoolOrDefault(v, "registry.watch", false),
	}
}
