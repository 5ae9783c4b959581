// Package config provides the host configuration.
//
// Configuration is layered, lowest to highest precedence:
//
//  1. Built-in defaults (Default)
//  2. The config file, TOML or YAML by extension, with @include support
//  3. PLUGHOST_* environment variables
//
// Example usage:
//
//	cfg, err := config.Load("~/.config/plughost/config.toml")
//	if err != nil {
//	    return err
//	}
//	dir := cfg.Paths.PluginConfigDir("work", "weather")
package config
