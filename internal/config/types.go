// Package config provides configuration loading for mindns-k8s using Viper.
// Configuration is loaded from an optional YAML file with automatic
// environment variable binding.
//
// Environment variables use the MINDNS_ prefix and underscore-separated
// keys:
//   - MINDNS_SERVER_PORT -> server.port
//   - MINDNS_MIRROR_SERVERS -> mirror.servers (comma-separated)
//   - MINDNS_BLOCK_ENABLED -> block.enabled
package config

import (
	"net"
)

// RewriteEntry is one static host/IP pair from the `rewrites` config key.
type RewriteEntry struct {
	Host string `yaml:"host" mapstructure:"host"`
	IP   string `yaml:"ip"   mapstructure:"ip"`
}

// ServerConfig contains UDP listener settings.
type ServerConfig struct {
	Port              int `yaml:"port"                    mapstructure:"port"`
	PeerTimeoutSecond int `yaml:"peer_timeout_seconds"    mapstructure:"peer_timeout_seconds"`
	Bind              string `yaml:"bind"                 mapstructure:"bind"`
}

// MirrorConfig controls upstream recursive resolution.
type MirrorConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Servers []string `yaml:"servers" mapstructure:"servers"`
}

// BlockConfig controls the blocklist-based blocker.
type BlockConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Lists   []string `yaml:"lists"   mapstructure:"lists"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json"  mapstructure:"json"`
}

// AdminConfig controls the optional admin HTTP surface.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Bind    string `yaml:"bind"    mapstructure:"bind"`
	Port    int    `yaml:"port"    mapstructure:"port"`
	DBPath  string `yaml:"db_path" mapstructure:"db_path"`
}

// ResolverConfig controls the recursive resolver.
type ResolverConfig struct {
	HopLimit int `yaml:"hop_limit" mapstructure:"hop_limit"`
}

// Config is the root configuration structure (spec.md §6, SPEC_FULL.md §6).
type Config struct {
	Server   ServerConfig   `yaml:"server"   mapstructure:"server"`
	Mirror   MirrorConfig   `yaml:"mirror"   mapstructure:"mirror"`
	Block    BlockConfig    `yaml:"block"    mapstructure:"block"`
	Rewrites []RewriteEntry `yaml:"rewrites" mapstructure:"rewrites"`
	Logging  LoggingConfig  `yaml:"logging"  mapstructure:"logging"`
	Admin    AdminConfig    `yaml:"admin"    mapstructure:"admin"`
	Resolver ResolverConfig `yaml:"resolver" mapstructure:"resolver"`
}

// RewriteIPs resolves every configured static rewrite to a parsed IP,
// silently skipping entries whose ip field fails to parse — a bad static
// rewrite should not prevent the rest of configuration from loading.
func (c *Config) RewriteIPs() map[string]net.IP {
	out := make(map[string]net.IP, len(c.Rewrites))
	for _, r := range c.Rewrites {
		if ip := net.ParseIP(r.IP); ip != nil {
			out[r.Host] = ip
		}
	}
	return out
}

// ResolveConfigPath returns the config file path given by the flag. When
// the flag is empty it returns "", so no config file is read; no
// environment variable or default path is consulted.
func ResolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return ""
}

// Load loads configuration from a YAML file (if path is non-empty) with
// environment variable overrides layered on top.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (MINDNS_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
