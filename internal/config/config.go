package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MINDNS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 53)
	v.SetDefault("server.bind", "0.0.0.0")
	v.SetDefault("server.peer_timeout_seconds", 20)

	v.SetDefault("mirror.enabled", true)
	v.SetDefault("mirror.servers", []string{})

	v.SetDefault("block.enabled", true)
	v.SetDefault("block.lists", []string{})

	v.SetDefault("rewrites", []RewriteEntry{})

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.json", false)

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.bind", "127.0.0.1")
	v.SetDefault("admin.port", 8080)
	v.SetDefault("admin.db_path", "./mindns-meta.db")

	v.SetDefault("resolver.hop_limit", 16)
}

func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.Bind = v.GetString("server.bind")
	cfg.Server.PeerTimeoutSecond = v.GetInt("server.peer_timeout_seconds")

	cfg.Mirror.Enabled = v.GetBool("mirror.enabled")
	cfg.Mirror.Servers = getStringSliceOrSplit(v, "mirror.servers")

	cfg.Block.Enabled = v.GetBool("block.enabled")
	cfg.Block.Lists = getStringSliceOrSplit(v, "block.lists")

	if err := v.UnmarshalKey("rewrites", &cfg.Rewrites); err != nil {
		cfg.Rewrites = nil
	}

	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.JSON = v.GetBool("logging.json")

	cfg.Admin.Enabled = v.GetBool("admin.enabled")
	cfg.Admin.Bind = v.GetString("admin.bind")
	cfg.Admin.Port = v.GetInt("admin.port")
	cfg.Admin.DBPath = v.GetString("admin.db_path")

	cfg.Resolver.HopLimit = v.GetInt("resolver.hop_limit")

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// getStringSliceOrSplit handles both slice and comma-separated string values,
// since env-var overrides of list keys arrive as a single string.
func getStringSliceOrSplit(v *viper.Viper, key string) []string {
	if slice := v.GetStringSlice(key); len(slice) > 0 {
		// A single env string comes back split on whitespace only, so each
		// element is split on commas as well.
		var parts []string
		for _, s := range slice {
			parts = append(parts, strings.Split(s, ",")...)
		}
		return trimAll(parts)
	}
	if s := v.GetString(key); s != "" {
		return trimAll(strings.Split(s, ","))
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeConfig validates the loaded configuration, matching the
// "Required when enabled" constraints from spec.md §6.
func normalizeConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be 1..65535", ErrConfig)
	}
	if cfg.Server.PeerTimeoutSecond <= 0 {
		cfg.Server.PeerTimeoutSecond = 20
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "0.0.0.0"
	}

	if cfg.Mirror.Enabled && len(cfg.Mirror.Servers) == 0 {
		return fmt.Errorf("%w: mirror.servers is required when mirror.enabled is true", ErrConfig)
	}
	if cfg.Block.Enabled && len(cfg.Block.Lists) == 0 {
		return fmt.Errorf("%w: block.lists is required when block.enabled is true", ErrConfig)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}

	if cfg.Admin.Enabled {
		if cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535 {
			return fmt.Errorf("%w: admin.port must be 1..65535", ErrConfig)
		}
		if cfg.Admin.Bind == "" {
			cfg.Admin.Bind = "127.0.0.1"
		}
	}

	if cfg.Resolver.HopLimit <= 0 {
		cfg.Resolver.HopLimit = 16
	}

	return nil
}

