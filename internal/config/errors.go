package config

import "errors"

// ErrConfig wraps any configuration failure at startup — a bad file, an
// invalid value, or a missing key required by another enabled key (spec
// §7, "ConfigError ... Process exits non-zero").
var ErrConfig = errors.New("config: invalid configuration")
