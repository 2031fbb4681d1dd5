package protoplus

import (
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/yaroher/go-protoplus/logger"
	"github.com/yaroher/go-protoplus/schema"
)

// Config controls file naming and encoding for a Schema.
type Config struct {
	// Salt selects random or name-derived filename salts.
	Salt schema.SaltPolicy
	// Deterministic makes Serialize order map entries by key.
	Deterministic bool
}

type Option func(*Config)

func WithSalt(p schema.SaltPolicy) Option {
	return func(c *Config) { c.Salt = p }
}

func WithDeterministic(v bool) Option {
	return func(c *Config) { c.Deterministic = v }
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

func paramOrDefault(params map[string]string, key, def string) string {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

// ParseConfig reads a "key=value,key=value" parameter string. Known keys are
// salt (random or deterministic) and deterministic (true or false).
func ParseConfig(param string) (Config, error) {
	params := make(map[string]string)
	for _, p := range strings.Split(param, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return Config{}, errors.Errorf("malformed parameter %q", p)
		}
		switch kv[0] {
		case "salt", "deterministic":
			params[kv[0]] = kv[1]
		default:
			return Config{}, errors.Errorf("unknown parameter %q", kv[0])
		}
	}
	logger.Debug("parsed config", zap.Any("params", params))

	var cfg Config
	switch salt := paramOrDefault(params, "salt", "random"); salt {
	case "random":
		cfg.Salt = schema.SaltRandom
	case "deterministic":
		cfg.Salt = schema.SaltDeterministic
	default:
		return Config{}, errors.Errorf("salt must be random or deterministic, got %q", salt)
	}
	switch det := paramOrDefault(params, "deterministic", "false"); det {
	case "true":
		cfg.Deterministic = true
	case "false":
	default:
		return Config{}, errors.Errorf("deterministic must be true or false, got %q", det)
	}
	return cfg, nil
}
