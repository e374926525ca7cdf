package bitlens

import (
	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/config"
)

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	cfg        *config.Config
	configPath string
	env        string
	logger     *zap.Logger
	embedder   Embedder
}

// WithConfig uses cfg as is. Defaults are applied to unset fields.
func WithConfig(cfg Config) Option {
	return func(c *engineConfig) {
		c.cfg = &cfg
	}
}

// WithConfigFile loads the YAML config at path.
func WithConfigFile(path string) Option {
	return func(c *engineConfig) {
		c.configPath = path
	}
}

// WithEnv loads config/<env>.yaml. Without any config option ENV selects the file.
func WithEnv(env string) Option {
	return func(c *engineConfig) {
		c.env = env
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *engineConfig) {
		c.logger = l
	}
}

// WithEmbedder replaces the configured embedding provider.
// Rate limiting, caching, budget accounting and prefixes still wrap it.
func WithEmbedder(e Embedder) Option {
	return func(c *engineConfig) {
		c.embedder = e
	}
}

func (c *engineConfig) resolve() (config.Config, error) {
	switch {
	case c.cfg != nil:
		cfg := *c.cfg
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
		return cfg, nil
	case c.configPath != "":
		return config.LoadFile(c.configPath)
	case c.env != "":
		return config.Load(c.env)
	default:
		return config.Load(config.GetEnv())
	}
}
