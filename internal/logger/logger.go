// Package logger builds the process logger and carries it through contexts.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environments with a dedicated preset.
const (
	EnvProd = "prod"
	// EnvCLI is for one-shot commands: plain console lines on stderr, so
	// results written to stdout stay machine-readable.
	EnvCLI = "cli"
)

var presets = map[string]func() zap.Config{
	EnvProd:  zap.NewProductionConfig,
	"local":  zap.NewDevelopmentConfig,
	"dev":    zap.NewDevelopmentConfig,
	"docker": zap.NewDevelopmentConfig,
	EnvCLI:   cliConfig,
}

func cliConfig() zap.Config {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// NewLogger builds the logger for env. Every preset writes to stderr.
// A non-empty level (debug, info, warn, error) replaces the preset's level.
func NewLogger(env string, level ...string) (*zap.Logger, error) {
	preset, ok := presets[env]
	if !ok {
		return nil, fmt.Errorf("logger: unknown environment %q", env)
	}
	cfg := preset()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if len(level) > 0 && level[0] != "" {
		lvl, err := zapcore.ParseLevel(level[0])
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("logger: build %s: %w", env, err)
	}
	return l, nil
}
