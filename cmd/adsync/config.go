package main

import (
	"context"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/observability"
)

// loadConfig reads the configuration file, when one is given, over the
// defaults and applies flag and environment overrides. It does not validate.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.NewConfig()
	if path := v.GetString("config"); path != "" {
		if err := config.Load(path, cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load configuration").
				WithDetail("path", path)
		}
	}

	if v.IsSet("customer-ids") {
		cfg.Run.CustomerIDs = splitList(v.GetStringSlice("customer-ids"))
	}
	if v.IsSet("resources") {
		cfg.Run.Resources = splitList(v.GetStringSlice("resources"))
	}
	if v.IsSet("start-date") {
		cfg.Run.StartDate = v.GetString("start-date")
	}
	if v.IsSet("first-run") {
		cfg.Run.FirstRun = config.FirstRunMode(strings.ToLower(v.GetString("first-run")))
	}
	if v.IsSet("conversion-window-days") {
		cfg.Run.ConversionWindowDays = v.GetInt("conversion-window-days")
	}
	if v.IsSet("lookback-days") {
		cfg.Run.LookbackDays = v.GetInt("lookback-days")
	}
	if v.IsSet("concurrency") {
		cfg.Run.Concurrency = v.GetInt("concurrency")
	}
	if v.IsSet("destination") {
		cfg.Destination.Type = v.GetString("destination")
	}
	if v.IsSet("schema-dir") {
		cfg.Schemas.Dir = v.GetString("schema-dir")
	}
	if v.IsSet("log-level") {
		cfg.Observability.LogLevel = v.GetString("log-level")
	}
	return cfg, nil
}

// loadValidConfig is loadConfig followed by validation
func loadValidConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}
	return cfg, nil
}

// splitList accepts both repeated values and comma separated ones
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// setupObservability initializes the global logger and, when enabled, the
// tracer provider. The returned function flushes both.
func setupObservability(ctx context.Context, cfg *config.Config) (func(), error) {
	logCfg := logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}
	if cfg.Observability.LogFile != "" {
		logCfg.File = &logger.FileConfig{
			Path:       cfg.Observability.LogFile,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		}
	}
	if err := logger.Init(logCfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}

	if cfg.Observability.EnableTracing {
		if err := observability.Init(ctx, observability.FromConfig(cfg, version)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize tracing")
		}
	}

	return func() {
		if err := observability.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
		_ = logger.Sync()
	}, nil
}
