package app

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/locfix/internal/config"
	"github.com/relabs-tech/locfix/internal/observability"
)

// loadRuntime returns the loaded config, a logger built from it and a
// shutdown func for tracing (a no-op when tracing is off).
func loadRuntime(service string) (*config.Config, *logrus.Logger, func(context.Context) error, error) {
	cfg := config.Get()
	if cfg == nil {
		return nil, nil, nil, fmt.Errorf("config not initialized")
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	shutdown := func(context.Context) error { return nil }
	if cfg.TracingEnabled {
		s, err := observability.InitTracer(service, os.Stderr)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init tracing: %w", err)
		}
		shutdown = s
	}
	return cfg, logger, shutdown, nil
}
