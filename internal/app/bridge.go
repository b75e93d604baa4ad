// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/locfix/internal/config"
	"github.com/relabs-tech/locfix/internal/fused"
	"github.com/relabs-tech/locfix/internal/gps"
	"github.com/relabs-tech/locfix/internal/location"
	"github.com/relabs-tech/locfix/internal/observability"
)

// RunBridge serves location requests over HTTP until ctx ends.
func RunBridge(ctx context.Context) error {
	cfg, logger, shutdownTracing, err := loadRuntime("locfix-bridge")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	metrics := observability.NewMetrics()
	platform := location.Platform{
		SyntheticFlag:     cfg.SyntheticFlag,
		AllowMockLocation: cfg.AllowMockLocation,
	}

	var (
		manager     location.ProviderManager
		fusedClient location.FusedClient
		nmea        *gps.Manager
	)

	client, err := connectFused(cfg, logger)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Disconnect(250)
		platform.FusedUpdates = true
		fusedClient = fused.NewClient(fused.NewPahoConn(client), cfg.MQTTClientIDBridge,
			fused.Topics{Updates: cfg.TopicLocationUpdates, Requests: cfg.TopicLocationRequests},
			fused.WithLogger(logger.WithField("component", "fused")),
			fused.WithMetrics(metrics))
		manager = brokerProviders{client: client}
	} else {
		nmea = gps.NewManager(nmeaProviders(cfg),
			gps.WithLogger(logger.WithField("component", "nmea")),
			gps.WithMetrics(metrics))
		manager = nmea
	}

	opts := []location.Option{
		location.WithLogger(logger),
		location.WithMetrics(metrics),
	}
	if cfg.CheckPermission {
		opts = append(opts, location.WithPermissionChecker(gps.DeviceAccess{Path: cfg.GPSSerialPort}))
	}
	bridge := location.NewBridge(platform, manager, fusedClient, opts...)

	srv := newHTTPServer(fmt.Sprintf(":%d", cfg.WebServerPort),
		NewServer(bridge, promhttp.Handler(), logger).Handler())

	g, ctx := errgroup.WithContext(ctx)
	if nmea != nil {
		g.Go(func() error { return nmea.Run(ctx) })
	}
	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("bridge server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		bridge.Cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// connectFused returns a broker connection when the configured tier wants
// the modern back-end, or nil for the legacy one. In auto mode a broker
// that cannot be reached selects legacy.
func connectFused(cfg *config.Config, logger logrus.FieldLogger) (mqtt.Client, error) {
	if cfg.LocationTier == config.TierLegacy || cfg.MQTTBroker == "" {
		return nil, nil
	}
	client, err := fused.Connect(cfg.MQTTBroker, cfg.MQTTClientIDBridge)
	if err != nil {
		if cfg.LocationTier == config.TierModern {
			return nil, err
		}
		logger.WithError(err).Warn("fused back-end unreachable, using legacy tier")
		return nil, nil
	}
	logger.WithField("broker", cfg.MQTTBroker).Info("connected to MQTT broker")
	return client, nil
}

// nmeaProviders lists the serial receiver and, if configured, the network
// NMEA feed.
func nmeaProviders(cfg *config.Config) []gps.Provider {
	providers := []gps.Provider{{
		Name:     location.GPSProvider,
		Accuracy: location.AccuracyFine,
		Open:     gps.OpenSerial(cfg.GPSSerialPort, uint(cfg.GPSBaudRate)),
	}}
	if cfg.NetworkNMEAAddr != "" {
		providers = append(providers, gps.Provider{
			Name:     location.NetworkProvider,
			Accuracy: location.AccuracyCoarse,
			Open:     gps.DialTCP(cfg.NetworkNMEAAddr),
		})
	}
	return providers
}

// brokerProviders is the provider view used on the modern tier: location is
// on while the broker carrying the fused feed is reachable. The legacy
// listener API is not served.
type brokerProviders struct {
	client interface{ IsConnectionOpen() bool }
}

func (b brokerProviders) IsProviderEnabled(provider string) bool {
	return provider == location.GPSProvider && b.client.IsConnectionOpen()
}

func (brokerProviders) RequestLocationUpdates(time.Duration, float64, location.Criteria, location.Listener) error {
	return fmt.Errorf("provider updates on the fused tier: %w", gps.ErrNoProvider)
}

func (brokerProviders) RemoveUpdates(location.Listener) {}
