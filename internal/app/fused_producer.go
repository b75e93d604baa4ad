package app

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/locfix/internal/fused"
	"github.com/relabs-tech/locfix/internal/gps"
	"github.com/relabs-tech/locfix/internal/location"
	"github.com/relabs-tech/locfix/internal/observability"
)

// RunFusedProducer reads the GPS serial port, decodes NMEA and publishes
// batches of fixes to the updates topic while a bridge has asked for them.
func RunFusedProducer(ctx context.Context) error {
	cfg, logger, shutdownTracing, err := loadRuntime("locfix-fused-producer")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	client, err := fused.Connect(cfg.MQTTBroker, cfg.MQTTClientIDFused)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	logger.WithField("broker", cfg.MQTTBroker).Info("fused producer connected to MQTT broker")

	metrics := observability.NewMetrics()
	producer := fused.NewProducer(fused.NewPahoConn(client),
		fused.Topics{Updates: cfg.TopicLocationUpdates, Requests: cfg.TopicLocationRequests},
		fused.WithBatchInterval(cfg.FusedBatch()),
		fused.WithProducerLogger(logger.WithField("component", "producer")),
		fused.WithProducerMetrics(metrics))

	// The manager owns reconnects; every decoded fix goes to the producer.
	receiver := gps.NewManager([]gps.Provider{{
		Name:     location.GPSProvider,
		Accuracy: location.AccuracyFine,
		Open:     gps.OpenSerial(cfg.GPSSerialPort, uint(cfg.GPSBaudRate)),
	}},
		gps.WithLogger(logger.WithField("component", "nmea")),
		gps.WithMetrics(metrics),
		gps.WithObserver(producer.Add))

	logger.WithFields(logrus.Fields{
		"port": cfg.GPSSerialPort,
		"baud": cfg.GPSBaudRate,
	}).Info("reading GPS serial port")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return receiver.Run(ctx) })
	g.Go(func() error { return producer.Run(ctx) })
	return g.Wait()
}
