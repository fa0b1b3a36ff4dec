// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/kbus-foundation/kbus/bus"
	"github.com/kbus-foundation/kbus/busd"
	"github.com/kbus-foundation/kbus/lib/busmetrics"
	"github.com/kbus-foundation/kbus/lib/config"
)

// shutdownTimeout bounds how long the metrics server may take to
// finish in-flight scrapes.
const shutdownTimeout = 5 * time.Second

// daemon is one kbusd instance: the device registry, the bus socket
// server, and the optional metrics endpoint.
type daemon struct {
	config   *config.Config
	logger   *slog.Logger
	registry *bus.Registry
	server   *busd.Server
	gatherer prometheus.Gatherer

	// metricsListener is bound by newDaemon so a bad address fails
	// startup rather than the first scrape.
	metricsListener net.Listener
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := busmetrics.New(promRegistry)
	if err != nil {
		return nil, err
	}

	registry := bus.NewRegistry(bus.DeviceConfig{
		NetworkID:          cfg.Devices.NetworkID,
		DefaultMaxMessages: cfg.Devices.DefaultMaxMessages,
		MaxDataLength:      cfg.Devices.MaxDataLength,
		MaxNameLength:      cfg.Devices.MaxNameLength,
		Verbose:            cfg.Devices.Verbose,
		ReportReplierBinds: cfg.Devices.ReportReplierBinds,
		Logger:             logger,
		Metrics:            collector,
	})
	for number := range uint32(cfg.Devices.Count) {
		if _, err := registry.NewDevice(number); err != nil {
			return nil, multierr.Append(fmt.Errorf("creating device %d: %w", number, err), registry.Close())
		}
	}

	d := &daemon{
		config:   cfg,
		logger:   logger,
		registry: registry,
		server:   busd.NewServer(cfg.SocketPath, registry, logger),
		gatherer: promRegistry,
	}
	if cfg.MetricsListen != "" {
		listener, err := net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("listening for metrics on %s: %w", cfg.MetricsListen, err), registry.Close())
		}
		d.metricsListener = listener
	}
	return d, nil
}

// metricsHandler serves the Prometheus exposition of the daemon's
// registry.
func (d *daemon) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(d.logger.Handler(), slog.LevelWarn),
	}))
	return mux
}

// run serves until ctx is cancelled or a component fails, then closes
// every device. The first component failure cancels the others.
func (d *daemon) run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := d.server.Serve(groupCtx); err != nil {
			return fmt.Errorf("bus server: %w", err)
		}
		// Serve only returns early on cancellation; make sure the
		// metrics server follows.
		return groupCtx.Err()
	})

	if d.metricsListener != nil {
		httpServer := &http.Server{
			Handler:           d.metricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		group.Go(func() error {
			d.logger.Info("metrics listening", "address", d.metricsListener.Addr().String())
			if err := httpServer.Serve(d.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err := group.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	return multierr.Append(err, d.registry.Close())
}
