// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

// Package busmetrics exports bus routing counts to Prometheus.
//
// A [Collector] implements bus.Metrics. Hand it to the device template
// of a registry and register it with a Prometheus registry:
//
//	collector, err := busmetrics.New(prometheus.DefaultRegisterer)
//	registry := bus.NewRegistry(bus.DeviceConfig{Metrics: collector})
//
// Message names are not used as labels; only the kind of message is,
// so the series count does not grow with traffic.
package busmetrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kbus-foundation/kbus/bus"
)

const namespace = "kbus"

// Collector records bus metrics as Prometheus series.
type Collector struct {
	sent      *prometheus.CounterVec
	delivered *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	sockets   *prometheus.GaugeVec
}

var _ bus.Metrics = (*Collector)(nil)

// New creates the collector's series and registers them.
func New(registerer prometheus.Registerer) (*Collector, error) {
	collector := &Collector{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages accepted by the router, by kind.",
		}, []string{"device", "kind"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Message copies placed in socket queues.",
		}, []string{"device"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Message copies missed by listeners with full queues.",
		}, []string{"device", "kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Sends rejected by the router, by error code.",
		}, []string{"device", "code"}),
		sockets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sockets_open",
			Help:      "Sockets currently open.",
		}, []string{"device"}),
	}

	for _, series := range []prometheus.Collector{
		collector.sent,
		collector.delivered,
		collector.dropped,
		collector.failed,
		collector.sockets,
	} {
		if err := registerer.Register(series); err != nil {
			return nil, fmt.Errorf("registering kbus metrics: %w", err)
		}
	}
	return collector, nil
}

func (c *Collector) MessageSent(device uint32, name string, request bool) {
	c.sent.WithLabelValues(label(device), kind(name, request)).Inc()
}

func (c *Collector) MessageDelivered(device uint32) {
	c.delivered.WithLabelValues(label(device)).Inc()
}

func (c *Collector) MessageDropped(device uint32, name string) {
	c.dropped.WithLabelValues(label(device), kind(name, false)).Inc()
}

func (c *Collector) SendFailed(device uint32, code bus.Code) {
	c.failed.WithLabelValues(label(device), string(code)).Inc()
}

func (c *Collector) SocketsOpen(device uint32, count int) {
	c.sockets.WithLabelValues(label(device)).Set(float64(count))
}

func label(device uint32) string { return strconv.FormatUint(uint64(device), 10) }

func kind(name string, request bool) string {
	switch {
	case bus.IsReserved(name):
		return "synthetic"
	case request:
		return "request"
	}
	return "message"
}
