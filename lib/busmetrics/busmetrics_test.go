// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package busmetrics

import (
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kbus-foundation/kbus/bus"
)

func TestCollectorCountsRouting(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector, err := New(registry)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	buses := bus.NewRegistry(bus.DeviceConfig{
		Logger:  slog.New(slog.DiscardHandler),
		Metrics: collector,
	})
	t.Cleanup(func() { _ = buses.Close() })

	sender, err := buses.OpenSocket(2, bus.ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	listener, err := buses.OpenSocket(2, bus.ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := listener.Bind("$.Metrics", false); err != nil {
		t.Fatal(err)
	}
	if _, err := listener.SetMaxMessages(1); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if _, err := sender.Send(bus.NewAnnouncement("$.Metrics", nil)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := sender.Send(bus.NewRequest("$.Metrics", nil)); err == nil {
		t.Fatal("request without replier succeeded")
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"sent", testutil.ToFloat64(collector.sent.WithLabelValues("2", "message")), 2},
		{"delivered", testutil.ToFloat64(collector.delivered.WithLabelValues("2")), 1},
		{"dropped", testutil.ToFloat64(collector.dropped.WithLabelValues("2", "message")), 1},
		{"failed", testutil.ToFloat64(collector.failed.WithLabelValues("2", string(bus.CodeNoReplierBound))), 1},
		{"sockets", testutil.ToFloat64(collector.sockets.WithLabelValues("2")), 2},
	}
	for _, check := range checks {
		if check.got != check.want {
			t.Errorf("%s = %v, want %v", check.name, check.got, check.want)
		}
	}
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := New(registry); err != nil {
		t.Fatal(err)
	}
	if _, err := New(registry); err == nil {
		t.Fatal("second New on the same registry succeeded")
	}
}

func TestKind(t *testing.T) {
	if kind(bus.StatusReplierGoneAway, false) != "synthetic" ||
		kind("$.Svc", true) != "request" ||
		kind("$.Svc", false) != "message" {
		t.Error("kind misclassifies messages")
	}
}
