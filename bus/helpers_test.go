// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/kbus-foundation/kbus/lib/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestDevice(t *testing.T, config DeviceConfig) *Device {
	t.Helper()
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = clock.Fake(epoch)
	}
	device := NewDevice(config)
	t.Cleanup(func() { _ = device.shutdown() })
	return device
}

func openSocket(t *testing.T, device *Device) *Socket {
	t.Helper()
	socket, err := device.Open(ReadWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return socket
}

func mustBind(t *testing.T, socket *Socket, name string, replier bool) {
	t.Helper()
	if err := socket.Bind(name, replier); err != nil {
		t.Fatalf("socket %d Bind(%q, %v): %v", socket.ID(), name, replier, err)
	}
}

func mustSend(t *testing.T, socket *Socket, message Message) MessageID {
	t.Helper()
	id, err := socket.Send(message)
	if err != nil {
		t.Fatalf("socket %d Send(%s): %v", socket.ID(), message.Name(), err)
	}
	return id
}

func mustReadNext(t *testing.T, socket *Socket) Message {
	t.Helper()
	message, err := socket.ReadNextMsg()
	if err != nil {
		t.Fatalf("socket %d ReadNextMsg: %v", socket.ID(), err)
	}
	return message
}

func requireEmpty(t *testing.T, socket *Socket) {
	t.Helper()
	if n := socket.NumUnread(); n != 0 {
		t.Fatalf("socket %d has %d unread messages, want 0", socket.ID(), n)
	}
}

func requireError(t *testing.T, err error, want *Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %s", err, want.Code)
	}
}
