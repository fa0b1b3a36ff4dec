// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

// Metrics receives routing counts from a device. Implementations must
// be safe for concurrent use and must not call back into the bus.
// lib/busmetrics provides a Prometheus implementation.
type Metrics interface {
	// MessageSent counts a message accepted by the router, including
	// synthetic ones.
	MessageSent(device uint32, name string, request bool)

	// MessageDelivered counts one copy placed in a queue.
	MessageDelivered(device uint32)

	// MessageDropped counts one copy that a listener missed because
	// its queue was full.
	MessageDropped(device uint32, name string)

	// SendFailed counts a send rejected with code.
	SendFailed(device uint32, code Code)

	// SocketsOpen reports the number of open sockets on the device.
	SocketsOpen(device uint32, count int)
}

type noopMetrics struct{}

func (noopMetrics) MessageSent(uint32, string, bool) {}
func (noopMetrics) MessageDelivered(uint32) {}
func (noopMetrics) MessageDropped(uint32, string) {}
func (noopMetrics) SendFailed(uint32, Code) {}
func (noopMetrics) SocketsOpen(uint32, int) {}
