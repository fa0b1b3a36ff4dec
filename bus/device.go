// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"go.uber.org/multierr"

	"github.com/kbus-foundation/kbus/lib/clock"
)

// DefaultMaxDataLength bounds message data when a device does not
// configure its own limit.
const DefaultMaxDataLength = 4096

// DeviceConfig holds the settings of one device. Zero values select
// the defaults.
type DeviceConfig struct {
	// Number identifies the device in its registry. Registry.NewDevice
	// overwrites it.
	Number uint32

	// NetworkID is stamped into the OrigFrom of locally sent messages.
	NetworkID uint32

	// DefaultMaxMessages is the queue capacity of new sockets.
	DefaultMaxMessages int

	// MaxDataLength bounds message data in bytes.
	MaxDataLength int

	// MaxNameLength bounds message and binding names in bytes.
	MaxNameLength int

	// Verbose raises per-message routing logs from Debug to Info.
	Verbose bool

	// ReportReplierBinds starts the device with bind events enabled.
	ReportReplierBinds bool

	Logger  *slog.Logger
	Clock   clock.Clock
	Metrics Metrics
}

func (c DeviceConfig) withDefaults() DeviceConfig {
	if c.DefaultMaxMessages <= 0 {
		c.DefaultMaxMessages = DefaultMaxMessages
	}
	if c.MaxDataLength <= 0 {
		c.MaxDataLength = DefaultMaxDataLength
	}
	if c.MaxNameLength <= 0 {
		c.MaxNameLength = DefaultMaxNameLength
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
	return c
}

// Device is one independent bus: a binding table, the sockets open on
// it, and the serial number allocator for its messages.
//
// Lock order is d.mu, then socket locks in ascending socket id. The
// notifier lock is a leaf.
type Device struct {
	number        uint32
	networkID     uint32
	maxMessages   int
	maxDataLength int
	maxNameLength int
	logger        *slog.Logger
	clock         clock.Clock
	metrics       Metrics

	mu          sync.Mutex
	table       *BindingTable
	sockets     map[SocketID]*Socket
	lastSocket  SocketID
	serial      uint32
	verbose     bool
	reportBinds bool
	destroyed   bool

	notifyMu sync.Mutex
	changed  chan struct{}
}

// NewDevice returns a device on its own, outside any registry.
func NewDevice(config DeviceConfig) *Device {
	config = config.withDefaults()
	return &Device{
		number:        config.Number,
		networkID:     config.NetworkID,
		maxMessages:   config.DefaultMaxMessages,
		maxDataLength: config.MaxDataLength,
		maxNameLength: config.MaxNameLength,
		logger:        config.Logger.With("device", config.Number),
		clock:         config.Clock,
		metrics:       config.Metrics,
		table:         NewBindingTable(),
		sockets:       make(map[SocketID]*Socket),
		verbose:       config.Verbose,
		reportBinds:   config.ReportReplierBinds,
		changed:       make(chan struct{}),
	}
}

// Number returns the device number.
func (d *Device) Number() uint32 { return d.number }

// Open creates a socket on the device.
func (d *Device) Open(mode Mode) (*Socket, error) {
	if !mode.valid() {
		return nil, errorf(CodeNotPermitted, "invalid open mode %d", mode)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return nil, errorf(CodeNoSuchDevice, "device %d was destroyed", d.number)
	}
	d.lastSocket++
	socket := newSocket(d, d.lastSocket, mode, d.maxMessages)
	d.sockets[socket.id] = socket
	d.metrics.SocketsOpen(d.number, len(d.sockets))
	d.logger.Debug("socket opened", "socket", socket.id, "mode", mode)
	return socket, nil
}

// NumSockets returns the number of open sockets.
func (d *Device) NumSockets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

// shutdown closes every socket and marks the device destroyed.
func (d *Device) shutdown() error {
	d.mu.Lock()
	sockets := make([]*Socket, 0, len(d.sockets))
	for _, socket := range d.sockets {
		sockets = append(sockets, socket)
	}
	slices.SortFunc(sockets, func(a, b *Socket) int { return cmp.Compare(a.id, b.id) })

	var err error
	for _, socket := range sockets {
		err = multierr.Append(err, d.closeSocketLocked(socket))
	}
	d.destroyed = true
	d.mu.Unlock()

	d.broadcast()
	return err
}

// closeSocketLocked tears socket down: its bindings go, requests it
// held get GoneAway statuses, and bind events go out for any replier
// bindings it had.
func (d *Device) closeSocketLocked(socket *Socket) error {
	socket.mu.Lock()
	if socket.closed {
		socket.mu.Unlock()
		return errorf(CodeClosed, "socket %d", socket.id)
	}
	socket.closed = true
	queued := socket.queue.Drain()
	var pending []Message
	for _, message := range queued {
		if message.WantsUsToReply() {
			pending = append(pending, message)
		}
	}
	for _, message := range socket.unreplied {
		pending = append(pending, message)
	}
	socket.unreplied = nil
	socket.blockedOn = nil
	socket.cursor.reset()
	socket.mu.Unlock()

	delete(d.sockets, socket.id)
	removed := d.table.RemoveSocket(socket.id)

	slices.SortFunc(pending, func(a, b Message) int { return a.ID.Compare(b.ID) })
	for _, request := range pending {
		d.deliverStatusLocked(newStatus(StatusReplierGoneAway, request, socket.id))
	}
	for _, binding := range removed {
		if binding.Replier {
			d.reportBindLocked(binding, false)
		}
	}

	d.metrics.SocketsOpen(d.number, len(d.sockets))
	d.logger.Debug("socket closed",
		"socket", socket.id,
		"bindings_removed", len(removed),
		"messages_discarded", len(queued),
		"statuses_sent", len(pending),
	)
	return nil
}

// nextIDLocked allocates the next message id. Serial numbers skip zero
// on wraparound.
func (d *Device) nextIDLocked() MessageID {
	d.serial++
	if d.serial == 0 {
		d.serial = 1
	}
	return MessageID{NetworkID: d.networkID, SerialNum: d.serial}
}

// changes returns a channel closed at the next state change.
func (d *Device) changes() <-chan struct{} {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	return d.changed
}

// broadcast wakes every waiter. Called after d.mu is released.
func (d *Device) broadcast() {
	d.notifyMu.Lock()
	close(d.changed)
	d.changed = make(chan struct{})
	d.notifyMu.Unlock()
}

// traceLocked logs per-message routing detail at Info when the device
// is verbose, Debug otherwise.
func (d *Device) traceLocked(message string, args ...any) {
	level := slog.LevelDebug
	if d.verbose {
		level = slog.LevelInfo
	}
	d.logger.Log(context.Background(), level, message, args...)
}
