// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"fmt"
	"sync"
)

// Mode is the access a socket was opened with.
type Mode uint8

const (
	ReadOnly  Mode = 1
	WriteOnly Mode = 2
	ReadWrite Mode = ReadOnly | WriteOnly
)

// ParseMode accepts "r", "w" and "rw".
func ParseMode(text string) (Mode, error) {
	switch text {
	case "r":
		return ReadOnly, nil
	case "w":
		return WriteOnly, nil
	case "rw", "":
		return ReadWrite, nil
	}
	return 0, fmt.Errorf("unknown socket mode %q (want r, w or rw)", text)
}

// CanRead reports whether the mode allows receiving.
func (m Mode) CanRead() bool { return m&ReadOnly != 0 }

// CanWrite reports whether the mode allows sending.
func (m Mode) CanWrite() bool { return m&WriteOnly != 0 }

func (m Mode) valid() bool { return m >= ReadOnly && m <= ReadWrite }

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "r"
	case WriteOnly:
		return "w"
	case ReadWrite:
		return "rw"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Toggle is the argument of the on/off settings. Query reads the
// setting without changing it; any other non-zero value turns it on.
type Toggle uint32

const (
	Off   Toggle = 0
	On    Toggle = 1
	Query Toggle = 0xFFFFFFFF
)

// Socket is one endpoint on a device. All methods are safe for
// concurrent use; a socket is normally driven by one goroutine, with
// Wait called from another if needed.
type Socket struct {
	id     SocketID
	mode   Mode
	device *Device

	// Guarded by mu. closed is written with the device lock held too.
	mu        sync.Mutex
	queue     MessageQueue
	cursor    cursor
	onlyOnce  bool
	lastSent  MessageID
	unreplied map[MessageID]Message
	blockedOn map[SocketID]int // copies each full recipient must fit
	closed    bool
}

func newSocket(device *Device, id SocketID, mode Mode, maxMessages int) *Socket {
	return &Socket{
		id:        id,
		mode:      mode,
		device:    device,
		queue:     MessageQueue{capacity: maxMessages},
		unreplied: make(map[MessageID]Message),
	}
}

// ID returns the socket id, unique for the device's lifetime.
func (s *Socket) ID() SocketID { return s.id }

// Mode returns the access the socket was opened with.
func (s *Socket) Mode() Mode { return s.mode }

// Device returns the device the socket belongs to.
func (s *Socket) Device() *Device { return s.device }

// Close releases the socket. Its bindings are removed and every request
// it was expected to answer, queued or already read, is answered with a
// StatusReplierGoneAway status. Closing twice fails with ErrClosed.
func (s *Socket) Close() error {
	d := s.device
	d.mu.Lock()
	err := d.closeSocketLocked(s)
	d.mu.Unlock()
	d.broadcast()
	return err
}

// Bind subscribes the socket to name, as its replier or as a listener.
// The last token of name may be a wildcard. Binding as replier fails
// with ErrReplierAlreadyBound if another socket holds the name, and
// with ErrNotPermitted for reserved names.
func (s *Socket) Bind(name string, replier bool) error {
	d := s.device
	if err := ValidateName(name, d.maxNameLength, true); err != nil {
		return err
	}
	if replier && IsReserved(name) {
		return errorf(CodeNotPermitted, "cannot answer requests for reserved name %q", name)
	}

	d.mu.Lock()
	defer d.broadcast()
	defer d.mu.Unlock()

	if s.isClosed() {
		return errorf(CodeClosed, "socket %d", s.id)
	}
	changed, err := d.table.Bind(name, s.id, replier)
	if err != nil {
		return err
	}
	d.traceLocked("bound", "socket", s.id, "name", name, "replier", replier)
	if changed && replier {
		d.reportBindLocked(Binding{Name: name, Socket: s.id, Replier: true}, true)
	}
	return nil
}

// Unbind removes one binding made by Bind with the same arguments, or
// fails with ErrBindingNotFound. Unbinding a replier withdraws the
// requests it routed here that are still queued; their senders receive
// a StatusReplierUnbound status.
func (s *Socket) Unbind(name string, replier bool) error {
	d := s.device
	if err := ValidateName(name, d.maxNameLength, true); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.broadcast()
	defer d.mu.Unlock()

	if s.isClosed() {
		return errorf(CodeClosed, "socket %d", s.id)
	}
	if err := d.table.Unbind(name, s.id, replier); err != nil {
		return err
	}
	d.traceLocked("unbound", "socket", s.id, "name", name, "replier", replier)
	if !replier {
		return nil
	}

	s.mu.Lock()
	withdrawn := s.queue.RemoveFunc(func(message *Message) bool {
		return message.WantsUsToReply() && message.binding == name
	})
	s.mu.Unlock()
	for _, request := range withdrawn {
		d.deliverStatusLocked(newStatus(StatusReplierUnbound, request, s.id))
	}
	d.reportBindLocked(Binding{Name: name, Socket: s.id, Replier: true}, false)
	return nil
}

// FindReplier returns the socket that would answer a request sent to
// name, or zero if none would. For a wildcard name it returns the
// holder of exactly that binding.
func (s *Socket) FindReplier(name string) (SocketID, error) {
	d := s.device
	if err := ValidateName(name, d.maxNameLength, true); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if IsWildcard(name) {
		return d.table.repliers[name], nil
	}
	if binding, ok := d.table.FindReplier(name); ok {
		return binding.Socket, nil
	}
	return 0, nil
}

// Send routes message and returns the id assigned to it.
//
// The router sets From and the id, fills a zero OrigFrom, and clears
// WantYouToReply and Synthetic. A message with To set goes to that
// socket alone; otherwise it goes to every listener of its name and,
// for a request, to the name's replier, which alone sees
// WantYouToReply. A request with no replier fails with
// ErrNoReplierBound. A full replier or direct target fails the send
// with ErrQueueFull; a full listener just misses the message.
//
// An id is consumed even when routing fails, and LastMsgID reports it.
func (s *Socket) Send(message Message) (MessageID, error) {
	return s.device.send(s, message)
}

// LastMsgID returns the id of the most recent send, successful or not.
func (s *Socket) LastMsgID() MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent
}

// MaxMessages returns the queue capacity.
func (s *Socket) MaxMessages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Capacity()
}

// SetMaxMessages changes the queue capacity and returns the capacity
// now in force. Zero only queries. Lowering the capacity below the
// number of queued messages keeps them.
func (s *Socket) SetMaxMessages(count int) (int, error) {
	if count < 0 {
		return 0, errorf(CodeNotPermitted, "negative queue capacity %d", count)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errorf(CodeClosed, "socket %d", s.id)
	}
	if count > 0 {
		s.queue.SetCapacity(count)
	}
	capacity := s.queue.Capacity()
	s.mu.Unlock()

	if count > 0 {
		s.device.broadcast()
	}
	return capacity, nil
}

// NumUnread returns the number of queued messages, not counting one
// being read.
func (s *Socket) NumUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// NumUnrepliedTo returns the number of requests this socket has read,
// was asked to answer, and has not yet answered.
func (s *Socket) NumUnrepliedTo() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unreplied)
}

// OnlyOnce sets whether the socket receives a single copy of a message
// that matches several of its bindings, and returns the previous
// setting.
func (s *Socket) OnlyOnce(toggle Toggle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errorf(CodeClosed, "socket %d", s.id)
	}
	previous := s.onlyOnce
	if toggle != Query {
		s.onlyOnce = toggle != Off
	}
	return previous, nil
}

// ReportReplierBinds sets, for the whole device, whether replier binds
// and unbinds are announced as ReplierBindEventName messages, and
// returns the previous setting.
func (s *Socket) ReportReplierBinds(toggle Toggle) (bool, error) {
	return s.deviceToggle(toggle, &s.device.reportBinds)
}

// Verbose sets, for the whole device, whether routing is logged at Info
// level, and returns the previous setting.
func (s *Socket) Verbose(toggle Toggle) (bool, error) {
	return s.deviceToggle(toggle, &s.device.verbose)
}

func (s *Socket) deviceToggle(toggle Toggle, setting *bool) (bool, error) {
	d := s.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.isClosed() {
		return false, errorf(CodeClosed, "socket %d", s.id)
	}
	previous := *setting
	if toggle != Query {
		*setting = toggle != Off
	}
	return previous, nil
}

// isClosed reads closed with only the device lock held.
func (s *Socket) isClosed() bool {
	_, open := s.device.sockets[s.id]
	return !open
}
