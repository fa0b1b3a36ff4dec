// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"cmp"
	"errors"
	"slices"
)

// recipient is one copy of a message bound for one queue.
type recipient struct {
	socket  *Socket
	message Message

	// mandatory copies must be queued or the whole send fails: the
	// replier's copy of a request and the target of a direct send.
	mandatory bool
}

// send routes message from sender. See Socket.Send.
func (d *Device) send(sender *Socket, message Message) (MessageID, error) {
	if err := d.validate(sender, message); err != nil {
		d.metrics.SendFailed(d.number, CodeOf(err))
		return MessageID{}, err
	}
	message.Flags &^= routerOnlyFlags
	message.Body = message.Body.Owned()
	message.binding = ""

	d.mu.Lock()
	id, err := d.sendLocked(sender, message)
	d.mu.Unlock()

	if err != nil {
		d.metrics.SendFailed(d.number, CodeOf(err))
		return id, err
	}
	d.broadcast()
	return id, nil
}

func (d *Device) validate(sender *Socket, message Message) error {
	if !sender.mode.CanWrite() {
		return errorf(CodeNotPermitted, "socket %d is not open for writing", sender.id)
	}
	name := message.Name()
	if err := ValidateName(name, d.maxNameLength, false); err != nil {
		return err
	}
	if IsReserved(name) {
		return errorf(CodeNotPermitted, "%q is reserved for bus-generated messages", name)
	}
	if message.Body.Len() > d.maxDataLength {
		return errorf(CodeMessageTooLarge, "%d bytes, limit %d", message.Body.Len(), d.maxDataLength)
	}
	if message.Flags.Has(allOrFlags) {
		return errorf(CodeInvalidFlags, "ALL_OR_WAIT and ALL_OR_FAIL are mutually exclusive")
	}
	return nil
}

func (d *Device) sendLocked(sender *Socket, message Message) (MessageID, error) {
	if _, open := d.sockets[sender.id]; !open {
		return MessageID{}, errorf(CodeClosed, "socket %d", sender.id)
	}

	// The id is consumed even if routing fails below.
	message.ID = d.nextIDLocked()
	message.From = sender.id
	if message.OrigFrom.IsZero() {
		message.OrigFrom = Origin{NetworkID: d.networkID, LocalID: sender.id}
	}
	sender.mu.Lock()
	sender.lastSent = message.ID
	sender.mu.Unlock()

	recipients, err := d.resolveLocked(message)
	if err == nil {
		var blocked map[SocketID]int
		blocked, err = d.fanOutLocked(recipients, message.Flags)

		sender.mu.Lock()
		sender.blockedOn = nil
		if errors.Is(err, ErrWouldBlock) {
			sender.blockedOn = blocked
		}
		if err == nil && message.IsReply() {
			delete(sender.unreplied, message.InReplyTo)
		}
		sender.mu.Unlock()
	}
	if err != nil {
		d.traceLocked("send failed", "id", message.ID, "name", message.Name(), "from", sender.id, "error", err)
		return message.ID, err
	}

	d.metrics.MessageSent(d.number, message.Name(), message.IsRequest())
	d.traceLocked("message sent",
		"id", message.ID,
		"name", message.Name(),
		"from", sender.id,
		"to", message.To,
		"flags", message.Flags,
		"recipients", len(recipients),
	)
	return message.ID, nil
}

// resolveLocked lists the copies message fans out to. The replier's
// copy, when there is one, comes first.
func (d *Device) resolveLocked(message Message) ([]recipient, error) {
	name := message.Name()

	if message.To != 0 {
		target, ok := d.sockets[message.To]
		if !ok {
			return nil, errorf(CodeNoSuchSocket, "socket %d", message.To)
		}
		delivered := message
		if message.IsRequest() {
			replier, found := d.table.FindReplier(name)
			if !found {
				return nil, errorf(CodeNoReplierBound, "%q", name)
			}
			if replier.Socket != message.To {
				return nil, errorf(CodeReplierMismatch, "%q is now answered by socket %d, not %d", name, replier.Socket, message.To)
			}
			delivered.Flags |= WantYouToReply
			delivered.binding = replier.Name
		}
		return []recipient{{socket: target, message: delivered, mandatory: true}}, nil
	}

	var recipients []recipient
	if message.IsRequest() {
		replier, found := d.table.FindReplier(name)
		if !found {
			return nil, errorf(CodeNoReplierBound, "%q", name)
		}
		delivered := message
		delivered.Flags |= WantYouToReply
		delivered.binding = replier.Name
		recipients = append(recipients, recipient{socket: d.sockets[replier.Socket], message: delivered, mandatory: true})
	}
	for _, listener := range d.table.FindListeners(name) {
		recipients = append(recipients, recipient{socket: d.sockets[listener], message: message})
	}
	return recipients, nil
}

// fanOutLocked queues every copy, holding the recipients' locks for the
// whole check-then-push so no queue changes in between.
//
// Sockets with only_once set keep only their first copy. Missing room
// for a mandatory copy fails with ErrQueueFull before anything is
// queued. With AllOrFail or AllOrWait, missing room anywhere fails the
// same way (ErrWouldBlock for AllOrWait) and the full sockets are
// returned with the number of copies each needs room for. Otherwise a
// listener without room simply misses its copy.
func (d *Device) fanOutLocked(recipients []recipient, flags Flags) (map[SocketID]int, error) {
	sockets := make([]*Socket, 0, len(recipients))
	for _, r := range recipients {
		if !slices.Contains(sockets, r.socket) {
			sockets = append(sockets, r.socket)
		}
	}
	slices.SortFunc(sockets, func(a, b *Socket) int { return cmp.Compare(a.id, b.id) })
	for _, socket := range sockets {
		socket.mu.Lock()
	}
	defer func() {
		for _, socket := range sockets {
			socket.mu.Unlock()
		}
	}()

	copies := recipients[:0:0]
	needed := make(map[*Socket]int, len(sockets))
	for _, r := range recipients {
		if r.socket.onlyOnce && needed[r.socket] > 0 {
			continue
		}
		needed[r.socket]++
		copies = append(copies, r)
	}

	if flags&allOrFlags != 0 {
		var full []SocketID
		blocked := make(map[SocketID]int)
		for _, socket := range sockets {
			if socket.queue.Room() < needed[socket] {
				full = append(full, socket.id)
				blocked[socket.id] = needed[socket]
			}
		}
		if len(full) > 0 {
			if flags&AllOrWait != 0 {
				return blocked, errorf(CodeWouldBlock, "sockets %v are full", full)
			}
			return blocked, errorf(CodeQueueFull, "sockets %v are full", full)
		}
	}
	for _, r := range copies {
		if r.mandatory && r.socket.queue.Room() == 0 {
			return map[SocketID]int{r.socket.id: 1}, errorf(CodeQueueFull, "socket %d holds %d messages", r.socket.id, r.socket.queue.Len())
		}
	}

	for _, r := range copies {
		if err := r.socket.queue.Push(r.message); err != nil {
			d.metrics.MessageDropped(d.number, r.message.Name())
			d.traceLocked("listener missed message",
				"id", r.message.ID,
				"name", r.message.Name(),
				"socket", r.socket.id,
			)
			continue
		}
		d.metrics.MessageDelivered(d.number)
	}
	return nil, nil
}

// deliverStatusLocked sends a bus status to its requester. A requester
// that has gone, or whose queue is full, does not get it.
func (d *Device) deliverStatusLocked(status Message) {
	target, ok := d.sockets[status.To]
	if !ok {
		return
	}
	status.ID = d.nextIDLocked()
	status.OrigFrom = Origin{NetworkID: d.networkID, LocalID: status.From}
	d.metrics.MessageSent(d.number, status.Name(), false)
	d.traceLocked("status sent", "id", status.ID, "name", status.Name(), "to", status.To, "in_reply_to", status.InReplyTo)
	_, _ = d.fanOutLocked([]recipient{{socket: target, message: status}}, 0)
}

// reportBindLocked announces a replier bind or unbind when bind
// reporting is on.
func (d *Device) reportBindLocked(binding Binding, isBind bool) {
	if !d.reportBinds {
		return
	}
	event, err := newReplierBindEvent(ReplierBindEvent{IsBind: isBind, Binder: binding.Socket, Name: binding.Name})
	if err != nil {
		d.logger.Error("building replier bind event", "error", err)
		return
	}
	event.ID = d.nextIDLocked()
	event.OrigFrom = Origin{NetworkID: d.networkID}

	var recipients []recipient
	for _, listener := range d.table.FindListeners(ReplierBindEventName) {
		recipients = append(recipients, recipient{socket: d.sockets[listener], message: event})
	}
	d.metrics.MessageSent(d.number, event.Name(), false)
	d.traceLocked("replier bind event", "id", event.ID, "bind", isBind, "binder", binding.Socket, "name", binding.Name)
	_, _ = d.fanOutLocked(recipients, 0)
}
