// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"bytes"
	"testing"
)

func TestReadCursor(t *testing.T) {
	device := newTestDevice(t, DeviceConfig{})
	sender := openSocket(t, device)
	reader := openSocket(t, device)
	mustBind(t, reader, "$.Data", false)

	length, err := reader.NextMsg()
	if err != nil || length != 0 {
		t.Fatalf("NextMsg on empty queue = (%d, %v), want (0, nil)", length, err)
	}
	_, err = reader.Read(make([]byte, 4))
	requireError(t, err, ErrNotReading)

	id := mustSend(t, sender, NewAnnouncement("$.Data", []byte("payload bytes")))
	length, err = reader.NextMsg()
	if err != nil || length == 0 {
		t.Fatalf("NextMsg = (%d, %v), want a frame", length, err)
	}
	if reader.LenLeft() != length {
		t.Fatalf("LenLeft = %d, want %d", reader.LenLeft(), length)
	}

	var frame bytes.Buffer
	chunk := make([]byte, 5)
	for reader.LenLeft() > 0 {
		n, err := reader.Read(chunk)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		frame.Write(chunk[:n])
	}
	if frame.Len() != length {
		t.Fatalf("read %d bytes, want %d", frame.Len(), length)
	}
	if _, err := reader.Read(chunk); err == nil {
		t.Fatal("Read after the last byte succeeded; want the cursor idle")
	}

	message, err := DecodeMessage(frame.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if message.ID != id || string(message.Data()) != "payload bytes" {
		t.Fatalf("decoded %s, want %s", message, id)
	}
}

func TestDiscardResetsCursor(t *testing.T) {
	device := newTestDevice(t, DeviceConfig{})
	sender := openSocket(t, device)
	reader := openSocket(t, device)
	mustBind(t, reader, "$.Data", false)

	if err := reader.Discard(); err != nil {
		t.Fatalf("Discard while idle: %v", err)
	}

	mustSend(t, sender, NewAnnouncement("$.Data", []byte("one")))
	second := mustSend(t, sender, NewAnnouncement("$.Data", []byte("two")))

	if _, err := reader.NextMsg(); err != nil {
		t.Fatal(err)
	}
	if _, err := reader.Read(make([]byte, 2)); err != nil {
		t.Fatal(err)
	}
	if err := reader.Discard(); err != nil {
		t.Fatal(err)
	}
	if reader.LenLeft() != 0 {
		t.Fatalf("LenLeft after Discard = %d", reader.LenLeft())
	}
	_, err := reader.ReadMsg()
	requireError(t, err, ErrNotReading)

	// NextMsg abandons a partly read message too.
	if _, err := reader.NextMsg(); err != nil {
		t.Fatal(err)
	}
	got, err := reader.ReadMsg()
	if err != nil || got.ID != second {
		t.Fatalf("ReadMsg = (%s, %v), want %s", got.ID, err, second)
	}

	_, err = reader.ReadNextMsg()
	requireError(t, err, ErrNothingToRead)
}

func TestSetMaxMessages(t *testing.T) {
	device := newTestDevice(t, DeviceConfig{DefaultMaxMessages: 7})
	socket := openSocket(t, device)

	if got := socket.MaxMessages(); got != 7 {
		t.Fatalf("MaxMessages = %d, want 7", got)
	}
	if got, err := socket.SetMaxMessages(0); err != nil || got != 7 {
		t.Fatalf("SetMaxMessages(0) = (%d, %v), want (7, nil)", got, err)
	}
	if got, err := socket.SetMaxMessages(3); err != nil || got != 3 {
		t.Fatalf("SetMaxMessages(3) = (%d, %v), want (3, nil)", got, err)
	}
}

func TestToggles(t *testing.T) {
	device := newTestDevice(t, DeviceConfig{})
	a := openSocket(t, device)
	b := openSocket(t, device)

	for _, toggle := range []struct {
		name string
		set  func(*Socket, Toggle) (bool, error)
		// deviceWide settings are visible from other sockets.
		deviceWide bool
	}{
		{"only_once", (*Socket).OnlyOnce, false},
		{"report_replier_binds", (*Socket).ReportReplierBinds, true},
		{"verbose", (*Socket).Verbose, true},
	} {
		if previous, err := toggle.set(a, 7); err != nil || previous {
			t.Fatalf("%s: set(7) = (%v, %v), want (false, nil)", toggle.name, previous, err)
		}
		if current, _ := toggle.set(a, Query); !current {
			t.Fatalf("%s: non-zero value did not turn the setting on", toggle.name)
		}
		if other, _ := toggle.set(b, Query); other != toggle.deviceWide {
			t.Fatalf("%s: seen from another socket = %v, want %v", toggle.name, other, toggle.deviceWide)
		}
		if previous, _ := toggle.set(a, Off); !previous {
			t.Fatalf("%s: Off returned previous=false", toggle.name)
		}
		if current, _ := toggle.set(a, Query); current {
			t.Fatalf("%s: still on after Off", toggle.name)
		}
	}
}

func TestFindReplier(t *testing.T) {
	device := newTestDevice(t, DeviceConfig{})
	asker := openSocket(t, device)
	wild := openSocket(t, device)
	exact := openSocket(t, device)
	mustBind(t, wild, "$.Svc.*", true)
	mustBind(t, exact, "$.Svc.Time", true)

	tests := []struct {
		name string
		want SocketID
	}{
		{"$.Svc.Time", exact.ID()},
		{"$.Svc.Date", wild.ID()},
		{"$.Svc.*", wild.ID()},
		{"$.Svc.%", 0},
		{"$.Other", 0},
	}
	for _, test := range tests {
		got, err := asker.FindReplier(test.name)
		if err != nil || got != test.want {
			t.Errorf("FindReplier(%q) = (%d, %v), want %d", test.name, got, err, test.want)
		}
	}
	_, err := asker.FindReplier("$.bad..name")
	requireError(t, err, ErrMalformedName)
}

func TestBindRules(t *testing.T) {
	device := newTestDevice(t, DeviceConfig{})
	a := openSocket(t, device)
	b := openSocket(t, device)

	mustBind(t, a, "$.Svc", true)
	mustBind(t, a, "$.Svc", true)
	requireError(t, b.Bind("$.Svc", true), ErrReplierAlreadyBound)
	requireError(t, b.Bind("$.KBUS.Thing", true), ErrNotPermitted)
	mustBind(t, b, "$.KBUS.ReplierBindEvent", false)
	requireError(t, b.Unbind("$.Svc", true), ErrBindingNotFound)
	requireError(t, b.Bind("bad name", false), ErrMalformedName)
}

func TestCloseSendsGoneAway(t *testing.T) {
	device := newTestDevice(t, DeviceConfig{})
	requester := openSocket(t, device)
	replier := openSocket(t, device)
	mustBind(t, replier, "$.Svc", true)

	readID := mustSend(t, requester, NewRequest("$.Svc", nil))
	queuedID := mustSend(t, requester, NewRequest("$.Svc", nil))
	mustReadNext(t, replier)

	replierID := replier.ID()
	if err := replier.Close(); err != nil {
		t.Fatal(err)
	}

	for _, want := range []MessageID{readID, queuedID} {
		status := mustReadNext(t, requester)
		if status.Name() != StatusReplierGoneAway || status.InReplyTo != want ||
			status.From != replierID || !IsStatus(status) {
			t.Fatalf("got %s, want GoneAway for %s from %d", status, want, replierID)
		}
	}
	requireEmpty(t, requester)

	// Bindings went with the socket.
	if got, _ := requester.FindReplier("$.Svc"); got != 0 {
		t.Fatalf("replier %d still bound after close", got)
	}
	_, err := requester.Send(NewRequest("$.Svc", nil))
	requireError(t, err, ErrNoReplierBound)

	requireError(t, replier.Close(), ErrClosed)
	_, err = replier.NextMsg()
	requireError(t, err, ErrClosed)
	requireError(t, replier.Bind("$.X", false), ErrClosed)
	_, err = replier.Send(NewAnnouncement("$.X", nil))
	requireError(t, err, ErrClosed)
}

func TestUnbindWithdrawsQueuedRequests(t *testing.T) {
	device := newTestDevice(t, DeviceConfig{})
	requester := openSocket(t, device)
	replier := openSocket(t, device)
	mustBind(t, replier, "$.Svc.*", true)
	mustBind(t, replier, "$.Svc.Keep", true)
	mustBind(t, replier, "$.Svc.*", false)

	withdrawnID := mustSend(t, requester, NewRequest("$.Svc.Go", nil))
	keptID := mustSend(t, requester, NewRequest("$.Svc.Keep", nil))
	// Each request also matches the "$.Svc.*" listener binding.
	if replier.NumUnread() != 4 {
		t.Fatalf("replier unread = %d, want 4", replier.NumUnread())
	}

	if err := replier.Unbind("$.Svc.*", true); err != nil {
		t.Fatal(err)
	}

	status := mustReadNext(t, requester)
	if status.Name() != StatusReplierUnbound || status.InReplyTo != withdrawnID || !status.IsSynthetic() {
		t.Fatalf("requester got %s, want Unbound status for %s", status, withdrawnID)
	}
	requireEmpty(t, requester)

	// Left: the listener copy of the withdrawn request, then both
	// copies of the request routed through the binding still in place.
	listenerCopy := mustReadNext(t, replier)
	if listenerCopy.ID != withdrawnID || listenerCopy.WantsUsToReply() {
		t.Fatalf("first remaining = %s, want listener copy of %s", listenerCopy, withdrawnID)
	}
	kept := mustReadNext(t, replier)
	if kept.ID != keptID || !kept.WantsUsToReply() {
		t.Fatalf("second remaining = %s, want request %s", kept, keptID)
	}
}

func TestReplierBindEvents(t *testing.T) {
	device := newTestDevice(t, DeviceConfig{})
	watcher := openSocket(t, device)
	replier := openSocket(t, device)
	mustBind(t, watcher, ReplierBindEventName, false)

	// Disabled by default.
	mustBind(t, replier, "$.Quiet", true)
	requireEmpty(t, watcher)

	if _, err := watcher.ReportReplierBinds(On); err != nil {
		t.Fatal(err)
	}
	mustBind(t, replier, "$.Loud", true)
	mustBind(t, replier, "$.Loud", true)
	mustBind(t, replier, "$.Loud", false)
	if err := replier.Unbind("$.Loud", true); err != nil {
		t.Fatal(err)
	}
	if err := replier.Close(); err != nil {
		t.Fatal(err)
	}

	want := []ReplierBindEvent{
		{IsBind: true, Binder: replier.ID(), Name: "$.Loud"},
		{IsBind: false, Binder: replier.ID(), Name: "$.Loud"},
		{IsBind: false, Binder: replier.ID(), Name: "$.Quiet"},
	}
	for _, expected := range want {
		message := mustReadNext(t, watcher)
		if message.From != 0 || !message.IsSynthetic() {
			t.Fatalf("bind event %s: want from 0 and SYNTHETIC", message)
		}
		event, err := DecodeReplierBindEvent(message)
		if err != nil {
			t.Fatal(err)
		}
		if event != expected {
			t.Fatalf("event = %+v, want %+v", event, expected)
		}
	}
	requireEmpty(t, watcher)
}
