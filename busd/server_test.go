// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package busd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/kbus-foundation/kbus/bus"
	"github.com/kbus-foundation/kbus/lib/codec"
	"github.com/kbus-foundation/kbus/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer serves a fresh registry on a temporary socket until the
// test ends.
func startServer(t *testing.T) (string, *bus.Registry) {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "kbusd.sock")
	registry := bus.NewRegistry(bus.DeviceConfig{Logger: testLogger()})
	server := NewServer(socketPath, registry, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve did not return"); err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
		registry.Close()
	})

	waitForSocket(t, socketPath)
	return socketPath, registry
}

// waitForSocket polls until the socket file exists. Bounded by the
// test context.
func waitForSocket(t *testing.T, path string) {
	t.Helper()
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if t.Context().Err() != nil {
			t.Fatalf("socket %s did not appear before test context expired", path)
		}
		runtime.Gosched()
	}
}

func dial(t *testing.T, socketPath string, mode bus.Mode) *Client {
	t.Helper()
	client, err := Dial(t.Context(), socketPath, 0, mode)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// rawExchange writes one request on conn and decodes one response.
func rawExchange(t *testing.T, conn net.Conn, request any) Response {
	t.Helper()
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

func TestRequestReplyRoundTrip(t *testing.T) {
	socketPath, _ := startServer(t)
	ctx := t.Context()

	replier := dial(t, socketPath, bus.ReadWrite)
	requester := dial(t, socketPath, bus.ReadWrite)
	if replier.ID() == 0 || replier.ID() == requester.ID() {
		t.Fatalf("socket ids = %d, %d; want distinct non-zero", replier.ID(), requester.ID())
	}

	if err := replier.Bind(ctx, "$.Svc.Time", true); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	id, err := requester.Send(ctx, bus.NewRequest("$.Svc.Time", []byte("now?")))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if last, err := requester.LastMsgID(ctx); err != nil || last != id {
		t.Fatalf("LastMsgID = %v, %v; want %v", last, err, id)
	}

	ready, err := replier.Wait(ctx, bus.Readable, 5*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ready != bus.Readable {
		t.Fatalf("Wait = %v, want readable", ready)
	}

	request, err := replier.ReadNextMsg(ctx)
	if err != nil {
		t.Fatalf("ReadNextMsg: %v", err)
	}
	if request.ID != id || !request.WantsUsToReply() || request.From != requester.ID() {
		t.Fatalf("replier read %v, want request %v from %d marked for reply", request, id, requester.ID())
	}
	if count, err := replier.NumUnrepliedTo(ctx); err != nil || count != 1 {
		t.Fatalf("NumUnrepliedTo = %d, %v; want 1", count, err)
	}

	reply, err := bus.NewReply(request, []byte("noon"))
	if err != nil {
		t.Fatalf("NewReply: %v", err)
	}
	if _, err := replier.Send(ctx, reply); err != nil {
		t.Fatalf("Send reply: %v", err)
	}
	if count, err := replier.NumUnrepliedTo(ctx); err != nil || count != 0 {
		t.Fatalf("NumUnrepliedTo after reply = %d, %v; want 0", count, err)
	}

	got, err := requester.ReadNextMsg(ctx)
	if err != nil {
		t.Fatalf("requester ReadNextMsg: %v", err)
	}
	if got.InReplyTo != id || string(got.Data()) != "noon" {
		t.Fatalf("requester read %v (%q), want reply to %v", got, got.Data(), id)
	}
}

func TestBusErrorsKeepTheirCodes(t *testing.T) {
	socketPath, _ := startServer(t)
	ctx := t.Context()
	client := dial(t, socketPath, bus.ReadWrite)

	_, err := client.Send(ctx, bus.NewRequest("$.Nobody.Home", nil))
	if !errors.Is(err, bus.ErrNoReplierBound) {
		t.Fatalf("Send to unbound name: err = %v, want ErrNoReplierBound", err)
	}
	if bus.Errno(err) == 0 {
		t.Errorf("Errno(%v) = 0", err)
	}

	if _, err := client.ReadNextMsg(ctx); !errors.Is(err, bus.ErrNothingToRead) {
		t.Errorf("ReadNextMsg on empty queue: err = %v, want ErrNothingToRead", err)
	}
	if err := client.Bind(ctx, "not a name", false); !errors.Is(err, bus.ErrMalformedName) {
		t.Errorf("Bind malformed: err = %v, want ErrMalformedName", err)
	}
	if _, err := client.Read(ctx, 10); !errors.Is(err, bus.ErrNotReading) {
		t.Errorf("Read while idle: err = %v, want ErrNotReading", err)
	}

	// The connection stays usable after failures.
	if err := client.Bind(ctx, "$.Fine", false); err != nil {
		t.Fatalf("Bind after failures: %v", err)
	}
}

func TestIncrementalRead(t *testing.T) {
	socketPath, _ := startServer(t)
	ctx := t.Context()
	client := dial(t, socketPath, bus.ReadWrite)

	if err := client.Bind(ctx, "$.Chunks", false); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	payload := bytes.Repeat([]byte("abcdefgh"), 64)
	if _, err := client.Send(ctx, bus.NewAnnouncement("$.Chunks", payload)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	length, err := client.NextMsg(ctx)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	if length == 0 {
		t.Fatal("NextMsg returned 0 with a message queued")
	}

	var frame []byte
	for {
		left, err := client.LenLeft(ctx)
		if err != nil {
			t.Fatalf("LenLeft: %v", err)
		}
		if left != length-len(frame) {
			t.Fatalf("LenLeft = %d, want %d", left, length-len(frame))
		}
		if left == 0 {
			break
		}
		chunk, err := client.Read(ctx, 100)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		frame = append(frame, chunk...)
	}

	message, err := bus.DecodeMessage(frame)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if message.Name() != "$.Chunks" || !bytes.Equal(message.Data(), payload) {
		t.Fatalf("reassembled %v with %d bytes, want $.Chunks with %d", message, len(message.Data()), len(payload))
	}
}

func TestSettingsOverTheWire(t *testing.T) {
	socketPath, _ := startServer(t)
	ctx := t.Context()
	client := dial(t, socketPath, bus.ReadWrite)

	if capacity, err := client.SetMaxMessages(ctx, 7); err != nil || capacity != 7 {
		t.Fatalf("SetMaxMessages(7) = %d, %v", capacity, err)
	}
	if capacity, err := client.MaxMessages(ctx); err != nil || capacity != 7 {
		t.Fatalf("MaxMessages = %d, %v; want 7", capacity, err)
	}

	if previous, err := client.OnlyOnce(ctx, bus.On); err != nil || previous {
		t.Fatalf("OnlyOnce(On) = %v, %v; want previous false", previous, err)
	}
	if current, err := client.OnlyOnce(ctx, bus.Query); err != nil || !current {
		t.Fatalf("OnlyOnce(Query) = %v, %v; want true", current, err)
	}
	if _, err := client.Verbose(ctx, bus.On); err != nil {
		t.Fatalf("Verbose: %v", err)
	}
	if previous, err := client.ReportReplierBinds(ctx, bus.On); err != nil || previous {
		t.Fatalf("ReportReplierBinds(On) = %v, %v", previous, err)
	}

	if err := client.Bind(ctx, bus.ReplierBindEventName, false); err != nil {
		t.Fatalf("Bind event name: %v", err)
	}
	if err := client.Bind(ctx, "$.Announced", true); err != nil {
		t.Fatalf("Bind replier: %v", err)
	}
	message, err := client.ReadNextMsg(ctx)
	if err != nil {
		t.Fatalf("ReadNextMsg: %v", err)
	}
	event, err := bus.DecodeReplierBindEvent(message)
	if err != nil {
		t.Fatalf("DecodeReplierBindEvent: %v", err)
	}
	if !event.IsBind || event.Binder != client.ID() || event.Name != "$.Announced" {
		t.Fatalf("event = %+v, want bind of $.Announced by %d", event, client.ID())
	}
}

func TestDisconnectSendsGoneAway(t *testing.T) {
	socketPath, _ := startServer(t)
	ctx := t.Context()

	replier, err := Dial(ctx, socketPath, 0, bus.ReadWrite)
	if err != nil {
		t.Fatalf("Dial replier: %v", err)
	}
	requester := dial(t, socketPath, bus.ReadWrite)

	if err := replier.Bind(ctx, "$.Fragile", true); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	id, err := requester.Send(ctx, bus.NewRequest("$.Fragile", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	replierID := replier.ID()
	if err := replier.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ready, err := requester.Wait(ctx, bus.Readable, 5*time.Second)
	if err != nil || ready != bus.Readable {
		t.Fatalf("Wait = %v, %v; want readable", ready, err)
	}
	status, err := requester.ReadNextMsg(ctx)
	if err != nil {
		t.Fatalf("ReadNextMsg: %v", err)
	}
	if status.Name() != bus.StatusReplierGoneAway || status.InReplyTo != id || status.From != replierID {
		t.Fatalf("status = %v, want %s in reply to %v from %d", status, bus.StatusReplierGoneAway, id, replierID)
	}

	if holder, err := requester.FindReplier(ctx, "$.Fragile"); err != nil || holder != 0 {
		t.Fatalf("FindReplier after disconnect = %d, %v; want 0", holder, err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	socketPath, _ := startServer(t)
	client := dial(t, socketPath, bus.ReadWrite)

	ready, err := client.Wait(t.Context(), bus.Readable, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ready != 0 {
		t.Fatalf("Wait = %v, want none", ready)
	}
}

func TestWaitCancelledByContext(t *testing.T) {
	socketPath, registry := startServer(t)
	client := dial(t, socketPath, bus.ReadWrite)

	ctx, cancel := context.WithCancel(t.Context())
	waitDone := make(chan error, 1)
	go func() {
		_, err := client.Wait(ctx, bus.Readable, 0)
		waitDone <- err
	}()

	testutil.RequireNothing(t, waitDone, 50*time.Millisecond, "Wait returned with nothing queued")
	cancel()
	err := testutil.RequireReceive(t, waitDone, 5*time.Second, "Wait did not return after cancel")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait err = %v, want context.Canceled", err)
	}

	// The interrupted connection is closed, and the daemon notices and
	// releases the bus socket.
	if _, err := client.NumUnread(t.Context()); !errors.Is(err, bus.ErrClosed) {
		t.Fatalf("NumUnread after cancel: err = %v, want ErrClosed", err)
	}
	device, err := registry.Device(0)
	if err != nil {
		t.Fatalf("Device(0): %v", err)
	}
	for device.NumSockets() != 0 {
		if t.Context().Err() != nil {
			t.Fatalf("daemon kept %d sockets open after the client went away", device.NumSockets())
		}
		runtime.Gosched()
	}
}

func TestDeviceActions(t *testing.T) {
	socketPath, registry := startServer(t)
	ctx := t.Context()

	control, err := DialControl(ctx, socketPath)
	if err != nil {
		t.Fatalf("DialControl: %v", err)
	}
	defer control.Close()

	next, err := control.NextDevice(ctx)
	if err != nil || next != 0 {
		t.Fatalf("NextDevice = %d, %v; want 0", next, err)
	}
	if number, err := control.NewDevice(ctx, 3); err != nil || number != 3 {
		t.Fatalf("NewDevice(3) = %d, %v", number, err)
	}
	if _, err := control.NewDevice(ctx, 3); !errors.Is(err, bus.ErrDeviceExists) {
		t.Fatalf("NewDevice(3) again: err = %v, want ErrDeviceExists", err)
	}
	if _, err := registry.Device(3); err != nil {
		t.Fatalf("registry.Device(3): %v", err)
	}

	var protocolErr *ProtocolError
	if err := control.Bind(ctx, "$.Early", false); !errors.As(err, &protocolErr) {
		t.Fatalf("Bind before open: err = %v, want *ProtocolError", err)
	}
}

func TestServerRejectsBadRequests(t *testing.T) {
	socketPath, _ := startServer(t)

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer conn.Close()

	response := rawExchange(t, conn, map[string]string{"action": "teleport"})
	if response.OK || response.Error == "" || response.Code != "" {
		t.Errorf("unknown action: response = %+v, want error without bus code", response)
	}

	response = rawExchange(t, conn, map[string]string{"device": "0"})
	if response.OK || response.Error == "" {
		t.Errorf("missing action: response = %+v, want error", response)
	}

	response = rawExchange(t, conn, openRequest{Action: actionOpen, Mode: "sideways"})
	if response.OK || response.Error == "" {
		t.Errorf("bad mode: response = %+v, want error", response)
	}

	response = rawExchange(t, conn, openRequest{Action: actionOpen, Mode: "rw"})
	if !response.OK {
		t.Fatalf("open: response = %+v", response)
	}
	response = rawExchange(t, conn, openRequest{Action: actionOpen, Mode: "rw"})
	if response.OK {
		t.Errorf("second open on one connection succeeded")
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "kbusd.sock")
	registry := bus.NewRegistry(bus.DeviceConfig{Logger: testLogger()})
	defer registry.Close()
	server := NewServer(socketPath, registry, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()
	waitForSocket(t, socketPath)

	client := dial(t, socketPath, bus.ReadWrite)
	if err := client.Bind(t.Context(), "$.Held", true); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	cancel()
	if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve did not return after cancellation"); err != nil {
		t.Errorf("Serve returned error: %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file not removed after Serve returned")
	}
	device, err := registry.Device(0)
	if err != nil {
		t.Fatalf("Device(0): %v", err)
	}
	if count := device.NumSockets(); count != 0 {
		t.Errorf("NumSockets after shutdown = %d, want 0", count)
	}
}
