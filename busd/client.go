// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package busd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kbus-foundation/kbus/bus"
	"github.com/kbus-foundation/kbus/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// daemon socket.
const dialTimeout = 5 * time.Second

// ProtocolError is returned when the server responds with ok=false for
// a reason that is not a bus failure (unknown action, malformed
// request). Bus failures come back as *bus.Error instead.
type ProtocolError struct {
	Action  string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("busd error on %q: %s", e.Action, e.Message)
}

// Client is one bus socket held open through the daemon. Its methods
// mirror bus.Socket; errors from the bus keep their codes, so
// errors.Is(err, bus.ErrQueueFull) works on either side of the
// connection.
//
// A Client is safe for concurrent use, but requests are serialised on
// the one connection: a Wait in progress delays every other call.
type Client struct {
	socketPath string
	id         bus.SocketID

	mu      sync.Mutex
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder
	closed  bool
}

// Dial connects to the daemon at socketPath and opens a socket on
// device with the given mode. The device is created if it does not
// exist yet.
func Dial(ctx context.Context, socketPath string, device uint32, mode bus.Mode) (*Client, error) {
	client, err := connect(ctx, socketPath)
	if err != nil {
		return nil, err
	}
	var result socketResult
	if err := client.call(ctx, actionOpen, openRequest{Action: actionOpen, Device: device, Mode: mode.String()}, &result); err != nil {
		client.conn.Close()
		return nil, err
	}
	client.id = result.Socket
	return client, nil
}

// DialControl connects without opening a socket. Only the device
// actions (NewDevice, NextDevice) are usable on the result.
func DialControl(ctx context.Context, socketPath string) (*Client, error) {
	return connect(ctx, socketPath)
}

func connect(ctx context.Context, socketPath string) (*Client, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	return &Client{
		socketPath: socketPath,
		conn:       conn,
		encoder:    codec.NewEncoder(conn),
		decoder:    codec.NewDecoder(conn),
	}, nil
}

// Close closes the connection, which closes the bus socket on the
// daemon side.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return bus.ErrClosed
	}
	c.closed = true
	return c.conn.Close()
}

// call writes the request for action and decodes the response data
// into result (if non-nil). ctx bounds the whole exchange: its deadline becomes the
// connection deadline, and cancellation interrupts a blocked read.
// After an interrupted exchange the connection is out of step with
// the server and is closed.
func (c *Client) call(ctx context.Context, action string, request any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("calling %q: %w", action, bus.ErrClosed)
	}

	deadline, _ := ctx.Deadline()
	c.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	var response Response
	err := c.encoder.Encode(request)
	if err == nil {
		err = c.decoder.Decode(&response)
	}
	if err != nil {
		c.closed = true
		c.conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, os.ErrDeadlineExceeded) {
			err = ctxErr
		}
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		if bus.KnownCode(response.Code) {
			return &bus.Error{Code: response.Code, Message: response.Error}
		}
		return &ProtocolError{Action: action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// ID returns the id of the socket opened by Dial.
func (c *Client) ID() bus.SocketID { return c.id }

// Bind binds the socket to name; see bus.Socket.Bind.
func (c *Client) Bind(ctx context.Context, name string, replier bool) error {
	return c.call(ctx, actionBind, bindRequest{Action: actionBind, Name: name, Replier: replier}, nil)
}

// Unbind removes a binding; see bus.Socket.Unbind.
func (c *Client) Unbind(ctx context.Context, name string, replier bool) error {
	return c.call(ctx, actionUnbind, bindRequest{Action: actionUnbind, Name: name, Replier: replier}, nil)
}

// NextMsg starts reading the next queued message and returns its frame
// length, or 0 if the queue is empty.
func (c *Client) NextMsg(ctx context.Context) (int, error) {
	var result countResult
	err := c.call(ctx, actionNextMsg, requestHeader{Action: actionNextMsg}, &result)
	return result.Count, err
}

// LenLeft returns the unread frame bytes of the current message.
func (c *Client) LenLeft(ctx context.Context) (int, error) {
	var result countResult
	err := c.call(ctx, actionLenLeft, requestHeader{Action: actionLenLeft}, &result)
	return result.Count, err
}

// Read returns up to size bytes of the current message's frame.
func (c *Client) Read(ctx context.Context, size int) ([]byte, error) {
	var result dataResult
	err := c.call(ctx, actionRead, readRequest{Action: actionRead, Size: size}, &result)
	return result.Data, err
}

// ReadMsg returns the current message whole.
func (c *Client) ReadMsg(ctx context.Context) (bus.Message, error) {
	return c.readMessage(ctx, actionReadMsg)
}

// ReadNextMsg pops and returns the next queued message. It fails with
// bus.ErrNothingToRead when the queue is empty.
func (c *Client) ReadNextMsg(ctx context.Context) (bus.Message, error) {
	return c.readMessage(ctx, actionReadNextMsg)
}

func (c *Client) readMessage(ctx context.Context, action string) (bus.Message, error) {
	var result messageResult
	if err := c.call(ctx, action, requestHeader{Action: action}, &result); err != nil {
		return bus.Message{}, err
	}
	return bus.DecodeMessage(result.Message)
}

// LastMsgID returns the id of the last message the socket sent.
func (c *Client) LastMsgID(ctx context.Context) (bus.MessageID, error) {
	var result messageIDResult
	err := c.call(ctx, actionLastMsgID, requestHeader{Action: actionLastMsgID}, &result)
	return result.messageID(), err
}

// FindReplier returns the socket bound as replier for name, or 0.
func (c *Client) FindReplier(ctx context.Context, name string) (bus.SocketID, error) {
	var result socketResult
	err := c.call(ctx, actionFindReplier, nameRequest{Action: actionFindReplier, Name: name}, &result)
	return result.Socket, err
}

// MaxMessages returns the socket's queue capacity.
func (c *Client) MaxMessages(ctx context.Context) (int, error) {
	var result countResult
	err := c.call(ctx, actionMaxMessages, requestHeader{Action: actionMaxMessages}, &result)
	return result.Count, err
}

// SetMaxMessages changes the queue capacity and returns the value in
// effect; a count of 0 only queries.
func (c *Client) SetMaxMessages(ctx context.Context, count int) (int, error) {
	var result countResult
	err := c.call(ctx, actionSetMaxMessages, countRequest{Action: actionSetMaxMessages, Count: count}, &result)
	return result.Count, err
}

// NumUnread returns the number of queued messages.
func (c *Client) NumUnread(ctx context.Context) (int, error) {
	var result countResult
	err := c.call(ctx, actionNumUnread, requestHeader{Action: actionNumUnread}, &result)
	return result.Count, err
}

// NumUnrepliedTo returns the number of requests read but not yet
// answered.
func (c *Client) NumUnrepliedTo(ctx context.Context) (int, error) {
	var result countResult
	err := c.call(ctx, actionNumUnrepliedTo, requestHeader{Action: actionNumUnrepliedTo}, &result)
	return result.Count, err
}

// Send routes message and returns its assigned id.
func (c *Client) Send(ctx context.Context, message bus.Message) (bus.MessageID, error) {
	frame, err := bus.EncodeMessage(message)
	if err != nil {
		return bus.MessageID{}, err
	}
	var result messageIDResult
	err = c.call(ctx, actionSend, sendRequest{Action: actionSend, Message: frame}, &result)
	return result.messageID(), err
}

// Discard drops the message being read.
func (c *Client) Discard(ctx context.Context) error {
	return c.call(ctx, actionDiscard, requestHeader{Action: actionDiscard}, nil)
}

// OnlyOnce applies toggle to the socket's only_once setting and
// returns the previous value (or the current one for bus.Query).
func (c *Client) OnlyOnce(ctx context.Context, toggle bus.Toggle) (bool, error) {
	return c.toggle(ctx, actionOnlyOnce, toggle)
}

// ReportReplierBinds applies toggle to the device's bind-event
// setting.
func (c *Client) ReportReplierBinds(ctx context.Context, toggle bus.Toggle) (bool, error) {
	return c.toggle(ctx, actionReportReplierBinds, toggle)
}

// Verbose applies toggle to the device's verbose logging setting.
func (c *Client) Verbose(ctx context.Context, toggle bus.Toggle) (bool, error) {
	return c.toggle(ctx, actionVerbose, toggle)
}

func (c *Client) toggle(ctx context.Context, action string, toggle bus.Toggle) (bool, error) {
	var result toggleResult
	err := c.call(ctx, action, toggleRequest{Action: action, Value: toggle}, &result)
	return result.On, err
}

// Wait blocks on the daemon until the socket is in one of the
// conditions in want, timeout elapses (0 and no error), or ctx ends.
// Timeouts are carried with millisecond precision.
func (c *Client) Wait(ctx context.Context, want bus.Readiness, timeout time.Duration) (bus.Readiness, error) {
	var result waitResult
	err := c.call(ctx, actionWait, waitRequest{Action: actionWait, Want: want, TimeoutMS: timeout.Milliseconds()}, &result)
	return result.Ready, err
}

// NewDevice asks the daemon to create device number.
func (c *Client) NewDevice(ctx context.Context, number uint32) (uint32, error) {
	var result deviceResult
	err := c.call(ctx, actionNewDevice, deviceRequest{Action: actionNewDevice, Device: number}, &result)
	return result.Device, err
}

// NextDevice returns the lowest device number not in use.
func (c *Client) NextDevice(ctx context.Context) (uint32, error) {
	var result deviceResult
	err := c.call(ctx, actionNextDevice, requestHeader{Action: actionNextDevice}, &result)
	return result.Device, err
}
