// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package busd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/kbus-foundation/kbus/bus"
	"github.com/kbus-foundation/kbus/lib/codec"
	"github.com/kbus-foundation/kbus/lib/netutil"
)

// writeTimeout is how long we wait for a response to be written.
const writeTimeout = 10 * time.Second

// maxRequestSize bounds a single CBOR request. Message data is limited
// far below this by the device; the margin covers the frame header.
const maxRequestSize = 1024 * 1024

// actionFunc handles one request on a connection. raw is the full CBOR
// request including the "action" field.
type actionFunc func(ctx context.Context, session *session, raw []byte) (any, error)

// Server exposes the devices of a registry on a Unix socket. Unlike a
// request-per-connection service, a connection here is a bus socket:
// the client opens it with an "open" request and every later request
// operates on that socket until the connection closes, which closes
// the bus socket too.
type Server struct {
	socketPath string
	registry   *bus.Registry
	handlers   map[string]actionFunc
	logger     *slog.Logger

	// activeConnections tracks connection goroutines for graceful
	// shutdown. Serve waits for all of them before returning.
	activeConnections sync.WaitGroup

	mu          sync.Mutex
	connections map[net.Conn]struct{}
}

// NewServer returns a server for registry that will listen on
// socketPath.
func NewServer(socketPath string, registry *bus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		socketPath:  socketPath,
		registry:    registry,
		logger:      logger,
		connections: make(map[net.Conn]struct{}),
	}
	s.handlers = map[string]actionFunc{
		actionOpen:               s.handleOpen,
		actionBind:               s.handleBind,
		actionUnbind:             s.handleUnbind,
		actionID:                 s.handleID,
		actionNextMsg:            s.handleNextMsg,
		actionLenLeft:            s.handleLenLeft,
		actionRead:               s.handleRead,
		actionReadMsg:            s.handleReadMsg,
		actionReadNextMsg:        s.handleReadNextMsg,
		actionLastMsgID:          s.handleLastMsgID,
		actionFindReplier:        s.handleFindReplier,
		actionMaxMessages:        s.handleMaxMessages,
		actionSetMaxMessages:     s.handleSetMaxMessages,
		actionNumUnread:          s.handleNumUnread,
		actionNumUnrepliedTo:     s.handleNumUnrepliedTo,
		actionSend:               s.handleSend,
		actionDiscard:            s.handleDiscard,
		actionOnlyOnce:           s.handleOnlyOnce,
		actionReportReplierBinds: s.handleReportReplierBinds,
		actionVerbose:            s.handleVerbose,
		actionWait:               s.handleWait,
		actionNewDevice:          s.handleNewDevice,
		actionNextDevice:         s.handleNextDevice,
	}
	return s
}

// Serve accepts connections until ctx is cancelled. On cancellation it
// closes the listener and every open connection, then waits for the
// connection goroutines to finish. The socket file is removed on
// return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	stop := context.AfterFunc(ctx, func() {
		listener.Close()
		s.closeConnections()
	})
	defer stop()

	s.logger.Info("bus server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			break
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			defer s.untrack(conn)
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connections == nil {
		return false
	}
	s.connections[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, conn)
}

// closeConnections closes every tracked connection and refuses new
// ones. Handlers blocked in a read return with an error.
func (s *Server) closeConnections() {
	s.mu.Lock()
	connections := s.connections
	s.connections = nil
	s.mu.Unlock()

	var err error
	for conn := range connections {
		err = multierr.Append(err, conn.Close())
	}
	if err != nil {
		s.logger.Debug("closing connections", "error", err)
	}
}

// session is the per-connection state: the bus socket the connection
// opened, if any.
type session struct {
	conn   net.Conn
	socket *bus.Socket
	logger *slog.Logger
}

func (sess *session) requireSocket() (*bus.Socket, error) {
	if sess.socket == nil {
		return nil, errors.New(`no socket open on this connection; send "open" first`)
	}
	return sess.socket, nil
}

// handleConnection serves requests until the client disconnects.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	sess := &session{conn: conn, logger: s.logger}
	if peer, err := peerOf(conn); err == nil {
		sess.logger = s.logger.With("peer_pid", peer.PID, "peer_uid", peer.UID)
	} else {
		s.logger.Debug("reading peer credentials", "error", err)
	}

	defer func() {
		if sess.socket != nil {
			if err := sess.socket.Close(); err != nil && !errors.Is(err, bus.ErrClosed) {
				sess.logger.Warn("closing bus socket", "socket", sess.socket.ID(), "error", err)
			}
			sess.logger.Debug("connection closed", "socket", sess.socket.ID())
		}
		conn.Close()
	}()

	limited := &io.LimitedReader{R: conn}
	decoder := codec.NewDecoder(limited)
	encoder := codec.NewEncoder(conn)

	for {
		limited.N = maxRequestSize
		var raw codec.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if !netutil.IsExpectedCloseError(err) && ctx.Err() == nil {
				sess.logger.Debug("reading request", "error", err)
				s.respond(sess, encoder, nil, fmt.Errorf("invalid request: %w", err))
			}
			return
		}

		var header requestHeader
		if err := codec.Unmarshal(raw, &header); err != nil {
			if !s.respond(sess, encoder, nil, fmt.Errorf("invalid request: %w", err)) {
				return
			}
			continue
		}
		if header.Action == "" {
			if !s.respond(sess, encoder, nil, errors.New("missing required field: action")) {
				return
			}
			continue
		}

		handler, ok := s.handlers[header.Action]
		if !ok {
			if !s.respond(sess, encoder, nil, fmt.Errorf("unknown action %q", header.Action)) {
				return
			}
			continue
		}

		result, err := handler(ctx, sess, raw)
		if err != nil {
			sess.logger.Debug("request failed", "action", header.Action, "error", err)
		}
		if !s.respond(sess, encoder, result, err) {
			return
		}
	}
}

// respond writes one response envelope and reports whether the
// connection is still usable.
func (s *Server) respond(sess *session, encoder *codec.Encoder, result any, handlerErr error) bool {
	response := Response{OK: handlerErr == nil}
	var busError *bus.Error
	if errors.As(handlerErr, &busError) {
		response.Error = busError.Message
		response.Code = busError.Code
	} else if handlerErr != nil {
		response.Error = handlerErr.Error()
	} else if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			response = Response{Error: fmt.Sprintf("encoding result: %v", err)}
		} else {
			response.Data = data
		}
	}

	sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := encoder.Encode(response); err != nil {
		if !netutil.IsExpectedCloseError(err) {
			sess.logger.Warn("writing response", "error", err)
		}
		return false
	}
	return true
}

func decodeRequest(raw []byte, target any) error {
	if err := codec.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func (s *Server) handleOpen(ctx context.Context, sess *session, raw []byte) (any, error) {
	var request openRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if sess.socket != nil {
		return nil, fmt.Errorf("connection already owns socket %d", sess.socket.ID())
	}
	mode, err := bus.ParseMode(request.Mode)
	if err != nil {
		return nil, err
	}
	socket, err := s.registry.OpenSocket(request.Device, mode)
	if err != nil {
		return nil, err
	}
	sess.socket = socket
	sess.logger = sess.logger.With("device", request.Device, "socket", socket.ID())
	sess.logger.Debug("socket opened", "mode", mode)
	return socketResult{Socket: socket.ID()}, nil
}

func (s *Server) handleBind(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	var request bindRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	return nil, socket.Bind(request.Name, request.Replier)
}

func (s *Server) handleUnbind(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	var request bindRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	return nil, socket.Unbind(request.Name, request.Replier)
}

func (s *Server) handleID(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	return socketResult{Socket: socket.ID()}, nil
}

func (s *Server) handleNextMsg(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	length, err := socket.NextMsg()
	if err != nil {
		return nil, err
	}
	return countResult{Count: length}, nil
}

func (s *Server) handleLenLeft(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	return countResult{Count: socket.LenLeft()}, nil
}

func (s *Server) handleRead(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	var request readRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.Size < 0 || request.Size > maxRequestSize {
		return nil, fmt.Errorf("read size %d out of range", request.Size)
	}
	buffer := make([]byte, request.Size)
	n, err := socket.Read(buffer)
	if err != nil {
		return nil, err
	}
	return dataResult{Data: buffer[:n]}, nil
}

func (s *Server) handleReadMsg(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	message, err := socket.ReadMsg()
	if err != nil {
		return nil, err
	}
	return encodeMessageResult(message)
}

func (s *Server) handleReadNextMsg(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	message, err := socket.ReadNextMsg()
	if err != nil {
		return nil, err
	}
	return encodeMessageResult(message)
}

func encodeMessageResult(message bus.Message) (any, error) {
	frame, err := bus.EncodeMessage(message)
	if err != nil {
		return nil, err
	}
	return messageResult{Message: frame}, nil
}

func (s *Server) handleLastMsgID(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	return newMessageIDResult(socket.LastMsgID()), nil
}

func (s *Server) handleFindReplier(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	var request nameRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	replier, err := socket.FindReplier(request.Name)
	if err != nil {
		return nil, err
	}
	return socketResult{Socket: replier}, nil
}

func (s *Server) handleMaxMessages(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	return countResult{Count: socket.MaxMessages()}, nil
}

func (s *Server) handleSetMaxMessages(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	var request countRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	count, err := socket.SetMaxMessages(request.Count)
	if err != nil {
		return nil, err
	}
	return countResult{Count: count}, nil
}

func (s *Server) handleNumUnread(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	return countResult{Count: socket.NumUnread()}, nil
}

func (s *Server) handleNumUnrepliedTo(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	return countResult{Count: socket.NumUnrepliedTo()}, nil
}

func (s *Server) handleSend(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	var request sendRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	message, err := bus.DecodeMessage(request.Message)
	if err != nil {
		return nil, err
	}
	id, err := socket.Send(message)
	if err != nil {
		return nil, err
	}
	return newMessageIDResult(id), nil
}

func (s *Server) handleDiscard(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	return nil, socket.Discard()
}

func (s *Server) handleOnlyOnce(ctx context.Context, sess *session, raw []byte) (any, error) {
	return s.toggle(sess, raw, (*bus.Socket).OnlyOnce)
}

func (s *Server) handleReportReplierBinds(ctx context.Context, sess *session, raw []byte) (any, error) {
	return s.toggle(sess, raw, (*bus.Socket).ReportReplierBinds)
}

func (s *Server) handleVerbose(ctx context.Context, sess *session, raw []byte) (any, error) {
	return s.toggle(sess, raw, (*bus.Socket).Verbose)
}

func (s *Server) toggle(sess *session, raw []byte, apply func(*bus.Socket, bus.Toggle) (bool, error)) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	var request toggleRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	on, err := apply(socket, request.Value)
	if err != nil {
		return nil, err
	}
	return toggleResult{On: on}, nil
}

// handleWait blocks in Socket.Wait. The client sends nothing while it
// waits for the response, so any read activity on the connection means
// the peer went away; watchPeer turns that into a cancellation.
func (s *Server) handleWait(ctx context.Context, sess *session, raw []byte) (any, error) {
	socket, err := sess.requireSocket()
	if err != nil {
		return nil, err
	}
	var request waitRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatching := watchPeer(sess.conn, cancel)
	defer stopWatching()

	ready, err := socket.Wait(waitCtx, request.Want, time.Duration(request.TimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return waitResult{Ready: ready}, nil
}

// watchPeer reads from conn in the background and calls gone if the
// read returns before the returned stop function is called. stop
// interrupts the read with an expired deadline, waits for the reader,
// then clears the deadline.
func watchPeer(conn net.Conn, gone func()) (stop func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		var discard [1]byte
		if _, err := conn.Read(discard[:]); !errors.Is(err, os.ErrDeadlineExceeded) {
			gone()
		}
	}()
	return func() {
		conn.SetReadDeadline(time.Now())
		<-done
		conn.SetReadDeadline(time.Time{})
	}
}

func (s *Server) handleNewDevice(ctx context.Context, sess *session, raw []byte) (any, error) {
	var request deviceRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	device, err := s.registry.NewDevice(request.Device)
	if err != nil {
		return nil, err
	}
	sess.logger.Info("device created", "device", device.Number())
	return deviceResult{Device: device.Number()}, nil
}

func (s *Server) handleNextDevice(ctx context.Context, sess *session, raw []byte) (any, error) {
	return deviceResult{Device: s.registry.NextDeviceNumber()}, nil
}
