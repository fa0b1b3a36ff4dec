// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

// cursor is the read state of a socket: idle, or part way through the
// frame of the message most recently taken from the queue.
type cursor struct {
	reading bool
	message Message
	frame   []byte
	offset  int
}

func (c *cursor) remaining() int {
	if !c.reading {
		return 0
	}
	return len(c.frame) - c.offset
}

func (c *cursor) reset() { *c = cursor{} }

// NextMsg abandons any message part way through being read, takes the
// next message off the queue and returns the length of its frame. It
// returns 0 and leaves the socket idle when the queue is empty.
//
// Taking a request this socket is asked to answer adds it to the
// unreplied set until the socket sends the reply.
func (s *Socket) NextMsg() (int, error) {
	s.mu.Lock()
	length, popped, err := s.nextMsgLocked()
	s.mu.Unlock()
	if popped {
		s.device.broadcast()
	}
	return length, err
}

func (s *Socket) nextMsgLocked() (length int, popped bool, err error) {
	if s.closed {
		return 0, false, errorf(CodeClosed, "socket %d", s.id)
	}
	if !s.mode.CanRead() {
		return 0, false, errorf(CodeNotPermitted, "socket %d is not open for reading", s.id)
	}
	s.cursor.reset()

	message, ok := s.queue.PopFront()
	if !ok {
		return 0, false, nil
	}
	frame, err := EncodeMessage(message)
	if err != nil {
		return 0, true, err
	}
	if message.WantsUsToReply() {
		s.unreplied[message.ID] = message
	}
	s.cursor = cursor{reading: true, message: message, frame: frame}
	return len(frame), true, nil
}

// LenLeft returns how many frame bytes of the current message are
// still unread, or 0 when idle.
func (s *Socket) LenLeft() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.remaining()
}

// Read copies the next bytes of the current message's frame into p.
// Reading the last byte returns the socket to idle. Read fails with
// ErrNotReading when idle.
func (s *Socket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errorf(CodeClosed, "socket %d", s.id)
	}
	if !s.cursor.reading {
		return 0, errorf(CodeNotReading, "call NextMsg first")
	}
	n := copy(p, s.cursor.frame[s.cursor.offset:])
	s.cursor.offset += n
	if s.cursor.remaining() == 0 {
		s.cursor.reset()
	}
	return n, nil
}

// ReadMsg returns the current message whole, however much of its
// frame has been read, and returns the socket to idle.
func (s *Socket) ReadMsg() (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMsgLocked()
}

func (s *Socket) readMsgLocked() (Message, error) {
	if s.closed {
		return Message{}, errorf(CodeClosed, "socket %d", s.id)
	}
	if !s.cursor.reading {
		return Message{}, errorf(CodeNotReading, "call NextMsg first")
	}
	message := s.cursor.message
	s.cursor.reset()
	return message, nil
}

// ReadNextMsg is NextMsg followed by ReadMsg. It fails with
// ErrNothingToRead when the queue is empty.
func (s *Socket) ReadNextMsg() (Message, error) {
	s.mu.Lock()
	length, popped, err := s.nextMsgLocked()
	var message Message
	if err == nil {
		if length == 0 {
			err = errorf(CodeNothingToRead, "queue of socket %d is empty", s.id)
		} else {
			message, err = s.readMsgLocked()
		}
	}
	s.mu.Unlock()

	if popped {
		s.device.broadcast()
	}
	return message, err
}

// Discard drops the message being read, if any. The socket is idle
// afterwards.
func (s *Socket) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorf(CodeClosed, "socket %d", s.id)
	}
	s.cursor.reset()
	return nil
}
