// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"maps"
	"time"
)

// Readiness is a set of socket conditions a caller can wait for.
type Readiness uint8

const (
	// Readable: the queue holds at least one message.
	Readable Readiness = 1 << iota

	// Writable: the socket may send, and every recipient that made
	// its last AllOrWait send fail has room again.
	Writable
)

func (r Readiness) String() string {
	switch r {
	case 0:
		return "none"
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Readable | Writable:
		return "readable|writable"
	}
	return "invalid"
}

// Wait blocks until the socket is in one of the conditions in want and
// returns those it is in. It returns 0 and no error when timeout
// elapses first; a timeout of zero or less waits indefinitely. A want
// of zero waits for either condition.
//
// Wait fails with ErrClosed once the socket is closed, and with the
// context's error when ctx ends first.
func (s *Socket) Wait(ctx context.Context, want Readiness, timeout time.Duration) (Readiness, error) {
	if want == 0 {
		want = Readable | Writable
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := s.device.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		changed := s.device.changes()
		ready, err := s.readiness()
		if err != nil {
			return 0, err
		}
		if ready&want != 0 {
			return ready & want, nil
		}
		select {
		case <-changed:
		case <-expired:
			return 0, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// readiness samples the socket's current conditions.
func (s *Socket) readiness() (Readiness, error) {
	d := s.device
	d.mu.Lock()
	defer d.mu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errorf(CodeClosed, "socket %d", s.id)
	}
	var ready Readiness
	if s.mode.CanRead() && s.queue.Len() > 0 {
		ready |= Readable
	}
	blockedOn := maps.Clone(s.blockedOn)
	s.mu.Unlock()

	if !s.mode.CanWrite() {
		return ready, nil
	}
	for id, needed := range blockedOn {
		recipient, ok := d.sockets[id]
		if !ok {
			continue
		}
		recipient.mu.Lock()
		full := recipient.queue.Room() < needed
		recipient.mu.Unlock()
		if full {
			return ready, nil
		}
	}
	return ready | Writable, nil
}
