// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"cmp"
	"fmt"
)

// SocketID identifies a socket within its device. Zero means "no
// socket": a To of zero routes by name, a From of zero marks a message
// generated by the bus itself.
type SocketID uint32

// MessageID identifies a message. The bus assigns the serial number;
// the network id is carried for bridges between buses and is zero for
// local traffic unless the device is configured with one.
type MessageID struct {
	NetworkID uint32
	SerialNum uint32
}

// IsZero reports whether id is the "no message" value.
func (id MessageID) IsZero() bool { return id == MessageID{} }

// Compare orders ids by network id, then serial number.
func (id MessageID) Compare(other MessageID) int {
	if c := cmp.Compare(id.NetworkID, other.NetworkID); c != 0 {
		return c
	}
	return cmp.Compare(id.SerialNum, other.SerialNum)
}

func (id MessageID) String() string {
	return fmt.Sprintf("[%d:%d]", id.NetworkID, id.SerialNum)
}

// Origin names a socket on a possibly remote bus. Stateful requests use
// it to keep track of the original requester and final target across a
// chain of buses.
type Origin struct {
	NetworkID uint32
	LocalID   SocketID
}

// IsZero reports whether o is unset.
func (o Origin) IsZero() bool { return o == Origin{} }

// Flags is the message flag word.
type Flags uint32

const (
	// WantAReply marks a Request.
	WantAReply Flags = 1 << 0

	// WantYouToReply is set by the router on the one copy of a
	// Request whose recipient is expected to answer.
	WantYouToReply Flags = 1 << 1

	// Synthetic is set by the router on messages the bus generates.
	Synthetic Flags = 1 << 2

	// AllOrWait makes a send fail with ErrWouldBlock, delivering
	// nothing, unless every recipient has room. The sender can then
	// wait until it is writable and retry.
	AllOrWait Flags = 1 << 8

	// AllOrFail makes a send fail with ErrQueueFull, delivering
	// nothing, unless every recipient has room.
	AllOrFail Flags = 1 << 9

	routerOnlyFlags = WantYouToReply | Synthetic
	allOrFlags      = AllOrWait | AllOrFail
)

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

func (f Flags) String() string {
	names := []struct {
		flag Flags
		name string
	}{
		{WantAReply, "WANT_A_REPLY"},
		{WantYouToReply, "WANT_YOU_TO_REPLY"},
		{Synthetic, "SYNTHETIC"},
		{AllOrWait, "ALL_OR_WAIT"},
		{AllOrFail, "ALL_OR_FAIL"},
	}
	text := ""
	rest := f
	for _, entry := range names {
		if f&entry.flag != 0 {
			if text != "" {
				text += "|"
			}
			text += entry.name
			rest &^= entry.flag
		}
	}
	if rest != 0 {
		if text != "" {
			text += "|"
		}
		text += fmt.Sprintf("%#x", uint32(rest))
	}
	if text == "" {
		return "0"
	}
	return text
}

// Message is the logical message. Senders fill Body, Flags, To,
// InReplyTo and, for stateful requests, FinalTo; the router fills ID
// and From and, when it is zero, OrigFrom.
type Message struct {
	ID        MessageID
	InReplyTo MessageID
	To        SocketID
	From      SocketID
	OrigFrom  Origin
	FinalTo   Origin
	Flags     Flags
	Body      Body

	// binding is the replier binding a WantYouToReply copy was routed
	// through. Unbinding it withdraws the copy if still queued.
	binding string
}

// Name returns the message name.
func (m Message) Name() string { return m.Body.Name() }

// Data returns the message data.
func (m Message) Data() []byte { return m.Body.Data() }

// IsRequest reports whether the sender wants a reply.
func (m Message) IsRequest() bool { return m.Flags&WantAReply != 0 }

// IsReply reports whether the message answers an earlier one.
func (m Message) IsReply() bool { return !m.InReplyTo.IsZero() }

// IsStatefulRequest reports whether the message is a request addressed
// to a specific socket.
func (m Message) IsStatefulRequest() bool { return m.IsRequest() && m.To != 0 }

// WantsUsToReply reports whether the receiving socket is the one
// expected to answer.
func (m Message) WantsUsToReply() bool { return m.Flags&WantYouToReply != 0 }

// IsSynthetic reports whether the bus generated the message.
func (m Message) IsSynthetic() bool { return m.Flags&Synthetic != 0 }

func (m Message) String() string {
	return fmt.Sprintf("%s %q from=%d to=%d in_reply_to=%s flags=%s len=%d",
		m.ID, m.Name(), m.From, m.To, m.InReplyTo, m.Flags, m.Body.Len())
}

// NewAnnouncement builds an announcement carrying a copy of data.
func NewAnnouncement(name string, data []byte) Message {
	return Message{Body: Own(name, data)}
}

// NewRequest builds a request carrying a copy of data.
func NewRequest(name string, data []byte) Message {
	return Message{Body: Own(name, data), Flags: WantAReply}
}

// NewReply builds the reply to request. Only the socket that received
// the WantYouToReply copy may reply; for any other message NewReply
// fails with ErrNotPermitted.
func NewReply(request Message, data []byte) (Message, error) {
	if !request.WantsUsToReply() {
		return Message{}, errorf(CodeNotPermitted, "message %s does not ask us to reply", request.ID)
	}
	return Message{
		Body:      Own(request.Name(), data),
		To:        request.From,
		InReplyTo: request.ID,
	}, nil
}

// NewStatefulRequest builds a request addressed to the socket that
// handled earlier. From a reply it targets the replier and records the
// reply's origin as the final target; from a stateful request it keeps
// the same target. Any other message fails with ErrNotPermitted.
func NewStatefulRequest(earlier Message, name string, data []byte) (Message, error) {
	message := Message{Body: Own(name, data), Flags: WantAReply}
	switch {
	case earlier.IsReply():
		message.To = earlier.From
		message.FinalTo = earlier.OrigFrom
	case earlier.IsStatefulRequest():
		message.To = earlier.To
		message.FinalTo = earlier.FinalTo
	default:
		return Message{}, errorf(CodeNotPermitted, "message %s is neither a reply nor a stateful request", earlier.ID)
	}
	return message, nil
}
