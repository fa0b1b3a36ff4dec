// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"fmt"

	"github.com/kbus-foundation/kbus/lib/codec"
)

// Names of the messages the bus generates.
const (
	// ReplierBindEventName is announced to its listeners whenever a
	// replier binds or unbinds while bind reporting is enabled.
	ReplierBindEventName = "$.KBUS.ReplierBindEvent"

	// StatusReplierGoneAway tells a requester that the socket holding
	// its request closed without replying.
	StatusReplierGoneAway = "$.KBUS.Replier.GoneAway"

	// StatusReplierUnbound tells a requester that its request was
	// withdrawn because the replier unbound before reading it.
	StatusReplierUnbound = "$.KBUS.Replier.Unbound"
)

// ReplierBindEvent is the data of a ReplierBindEventName message.
type ReplierBindEvent struct {
	IsBind bool     `cbor:"is_bind"`
	Binder SocketID `cbor:"binder"`
	Name   string   `cbor:"name"`
}

// DecodeReplierBindEvent extracts the event from a bind event message.
func DecodeReplierBindEvent(message Message) (ReplierBindEvent, error) {
	if message.Name() != ReplierBindEventName {
		return ReplierBindEvent{}, fmt.Errorf("message %q is not a replier bind event", message.Name())
	}
	var event ReplierBindEvent
	if err := codec.Unmarshal(message.Data(), &event); err != nil {
		return ReplierBindEvent{}, fmt.Errorf("decoding replier bind event: %w", err)
	}
	return event, nil
}

// IsStatus reports whether message is a bus status answering one of the
// receiver's requests.
func IsStatus(message Message) bool {
	return message.IsSynthetic() && message.IsReply()
}

// newStatus builds the status telling request's sender why it will get
// no reply. The status comes from the socket that held the request.
func newStatus(name string, request Message, replier SocketID) Message {
	return Message{
		Body:      Own(name, nil),
		From:      replier,
		To:        request.From,
		InReplyTo: request.ID,
		Flags:     Synthetic,
	}
}

func newReplierBindEvent(event ReplierBindEvent) (Message, error) {
	data, err := codec.Marshal(event)
	if err != nil {
		return Message{}, fmt.Errorf("encoding replier bind event: %w", err)
	}
	return Message{Body: Body{kind: Owned, name: ReplierBindEventName, data: data}, Flags: Synthetic}, nil
}
