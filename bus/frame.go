// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"fmt"

	"github.com/kbus-foundation/kbus/lib/codec"
)

// messageFrame is the byte form of a delivered message, as returned by
// the read cursor and carried by the daemon protocol.
type messageFrame struct {
	ID        frameID     `cbor:"id"`
	InReplyTo frameID     `cbor:"in_reply_to"`
	To        uint32      `cbor:"to"`
	From      uint32      `cbor:"from"`
	OrigFrom  frameOrigin `cbor:"orig_from"`
	FinalTo   frameOrigin `cbor:"final_to"`
	Flags     uint32      `cbor:"flags"`
	Name      string      `cbor:"name"`
	Data      []byte      `cbor:"data,omitempty"`
}

type frameID struct {
	_         struct{} `cbor:",toarray"`
	NetworkID uint32
	SerialNum uint32
}

type frameOrigin struct {
	_         struct{} `cbor:",toarray"`
	NetworkID uint32
	LocalID   uint32
}

// EncodeMessage returns the framed bytes of message.
func EncodeMessage(message Message) ([]byte, error) {
	data, err := codec.Marshal(messageFrame{
		ID:        frameID{NetworkID: message.ID.NetworkID, SerialNum: message.ID.SerialNum},
		InReplyTo: frameID{NetworkID: message.InReplyTo.NetworkID, SerialNum: message.InReplyTo.SerialNum},
		To:        uint32(message.To),
		From:      uint32(message.From),
		OrigFrom:  frameOrigin{NetworkID: message.OrigFrom.NetworkID, LocalID: uint32(message.OrigFrom.LocalID)},
		FinalTo:   frameOrigin{NetworkID: message.FinalTo.NetworkID, LocalID: uint32(message.FinalTo.LocalID)},
		Flags:     uint32(message.Flags),
		Name:      message.Name(),
		Data:      message.Data(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding message %s: %w", message.ID, err)
	}
	return data, nil
}

// DecodeMessage parses bytes produced by EncodeMessage. The result owns
// its data.
func DecodeMessage(data []byte) (Message, error) {
	var frame messageFrame
	if err := codec.Unmarshal(data, &frame); err != nil {
		return Message{}, fmt.Errorf("decoding message frame: %w", err)
	}
	return Message{
		ID:        MessageID{NetworkID: frame.ID.NetworkID, SerialNum: frame.ID.SerialNum},
		InReplyTo: MessageID{NetworkID: frame.InReplyTo.NetworkID, SerialNum: frame.InReplyTo.SerialNum},
		To:        SocketID(frame.To),
		From:      SocketID(frame.From),
		OrigFrom:  Origin{NetworkID: frame.OrigFrom.NetworkID, LocalID: SocketID(frame.OrigFrom.LocalID)},
		FinalTo:   Origin{NetworkID: frame.FinalTo.NetworkID, LocalID: SocketID(frame.FinalTo.LocalID)},
		Flags:     Flags(frame.Flags),
		Body:      Body{kind: Owned, name: frame.Name, data: frame.Data},
	}, nil
}
