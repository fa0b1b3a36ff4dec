// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package busd

import (
	"github.com/kbus-foundation/kbus/bus"
	"github.com/kbus-foundation/kbus/lib/codec"
)

// Action names understood by the server. The first request on a
// connection must be actionOpen, or one of the device actions which do
// not need a socket.
const (
	actionOpen               = "open"
	actionBind               = "bind"
	actionUnbind             = "unbind"
	actionID                 = "id"
	actionNextMsg            = "next_msg"
	actionLenLeft            = "len_left"
	actionRead               = "read"
	actionReadMsg            = "read_msg"
	actionReadNextMsg        = "read_next_msg"
	actionLastMsgID          = "last_msg_id"
	actionFindReplier        = "find_replier"
	actionMaxMessages        = "max_messages"
	actionSetMaxMessages     = "set_max_messages"
	actionNumUnread          = "num_unread"
	actionNumUnrepliedTo     = "num_unreplied_to"
	actionSend               = "send"
	actionDiscard            = "discard"
	actionOnlyOnce           = "only_once"
	actionReportReplierBinds = "report_replier_binds"
	actionVerbose            = "verbose"

	// While a wait is outstanding the server reads the connection
	// only to notice the peer going away, and discards what it
	// reads. Clients must not send another request until the wait
	// response arrives.
	actionWait = "wait"

	actionNewDevice  = "new_device"
	actionNextDevice = "next_device"
)

// requestHeader is decoded first from every request to pick the
// handler. The handler decodes the same bytes again into its own
// request type.
type requestHeader struct {
	Action string `cbor:"action"`
}

// Response is the envelope written for every request. When the failure
// came from the bus, Code carries its code and Error only the detail
// message, so clients can rebuild a *bus.Error that matches the
// package-level values.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Code  bus.Code         `cbor:"code,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

type openRequest struct {
	Action string `cbor:"action"`
	Device uint32 `cbor:"device"`
	Mode   string `cbor:"mode"`
}

type bindRequest struct {
	Action  string `cbor:"action"`
	Name    string `cbor:"name"`
	Replier bool   `cbor:"replier"`
}

type nameRequest struct {
	Action string `cbor:"action"`
	Name   string `cbor:"name"`
}

type readRequest struct {
	Action string `cbor:"action"`
	Size   int    `cbor:"size"`
}

type countRequest struct {
	Action string `cbor:"action"`
	Count  int    `cbor:"count"`
}

type toggleRequest struct {
	Action string     `cbor:"action"`
	Value  bus.Toggle `cbor:"value"`
}

type sendRequest struct {
	Action  string `cbor:"action"`
	Message []byte `cbor:"message"`
}

type waitRequest struct {
	Action    string        `cbor:"action"`
	Want      bus.Readiness `cbor:"want"`
	TimeoutMS int64         `cbor:"timeout_ms,omitempty"`
}

type deviceRequest struct {
	Action string `cbor:"action"`
	Device uint32 `cbor:"device"`
}

type socketResult struct {
	Socket bus.SocketID `cbor:"socket"`
}

type countResult struct {
	Count int `cbor:"count"`
}

type dataResult struct {
	Data []byte `cbor:"data,omitempty"`
}

type messageResult struct {
	Message []byte `cbor:"message"`
}

type messageIDResult struct {
	NetworkID uint32 `cbor:"network_id"`
	SerialNum uint32 `cbor:"serial_num"`
}

func (r messageIDResult) messageID() bus.MessageID {
	return bus.MessageID{NetworkID: r.NetworkID, SerialNum: r.SerialNum}
}

func newMessageIDResult(id bus.MessageID) messageIDResult {
	return messageIDResult{NetworkID: id.NetworkID, SerialNum: id.SerialNum}
}

type toggleResult struct {
	On bool `cbor:"on"`
}

type waitResult struct {
	Ready bus.Readiness `cbor:"ready"`
}

type deviceResult struct {
	Device uint32 `cbor:"device"`
}
