// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

// Package busd serves a bus.Registry to other processes over a Unix
// socket and provides the matching client.
//
// The protocol is a sequence of CBOR request/response pairs on one
// long-lived connection. Every request is a map with an "action" key;
// every response is a Response envelope. A connection becomes a bus
// socket with its first "open" request:
//
//	{"action": "open", "device": 0, "mode": "rw"}
//
// and every later request acts on that socket. When the connection
// closes, for whatever reason, the daemon closes the socket, so a
// crashed client's pending requests are answered with
// $.KBUS.Replier.GoneAway statuses like any other close.
//
// Requests are answered strictly in turn and must not be pipelined.
// During a "wait" the daemon watches the connection for the peer
// hanging up and discards anything it reads.
//
// Messages travel as bus.EncodeMessage frames. Failures from the bus
// carry their bus.Code in the response so that Client returns errors
// for which errors.Is(err, bus.ErrX) holds exactly as it would
// in-process.
package busd
