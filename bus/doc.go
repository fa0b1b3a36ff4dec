// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus is an in-memory message bus with named messages and three
// delivery disciplines.
//
// A [Registry] holds numbered [Device] values. Each device is an
// independent bus: sockets opened on it exchange messages with each
// other and with no one else.
//
//	registry := bus.NewRegistry(bus.DeviceConfig{Logger: logger})
//	defer registry.Close()
//	sender, _ := registry.OpenSocket(0, bus.ReadWrite)
//	replier, _ := registry.OpenSocket(0, bus.ReadWrite)
//
// # Names and bindings
//
// Message names are dot-separated alphanumeric tokens, conventionally
// led by "$" ("$.Sensors.Temperature"). Names starting with "$.KBUS."
// are generated by the bus itself. A socket receives messages by
// binding to a name, either as a listener or as the name's replier.
// Binding names may end in "*" (one or more further tokens) or "%"
// (exactly one further token). Each name has at most one replier; when
// several bindings could answer, the exact one wins, then "%", then the
// longest "*" prefix.
//
// # Delivery
//
// An announcement goes to every listener. A request (WantAReply) also
// goes to the replier, and that copy alone carries WantYouToReply. A
// message with To set goes only to that socket; that is how replies and
// stateful requests travel. The bus keeps no table of outstanding
// requests: a reply is matched to its request by InReplyTo.
//
// Each socket has a bounded queue. A listener whose queue is full
// misses the message; a full replier or direct target fails the whole
// send with [ErrQueueFull], before any copy is queued. Within one
// socket's queue messages arrive in the order they were sent.
//
// When a socket unbinds or closes while holding requests it was asked
// to answer, each requester gets a synthetic status message
// ([StatusReplierUnbound], [StatusReplierGoneAway]) in place of a reply.
//
// # Reading
//
// [Socket.NextMsg] moves the head of the queue into a read cursor and
// returns the length of its framed form; [Socket.Read] consumes that
// frame in pieces and [Socket.ReadMsg] takes it whole. [Socket.Wait]
// blocks until the socket is readable or writable.
//
// # Errors
//
// Every failure is an [*Error] carrying a [Code]; test for kinds with
// errors.Is against the Err values. [Errno] maps codes onto the errno
// values of the KBUS kernel module.
package bus
