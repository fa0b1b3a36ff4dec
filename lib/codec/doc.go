// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec fixes the CBOR configuration shared by every KBUS
// encoding: the framed form of a delivered message, the payload of
// replier bind events, and the daemon's request/response protocol.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), so equal
// values always produce equal bytes. Decoding into an any-typed target
// yields map[string]any rather than map[any]any.
//
//	data, err := codec.Marshal(frame)       // buffers
//	encoder := codec.NewEncoder(conn)       // streams
//
// Types that only ever travel as CBOR use `cbor` struct tags.
package codec
