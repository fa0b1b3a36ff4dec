// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"errors"
	"fmt"
)

// Code identifies a kind of bus failure. Codes are stable strings so
// they survive the daemon wire protocol unchanged.
type Code string

const (
	CodeMalformedName       Code = "malformed_name"
	CodeNameTooLong         Code = "name_too_long"
	CodeMessageTooLarge     Code = "message_too_large"
	CodeNoReplierBound      Code = "no_replier_bound"
	CodeReplierAlreadyBound Code = "replier_already_bound"
	CodeBindingNotFound     Code = "binding_not_found"
	CodeQueueFull           Code = "queue_full"
	CodeNoSuchSocket        Code = "no_such_socket"
	CodeNotPermitted        Code = "not_permitted"
	CodeNotReading          Code = "not_reading"
	CodeNothingToRead       Code = "nothing_to_read"
	CodeReplierMismatch     Code = "replier_mismatch"
	CodeInvalidFlags        Code = "invalid_flags"
	CodeWouldBlock          Code = "would_block"
	CodeNoSuchDevice        Code = "no_such_device"
	CodeDeviceExists        Code = "device_exists"
	CodeDeviceBusy          Code = "device_busy"
	CodeClosed              Code = "closed"
)

var summaries = map[Code]string{
	CodeMalformedName:       "malformed message name",
	CodeNameTooLong:         "message name too long",
	CodeMessageTooLarge:     "message data too large",
	CodeNoReplierBound:      "no replier bound for message name",
	CodeReplierAlreadyBound: "another socket is already bound as replier",
	CodeBindingNotFound:     "no such binding",
	CodeQueueFull:           "recipient message queue is full",
	CodeNoSuchSocket:        "no such socket",
	CodeNotPermitted:        "operation not permitted",
	CodeNotReading:          "no message is being read",
	CodeNothingToRead:       "no message to read",
	CodeReplierMismatch:     "stateful request target is no longer the bound replier",
	CodeInvalidFlags:        "invalid message flags",
	CodeWouldBlock:          "recipients lack queue space",
	CodeNoSuchDevice:        "no such device",
	CodeDeviceExists:        "device already exists",
	CodeDeviceBusy:          "device has open sockets",
	CodeClosed:              "socket is closed",
}

// Error is the error type returned by every bus operation.
//
// The package-level Err values carry only a Code. errors.Is matches
// any *Error with the same code against them, so callers can test for
// a kind of failure regardless of the detail message attached:
//
//	if errors.Is(err, bus.ErrQueueFull) { ... }
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	summary, ok := summaries[e.Code]
	if !ok {
		summary = string(e.Code)
	}
	if e.Message == "" {
		return "kbus: " + summary
	}
	return "kbus: " + summary + ": " + e.Message
}

// Is reports whether target is a bare code value with the same code.
func (e *Error) Is(target error) bool {
	kind, ok := target.(*Error)
	return ok && kind.Message == "" && kind.Code == e.Code
}

var (
	ErrMalformedName       = &Error{Code: CodeMalformedName}
	ErrNameTooLong         = &Error{Code: CodeNameTooLong}
	ErrMessageTooLarge     = &Error{Code: CodeMessageTooLarge}
	ErrNoReplierBound      = &Error{Code: CodeNoReplierBound}
	ErrReplierAlreadyBound = &Error{Code: CodeReplierAlreadyBound}
	ErrBindingNotFound     = &Error{Code: CodeBindingNotFound}
	ErrQueueFull           = &Error{Code: CodeQueueFull}
	ErrNoSuchSocket        = &Error{Code: CodeNoSuchSocket}
	ErrNotPermitted        = &Error{Code: CodeNotPermitted}
	ErrNotReading          = &Error{Code: CodeNotReading}
	ErrNothingToRead       = &Error{Code: CodeNothingToRead}
	ErrReplierMismatch     = &Error{Code: CodeReplierMismatch}
	ErrInvalidFlags        = &Error{Code: CodeInvalidFlags}
	ErrWouldBlock          = &Error{Code: CodeWouldBlock}
	ErrNoSuchDevice        = &Error{Code: CodeNoSuchDevice}
	ErrDeviceExists        = &Error{Code: CodeDeviceExists}
	ErrDeviceBusy          = &Error{Code: CodeDeviceBusy}
	ErrClosed              = &Error{Code: CodeClosed}
)

func errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or ""
// if there is none.
func CodeOf(err error) Code {
	var busError *Error
	if errors.As(err, &busError) {
		return busError.Code
	}
	return ""
}

// KnownCode reports whether code is one this package produces.
func KnownCode(code Code) bool {
	_, ok := summaries[code]
	return ok
}
