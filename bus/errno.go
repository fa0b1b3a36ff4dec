// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"errors"

	"golang.org/x/sys/unix"
)

var errnos = map[Code]unix.Errno{
	CodeMalformedName:       unix.EBADMSG,
	CodeNameTooLong:         unix.ENAMETOOLONG,
	CodeMessageTooLarge:     unix.EMSGSIZE,
	CodeNoReplierBound:      unix.EADDRNOTAVAIL,
	CodeReplierAlreadyBound: unix.EADDRINUSE,
	CodeBindingNotFound:     unix.EINVAL,
	CodeQueueFull:           unix.EBUSY,
	CodeNoSuchSocket:        unix.ENOLINK,
	CodeNotPermitted:        unix.EPERM,
	CodeNotReading:          unix.ENOMSG,
	CodeNothingToRead:       unix.ENOMSG,
	CodeReplierMismatch:     unix.EPIPE,
	CodeInvalidFlags:        unix.EINVAL,
	CodeWouldBlock:          unix.EAGAIN,
	CodeNoSuchDevice:        unix.ENOENT,
	CodeDeviceExists:        unix.EEXIST,
	CodeDeviceBusy:          unix.EBUSY,
	CodeClosed:              unix.EBADF,
}

// Errno translates err to the errno a KBUS kernel module would have
// returned for the same failure. It returns 0 for nil, the errno itself
// for an error chain holding a unix.Errno, and EIO for anything else.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	if errno, ok := errnos[CodeOf(err)]; ok {
		return errno
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}
