// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

// BodyKind tells whether a Body shares memory with its creator.
type BodyKind uint8

const (
	// Owned bodies hold a private copy of their data.
	Owned BodyKind = iota

	// Borrowed bodies refer to a slice the caller still owns. The
	// caller must leave it unmodified until Send returns.
	Borrowed
)

func (k BodyKind) String() string {
	if k == Borrowed {
		return "borrowed"
	}
	return "owned"
}

// Body is a message's name and data. The zero Body is an owned body
// with an empty name and no data.
//
// Messages handed to Send may carry either kind; the router takes an
// owned copy before anything is queued, so a delivered message never
// aliases caller memory.
type Body struct {
	kind BodyKind
	name string
	data []byte
}

// Borrow returns a body that refers to data without copying it.
func Borrow(name string, data []byte) Body {
	return Body{kind: Borrowed, name: name, data: data}
}

// Own returns a body holding a copy of data.
func Own(name string, data []byte) Body {
	body := Body{kind: Owned, name: name}
	if len(data) > 0 {
		body.data = append([]byte(nil), data...)
	}
	return body
}

// Kind reports whether the body is borrowed or owned.
func (b Body) Kind() BodyKind { return b.kind }

// Name returns the message name.
func (b Body) Name() string { return b.name }

// Data returns the message data. For an owned body the slice belongs
// to the message and must not be modified.
func (b Body) Data() []byte { return b.data }

// Len returns the data length in bytes.
func (b Body) Len() int { return len(b.data) }

// Owned returns b if it is already owned, otherwise an owned copy.
func (b Body) Owned() Body {
	if b.kind == Owned {
		return b
	}
	return Own(b.name, b.data)
}
