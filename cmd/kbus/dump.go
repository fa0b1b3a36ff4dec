// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/kbus-foundation/kbus/bus"
)

// maxInlineData is the longest printable payload shown verbatim.
// Longer or binary payloads are summarised by length and digest.
const maxInlineData = 64

const (
	ansiBold  = "\x1b[1m"
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

// dumper writes human-readable message summaries.
type dumper struct {
	out   io.Writer
	color bool
}

func (d dumper) style(code, text string) string {
	if !d.color {
		return text
	}
	return code + text + ansiReset
}

// dump writes message as a header line followed by indented details:
//
//	[0:7] $.Sensors.Kitchen.Temp
//	  from 3  flags WANT_A_REPLY|WANT_YOU_TO_REPLY
//	  data "21.5"
func (d dumper) dump(message bus.Message) {
	fmt.Fprintf(d.out, "%s %s\n", d.style(ansiDim, message.ID.String()), d.style(ansiBold, message.Name()))

	var fields []string
	fields = append(fields, fmt.Sprintf("from %d", message.From))
	if message.To != 0 {
		fields = append(fields, fmt.Sprintf("to %d", message.To))
	}
	if !message.InReplyTo.IsZero() {
		fields = append(fields, "in reply to "+message.InReplyTo.String())
	}
	if !message.OrigFrom.IsZero() && message.OrigFrom.LocalID != message.From {
		fields = append(fields, fmt.Sprintf("orig from %d:%d", message.OrigFrom.NetworkID, message.OrigFrom.LocalID))
	}
	if !message.FinalTo.IsZero() {
		fields = append(fields, fmt.Sprintf("final to %d:%d", message.FinalTo.NetworkID, message.FinalTo.LocalID))
	}
	if message.Flags != 0 {
		fields = append(fields, "flags "+message.Flags.String())
	}
	fmt.Fprintf(d.out, "  %s\n", strings.Join(fields, "  "))

	switch {
	case message.Name() == bus.ReplierBindEventName:
		event, err := bus.DecodeReplierBindEvent(message)
		if err != nil {
			fmt.Fprintf(d.out, "  undecodable bind event: %v\n", err)
			return
		}
		verb := "unbound"
		if event.IsBind {
			verb = "bound"
		}
		fmt.Fprintf(d.out, "  socket %d %s as replier for %s\n", event.Binder, verb, event.Name)
	case bus.IsStatus(message):
		fmt.Fprintf(d.out, "  status: %s\n", describeStatus(message.Name()))
	default:
		if line := describeData(message.Data()); line != "" {
			fmt.Fprintf(d.out, "  %s\n", line)
		}
	}
}

func describeStatus(name string) string {
	switch name {
	case bus.StatusReplierGoneAway:
		return "the replier closed without answering"
	case bus.StatusReplierUnbound:
		return "the replier unbound before reading the request"
	}
	return name
}

// describeData renders a payload for the dump, or "" when it is empty.
func describeData(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) <= maxInlineData && printable(data) {
		return fmt.Sprintf("data %q", data)
	}
	digest := blake3.Sum256(data)
	return fmt.Sprintf("data %d bytes, blake3 %s", len(data), hex.EncodeToString(digest[:])[:16])
}

func printable(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if !unicode.IsPrint(r) && r != '\t' {
			return false
		}
	}
	return true
}
