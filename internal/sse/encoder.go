package sse

import (
	"encoding/base64"
	"strconv"
	"strings"

	"marlin-events/internal/event"
)

// Encode renders an Event as one SSE wire record: "event: <name>\n
// id: <number>\n data: <payload>\n\n". Binary events are sent as
// "event: binary" with base64-encoded data.
func Encode(e event.Event) string {
	name := e.TypeName
	if name == "" {
		if e.IsUTF8 {
			name = "message"
		} else {
			name = "binary"
		}
	}

	var data string
	if e.IsUTF8 {
		data = string(e.Payload)
	} else {
		data = base64.StdEncoding.EncodeToString(e.Payload)
	}

	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteString("\n")
	b.WriteString("id: ")
	b.WriteString(strconv.FormatUint(uint64(e.Number), 10))
	b.WriteString("\n")
	// data: may legitimately contain embedded newlines; each line needs
	// its own "data:" prefix per the SSE wire format.
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// EncodeRetry renders a "retry: <ms>" record advertising a reconnection
// delay in milliseconds.
func EncodeRetry(ms int) string {
	return "retry: " + strconv.Itoa(ms) + "\n\n"
}

// InitComment is the initial ":init event-stream" comment sent when an
// SSE stream opens.
const InitComment = ":init event-stream\n\n"

// DecodeBinary reverses the base64 wrapping Encode applies to binary
// event payloads. It is the inverse half of the round-trip law: for any
// Event e with IsUTF8 = false, DecodeBinary(Encode(e)'s data) = e.Payload.
func DecodeBinary(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
