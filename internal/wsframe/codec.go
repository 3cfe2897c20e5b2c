// Package wsframe translates between Marlin Events and WebSocket wire
// frames on top of gorilla/websocket, which already reassembles
// continuation frames and handles the masked/unmasked split required by
// RFC 6455. This package owns the Marlin-level decisions: text vs.
// binary framing, outbound fragment sizing, and close code/reason
// handling.
package wsframe

import (
	"fmt"

	"github.com/gorilla/websocket"

	"marlin-events/internal/event"
)

// MaxCloseReason is the maximum close-reason length RFC 6455 allows
// inside a close frame's control-frame payload (125 bytes total minus
// the 2-byte status code).
const MaxCloseReason = 123

// FragmentBounds clamps a caller-supplied WebSocket write fragment size
// to the documented [4KB-14, 1MB-14] range.
func FragmentBounds(size, min, max int) int {
	if size < min {
		return min
	}
	if size > max {
		return max
	}
	return size
}

// WriteEvent encodes e onto conn as a single text or binary message,
// fragmenting the payload into chunks of at most fragmentSize bytes via
// conn.NextWriter so large outbound events don't block the connection's
// write buffer with one oversized frame.
func WriteEvent(conn *websocket.Conn, e event.Event, fragmentSize int) error {
	msgType := websocket.BinaryMessage
	if e.IsUTF8 {
		msgType = websocket.TextMessage
	}

	w, err := conn.NextWriter(msgType)
	if err != nil {
		return fmt.Errorf("wsframe: next writer: %w", err)
	}

	payload := e.Payload
	if fragmentSize <= 0 {
		fragmentSize = len(payload)
		if fragmentSize == 0 {
			fragmentSize = 1
		}
	}
	for len(payload) > 0 {
		n := fragmentSize
		if n > len(payload) {
			n = len(payload)
		}
		if _, err := w.Write(payload[:n]); err != nil {
			w.Close()
			return fmt.Errorf("wsframe: write chunk: %w", err)
		}
		payload = payload[n:]
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("wsframe: close writer: %w", err)
	}
	return nil
}

// ReadEvent reads the next complete message from conn (gorilla/websocket
// has already reassembled any continuation frames) and turns it into an
// Event. The returned Event's Number is left at 0: the codec assigns no
// sequence number to ingress events.
func ReadEvent(conn *websocket.Conn) (event.Event, error) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return event.Event{}, fmt.Errorf("wsframe: read message: %w", err)
	}
	e := event.Event{Payload: data}
	switch msgType {
	case websocket.TextMessage:
		e.Type = event.Message
		e.IsUTF8 = true
	case websocket.BinaryMessage:
		e.Type = event.Binary
		e.IsUTF8 = false
	default:
		return event.Event{}, fmt.Errorf("wsframe: unexpected message type %d", msgType)
	}
	return e, nil
}

// TruncateCloseReason clamps reason to MaxCloseReason bytes, matching
// the subsystem's "max reason length 123 bytes" rule.
func TruncateCloseReason(reason string) string {
	if len(reason) <= MaxCloseReason {
		return reason
	}
	return reason[:MaxCloseReason]
}

// WriteClose sends a close frame with the given code and a
// length-clamped reason. code should normally be
// websocket.CloseNormalClosure (1000) per the subsystem's close-code
// convention.
func WriteClose(conn *websocket.Conn, code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, TruncateCloseReason(reason))
	return conn.WriteMessage(websocket.CloseMessage, msg)
}
