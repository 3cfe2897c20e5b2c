package channel

import "marlin-events/internal/event"

// Attachment is one live transport bound to this channel. Channel owns
// attachments by value in its slices; an Attachment holds no back
// reference to the channel, so there is no cycle to break when the
// channel drops it (see the internal/channel entry in DESIGN.md).
type Attachment interface {
	// Kind reports which transport variant this attachment is.
	Kind() event.Kind
	// Send writes e to the remote peer. A non-nil error means the
	// attachment is dead and must be dropped by the caller.
	Send(e event.Event) error
	// Fingerprint is the CRC-32 identity of the remote peer this
	// attachment represents, or 0 if it has none (it then only
	// receives broadcasts, never a directed send).
	Fingerprint() uint32
	// Close tears down the underlying connection. Idempotent.
	Close(reason string)
}
