// Package channel implements one logical event-delivery session: the
// outbound/polling/inbound queues, the set of live transport
// attachments, and the policy guard that governs which transports the
// channel accepts.
package channel

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"marlin-events/internal/event"
)

// ErrPolicyViolation is returned by Attach* when the channel's policy
// rejects the attachment kind outright (e.g. a socket on a HighSecurity
// channel).
var ErrPolicyViolation = errors.New("channel: policy violation")

// Channel is one named session with an application-visible identity. It
// owns its own queues and attachment set and is safe for concurrent use:
// one mutex guards the four queues and attachment vectors, matching the
// one-mutex-per-channel discipline the concurrency model requires.
type Channel struct {
	mu sync.Mutex

	id       uint32
	name     string
	cookie   string
	token    string
	metadata string
	policy   event.Policy

	maxNumber uint32
	minNumber uint32

	outbound []event.Event
	polling  []event.Event
	inbound  []event.Event

	sockets []Attachment
	streams []Attachment

	usesPolling bool
	openSeen    bool
	closeSeen   bool

	appCallback func(event.Event)
	appData     uint64

	// autoFlush mirrors "if the driver's monitor is inactive, flush
	// immediately" — the driver sets this according to whether its
	// monitor goroutine is running.
	autoFlush bool

	log *slog.Logger
}

// New creates a Channel. id is assigned by the owning driver's registry.
func New(id uint32, name, cookie, token string, policy event.Policy) *Channel {
	return &Channel{
		id:     id,
		name:   name,
		cookie: cookie,
		token:  token,
		policy: policy,
		log:    slog.Default().With("channel_id", id, "channel_name", name),
	}
}

func (c *Channel) ID() uint32       { return c.id }
func (c *Channel) Name() string     { return c.name }
func (c *Channel) Cookie() string   { return c.cookie }
func (c *Channel) Token() string    { return c.token }
func (c *Channel) Policy() event.Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// Metadata returns the channel's free-form application metadata string.
func (c *Channel) Metadata() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

// SetMetadata updates the channel's free-form application metadata.
func (c *Channel) SetMetadata(m string) {
	c.mu.Lock()
	c.metadata = m
	c.mu.Unlock()
}

// SetAutoFlush controls whether PostEvent flushes synchronously. The
// server driver sets this to true when its monitor goroutine is not
// running, per the outbound-path rule in the subsystem design.
func (c *Channel) SetAutoFlush(v bool) {
	c.mu.Lock()
	c.autoFlush = v
	c.mu.Unlock()
}

// SetCallback registers the application callback that receives inbound
// events, and the opaque application data handed back with it.
func (c *Channel) SetCallback(cb func(event.Event), data uint64) {
	c.mu.Lock()
	c.appCallback = cb
	c.appData = data
	c.mu.Unlock()
}

// ChangePolicy swaps a live channel's policy and application callback in
// place (ServerEventChannel::ChangeEventPolicy in the original design —
// see SPEC_FULL.md §4 "Supplemented features").
func (c *Channel) ChangePolicy(p event.Policy, cb func(event.Event), data uint64) {
	c.mu.Lock()
	c.policy = p
	c.appCallback = cb
	c.appData = data
	c.mu.Unlock()
}

// AppData returns the opaque application data registered with the
// current callback.
func (c *Channel) AppData() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appData
}

// QueueDepth reports the combined length of the outbound and polling
// retention queues (ServerEventChannel::GetQueueCount in the original;
// read-only introspection, see SPEC_FULL.md §4).
func (c *Channel) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbound) + len(c.polling)
}

// AttachmentCount reports the number of live socket and SSE attachments
// plus one if a polling client is registered
// (ServerEventChannel::GetClientCount in the original).
func (c *Channel) AttachmentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.sockets) + len(c.streams)
	if c.usesPolling {
		n++
	}
	return n
}

// liveKindsLocked returns the count of live attachments by kind, used by
// the policy guard.
func (c *Channel) liveKindsLocked() map[event.Kind]int {
	live := map[event.Kind]int{}
	if len(c.sockets) > 0 {
		live[event.KindSocket] = len(c.sockets)
	}
	if len(c.streams) > 0 {
		live[event.KindSSE] = len(c.streams)
	}
	if c.usesPolling {
		live[event.KindPolling] = 1
	}
	return live
}

// CheckChannelPolicy reports whether the channel's live attachments
// satisfy its policy's required set.
func (c *Channel) CheckChannelPolicy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.RequiresAny(c.liveKindsLocked())
}

// AttachSocket registers a as a socket attachment, enforcing that
// HighSecurity and Disconnected channels never accept a socket.
func (c *Channel) AttachSocket(a Attachment) error {
	c.mu.Lock()
	if acc := c.policy.Accepts(event.KindSocket); acc == event.Rejected {
		c.mu.Unlock()
		return fmt.Errorf("%w: policy %s rejects socket attachments", ErrPolicyViolation, c.policy)
	}
	c.sockets = append(c.sockets, a)
	firstOpen := c.markOpenLocked()
	c.mu.Unlock()
	if firstOpen {
		c.deliverOpen()
	}
	return nil
}

// AttachStream registers a as an SSE attachment, enforcing that Binary
// and Disconnected channels never accept an SSE stream.
func (c *Channel) AttachStream(a Attachment) error {
	c.mu.Lock()
	if acc := c.policy.Accepts(event.KindSSE); acc == event.Rejected {
		c.mu.Unlock()
		return fmt.Errorf("%w: policy %s rejects SSE attachments", ErrPolicyViolation, c.policy)
	}
	c.streams = append(c.streams, a)
	firstOpen := c.markOpenLocked()
	c.mu.Unlock()
	if firstOpen {
		c.deliverOpen()
	}
	return nil
}

// EnablePolling marks the channel as having a long-polling client. A
// polling client has no long-lived attachment object — it is
// represented solely by this flag and the polling retention queue.
func (c *Channel) EnablePolling() error {
	c.mu.Lock()
	if acc := c.policy.Accepts(event.KindPolling); acc == event.Rejected {
		c.mu.Unlock()
		return fmt.Errorf("%w: policy %s rejects long-polling attachments", ErrPolicyViolation, c.policy)
	}
	c.usesPolling = true
	firstOpen := c.markOpenLocked()
	c.mu.Unlock()
	if firstOpen {
		c.deliverOpen()
	}
	return nil
}

// markOpenLocked sets openSeen on first successful attach of any kind
// and reports whether this call was the one that did so. Must be called
// with mu held.
func (c *Channel) markOpenLocked() bool {
	if c.openSeen {
		return false
	}
	c.openSeen = true
	return true
}

func (c *Channel) deliverOpen() {
	c.appendInbound(event.Event{Type: event.Open})
}

// DetachSocket removes a from the live socket set (the attachment's own
// writer observed a close or a write failure) and, if this was the last
// attachment of any kind, synthesizes the channel's terminal Close.
func (c *Channel) DetachSocket(a Attachment) {
	c.mu.Lock()
	c.sockets = removeAttachment(c.sockets, a)
	empty := c.emptyLocked()
	c.mu.Unlock()
	if empty {
		c.synthesizeClose()
	}
}

// DetachStream is DetachSocket's SSE counterpart.
func (c *Channel) DetachStream(a Attachment) {
	c.mu.Lock()
	c.streams = removeAttachment(c.streams, a)
	empty := c.emptyLocked()
	c.mu.Unlock()
	if empty {
		c.synthesizeClose()
	}
}

// DisablePolling clears the polling flag (e.g. the client requested
// CloseChannel, or the driver reaped an idle polling session).
func (c *Channel) DisablePolling() {
	c.mu.Lock()
	c.usesPolling = false
	empty := c.emptyLocked()
	c.mu.Unlock()
	if empty {
		c.synthesizeClose()
	}
}

func (c *Channel) emptyLocked() bool {
	return len(c.sockets) == 0 && len(c.streams) == 0 && !c.usesPolling
}

// synthesizeClose delivers a terminal Close to the application exactly
// once, when all attachments are gone.
func (c *Channel) synthesizeClose() {
	c.mu.Lock()
	if c.closeSeen {
		c.mu.Unlock()
		return
	}
	c.closeSeen = true
	c.mu.Unlock()
	c.appendInbound(event.Event{Type: event.Close})
}

func removeAttachment(list []Attachment, target Attachment) []Attachment {
	out := list[:0]
	for _, a := range list {
		if a != target {
			out = append(out, a)
		}
	}
	return out
}

// PostEvent assigns the next sequence number, stamps the addressee
// fingerprint (0 for broadcast), pushes the event onto the outbound
// queue, and returns the assigned number. If autoFlush is set, it
// flushes immediately.
func (c *Channel) PostEvent(payload []byte, addresseeFP uint32, typ event.Type, typeName string, isUTF8 bool) uint32 {
	c.mu.Lock()
	c.maxNumber++
	n := c.maxNumber
	e := event.Event{
		Type:     typ,
		Number:   n,
		SenderFP: addresseeFP,
		Payload:  payload,
		IsUTF8:   isUTF8,
		TypeName: typeName,
	}
	c.outbound = append(c.outbound, e)
	auto := c.autoFlush
	c.mu.Unlock()

	if auto {
		c.Flush()
	}
	return n
}

// Flush drains the outbound queue: each event is offered to every live
// socket, every live SSE stream, and the polling retention queue (all
// three, not first-match — fan-out is the default). An event that
// reaches none of them is simply freed, per the subsystem's at-most-once
// best-effort guarantee. Sends are synchronous and the outbound queue has
// no cap: while a slow attachment holds up a Flush, events posted
// meanwhile accumulate in the outbound queue without bound, and
// QueueDepth reports how many are waiting.
func (c *Channel) Flush() int {
	c.mu.Lock()
	pending := c.outbound
	c.outbound = nil
	sockets := append([]Attachment(nil), c.sockets...)
	streams := append([]Attachment(nil), c.streams...)
	usesPolling := c.usesPolling
	c.mu.Unlock()

	var deadSockets, deadStreams []Attachment
	sent := 0

	for _, e := range pending {
		delivered := false

		for _, a := range sockets {
			if !addressedTo(e, a) {
				continue
			}
			if err := a.Send(e); err != nil {
				deadSockets = append(deadSockets, a)
				continue
			}
			delivered = true
		}

		for _, a := range streams {
			if !addressedTo(e, a) {
				continue
			}
			if err := a.Send(e); err != nil {
				deadStreams = append(deadStreams, a)
				continue
			}
			delivered = true
		}

		if usesPolling {
			c.placeInPolling(e)
			delivered = true
		}

		if delivered {
			sent++
		}
	}

	if len(deadSockets) > 0 || len(deadStreams) > 0 {
		c.mu.Lock()
		for _, d := range deadSockets {
			c.sockets = removeAttachment(c.sockets, d)
		}
		for _, d := range deadStreams {
			c.streams = removeAttachment(c.streams, d)
		}
		empty := c.emptyLocked()
		c.mu.Unlock()
		for _, d := range deadSockets {
			d.Close("write failed")
		}
		for _, d := range deadStreams {
			d.Close("write failed")
		}
		if empty {
			c.synthesizeClose()
		}
	}

	return sent
}

// addressedTo reports whether e should be delivered to a: broadcasts
// (SenderFP 0) go to everyone, directed sends go only to the attachment
// whose own fingerprint matches.
func addressedTo(e event.Event, a Attachment) bool {
	if e.Broadcast() {
		return true
	}
	return a.Fingerprint() == e.SenderFP
}

// placeInPolling appends e to the retention queue, updating the
// min-number bookkeeping the invariants require (PostEvent has already
// advanced maxNumber).
func (c *Channel) placeInPolling(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polling = append(c.polling, e)
	if len(c.polling) == 1 || e.Number < c.minNumber {
		c.minNumber = e.Number
	}
}

// NextPolling returns the oldest retained polling event, if any, without
// removing it (the client acknowledges separately via AckPolling).
func (c *Channel) NextPolling() (event.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.polling) == 0 {
		return event.Event{}, false
	}
	return c.polling[0], true
}

// AckPolling removes exactly the retained polling events with
// Number <= n and no others. An acknowledgement lower than anything
// retained matches nothing and is a silent no-op; one at or above
// everything retained empties the queue. It never reports an error.
func (c *Channel) AckPolling(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := 0
	for i < len(c.polling) && c.polling[i].Number <= n {
		i++
	}
	if i == 0 {
		return
	}
	c.polling = append([]event.Event(nil), c.polling[i:]...)
	if len(c.polling) > 0 {
		c.minNumber = c.polling[0].Number
	}
}

// PollingLen reports the number of events currently retained for
// long-polling collection.
func (c *Channel) PollingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.polling)
}

// appendInbound is the shared tail of the On* handlers: it appends e to
// the inbound queue, where it waits until the monitor drains it
// (DrainInbound) and dispatches it to the application callback.
func (c *Channel) appendInbound(e event.Event) {
	c.mu.Lock()
	c.inbound = append(c.inbound, e)
	c.mu.Unlock()
}

// OnMessage records a textual inbound event from a transport.
func (c *Channel) OnMessage(payload []byte) {
	c.appendInbound(event.Event{Type: event.Message, Payload: payload, IsUTF8: true})
}

// OnBinary records a binary inbound event from a transport.
func (c *Channel) OnBinary(payload []byte) {
	c.appendInbound(event.Event{Type: event.Binary, Payload: payload})
}

// OnError records a transport-level error as an inbound event. Codec and
// transport errors are contained within the attachment they arose in:
// this does not tear the channel down.
func (c *Channel) OnError(message string) {
	c.appendInbound(event.Event{Type: event.Error, Payload: []byte(message), IsUTF8: true})
}

// DrainInbound removes and returns every inbound event currently queued,
// in arrival order, for the monitor to dispatch to the application
// callback.
func (c *Channel) DrainInbound() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.inbound
	c.inbound = nil
	return out
}

// Callback returns the registered application callback, or nil.
func (c *Channel) Callback() func(event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appCallback
}

// Close tears down every attachment and clears the polling flag. It is
// idempotent: a second call is a no-op because every attachment list is
// already empty.
func (c *Channel) Close() {
	c.mu.Lock()
	sockets := c.sockets
	streams := c.streams
	c.sockets = nil
	c.streams = nil
	c.usesPolling = false
	c.polling = nil
	c.outbound = nil
	c.mu.Unlock()

	for _, a := range sockets {
		a.Close("channel closed")
	}
	for _, a := range streams {
		a.Close("channel closed")
	}
	c.synthesizeClose()
}
