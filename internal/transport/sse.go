package transport

import (
	"fmt"
	"net/http"
	"sync"

	"marlin-events/internal/channel"
	"marlin-events/internal/event"
	"marlin-events/internal/sse"
)

// SseTransport streams events to one HTTP response as Server-Sent
// Events. Unlike a socket, it never reads from the client; inbound
// traffic reaches the channel only through a socket or a long-poll
// GetMessage that carries a Message.
// The close-once/guarded-flush discipline here is grounded on the
// ConfigReloadBroadcaster pattern: one flag under one mutex, checked
// before every write, so a detach racing a send can never panic on a
// write to a response that has already finished.
type SseTransport struct {
	w       http.ResponseWriter
	flusher http.Flusher
	fp      uint32

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}

	onClose func()
}

// NewSseTransport wraps w as a channel.Attachment for ch. Returns an
// error if w does not support flushing (required for SSE streaming).
func NewSseTransport(w http.ResponseWriter, fp uint32, ch *channel.Channel) (*SseTransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("transport: response writer does not support flushing, SSE unavailable")
	}
	st := &SseTransport{
		w:       w,
		flusher: flusher,
		fp:      fp,
		closeCh: make(chan struct{}),
	}
	st.onClose = func() { ch.DetachStream(st) }
	return st, nil
}

func (s *SseTransport) Kind() event.Kind    { return event.KindSSE }
func (s *SseTransport) Fingerprint() uint32 { return s.fp }

// Done returns a channel closed when the transport is closed, so the
// HTTP handler goroutine holding the connection open can select on it
// alongside the request context.
func (s *SseTransport) Done() <-chan struct{} { return s.closeCh }

// Send writes one SSE record and flushes it immediately; SSE has no
// fragmentation concept, unlike the WebSocket transport.
func (s *SseTransport) Send(e event.Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("transport: sse attachment closed")
	}

	if _, err := fmt.Fprint(s.w, sse.Encode(e)); err != nil {
		s.Close("write failed")
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close tears the stream down exactly once and notifies the channel.
func (s *SseTransport) Close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.closeCh)
	if s.onClose != nil {
		cb := s.onClose
		s.onClose = nil
		cb()
	}
}

// WriteInitComment sends the initial ":init event-stream" comment that
// tells the client the stream is live, mirroring the teacher's
// "connected" handshake event on stream open.
func (s *SseTransport) WriteInitComment() error {
	if _, err := fmt.Fprint(s.w, sse.InitComment); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the standard SSE response headers, grounded on the
// teacher's streamTimelineHandler header block.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}
