// Package transport implements the three wire transports a Channel can
// attach: WebSocket, Server-Sent Events, and HTTP long-polling. Each
// satisfies channel.Attachment so the channel's flush loop can treat
// them uniformly.
package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marlin-events/internal/channel"
	"marlin-events/internal/event"
	"marlin-events/internal/wsframe"
)

// SocketTransport wraps one *websocket.Conn as a channel.Attachment. The
// mutex/write-mutex/closed/last-activity bookkeeping mirrors a
// connection-pool entry: a gorilla connection allows at most one writer
// at a time, so writeMu serializes every write (Send, Close) while
// ReadLoop reads concurrently, and a connection can be torn down from either side
// (the channel dropping it, or the read loop observing an error) so
// every path to "closed" goes through one guarded flag.
type SocketTransport struct {
	conn         *websocket.Conn
	fragmentSize int
	fp           uint32

	mu           sync.Mutex
	writeMu      sync.Mutex
	closed       bool
	lastActivity time.Time

	onMessage func([]byte)
	onBinary  func([]byte)
	onClose   func()
	log       *slog.Logger
}

// NewSocketTransport wraps conn for delivery to and from ch. fp is the
// addressee fingerprint this socket represents (0 if the connection
// carries no per-client identity and only ever receives broadcasts).
func NewSocketTransport(conn *websocket.Conn, fragmentSize int, fp uint32, ch *channel.Channel, log *slog.Logger) *SocketTransport {
	if log == nil {
		log = slog.Default()
	}
	st := &SocketTransport{
		conn:         conn,
		fragmentSize: fragmentSize,
		fp:           fp,
		lastActivity: time.Now(),
		onMessage:    ch.OnMessage,
		onBinary:     ch.OnBinary,
		log:          log.With("transport", "socket"),
	}
	st.onClose = func() { ch.DetachSocket(st) }
	return st
}

func (s *SocketTransport) Kind() event.Kind    { return event.KindSocket }
func (s *SocketTransport) Fingerprint() uint32 { return s.fp }

// Send writes e to the connection. A failed write marks the transport
// closed and returns an error so the caller drops and closes it.
func (s *SocketTransport) Send(e event.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return websocket.ErrCloseSent
	}

	if err := wsframe.WriteEvent(s.conn, e, s.fragmentSize); err != nil {
		s.markClosed()
		return err
	}
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return nil
}

// Close tears the connection down exactly once.
func (s *SocketTransport) Close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	wsframe.WriteClose(s.conn, websocket.CloseNormalClosure, reason)
	s.writeMu.Unlock()
	s.conn.Close()
}

func (s *SocketTransport) markClosed() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if !already {
		s.conn.Close()
	}
}

// ReadLoop runs until the connection errors or is closed, stamping every
// inbound frame onto the owning channel's inbound queue. It is meant to
// run in its own goroutine, one per accepted socket.
func (s *SocketTransport) ReadLoop() {
	defer s.onClose()
	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		e, err := wsframe.ReadEvent(s.conn)
		if err != nil {
			s.markClosed()
			return
		}
		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()

		if e.IsUTF8 {
			s.onMessage(e.Payload)
		} else {
			s.onBinary(e.Payload)
		}
	}
}

// LastActivity reports the time of the most recent successful read or
// write. No keepalive sweep in this module reads it; idle connections
// are not pinged.
func (s *SocketTransport) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
