package clientdriver

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marlin-events/internal/event"
	"marlin-events/internal/longpoll"
	"marlin-events/internal/sse"
	"marlin-events/internal/wsframe"
)

func joinURL(base, prefix, session string) string {
	return strings.TrimRight(base, "/") + prefix + session
}

// authHeader builds the headers that let the server's routing
// strategy step (a) select this client's channel by cookie: d.cookie
// names the cookie, d.token is the value it must carry. Both must be
// set for the cookie to be sent at all — a name with no value, or vice
// versa, cannot match any registered (cookie, token) pair.
func (d *ClientEventDriver) authHeader() http.Header {
	h := http.Header{}
	if d.cookie != "" && d.token != "" {
		h.Set("Cookie", d.cookie+"="+d.token)
	}
	return h
}

// --- Socket attachment ---------------------------------------------------

type socketAttachment struct {
	conn *websocket.Conn

	mu              sync.Mutex
	closed          bool
	clientRequested bool

	in chan event.Event
}

func (d *ClientEventDriver) attachSocket() (attachment, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("clientdriver: bad base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/Sockets/" + d.session

	conn, _, err := d.dialer.Dial(u.String(), d.authHeader())
	if err != nil {
		return nil, fmt.Errorf("clientdriver: socket dial: %w", err)
	}
	sa := &socketAttachment{conn: conn, in: make(chan event.Event, 16)}
	go sa.readLoop()
	return sa, nil
}

func (s *socketAttachment) kind() event.Kind { return event.KindSocket }

func (s *socketAttachment) healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *socketAttachment) postEvent(e event.Event) error {
	fragmentSize := len(e.Payload)
	if fragmentSize == 0 {
		fragmentSize = 1
	}
	return wsframe.WriteEvent(s.conn, e, fragmentSize)
}

func (s *socketAttachment) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.clientRequested = true
	s.mu.Unlock()
	wsframe.WriteClose(s.conn, websocket.CloseNormalClosure, "client closed")
	s.conn.Close()
}

func (s *socketAttachment) inbound() <-chan event.Event { return s.in }

func (s *socketAttachment) clientInitiated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientRequested
}

func (s *socketAttachment) readLoop() {
	defer close(s.in)
	for {
		e, err := wsframe.ReadEvent(s.conn)
		if err != nil {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			return
		}
		s.in <- e
	}
}

// --- SSE attachment -------------------------------------------------------

type sseAttachment struct {
	resp *http.Response

	mu              sync.Mutex
	closed          bool
	clientRequested bool

	in chan event.Event
}

func (d *ClientEventDriver) attachSSE() (attachment, error) {
	u := joinURL(d.baseURL, "/Events/", d.session)
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("clientdriver: sse request: %w", err)
	}
	req.Header = d.authHeader()
	req.Header.Set("Accept", "text/event-stream")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clientdriver: sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("clientdriver: sse connect: status %d", resp.StatusCode)
	}

	sa := &sseAttachment{resp: resp, in: make(chan event.Event, 16)}
	go sa.readLoop()
	return sa, nil
}

func (s *sseAttachment) kind() event.Kind { return event.KindSSE }

func (s *sseAttachment) healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// postEvent is never reached: the driver filters out SSE before calling
// it (SSE is server-to-client only).
func (s *sseAttachment) postEvent(event.Event) error {
	return fmt.Errorf("clientdriver: SSE transport cannot carry a client post")
}

func (s *sseAttachment) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.clientRequested = true
	s.mu.Unlock()
	s.resp.Body.Close()
}

func (s *sseAttachment) inbound() <-chan event.Event { return s.in }

func (s *sseAttachment) clientInitiated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientRequested
}

func (s *sseAttachment) readLoop() {
	defer close(s.in)
	parser := sse.NewParser()
	reader := bufio.NewReader(s.resp.Body)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			for _, rec := range parser.Feed(buf[:n]) {
				if rec.Name == "comment" {
					continue
				}
				in := event.Event{Number: rec.ID, TypeName: rec.Name, IsUTF8: true, Payload: []byte(rec.Data)}
				if rec.Name == "binary" {
					payload, decErr := sse.DecodeBinary(rec.Data)
					if decErr == nil {
						in.Payload = payload
						in.IsUTF8 = false
					}
				}
				in.Type = event.Message
				if !in.IsUTF8 {
					in.Type = event.Binary
				}
				s.in <- in
			}
		}
		if err != nil {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			return
		}
	}
}

// --- Long-polling attachment ----------------------------------------------

type pollAttachment struct {
	url string

	mu              sync.Mutex
	closed          bool
	clientRequested bool
	acked           uint32

	driver *ClientEventDriver
	in     chan event.Event
}

func (d *ClientEventDriver) attachPolling() (attachment, error) {
	u := joinURL(d.baseURL, "/Polling/", d.session)
	pa := &pollAttachment{url: u, driver: d, in: make(chan event.Event, 16)}

	resp, err := pa.exchange(longpoll.GetMessage{})
	if err != nil {
		return nil, fmt.Errorf("clientdriver: polling connect: %w", err)
	}
	// The connect exchange is a real GetMessage call, not a throwaway
	// health check: whatever it returns is delivered like any other
	// poll result so a message queued before the first attach isn't lost.
	if e, ok := pollResponseToEvent(resp); ok {
		pa.acked = resp.Number
		pa.in <- e
	}
	go pa.loop()
	return pa, nil
}

// pollResponseToEvent converts a non-empty GetMessageResponse into the
// Event it carries.
func pollResponseToEvent(resp longpoll.GetMessageResponse) (event.Event, bool) {
	if resp.Empty || resp.ChannelClosed {
		return event.Event{}, false
	}
	e := event.Event{Number: resp.Number, TypeName: resp.Type, IsUTF8: true, Payload: []byte(resp.Message)}
	if resp.Type == "binary" {
		if payload, decErr := longpoll.DecodeBinaryMessage(resp.Message); decErr == nil {
			e.Payload = payload
			e.IsUTF8 = false
		}
	}
	e.Type = event.Message
	if !e.IsUTF8 {
		e.Type = event.Binary
	}
	return e, true
}

func (p *pollAttachment) kind() event.Kind { return event.KindPolling }

func (p *pollAttachment) healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// postEvent for polling sends nothing: the GetMessage requests this
// attachment sends carry only Acknowledged and, on shutdown,
// CloseChannel, never a Type or Message, so a post attempt on a
// polling attachment returns an error the same way SSE does.
func (p *pollAttachment) postEvent(event.Event) error {
	return fmt.Errorf("clientdriver: long-polling transport does not carry client posts")
}

func (p *pollAttachment) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.clientRequested = true
	p.mu.Unlock()
}

func (p *pollAttachment) sendFinalClose() {
	p.exchange(longpoll.GetMessage{Acknowledged: p.currentAck(), CloseChannel: true})
}

func (p *pollAttachment) currentAck() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acked
}

func (p *pollAttachment) inbound() <-chan event.Event { return p.in }

func (p *pollAttachment) clientInitiated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientRequested
}

func (p *pollAttachment) exchange(req longpoll.GetMessage) (longpoll.GetMessageResponse, error) {
	body, err := longpoll.EncodeRequest(req)
	if err != nil {
		return longpoll.GetMessageResponse{}, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, p.url, strings.NewReader(string(body)))
	if err != nil {
		return longpoll.GetMessageResponse{}, err
	}
	httpReq.Header = p.driver.authHeader()
	httpReq.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := p.driver.httpClient.Do(httpReq)
	if err != nil {
		return longpoll.GetMessageResponse{}, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return longpoll.GetMessageResponse{}, err
	}
	return longpoll.DecodeResponse(respBody)
}

func (p *pollAttachment) loop() {
	defer close(p.in)
	interval := p.driver.tunables.PollIntervalMin
	for {
		p.mu.Lock()
		closed := p.closed
		ack := p.acked
		p.mu.Unlock()
		if closed {
			return
		}

		resp, err := p.exchange(longpoll.GetMessage{Acknowledged: ack})
		if err != nil {
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			return
		}

		if resp.ChannelClosed {
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			return
		}

		if e, ok := pollResponseToEvent(resp); ok {
			p.mu.Lock()
			p.acked = resp.Number
			p.mu.Unlock()
			p.in <- e
			interval = p.driver.tunables.PollIntervalMin
		} else if interval < p.driver.tunables.PollIntervalMax {
			interval *= 2
			if interval > p.driver.tunables.PollIntervalMax {
				interval = p.driver.tunables.PollIntervalMax
			}
		}

		time.Sleep(interval)
	}
}
