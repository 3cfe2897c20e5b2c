// Package serverdriver implements EventDriver: the server-side registry
// of channels and the three HTTP route handlers (Sockets/Events/Polling)
// that attach incoming clients to them.
package serverdriver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marlin-events/internal/bruteforce"
	"marlin-events/internal/channel"
	"marlin-events/internal/config"
	"marlin-events/internal/event"
	"marlin-events/internal/httpx"
	"marlin-events/internal/transport"
	"marlin-events/internal/wsframe"
)

// AuthError is returned when a request's cookie/token fails the
// channel's identity check.
var AuthError = errors.New("serverdriver: authentication failed")

// BruteForceError is returned when the brute-force gate rejects an
// attach attempt.
var BruteForceError = errors.New("serverdriver: attach rejected, retry later")

// ErrChannelNotFound is returned when a request names a channel the
// driver has no record of.
var ErrChannelNotFound = errors.New("serverdriver: channel not found")

// EventDriver owns every live channel, keyed by numeric id,
// application-chosen name, and the (cookie name, token value) pair
// registered at creation, and dispatches HTTP requests to the right
// one. It mirrors the ServerEventDriver registry design from the
// subsystem, grounded on the teacher's RelayPool connection registry
// (map + RWMutex, created lazily, torn down explicitly).
type EventDriver struct {
	mu       sync.RWMutex
	byID     map[uint32]*channel.Channel
	byName   map[string]*channel.Channel
	byCookie map[string]*channel.Channel
	nextID   uint32
	upgrader websocket.Upgrader
	gate     *bruteforce.Gate
	tunables *config.Tunables
	log      *slog.Logger

	// forceAuthentication disables routing strategy step (b): when
	// true, a request that presents no cookie matching a registered
	// (cookie, token) pair is never routed by the URL's session name,
	// however well it matches the by-name index.
	forceAuthentication bool
}

// New creates an EventDriver. tunables controls fragment sizing and
// brute-force interval; pass nil to use config.Get().
func New(tunables *config.Tunables) *EventDriver {
	if tunables == nil {
		tunables = config.Get()
	}
	return &EventDriver{
		byID:     make(map[uint32]*channel.Channel),
		byName:   make(map[string]*channel.Channel),
		byCookie: make(map[string]*channel.Channel),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		gate:     bruteforce.New(tunables.BruteForceInterval),
		tunables: tunables,
		log:      slog.Default().With("component", "serverdriver"),
	}
}

// SetForceAuthentication controls whether routing strategy step (b)
// (resolving a channel from the URL's session name) is available at
// all. When true, only a request cookie matching a registered
// (cookie, token) pair can select a channel; every other request is
// rejected with 404 regardless of what session name the URL names.
func (d *EventDriver) SetForceAuthentication(v bool) {
	d.mu.Lock()
	d.forceAuthentication = v
	d.mu.Unlock()
}

// cookieKey builds the by-cookie index key from a cookie's name and
// expected value. A channel with an empty cookie name requires no
// cookie and is never indexed here.
func cookieKey(name, value string) string {
	return name + "\x00" + value
}

// CreateChannel registers a new channel under name with the given
// policy and returns it. cookie is the name of the cookie future
// requests may present to select this channel outright (routing
// strategy step (a)); token is the value that cookie must carry.
func (d *EventDriver) CreateChannel(name, cookie, token string, policy event.Policy) *channel.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	ch := channel.New(d.nextID, name, cookie, token, policy)
	d.byID[d.nextID] = ch
	d.byName[name] = ch
	if cookie != "" {
		d.byCookie[cookieKey(cookie, token)] = ch
	}
	return ch
}

// Lookup finds a channel by its application name.
func (d *EventDriver) Lookup(name string) (*channel.Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.byName[name]
	return ch, ok
}

// ChannelNames returns every registered channel's application name, for
// read-only introspection (e.g. the demo relay's /status endpoint).
func (d *EventDriver) ChannelNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.byName))
	for name := range d.byName {
		names = append(names, name)
	}
	return names
}

// Remove tears a channel down and drops it from every registry.
func (d *EventDriver) Remove(name string) {
	d.mu.Lock()
	ch, ok := d.byName[name]
	if ok {
		delete(d.byName, name)
		delete(d.byID, ch.ID())
		if ch.Cookie() != "" {
			delete(d.byCookie, cookieKey(ch.Cookie(), ch.Token()))
		}
	}
	d.mu.Unlock()
	if ok {
		ch.Close()
	}
}

// PostEvent posts payload to the outbound queue of the channel
// resolved by session, trying it first as a name and then as a
// numeric id, and returns the assigned sequence number.
func (d *EventDriver) PostEvent(session string, payload []byte, addresseeFP uint32, typ event.Type, typeName string, isUTF8 bool) (uint32, error) {
	ch, ok := d.Lookup(session)
	if !ok {
		if id, err := strconv.ParseUint(session, 10, 32); err == nil {
			d.mu.RLock()
			ch, ok = d.byID[uint32(id)]
			d.mu.RUnlock()
		}
	}
	if !ok {
		return 0, ErrChannelNotFound
	}
	return ch.PostEvent(payload, addresseeFP, typ, typeName, isUTF8), nil
}

// resolveChannel implements the driver's routing strategy in order:
// (a) a request cookie matching some registered (cookie, token) pair
// selects that channel outright, regardless of the URL; (b) otherwise
// the URL's session name resolves through the by-name index, unless
// forceAuthentication disables this fallback; (c) otherwise there is
// no channel for this request. The second return reports whether (a)
// matched: a cookie-routed request has already proven it holds the
// channel's own (cookie, token) pair, so authenticate need not check
// it again, while a name-routed one still must.
func (d *EventDriver) resolveChannel(r *http.Request, urlName string) (ch *channel.Channel, routedByCookie, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, c := range r.Cookies() {
		if match, found := d.byCookie[cookieKey(c.Name, c.Value)]; found {
			return match, true, true
		}
	}
	if d.forceAuthentication {
		return nil, false, false
	}
	ch, ok = d.byName[urlName]
	return ch, false, ok
}

// authenticate runs the per-channel auth check (skipped when the
// channel was already selected by a matching cookie) and the
// brute-force gate, in that order, returning the addressee
// fingerprint to associate with the new attachment.
func (d *EventDriver) authenticate(r *http.Request, ch *channel.Channel, routedByCookie bool) (uint32, error) {
	if !routedByCookie && ch.Cookie() != "" && !transport.CookieMatches(r, ch.Cookie(), ch.Token()) {
		return 0, AuthError
	}
	fp := event.Fingerprint(r.RemoteAddr, r.UserAgent())
	if !d.gate.Allow(fp, time.Now()) {
		return 0, BruteForceError
	}
	return fp, nil
}

// HandleSockets upgrades the request to a WebSocket and attaches it to
// the channel named by the route.
func (d *EventDriver) HandleSockets(w http.ResponseWriter, r *http.Request) {
	_, name := transport.ClassifyRoute(r.URL.Path)
	ch, routedByCookie, ok := d.resolveChannel(r, name)
	if !ok {
		httpx.RespondNotFound(w, "channel not found")
		return
	}

	fp, err := d.authenticate(r, ch, routedByCookie)
	if err != nil {
		d.respondAuthError(w, err)
		return
	}

	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn("websocket upgrade failed", "error", err, "channel", name)
		return
	}

	st := transport.NewSocketTransport(conn, d.tunables.WSFragmentDefault, fp, ch, d.log)
	if err := ch.AttachSocket(st); err != nil {
		wsframe.WriteClose(conn, websocket.ClosePolicyViolation, err.Error())
		conn.Close()
		return
	}
	st.ReadLoop()
}

// HandleEvents streams the channel named by the route over SSE.
func (d *EventDriver) HandleEvents(w http.ResponseWriter, r *http.Request) {
	_, name := transport.ClassifyRoute(r.URL.Path)
	ch, routedByCookie, ok := d.resolveChannel(r, name)
	if !ok {
		httpx.RespondNotFound(w, "channel not found")
		return
	}

	fp, err := d.authenticate(r, ch, routedByCookie)
	if err != nil {
		d.respondAuthError(w, err)
		return
	}

	transport.SetSSEHeaders(w)
	st, err := transport.NewSseTransport(w, fp, ch)
	if err != nil {
		httpx.RespondInternalError(w, "SSE not supported by this connection")
		return
	}
	if err := ch.AttachStream(st); err != nil {
		httpx.RespondBadRequest(w, err.Error())
		return
	}
	st.WriteInitComment()

	select {
	case <-r.Context().Done():
		st.Close("client disconnected")
	case <-st.Done():
	}
}

// HandlePolling answers one long-poll GetMessage exchange for the
// channel named by the route.
func (d *EventDriver) HandlePolling(w http.ResponseWriter, r *http.Request) {
	_, name := transport.ClassifyRoute(r.URL.Path)
	ch, routedByCookie, ok := d.resolveChannel(r, name)
	if !ok {
		httpx.RespondNotFound(w, "channel not found")
		return
	}

	if _, err := d.authenticate(r, ch, routedByCookie); err != nil {
		d.respondAuthError(w, err)
		return
	}

	if ch.AttachmentCount() == 0 {
		if err := ch.EnablePolling(); err != nil {
			httpx.RespondBadRequest(w, err.Error())
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		httpx.RespondBadRequest(w, "failed to read request body")
		return
	}

	resp, err := transport.HandleGetMessage(ch, body)
	if err != nil {
		httpx.RespondBadRequest(w, fmt.Sprintf("malformed GetMessage: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	w.Write(resp)
}

func (d *EventDriver) respondAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, AuthError):
		httpx.RespondForbidden(w, "authentication failed")
	case errors.Is(err, BruteForceError):
		httpx.RespondForbidden(w, "too many attempts, retry later")
	default:
		httpx.RespondInternalError(w, "unexpected authentication error")
	}
}

// RegisterRoutes wires the three transport endpoints onto mux, in the
// /Sockets/, /Events/, /Polling/ scheme the
// subsystem addresses transports under.
func (d *EventDriver) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/Sockets/", d.HandleSockets)
	mux.HandleFunc("/Events/", d.HandleEvents)
	mux.HandleFunc("/Polling/", d.HandlePolling)
}
