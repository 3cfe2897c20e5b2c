// Package clientdriver implements ClientEventDriver: the client-side
// mirror of the server's EventDriver. It picks a transport per the
// channel's failover policy, reconnects on terminal error, and forwards
// inbound events to one application callback in arrival order.
package clientdriver

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marlin-events/internal/config"
	"marlin-events/internal/event"
)

// Callback is the application hook invoked for every inbound event,
// including the synthesized Open/Close pair.
type Callback func(appData uint64, e event.Event)

// attachment is the minimal shape every live client-side transport
// exposes to the driver's reconnect and shutdown logic.
type attachment interface {
	kind() event.Kind
	healthy() bool
	postEvent(e event.Event) error
	close()
	// inbound returns the channel of events arriving from the server;
	// it is closed when the transport terminates, either because close()
	// was called or because a terminal read/poll error occurred.
	inbound() <-chan event.Event
	// clientInitiated reports whether the termination that just closed
	// inbound() was requested locally (close()) rather than a remote
	// error, so the reconnect policy can tell the two apart.
	clientInitiated() bool
}

// ClientEventDriver owns exactly one live attachment at a time and the
// goroutine delivering its inbound events. running is the cooperative
// cancellation flag: once StopEventsForSession clears it, a transport
// that terminates is not reconnected.
type ClientEventDriver struct {
	mu       sync.Mutex
	baseURL  string
	session  string
	cookie   string
	token    string
	policy   event.Policy
	appData  uint64
	callback Callback

	httpClient *http.Client
	dialer     *websocket.Dialer
	tunables   *config.Tunables
	log        *slog.Logger

	current      attachment
	running      bool
	openSeen     bool
	closeSeen    bool
	pollInterval time.Duration
	loopDone     chan struct{}
}

// New creates a ClientEventDriver. tunables controls the adaptive poll
// bounds and shutdown timing; pass nil to use config.Get().
func New(tunables *config.Tunables) *ClientEventDriver {
	if tunables == nil {
		tunables = config.Get()
	}
	return &ClientEventDriver{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
		tunables:   tunables,
		log:        slog.Default().With("component", "clientdriver"),
	}
}

// SetCallback registers the application callback and its opaque data,
// delivered back unchanged with every event.
func (d *ClientEventDriver) SetCallback(cb Callback, appData uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
	d.appData = appData
}

// StartEventDriver begins connecting to baseURL for session under
// policy's failover order, trying each candidate transport in turn
// until one attaches successfully.
func (d *ClientEventDriver) StartEventDriver(baseURL, session, cookie, token string, policy event.Policy) error {
	d.mu.Lock()
	d.baseURL = baseURL
	d.session = session
	d.cookie = cookie
	d.token = token
	d.policy = policy
	d.running = true
	d.pollInterval = d.tunables.PollIntervalMin
	d.mu.Unlock()

	return d.StartDispatcher()
}

// StartDispatcher attempts each transport in the policy's failover
// order until one attaches, then starts that transport's inbound loop.
// Called both on initial start and on every reconnect.
func (d *ClientEventDriver) StartDispatcher() error {
	d.mu.Lock()
	policy := d.policy
	d.mu.Unlock()

	var lastErr error
	for _, k := range policy.FailoverOrder() {
		a, err := d.attach(k)
		if err != nil {
			lastErr = err
			d.log.Debug("attach attempt failed, trying next transport", "kind", k, "error", err)
			continue
		}
		d.mu.Lock()
		d.current = a
		d.loopDone = make(chan struct{})
		done := d.loopDone
		d.mu.Unlock()

		d.deliverOpen()
		go d.runLoop(a, done)
		return nil
	}
	return fmt.Errorf("clientdriver: no transport in policy %s could attach: %w", policy, lastErr)
}

func (d *ClientEventDriver) attach(k event.Kind) (attachment, error) {
	switch k {
	case event.KindSocket:
		return d.attachSocket()
	case event.KindSSE:
		return d.attachSSE()
	case event.KindPolling:
		return d.attachPolling()
	default:
		return nil, fmt.Errorf("clientdriver: unknown transport kind %v", k)
	}
}

// runLoop dispatches inbound events from a until it terminates (error,
// or the driver was stopped), then applies the reconnect policy.
func (d *ClientEventDriver) runLoop(a attachment, done chan struct{}) {
	defer close(done)
	for e := range a.inbound() {
		d.deliver(e)
	}
	d.onTransportDone(a, a.clientInitiated())
}

// onTransportDone implements the reconnect policy: a terminal error
// without a preceding client-initiated close triggers TestDispatcher ->
// (CloseDown -> StartDispatcher) if unhealthy.
func (d *ClientEventDriver) onTransportDone(a attachment, clientInitiated bool) {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running || clientInitiated {
		return
	}

	d.deliverCloseOnce()

	if d.TestDispatcher() {
		return
	}
	d.CloseDown()
	if err := d.StartDispatcher(); err != nil {
		d.log.Warn("reconnect failed", "error", err)
	}
}

// TestDispatcher re-checks the current attachment's health. It returns
// true if the attachment is still usable (no reconnect needed).
func (d *ClientEventDriver) TestDispatcher() bool {
	d.mu.Lock()
	a := d.current
	d.mu.Unlock()
	return a != nil && a.healthy()
}

// CloseDown tears down the current attachment without touching the
// running flag, in preparation for StartDispatcher picking a new one.
func (d *ClientEventDriver) CloseDown() {
	d.mu.Lock()
	a := d.current
	d.current = nil
	d.mu.Unlock()
	if a != nil {
		a.close()
	}
}

// PostEventToServer enqueues payload for delivery to the server. SSE-only
// attachments cannot carry client->server traffic; such a post is
// logged and dropped rather than erroring, matching the subsystem's
// disposition for this case. A long-polling attachment does not send
// client posts either: its postEvent returns an error, which is logged,
// and the payload is dropped.
func (d *ClientEventDriver) PostEventToServer(payload []byte, typ event.Type, typeName string, isUTF8 bool) {
	d.mu.Lock()
	a := d.current
	d.mu.Unlock()
	if a == nil {
		d.log.Warn("post dropped, no live transport")
		return
	}
	if a.kind() == event.KindSSE {
		d.log.Info("post dropped: SSE transport is server-to-client only")
		return
	}
	e := event.Event{Type: typ, Payload: payload, TypeName: typeName, IsUTF8: isUTF8}
	if err := a.postEvent(e); err != nil {
		d.log.Warn("post failed", "error", err)
	}
}

// StopEventsForSession requests cooperative shutdown: it clears the
// running flag, tears down the current attachment, synthesizes OnClose
// if one has not already been seen, and waits up to
// MonitorEndLoops x MonitorEndWait for the run loop to exit.
func (d *ClientEventDriver) StopEventsForSession() {
	d.mu.Lock()
	d.running = false
	a := d.current
	done := d.loopDone
	d.mu.Unlock()

	if a != nil {
		if p, ok := a.(*pollAttachment); ok {
			p.sendFinalClose()
		}
		a.close()
	}

	if done != nil {
		deadline := time.After(time.Duration(d.tunables.MonitorEndLoops) * d.tunables.MonitorEndWait)
		select {
		case <-done:
		case <-deadline:
			d.log.Warn("client loop did not exit within shutdown budget")
		}
	}

	d.deliverCloseOnce()
}

func (d *ClientEventDriver) deliverOpen() {
	d.mu.Lock()
	if d.openSeen {
		d.mu.Unlock()
		return
	}
	d.openSeen = true
	d.closeSeen = false
	cb, data := d.callback, d.appData
	d.mu.Unlock()
	if cb != nil {
		cb(data, event.Event{Type: event.Open})
	}
}

func (d *ClientEventDriver) deliverCloseOnce() {
	d.mu.Lock()
	if d.closeSeen {
		d.mu.Unlock()
		return
	}
	d.closeSeen = true
	d.openSeen = false
	cb, data := d.callback, d.appData
	d.mu.Unlock()
	if cb != nil {
		cb(data, event.Event{Type: event.Close})
	}
}

func (d *ClientEventDriver) deliver(e event.Event) {
	d.mu.Lock()
	cb, data := d.callback, d.appData
	d.mu.Unlock()
	if cb != nil {
		cb(data, e)
	}
}
