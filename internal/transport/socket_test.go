package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marlin-events/internal/channel"
	"marlin-events/internal/event"
)

var upgrader = websocket.Upgrader{}

func dialPair(t *testing.T) (server, client *websocket.Conn, cleanup func()) {
	t.Helper()
	srvConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		srvConnCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	cli, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	select {
	case sc := <-srvConnCh:
		return sc, cli, func() { sc.Close(); cli.Close(); srv.Close() }
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server-side connection")
		return nil, nil, func() {}
	}
}

func TestSocketTransportSendDeliversToClient(t *testing.T) {
	srvConn, cliConn, cleanup := dialPair(t)
	defer cleanup()

	ch := channel.New(1, "chan", "", "", event.SureDelivery)
	st := NewSocketTransport(srvConn, 4096, 0, ch, nil)

	if err := st.Send(event.Event{Payload: []byte("hello"), IsUTF8: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	cliConn.SetReadDeadline(time.Now().Add(time.Second))
	msgType, data, err := cliConn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != websocket.TextMessage || string(data) != "hello" {
		t.Errorf("got (%d, %q), want (%d, %q)", msgType, data, websocket.TextMessage, "hello")
	}
}

func TestSocketTransportReadLoopDeliversInbound(t *testing.T) {
	srvConn, cliConn, cleanup := dialPair(t)
	defer cleanup()

	ch := channel.New(1, "chan", "", "", event.SureDelivery)
	st := NewSocketTransport(srvConn, 4096, 0, ch, nil)
	ch.AttachSocket(st)
	ch.DrainInbound()

	go st.ReadLoop()

	if err := cliConn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		in := ch.DrainInbound()
		for _, e := range in {
			if e.Type == event.Message && string(e.Payload) == "ping" {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("inbound message never arrived")
}
