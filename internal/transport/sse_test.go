package transport

import (
	"net/http/httptest"
	"strings"
	"testing"

	"marlin-events/internal/channel"
	"marlin-events/internal/event"
)

func TestSseTransportSendWritesAndFlushes(t *testing.T) {
	ch := channel.New(1, "chan", "", "", event.SureDelivery)
	rec := httptest.NewRecorder()

	st, err := NewSseTransport(rec, 0, ch)
	if err != nil {
		t.Fatalf("NewSseTransport: %v", err)
	}

	if err := st.Send(event.Event{Type: event.Message, Number: 1, Payload: []byte("hi"), IsUTF8: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "data: hi") {
		t.Errorf("body missing data line: %q", body)
	}
}

func TestSseTransportCloseIsIdempotentAndDetaches(t *testing.T) {
	ch := channel.New(1, "chan", "", "", event.SureDelivery)
	rec := httptest.NewRecorder()
	st, err := NewSseTransport(rec, 0, ch)
	if err != nil {
		t.Fatalf("NewSseTransport: %v", err)
	}
	ch.AttachStream(st)
	ch.DrainInbound()

	st.Close("done")
	st.Close("done again")

	select {
	case <-st.Done():
	default:
		t.Error("Done channel should be closed")
	}

	in := ch.DrainInbound()
	if len(in) != 1 || in[0].Type != event.Close {
		t.Fatalf("expected synthesized Close after detach, got %+v", in)
	}

	if err := st.Send(event.Event{Payload: []byte("x"), IsUTF8: true}); err == nil {
		t.Error("Send on a closed transport must return an error")
	}
}
