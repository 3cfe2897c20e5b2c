package serverdriver

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"marlin-events/internal/config"
	"marlin-events/internal/event"
)

func newTestDriver() *EventDriver {
	return New(config.Defaults())
}

func TestCreateAndLookupChannel(t *testing.T) {
	d := newTestDriver()
	ch := d.CreateChannel("room1", "cookie1", "", event.SureDelivery)
	got, ok := d.Lookup("room1")
	if !ok || got != ch {
		t.Fatalf("Lookup did not return the created channel")
	}
}

func TestHandlePollingUnknownChannel(t *testing.T) {
	d := newTestDriver()
	req := httptest.NewRequest(http.MethodPost, "/Polling/missing", strings.NewReader(""))
	rec := httptest.NewRecorder()
	d.HandlePolling(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlePollingAuthRejectsWrongCookie(t *testing.T) {
	d := newTestDriver()
	d.CreateChannel("room1", "secret", "", event.SureDelivery)

	req := httptest.NewRequest(http.MethodPost, "/Polling/room1", strings.NewReader(""))
	rec := httptest.NewRecorder()
	d.HandlePolling(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHandlePollingHappyPath(t *testing.T) {
	d := newTestDriver()
	d.CreateChannel("room1", "", "", event.SureDelivery)

	body := `<GetMessage xmlns="http://www.marlin.org/polling"><Acknowledged>0</Acknowledged></GetMessage>`
	req := httptest.NewRequest(http.MethodPost, "/Polling/room1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	d.HandlePolling(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<Empty>true</Empty>") {
		t.Errorf("expected Empty response, got %s", rec.Body.String())
	}
}

func TestRemoveClosesChannel(t *testing.T) {
	d := newTestDriver()
	d.CreateChannel("room1", "", "", event.SureDelivery)
	d.Remove("room1")
	if _, ok := d.Lookup("room1"); ok {
		t.Error("channel should be gone after Remove")
	}
}

// TestHandlePollingCookieRoutesToDifferentChannel verifies routing
// strategy step (a): a request hitting /Polling/roomA that carries a
// cookie matching roomB's registered (cookie, token) pair is routed to
// roomB, not roomA.
func TestHandlePollingCookieRoutesToDifferentChannel(t *testing.T) {
	d := newTestDriver()
	d.CreateChannel("roomA", "", "", event.SureDelivery)
	d.CreateChannel("roomB", "sid", "tok", event.SureDelivery)

	req := httptest.NewRequest(http.MethodPost, "/Polling/roomA", strings.NewReader(""))
	req.AddCookie(&http.Cookie{Name: "sid", Value: "tok"})
	ch, routedByCookie, ok := d.resolveChannel(req, "roomA")
	if !ok {
		t.Fatal("resolveChannel did not find a channel")
	}
	if !routedByCookie {
		t.Error("expected routedByCookie = true")
	}
	if ch.Name() != "roomB" {
		t.Errorf("resolved channel = %q, want roomB", ch.Name())
	}
}

// TestResolveChannelForceAuthenticationDisablesNameFallback verifies
// that once force_authentication is set, a request naming a real
// channel in its URL but carrying no matching cookie resolves to
// nothing rather than falling back to the by-name index.
func TestResolveChannelForceAuthenticationDisablesNameFallback(t *testing.T) {
	d := newTestDriver()
	d.CreateChannel("room1", "", "", event.SureDelivery)
	d.SetForceAuthentication(true)

	req := httptest.NewRequest(http.MethodPost, "/Polling/room1", strings.NewReader(""))
	if _, _, ok := d.resolveChannel(req, "room1"); ok {
		t.Error("expected resolveChannel to fail with force_authentication set and no matching cookie")
	}
}

// TestHandlePollingForceAuthenticationRejects404 exercises the same
// behavior through the HTTP handler: a valid session name in the URL
// is no longer enough to attach once force_authentication is on.
func TestHandlePollingForceAuthenticationRejects404(t *testing.T) {
	d := newTestDriver()
	d.CreateChannel("room1", "", "", event.SureDelivery)
	d.SetForceAuthentication(true)

	req := httptest.NewRequest(http.MethodPost, "/Polling/room1", strings.NewReader(""))
	rec := httptest.NewRecorder()
	d.HandlePolling(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// TestPostEventResolvesByNumericID verifies PostEvent's id fallback:
// a session string that isn't a registered name but parses as the
// numeric id of a registered channel still resolves.
func TestPostEventResolvesByNumericID(t *testing.T) {
	d := newTestDriver()
	ch := d.CreateChannel("room1", "", "", event.SureDelivery)

	seq, err := d.PostEvent(fmt.Sprint(ch.ID()), []byte("hi"), 0, event.Message, "", true)
	if err != nil {
		t.Fatalf("PostEvent by id failed: %v", err)
	}
	if seq == 0 {
		t.Error("expected a non-zero sequence number")
	}
}

// TestPostEventUnknownSessionErrors verifies that a session string
// matching neither a name nor any channel's numeric id is rejected.
func TestPostEventUnknownSessionErrors(t *testing.T) {
	d := newTestDriver()
	d.CreateChannel("room1", "", "", event.SureDelivery)

	if _, err := d.PostEvent("nonexistent", []byte("hi"), 0, event.Message, "", true); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("err = %v, want ErrChannelNotFound", err)
	}
}
