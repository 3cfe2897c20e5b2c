package transport

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CookieMatches reports whether r carries a cookie named name whose
// value matches want using constant-time comparison, the same
// SetCookie-adjacent discipline the teacher applies to its own
// session cookies (HttpOnly, SameSite, compared rather than trusted
// blind).
func CookieMatches(r *http.Request, name, want string) bool {
	c, err := r.Cookie(name)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(want)) == 1
}

// SetChannelCookie sets the channel-identity cookie a browser client
// presents on every subsequent Sockets/Events/Polling request, using
// the teacher's security defaults: HttpOnly, SameSite=Strict, and
// Secure whenever the request arrived over TLS.
func SetChannelCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

// Route identifies which of the three transport base paths a request
// targets.
type Route int

const (
	RouteUnknown Route = iota
	RouteSockets
	RouteEvents
	RoutePolling
)

// base path prefixes the HTTP mux dispatches on, mirroring the
// /Sockets/, /Events/, /Polling/ URL scheme the subsystem's transports
// are addressed under.
const (
	basePathSockets = "/Sockets/"
	basePathEvents  = "/Events/"
	basePathPolling = "/Polling/"
)

// ClassifyRoute inspects the request path and reports which transport
// it targets, along with the channel name that follows the base path.
func ClassifyRoute(path string) (Route, string) {
	switch {
	case strings.HasPrefix(path, basePathSockets):
		return RouteSockets, strings.TrimPrefix(path, basePathSockets)
	case strings.HasPrefix(path, basePathEvents):
		return RouteEvents, strings.TrimPrefix(path, basePathEvents)
	case strings.HasPrefix(path, basePathPolling):
		return RoutePolling, strings.TrimPrefix(path, basePathPolling)
	default:
		return RouteUnknown, ""
	}
}
