// Package httpx collects the small set of HTTP response helpers the event
// bus's route handlers share, matching the disposition table in the
// subsystem's error-handling design: policy violations answer 400, auth
// and brute-force denials answer 403, unknown sessions answer 404.
package httpx

import "net/http"

// RespondBadRequest sends a 400 Bad Request, used for PolicyError.
func RespondBadRequest(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusBadRequest)
}

// RespondForbidden sends a 403 Forbidden, used for AuthError and
// BruteForceError.
func RespondForbidden(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusForbidden)
}

// RespondNotFound sends a 404 Not Found, used when no channel resolves
// from cookie or session name.
func RespondNotFound(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusNotFound)
}

// RespondInternalError sends a 500 Internal Server Error.
func RespondInternalError(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusInternalServerError)
}
