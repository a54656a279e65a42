// File: internal/api/envelope.go
package api

import "net/http"

// Envelope is the per-request result handed to the response interpreter:
// the response status and headers, the three protocol parameters taken
// from the Content-Type header, and the decoded JSON body. Envelopes are
// consumed immediately and never stored.
type Envelope struct {
	Status  int
	Header  http.Header
	Schema  string
	Version string
	Cache   string

	// Body is the decoded JSON body, or nil when the response carried
	// none (202 Accepted, or a non-JSON error response).
	Body any
	// Raw is the undecoded response body.
	Raw []byte
}

// Success reports whether the status is in the 2xx range.
func (e *Envelope) Success() bool {
	return e.Status >= 200 && e.Status < 300
}

// Location returns the Location header, used to poll asynchronous
// operations.
func (e *Envelope) Location() string {
	return e.Header.Get("Location")
}

// BodyMap returns the body as an object, or an empty map if the body is
// absent or not an object.
func (e *Envelope) BodyMap() map[string]any {
	if m, ok := e.Body.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
