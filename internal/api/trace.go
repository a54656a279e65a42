// File: internal/api/trace.go
package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// Trace levels. Level 1 mirrors the HTTP traffic of all API operations
// except catalog discovery; level 2 includes discovery as well.
const (
	TraceOff       = 0
	TraceOperation = 1
	TraceDiscovery = 2
)

// Tracer mirrors raw HTTP traffic to a diagnostic stream. It is separate
// from the structured application log because the protocol calls for a
// byte-faithful dump of headers and bodies, one prefixed line each.
type Tracer struct {
	Level int
	W     io.Writer
}

// NewTracer returns a Tracer writing to w at the given level. A nil
// writer or level 0 disables all output.
func NewTracer(level int, w io.Writer) *Tracer {
	return &Tracer{Level: level, W: w}
}

// Enabled reports whether messages at the given level are emitted.
func (t *Tracer) Enabled(level int) bool {
	return t != nil && t.W != nil && t.Level >= level
}

// Printf writes one formatted line if the level is enabled.
func (t *Tracer) Printf(level int, format string, args ...any) {
	if t.Enabled(level) {
		fmt.Fprintf(t.W, format+"\n", args...)
	}
}

// Request mirrors an outgoing request: method, URL, headers, and body.
func (t *Tracer) Request(level int, req *http.Request, body []byte) {
	if !t.Enabled(level) {
		return
	}
	fmt.Fprintf(t.W, "== %s %s\n", req.Method, req.URL)
	t.headers(req.Header)
	t.body(body)
}

// Response mirrors an incoming response: status, headers, and body.
func (t *Tracer) Response(level int, resp *http.Response, body []byte) {
	if !t.Enabled(level) {
		return
	}
	fmt.Fprintf(t.W, "== %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	t.headers(resp.Header)
	t.body(body)
}

func (t *Tracer) headers(h http.Header) {
	for k, vs := range h {
		for _, v := range vs {
			fmt.Fprintf(t.W, "| %s: %s\n", k, v)
		}
	}
	fmt.Fprintln(t.W, "| ")
}

func (t *Tracer) body(body []byte) {
	if len(body) == 0 {
		return
	}
	for _, line := range bytes.Split(body, []byte("\n")) {
		fmt.Fprintf(t.W, "| %s\n", line)
	}
}
