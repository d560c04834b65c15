// Package gateway turns FastCGI-style requests into process-management
// actions. It routes by HTTP method, extracts the query payload (query
// string on GET, body on POST), hands it to the query dispatcher, and
// shapes the response envelope.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// DefaultMaxPostLength bounds POST bodies unless overridden.
const DefaultMaxPostLength = 1024

// ErrContentLength reports a missing, unparsable, non-positive, or
// over-limit Content-Length. It maps to 413 before any body byte is read.
var ErrContentLength = errors.New("missing or invalid content length")

// Gateway is the request-to-action pipeline. Requests are served one at
// a time: ServeHTTP serializes on an internal mutex, so the transport
// (FastCGI or plain HTTP) cannot introduce concurrency into the
// dispatch/execute path.
type Gateway struct {
	// Dispatch runs the action tokens of one query payload, writing
	// whatever response output the actions produce.
	Dispatch func(ctx context.Context, w http.ResponseWriter, payload string) error

	// MaxPostLength resolves the POST body limit at request time, so
	// config reloads take effect immediately.
	MaxPostLength func() int64

	Logger *slog.Logger

	// ObserveRequest, when set, is called once per request with the
	// method and final response status.
	ObserveRequest func(method string, status int)

	mu     sync.Mutex
	routes []methodRoute
}

type methodRoute struct {
	method string
	handle func(w *envelopeWriter, r *http.Request)
}

// New builds a Gateway with the standard method table: GET, POST, and a
// wildcard entry answering 405 for everything else.
func New(dispatch func(ctx context.Context, w http.ResponseWriter, payload string) error, maxPostLength func() int64, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPostLength == nil {
		maxPostLength = func() int64 { return DefaultMaxPostLength }
	}
	g := &Gateway{
		Dispatch:      dispatch,
		MaxPostLength: maxPostLength,
		Logger:        logger,
	}
	g.routes = []methodRoute{
		{method: http.MethodGet, handle: g.handleGet},
		{method: http.MethodPost, handle: g.handlePost},
		{method: "*", handle: g.handleUnsupported},
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ew := &envelopeWriter{ResponseWriter: w}
	g.lookup(r.Method)(ew, r)

	if g.ObserveRequest != nil {
		status := ew.status
		if status == 0 {
			status = http.StatusOK
		}
		g.ObserveRequest(r.Method, status)
	}
}

// lookup selects the first route matching the method exactly, falling
// back to the "*" entry. The table always carries a wildcard, so a nil
// result would be a construction bug.
func (g *Gateway) lookup(method string) func(*envelopeWriter, *http.Request) {
	for _, rt := range g.routes {
		if rt.method == method || rt.method == "*" {
			return rt.handle
		}
	}
	return g.handleUnsupported
}

func (g *Gateway) handleGet(w *envelopeWriter, r *http.Request) {
	g.dispatch(w, r, r.URL.RawQuery)
}

func (g *Gateway) handlePost(w *envelopeWriter, r *http.Request) {
	body, err := readBody(r, g.MaxPostLength())
	if err != nil {
		if errors.Is(err, ErrContentLength) {
			writeError(g.Logger, w, http.StatusRequestEntityTooLarge, "Invalid Content-Length")
			return
		}
		g.Logger.Warn("post_body_read_failed", slog.Any("err", err))
		writeError(g.Logger, w, http.StatusBadRequest, "Bad request")
		return
	}
	g.dispatch(w, r, string(body))
}

func (g *Gateway) handleUnsupported(w *envelopeWriter, r *http.Request) {
	writeError(g.Logger, w, http.StatusMethodNotAllowed, "Method Not Allowed")
}

func (g *Gateway) dispatch(w *envelopeWriter, r *http.Request, payload string) {
	if err := g.Dispatch(r.Context(), w, payload); err != nil {
		writeError(g.Logger, w, http.StatusBadRequest, "Bad request")
	}
}

// readBody reads exactly Content-Length bytes into a fresh buffer sized
// to the request. Nothing is read when the length is absent, zero, or
// over the limit, and each request owns its own buffer, so a request can
// never observe bytes from an earlier request's body.
func readBody(r *http.Request, max int64) ([]byte, error) {
	length := r.ContentLength
	if length <= 0 || length > max {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrContentLength, length, max)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.Body, buf); err != nil {
		return nil, fmt.Errorf("read %d body bytes: %w", length, err)
	}
	return buf, nil
}
