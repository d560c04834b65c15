// Package query parses the gateway's action query language and dispatches
// each action token to its registered handler.
//
// A query payload is a sequence of `&`-separated tokens. Each token is
// matched against an ordered action table by literal tag prefix, e.g.
// "start=webapp" matches the action tagged "start=" with subject "webapp".
// Tokens that match no tag are skipped.
package query

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Action handles one tagged token of a query. Run writes its own response
// output (header and body) to w.
type Action interface {
	// Tag is the literal prefix that selects this action, e.g. "start=".
	Tag() string

	// Run executes the action for the given raw subject (the token
	// remainder after the tag). It returns the number of body bytes it
	// wrote to w.
	Run(ctx context.Context, w http.ResponseWriter, subject string) (int64, error)
}

// Result describes the outcome of one dispatched token.
type Result struct {
	Tag      string
	Subject  string
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Dispatcher applies an ordered action table to query payloads.
type Dispatcher struct {
	Actions []Action
	Logger  *slog.Logger

	// Observe, when set, is called once per dispatched token.
	Observe func(Result)
}

// Tokenize splits a query payload on "&" into its non-empty tokens.
// Consecutive delimiters and leading/trailing delimiters produce no
// tokens; a payload carrying nothing but delimiters yields nil. The input is never modified; Go strings are immutable, so the
// caller's payload (which may come straight from the request environment)
// is safe to pass directly.
func Tokenize(payload string) []string {
	if payload == "" {
		return nil
	}
	var tokens []string
	for _, p := range strings.Split(payload, "&") {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// Dispatch tokenizes payload and runs every matching action in
// left-to-right token order. All tokens are processed even after a
// failure; the returned error is the last failing token's error, or nil
// when every matched token succeeded. Tokens matching no registered tag
// are ignored and do not fail the query.
func (d *Dispatcher) Dispatch(ctx context.Context, w http.ResponseWriter, payload string) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for _, token := range Tokenize(payload) {
		action, subject, ok := d.match(token)
		if !ok {
			logger.Debug("query_token_ignored", slog.String("token", token))
			continue
		}

		start := time.Now()
		n, err := action.Run(ctx, w, subject)
		if err != nil {
			lastErr = err
			logger.Warn("action_failed",
				slog.String("tag", action.Tag()),
				slog.String("subject", subject),
				slog.Any("err", err),
			)
		}
		if d.Observe != nil {
			d.Observe(Result{
				Tag:      action.Tag(),
				Subject:  subject,
				Bytes:    n,
				Duration: time.Since(start),
				Err:      err,
			})
		}
	}
	return lastErr
}

// match finds the first action whose tag is a prefix of token. Table
// order is the match order, so overlapping tags must be registered
// most-specific first.
func (d *Dispatcher) match(token string) (Action, string, bool) {
	for _, a := range d.Actions {
		tag := a.Tag()
		if strings.HasPrefix(token, tag) {
			return a, token[len(tag):], true
		}
	}
	return nil, "", false
}
