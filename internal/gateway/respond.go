package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type errorBody struct {
	Status      int    `json:"status"`
	Description string `json:"description"`
}

// envelopeWriter admits exactly one status line per request. A query can
// carry several action tokens, each of which tries to write its own
// response header; the first write wins and later status lines are
// dropped. Body writes always pass through, so the outputs of multiple
// successful actions concatenate in token order.
type envelopeWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (w *envelopeWriter) WriteHeader(statusCode int) {
	if w.status != 0 {
		return
	}
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *envelopeWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytesWritten += int64(n)
	return n, err
}

func (w *envelopeWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// started reports whether any part of a response (status or body) has
// been produced.
func (w *envelopeWriter) started() bool {
	return w.status != 0 || w.bytesWritten > 0
}

// writeError sends the JSON error envelope, unless some action already
// started a response; the stream cannot carry a second, conflicting
// status line, so in that case the failure is only logged.
func writeError(logger *slog.Logger, w *envelopeWriter, status int, description string) {
	if w.started() {
		logger.Warn("error_after_output",
			slog.Int("status", status),
			slog.String("description", description),
		)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Status: status, Description: description})
}
