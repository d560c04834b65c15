// Package runner executes the external control tool and relays its
// standard output to the HTTP response.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
)

// ErrNotExecuted reports that the command could not be started at all.
// No response header or body has been written when it is returned.
var ErrNotExecuted = errors.New("command not executed")

const defaultChunkSize = 8 << 10

// Command is one fully-formed control-tool invocation. Args are passed
// as a separate argv; nothing is ever interpreted by a shell.
type Command struct {
	Path string
	Args []string

	// JSON selects the application/json response framing instead of
	// text/plain.
	JSON bool
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Runner spawns commands and streams their stdout in bounded chunks, so
// arbitrarily long output (a large process list, say) never has to fit
// in memory.
type Runner struct {
	Logger *slog.Logger

	// ChunkSize is the relay buffer size. Zero means 8 KiB.
	ChunkSize int
}

// Run starts cmd, writes the success response header, and copies the
// child's stdout to w until end of stream, flushing after each chunk.
// It returns the number of body bytes relayed.
//
// If the command cannot be started, Run returns an error wrapping
// ErrNotExecuted and writes nothing. A nonzero exit status after output
// has been relayed is logged but does not fail the request; the output
// already sent is the response.
func (r *Runner) Run(ctx context.Context, w http.ResponseWriter, cmd Command) (int64, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	child := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	stdout, err := child.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotExecuted, err)
	}
	if err := child.Start(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotExecuted, err)
	}

	contentType := "text/plain; charset=utf-8"
	if cmd.JSON {
		contentType = "application/json; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)

	written, copyErr := relay(w, stdout, r.chunkSize())

	if err := child.Wait(); err != nil {
		// The header is out; all we can do is record the exit status.
		logger.Warn("command_exit",
			slog.String("cmd", cmd.String()),
			slog.Any("err", err),
		)
	}
	if copyErr != nil {
		logger.Warn("command_relay_failed",
			slog.String("cmd", cmd.String()),
			slog.Any("err", copyErr),
		)
	}
	return written, nil
}

func (r *Runner) chunkSize() int {
	if r.ChunkSize > 0 {
		return r.ChunkSize
	}
	return defaultChunkSize
}

func relay(w http.ResponseWriter, src io.Reader, chunkSize int) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return written, nil
			}
			return written, err
		}
	}
}
