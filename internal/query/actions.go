package query

import (
	"context"
	"errors"
	"net/http"

	"github.com/procfoundry/procgate/internal/runner"
)

// ErrEmptySubject reports a start/stop/restart token with no process name.
// The character-class check alone would accept an empty subject, and the
// control tool would then be invoked with a missing argument, so these
// actions reject it up front.
var ErrEmptySubject = errors.New("empty subject")

// CommandRunner executes one control-tool command, writing the response
// header and relaying the tool's stdout to w.
type CommandRunner interface {
	Run(ctx context.Context, w http.ResponseWriter, cmd runner.Command) (int64, error)
}

// DefaultActions returns the gateway's action table in match order:
// start, stop, restart, list. The tool func resolves the control-tool
// path at call time so config reloads take effect without rebuilding
// the table.
func DefaultActions(tool func() string, run CommandRunner) []Action {
	return []Action{
		&subjectAction{tag: "start=", flag: "-s", tool: tool, run: run},
		&subjectAction{tag: "stop=", flag: "-k", tool: tool, run: run},
		&subjectAction{tag: "restart=", flag: "-r", tool: tool, run: run},
		&listAction{tool: tool, run: run},
	}
}

// subjectAction is a start/stop/restart action: it validates the subject
// and invokes the control tool with a single mode flag and the subject.
type subjectAction struct {
	tag  string
	flag string
	tool func() string
	run  CommandRunner
}

func (a *subjectAction) Tag() string { return a.tag }

func (a *subjectAction) Run(ctx context.Context, w http.ResponseWriter, subject string) (int64, error) {
	if subject == "" {
		return 0, ErrEmptySubject
	}
	if err := CheckSubject(subject); err != nil {
		return 0, err
	}
	return a.run.Run(ctx, w, runner.Command{
		Path: a.tool(),
		Args: []string{a.flag, subject},
	})
}

// listAction lists all managed processes as JSON. The token carries no
// subject; anything after the tag is ignored, as is any subject the
// client might append.
type listAction struct {
	tool func() string
	run  CommandRunner
}

func (a *listAction) Tag() string { return "list" }

func (a *listAction) Run(ctx context.Context, w http.ResponseWriter, _ string) (int64, error) {
	return a.run.Run(ctx, w, runner.Command{
		Path: a.tool(),
		Args: []string{"-o", "json"},
		JSON: true,
	})
}
