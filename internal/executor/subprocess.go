package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"

	"github.com/maestro-run/maestro/internal/config"
	"github.com/maestro-run/maestro/internal/errors"
	"github.com/maestro-run/maestro/internal/logging"
)

// SubprocessGateway runs backends as external commands. The unit content
// is written to the backend's stdin; output is captured for marker
// extraction. Backends configured with use_pty get a pseudo-terminal,
// for tools that refuse to run without one.
type SubprocessGateway struct {
	backends map[string]config.BackendConfig
	timeout  time.Duration
	log      *logging.Logger
}

// NewSubprocessGateway creates a gateway from executor configuration.
func NewSubprocessGateway(cfg config.ExecutorConfig, log *logging.Logger) *SubprocessGateway {
	if log == nil {
		log = logging.NopLogger()
	}
	return &SubprocessGateway{
		backends: cfg.Backends,
		timeout:  cfg.Timeout(),
		log:      log,
	}
}

// Execute runs the unit content through the configured backend command.
// A nonzero exit becomes StatusFailure and a deadline hit becomes
// StatusTimeout; neither is a Go error. Errors are reserved for
// infrastructure problems such as an unknown backend kind or a spawn
// failure.
func (g *SubprocessGateway) Execute(ctx context.Context, req Request) (*Result, error) {
	backend, ok := g.backends[req.BackendKind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownBackend, req.BackendKind)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if g.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	log := g.log.WithTask(req.UnitID).With("backend", req.BackendKind)
	log.Debug("invoking backend", "pty", backend.UsePTY, "timeout", g.timeout.String())

	cmd := exec.CommandContext(runCtx, backend.Command[0], backend.Command[1:]...)
	cmd.Dir = req.Workdir
	cmd.Env = append(cmd.Environ(),
		"MAESTRO_UNIT_ID="+req.UnitID,
		"MAESTRO_BACKEND_KIND="+req.BackendKind,
	)

	stdin := req.Content
	if req.DependencyContext != "" {
		stdin = req.Content + "\n\n" + req.DependencyContext
	}

	var output []byte
	var runErr error
	if backend.UsePTY {
		output, runErr = g.runWithPTY(cmd, stdin)
	} else {
		var buf bytes.Buffer
		cmd.Stdin = strings.NewReader(stdin)
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		runErr = cmd.Run()
		output = buf.Bytes()
	}

	res := &Result{Output: string(output)}
	res.FilesChanged = ParseFilesChanged(res.Output)

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		log.Warn("backend timed out")
		res.Status = StatusTimeout
	case runErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Spawn failure, not a backend verdict.
			return nil, errors.NewExecutorError(req.UnitID, req.BackendKind, runErr)
		}
		log.Warn("backend failed", "exit", exitErr.ExitCode())
		res.Status = StatusFailure
	default:
		res.Status = StatusSuccess
	}

	res.CompletedChildren = completedChildren(res, req.ChildCount)
	return res, nil
}

// runWithPTY starts the command on a pseudo-terminal and drains its
// output until the process exits.
func (g *SubprocessGateway) runWithPTY(cmd *exec.Cmd, stdin string) ([]byte, error) {
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if stdin != "" {
		if _, err := io.WriteString(f, stdin); err == nil {
			// EOT so line-oriented backends see end of input.
			_, _ = f.Write([]byte{4})
		}
	}

	var buf bytes.Buffer
	// The pty read returns an error when the child exits; the wait error
	// is the one that carries the exit status.
	_, _ = io.Copy(&buf, f)
	return buf.Bytes(), cmd.Wait()
}

// completedChildren reconciles the reported marker with the outcome.
// Success means the whole bundle ran; absent markers on failure mean no
// child is known complete.
func completedChildren(res *Result, childCount int) int {
	if res.Status == StatusSuccess {
		return childCount
	}
	n := ParseCompletedChildren(res.Output)
	if n < 0 {
		return 0
	}
	if n > childCount {
		return childCount
	}
	return n
}
