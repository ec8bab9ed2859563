// Package executor runs shell commands inside environments and captures their
// output as timestamped log lines.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/R1ck404/mercel/internal/core/domain"
	"github.com/R1ck404/mercel/internal/core/source"
	"github.com/R1ck404/mercel/internal/shell/docker"
)

const (
	// StateDir holds the exit code and pid of the background command,
	// relative to the working directory.
	StateDir = ".mercel"
	// OutputLog receives the background command's combined output.
	OutputLog = "output.log"

	DefaultTimeout = 15 * time.Minute

	maxLineSize = 1 << 20
)

// Command is one shell line executed with sh -c.
type Command struct {
	Line       string
	Background bool
	Dir        string   // working directory, "/" when empty
	Env        []string // KEY=VALUE
	Secrets    []string // redacted from the returned log and errors
}

// Config configures an Executor.
type Config struct {
	WorkDir string
	Timeout time.Duration // foreground only
}

// Executor runs commands through the docker exec API.
type Executor struct {
	docker docker.Client
	cfg    Config
	logger *slog.Logger
}

// New creates an Executor.
func New(client docker.Client, cfg Config, logger *slog.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/app"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		docker: client,
		cfg:    cfg,
		logger: logger.With("component", "executor"),
	}
}

// WorkDir returns the directory background state is kept in.
func (e *Executor) WorkDir() string {
	return e.cfg.WorkDir
}

// Exec runs cmd in the container. A foreground command blocks until it exits
// and returns its output one line per non-empty output line; a nonzero exit or
// timeout yields a *domain.CommandError carrying that output. A background
// command returns as soon as it has been started, with a single line naming it.
func (e *Executor) Exec(ctx context.Context, containerID string, cmd Command) ([]domain.LogLine, error) {
	redacted := source.Redact(cmd.Line, cmd.Secrets...)
	if cmd.Background {
		return e.execBackground(ctx, containerID, cmd, redacted)
	}
	return e.execForeground(ctx, containerID, cmd, redacted)
}

func (e *Executor) execForeground(ctx context.Context, containerID string, cmd Command, redacted string) ([]domain.LogLine, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	session, err := e.docker.ExecStart(ctx, containerID, docker.ExecSpec{
		Cmd:        []string{"sh", "-c", cmd.Line},
		Env:        cmd.Env,
		WorkingDir: workingDir(cmd.Dir),
	})
	if err != nil {
		return nil, fmt.Errorf("exec %q: %w", redacted, scrub(err, cmd.Secrets))
	}

	// Closing the stream is the only way to abandon a hung exec.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			session.Output.Close()
		case <-done:
		}
	}()

	lines, readErr := readLines(session.Output, cmd.Secrets)
	session.Output.Close()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("command timed out", "container_id", containerID, "command", redacted, "timeout", e.cfg.Timeout)
		return lines, &domain.CommandError{Command: redacted, ExitCode: -1, TimedOut: true, Log: lines}
	}
	if ctx.Err() != nil {
		return lines, ctx.Err()
	}
	if readErr != nil {
		return lines, fmt.Errorf("read output of %q: %w", redacted, readErr)
	}

	state, err := e.waitExit(ctx, session.ID)
	if err != nil {
		return lines, fmt.Errorf("inspect %q: %w", redacted, err)
	}

	e.logger.Debug("command finished",
		"container_id", containerID,
		"command", redacted,
		"exit_code", state.ExitCode,
		"duration", time.Since(start),
	)

	if state.ExitCode != 0 {
		return lines, &domain.CommandError{Command: redacted, ExitCode: state.ExitCode, Log: lines}
	}
	return lines, nil
}

// waitExit polls until the daemon reports the exec finished. The output
// stream can close slightly before the exit code is recorded.
func (e *Executor) waitExit(ctx context.Context, execID string) (*docker.ExecState, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		state, err := e.docker.ExecInspect(ctx, execID)
		if err != nil {
			return nil, err
		}
		if !state.Running {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) execBackground(ctx context.Context, containerID string, cmd Command, redacted string) ([]domain.LogLine, error) {
	wrapped := Command{
		Line:    BackgroundLine(e.cfg.WorkDir, cmd.Line),
		Dir:     cmd.Dir,
		Env:     cmd.Env,
		Secrets: cmd.Secrets,
	}
	if _, err := e.execForeground(ctx, containerID, wrapped, source.Redact(wrapped.Line, cmd.Secrets...)); err != nil {
		return nil, err
	}
	e.logger.Info("background command started", "container_id", containerID, "command", redacted)
	return []domain.LogLine{domain.NewLogLine("Command started in background: " + redacted)}, nil
}

// BackgroundLine wraps line so it runs detached with its output in
// <workDir>/output.log, its exit code in <workDir>/.mercel/exit_code and its
// pid in <workDir>/.mercel/pid.
func BackgroundLine(workDir, line string) string {
	state := StatePath(workDir, "")
	return fmt.Sprintf("mkdir -p %s; rm -f %s; (%s; echo $? > %s) > %s 2>&1 & echo $! > %s",
		source.Quote(state),
		source.Quote(StatePath(workDir, "exit_code")),
		line,
		source.Quote(StatePath(workDir, "exit_code")),
		source.Quote(OutputPath(workDir)),
		source.Quote(StatePath(workDir, "pid")),
	)
}

// StatePath is the path of a background state file; an empty name yields the
// state directory.
func StatePath(workDir, name string) string {
	dir := strings.TrimSuffix(workDir, "/") + "/" + StateDir
	if name == "" {
		return dir
	}
	return dir + "/" + name
}

// OutputPath is the path of the background command's log file.
func OutputPath(workDir string) string {
	return strings.TrimSuffix(workDir, "/") + "/" + OutputLog
}

// TailLine follows the background log, starting from its last n lines.
func TailLine(workDir string, n int) string {
	return fmt.Sprintf("tail -n %d -F %s", n, source.Quote(OutputPath(workDir)))
}

// Stream starts line in the container and returns its live output. The caller
// must close the stream; closing detaches without waiting for exit.
func (e *Executor) Stream(ctx context.Context, containerID, line string) (io.ReadCloser, error) {
	session, err := e.docker.ExecStart(ctx, containerID, docker.ExecSpec{
		Cmd:        []string{"sh", "-c", line},
		WorkingDir: "/",
	})
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", line, err)
	}
	return session.Output, nil
}

func workingDir(dir string) string {
	if dir == "" {
		return "/"
	}
	return dir
}

func readLines(r io.Reader, secrets []string) ([]domain.LogLine, error) {
	lines := []domain.LogLine{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		lines = append(lines, domain.NewLogLine(source.Redact(text, secrets...)))
	}
	err := sc.Err()
	if errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}
	return lines, err
}

// scrub keeps the error chain intact while redacting its message.
func scrub(err error, secrets []string) error {
	msg := err.Error()
	if source.Redact(msg, secrets...) == msg {
		return err
	}
	return &redactedError{msg: source.Redact(msg, secrets...), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
