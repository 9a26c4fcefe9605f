// Package supervise runs external commands under a wall-clock budget.
//
// Completion is polled at a fixed interval. A process that outlives its
// budget is terminated and reported with the TimedOut sentinel exit code.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TimedOut is the exit code reported for a process that was killed because
// it exceeded its time budget.
const TimedOut = -1

// DefaultPollInterval is how often a running process is checked for
// completion.
const DefaultPollInterval = time.Second

// stderrLimit caps the amount of stderr kept for diagnostics.
const stderrLimit = 4 << 10

// Result describes how a supervised process ended.
type Result struct {
	// ExitCode is the process exit status, or TimedOut.
	ExitCode int

	// Stderr holds the first few KiB the process wrote to stderr.
	Stderr string

	// Elapsed is the wall-clock time between start and reap.
	Elapsed time.Duration
}

// TimedOut reports whether the process was terminated for exceeding its
// budget (or because the caller's context ended).
func (r Result) TimedOut() bool {
	return r.ExitCode == TimedOut
}

// StartError is returned when the command could not be launched at all.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// IsStartError reports whether err (or any error in its chain) is a
// StartError.
func IsStartError(err error) bool {
	var startErr *StartError
	return errors.As(err, &startErr)
}

// Supervisor launches commands and enforces their time budgets.
type Supervisor struct {
	pollInterval time.Duration
	log          *zap.Logger
}

// New creates a Supervisor. A non-positive pollInterval selects
// DefaultPollInterval.
func New(pollInterval time.Duration, log *zap.Logger) *Supervisor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{pollInterval: pollInterval, log: log}
}

// Execute starts argv and waits for it to finish, checking every poll
// interval. If the process is still running once timeout has elapsed, or
// ctx is done, it is terminated and the result carries TimedOut. A
// non-positive timeout waits until exit or ctx cancellation.
//
// The returned error is non-nil only when the process could not be
// started; a non-zero exit is reported through Result.ExitCode.
func (s *Supervisor) Execute(
	ctx context.Context,
	argv []string,
	timeout time.Duration,
) (Result, error) {
	if len(argv) == 0 {
		return Result{ExitCode: TimedOut}, &StartError{
			Err: errors.New("empty command"),
		}
	}

	name := argv[0]
	stderr := &limitedBuffer{max: stderrLimit}

	cmd := exec.Command(name, argv[1:]...)
	cmd.Stderr = stderr
	cmd.WaitDelay = killGrace
	prepare(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: TimedOut}, &StartError{Command: name, Err: err}
	}

	s.log.Debug("process started",
		zap.String("command", name),
		zap.Int("pid", cmd.Process.Pid),
		zap.Duration("timeout", timeout),
	)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			res := Result{
				ExitCode: exitCode(err),
				Stderr:   strings.TrimSpace(stderr.String()),
				Elapsed:  time.Since(start),
			}
			s.log.Debug("process exited",
				zap.String("command", name),
				zap.Int("exit_code", res.ExitCode),
				zap.Duration("elapsed", res.Elapsed),
			)
			return res, nil

		case <-ctx.Done():
			s.terminate(cmd, done)
			s.log.Warn("process cancelled",
				zap.String("command", name),
				zap.Error(ctx.Err()),
			)
			return s.timedOut(stderr, start), nil

		case <-ticker.C:
			if timeout <= 0 || time.Since(start) < timeout {
				continue
			}
			s.terminate(cmd, done)
			s.log.Warn("process timed out",
				zap.String("command", name),
				zap.Duration("timeout", timeout),
			)
			return s.timedOut(stderr, start), nil
		}
	}
}

func (s *Supervisor) timedOut(stderr *limitedBuffer, start time.Time) Result {
	return Result{
		ExitCode: TimedOut,
		Stderr:   strings.TrimSpace(stderr.String()),
		Elapsed:  time.Since(start),
	}
}

// terminate kills the process group and reaps the child so no zombie is
// left behind. The kill is immediate so a timed-out run ends within one
// poll interval of its budget.
func (s *Supervisor) terminate(cmd *exec.Cmd, done <-chan error) {
	if err := signalKill(cmd); err != nil {
		s.log.Debug("sending kill signal", zap.Error(err))
	}
	<-done
}

// exitCode maps the error returned by exec.Cmd.Wait to an exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return statusCode(exitErr)
	}
	// I/O errors after a clean exit (e.g. WaitDelay expiring on a pipe held
	// open by a grandchild) still count as a failed run.
	return 1
}

// limitedBuffer keeps at most max bytes and silently drops the rest.
type limitedBuffer struct {
	buf []byte
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return string(b.buf)
}
