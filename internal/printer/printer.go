// Package printer sends finished files to a print queue.
package printer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/supervise"
)

// Executor runs an external command under a time budget.
// *supervise.Supervisor satisfies it.
type Executor interface {
	Execute(ctx context.Context, argv []string, timeout time.Duration) (supervise.Result, error)
}

// Printer consumes a printable file.
type Printer interface {
	Print(ctx context.Context, path string) error
	Name() string
}

// LP prints through the CUPS lp command.
type LP struct {
	command string
	queue   string
	timeout time.Duration
	dryRun  bool
	exec    Executor
	log     *zap.Logger
}

var _ Printer = (*LP)(nil)

// NewLP creates an LP printer from configuration.
func NewLP(cfg model.PrinterConfig, exec Executor, log *zap.Logger) *LP {
	if log == nil {
		log = zap.NewNop()
	}
	command := cfg.Command
	if command == "" {
		command = "lp"
	}
	return &LP{
		command: command,
		queue:   cfg.Name,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		dryRun:  cfg.DryRun,
		exec:    exec,
		log:     log.Named("printer"),
	}
}

// Name returns the print queue name.
func (p *LP) Name() string {
	return p.queue
}

// Print submits path to the queue and deletes it once the job was
// accepted. A rejected job leaves the file on disk.
func (p *LP) Print(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("printing %s: %w", path, err)
	}

	if p.dryRun {
		p.log.Info("dry run: not printing", zap.String("path", path), zap.String("queue", p.queue))
		return p.remove(path)
	}

	argv := []string{p.command}
	if p.queue != "" {
		argv = append(argv, "-d", p.queue)
	}
	argv = append(argv, path)

	res, err := p.exec.Execute(ctx, argv, p.timeout)
	if err != nil {
		return fmt.Errorf("printing %s: %w", path, err)
	}
	if res.TimedOut() {
		return fmt.Errorf("printing %s: %s timed out after %s", path, p.command, p.timeout)
	}
	if res.ExitCode != 0 {
		msg := fmt.Sprintf("printing %s: %s exited with code %d", path, p.command, res.ExitCode)
		if res.Stderr != "" {
			msg += " (" + res.Stderr + ")"
		}
		return errors.New(msg)
	}

	p.log.Info("printed", zap.String("path", path), zap.String("queue", p.queue))
	return p.remove(path)
}

func (p *LP) remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing printed file %s: %w", path, err)
	}
	return nil
}
