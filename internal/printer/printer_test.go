package printer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/supervise"
)

type fakeExec struct {
	calls   [][]string
	timeout time.Duration
	result  supervise.Result
	err     error
}

func (f *fakeExec) Execute(_ context.Context, argv []string, timeout time.Duration) (supervise.Result, error) {
	f.calls = append(f.calls, argv)
	f.timeout = timeout
	return f.result, f.err
}

func pdf(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc-0123456789.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	return path
}

func cfg() model.PrinterConfig {
	return model.PrinterConfig{Name: "office", Command: "lp", TimeoutSec: 60}
}

func TestLP_PrintDeletesOnSuccess(t *testing.T) {
	path := pdf(t)
	exec := &fakeExec{}
	p := NewLP(cfg(), exec, zap.NewNop())

	require.NoError(t, p.Print(context.Background(), path))

	assert.Equal(t, [][]string{{"lp", "-d", "office", path}}, exec.calls)
	assert.Equal(t, 60*time.Second, exec.timeout)
	assert.NoFileExists(t, path)
	assert.Equal(t, "office", p.Name())
}

func TestLP_FailureKeepsFile(t *testing.T) {
	tests := []struct {
		name    string
		exec    *fakeExec
		wantErr string
	}{
		{
			name:    "non-zero exit",
			exec:    &fakeExec{result: supervise.Result{ExitCode: 1, Stderr: "lp: The printer or class does not exist."}},
			wantErr: "exited with code 1 (lp: The printer or class does not exist.)",
		},
		{
			name:    "timeout",
			exec:    &fakeExec{result: supervise.Result{ExitCode: supervise.TimedOut}},
			wantErr: "timed out",
		},
		{
			name:    "missing binary",
			exec:    &fakeExec{result: supervise.Result{ExitCode: supervise.TimedOut}, err: &supervise.StartError{Command: "lp", Err: os.ErrNotExist}},
			wantErr: "starting lp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := pdf(t)
			p := NewLP(cfg(), tt.exec, nil)

			err := p.Print(context.Background(), path)
			assert.ErrorContains(t, err, tt.wantErr)
			assert.FileExists(t, path)
		})
	}
}

func TestLP_DeletesExactlyOnce(t *testing.T) {
	path := pdf(t)
	exec := &fakeExec{}
	p := NewLP(cfg(), exec, nil)

	require.NoError(t, p.Print(context.Background(), path))

	err := p.Print(context.Background(), path)
	assert.Error(t, err)
	assert.Len(t, exec.calls, 1)
}

func TestLP_DryRun(t *testing.T) {
	path := pdf(t)
	exec := &fakeExec{}
	c := cfg()
	c.DryRun = true
	p := NewLP(c, exec, nil)

	require.NoError(t, p.Print(context.Background(), path))
	assert.Empty(t, exec.calls)
	assert.NoFileExists(t, path)
}

func TestLP_DefaultQueue(t *testing.T) {
	path := pdf(t)
	exec := &fakeExec{}
	p := NewLP(model.PrinterConfig{TimeoutSec: 5}, exec, nil)

	require.NoError(t, p.Print(context.Background(), path))
	assert.Equal(t, [][]string{{"lp", path}}, exec.calls)
}
