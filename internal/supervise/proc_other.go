//go:build !unix

package supervise

import (
	"os/exec"
)

func prepare(_ *exec.Cmd) {}

func signalKill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func statusCode(exitErr *exec.ExitError) int {
	if code := exitErr.ExitCode(); code >= 0 {
		return code
	}
	return 1
}
