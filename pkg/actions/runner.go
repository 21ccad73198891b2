// Package actions implements the closed set of host response actions and
// their rollbacks behind a registry keyed by catalog name.
package actions

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// CommandResult captures one external command invocation. A non-zero Code
// is not an error at this layer; actions interpret it.
type CommandResult struct {
	Code   int
	Stdout string
	Stderr string
}

// Runner executes host commands. Tests substitute a fake to assert the
// exact command lines without touching the host firewall.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CommandResult{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.Code = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, err
	}
	return res, nil
}

// IsAdmin reports whether the process can run privileged actions. On
// Windows there is no cheap equivalent of an euid check, so the answer is
// a conservative false and host isolation stays disabled.
func IsAdmin() bool {
	if runtime.GOOS == "windows" {
		return false
	}
	return os.Geteuid() == 0
}
