package commandmanager

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrRelativeCommand is returned when a command is not given as an absolute path.
var ErrRelativeCommand = errors.New("command must be an absolute path")

// CommandConfig describes a single invocation of an external binary.
type CommandConfig struct {
	// Command is the absolute path of the binary. It is never resolved through PATH.
	Command string
	Args    []string
	// Env is appended to the manager's base environment.
	Env []string
	// Passthrough copies the child's output to the manager's writers while it runs.
	Passthrough bool
}

// String renders the command line for logs and error messages.
func (c CommandConfig) String() string {
	if len(c.Args) == 0 {
		return c.Command
	}
	return c.Command + " " + strings.Join(c.Args, " ")
}

// CommandResult encapsulates the results from a command execution.
type CommandResult struct {
	Command   string
	STDOUT    string
	STDERR    string
	ExitCode  int
	Duration  time.Duration
	Timestamp time.Time
}

// CommandManager executes external commands on the local system.
type CommandManager interface {
	Run(ctx context.Context, config CommandConfig) (CommandResult, error)
}

// CommandError reports a command that could not be started or exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

const maxStderrLines = 20

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	var exitErr *exec.ExitError
	switch {
	case errors.As(e.Err, &exitErr) && exitErr.ExitCode() < 0:
		// Killed by a signal.
		msg = fmt.Sprintf("%s: %v (exit status %d)", e.Command, exitErr, e.ExitCode)
	case e.ExitCode == ExitCodeNotStarted && e.Err != nil:
		msg = fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	if tail := lastLines(e.Stderr, maxStderrLines); tail != "" {
		msg += "\n" + tail
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
