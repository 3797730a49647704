package commandmanager

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// ExitCodeNotStarted is reported when the binary could not be executed at all.
const ExitCodeNotStarted = 127

// DefaultEnv is the environment every child starts from. Nothing is inherited
// from the caller.
var DefaultEnv = []string{
	"PATH=/usr/sbin:/usr/bin:/sbin:/bin",
	"LC_ALL=C",
}

type UnixCommandManager struct {
	// Env replaces DefaultEnv when non-nil.
	Env []string
	// Stdout and Stderr receive passthrough output. They default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

func (u *UnixCommandManager) Run(ctx context.Context, config CommandConfig) (CommandResult, error) {
	if !filepath.IsAbs(config.Command) {
		return CommandResult{Command: config.String(), ExitCode: ExitCodeNotStarted},
			&CommandError{Command: config.String(), ExitCode: ExitCodeNotStarted, Err: ErrRelativeCommand}
	}

	cmd := exec.CommandContext(ctx, config.Command, config.Args...)
	cmd.Env = append(u.baseEnv(), config.Env...)
	// Own process group: terminal and service-stop signals aimed at holdfast
	// must not reach a half-finished dpkg run.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if config.Passthrough {
		cmd.Stdout = io.MultiWriter(&stdout, u.stdout())
		cmd.Stderr = io.MultiWriter(&stderr, u.stderr())
	}

	log.WithField("command", config.String()).Debug("Executing command")

	start := time.Now()
	err := cmd.Run()

	result := CommandResult{
		Command:   config.String(),
		STDOUT:    stdout.String(),
		STDERR:    stderr.String(),
		ExitCode:  getExitCode(err),
		Duration:  time.Since(start),
		Timestamp: start,
	}

	log.WithFields(log.Fields{
		"command":   result.Command,
		"exit_code": result.ExitCode,
		"duration":  result.Duration,
	}).Debug("Command finished")

	if err != nil {
		return result, &CommandError{
			Command:  result.Command,
			ExitCode: result.ExitCode,
			Stderr:   result.STDERR,
			Err:      err,
		}
	}
	return result, nil
}

func (u *UnixCommandManager) baseEnv() []string {
	env := u.Env
	if env == nil {
		env = DefaultEnv
	}
	return append([]string(nil), env...)
}

func (u *UnixCommandManager) stdout() io.Writer {
	if u.Stdout != nil {
		return u.Stdout
	}
	return os.Stdout
}

func (u *UnixCommandManager) stderr() io.Writer {
	if u.Stderr != nil {
		return u.Stderr
	}
	return os.Stderr
}

func getExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed by a signal reports -1; keep it distinguishable from success.
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return 1
	}
	return ExitCodeNotStarted
}
