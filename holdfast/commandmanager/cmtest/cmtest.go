// Package cmtest provides a scripted CommandManager for tests.
package cmtest

import (
	"context"
	"strings"
	"sync"

	cm "github.com/steelcutops/holdfast/holdfast/commandmanager"
)

// Response is the canned outcome for a matched command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Recorder records every command it is asked to run and answers from Responses.
// Keys are matched against the full command line by longest prefix; unmatched
// commands succeed with empty output.
type Recorder struct {
	mu        sync.Mutex
	Responses map[string]Response
	Calls     []cm.CommandConfig
}

func New() *Recorder {
	return &Recorder{Responses: map[string]Response{}}
}

// On registers a response for command lines starting with prefix.
func (r *Recorder) On(prefix string, resp Response) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses[prefix] = resp
	return r
}

// Fail registers a non-zero exit for command lines starting with prefix.
func (r *Recorder) Fail(prefix string, code int, stderr string) *Recorder {
	return r.On(prefix, Response{ExitCode: code, Stderr: stderr})
}

func (r *Recorder) Run(_ context.Context, config cm.CommandConfig) (cm.CommandResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, config)

	line := config.String()
	var best string
	var resp Response
	for prefix, candidate := range r.Responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, resp = prefix, candidate
		}
	}

	result := cm.CommandResult{
		Command:  line,
		STDOUT:   resp.Stdout,
		STDERR:   resp.Stderr,
		ExitCode: resp.ExitCode,
	}
	if resp.ExitCode != 0 {
		return result, &cm.CommandError{Command: line, ExitCode: resp.ExitCode, Stderr: resp.Stderr}
	}
	return result, nil
}

// Lines returns the recorded command lines in call order.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		lines = append(lines, c.String())
	}
	return lines
}

// Count returns how many recorded command lines start with prefix.
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, line := range r.Lines() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}
