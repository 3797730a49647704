package orchestrator

import (
	multierror "github.com/hashicorp/go-multierror"

	pm "github.com/steelcutops/holdfast/holdfast/packagemanager"
)

// Process exit codes, one per failure class.
const (
	ExitOK      = 0
	ExitUsage   = 1
	ExitUnhold  = 10
	ExitUpgrade = 11
	ExitReload  = 12
	ExitHold    = 13
)

// StepOutcome is the result of one phase.
type StepOutcome struct {
	Phase   Phase
	Err     error
	Skipped bool
}

// Report describes a finished run.
type Report struct {
	Steps []StepOutcome
	// State is StateHeld on success. On failure it is StateFailed and FailedPhase
	// names the first failing phase.
	State       State
	FailedPhase Phase
	// Held lists the packages passed to the final hold.
	Held []string
	// Changes lists family packages whose version changed during the run.
	Changes  []pm.VersionChange
	Rebooted bool

	errs *multierror.Error
}

func (r *Report) record(phase Phase, err error) {
	r.Steps = append(r.Steps, StepOutcome{Phase: phase, Err: err})
	if err != nil {
		r.errs = multierror.Append(r.errs, err)
		if r.FailedPhase == phaseDone {
			r.FailedPhase = phase
		}
	}
}

func (r *Report) skip(phase Phase) {
	r.Steps = append(r.Steps, StepOutcome{Phase: phase, Skipped: true})
}

// Outcome returns the outcome of phase and whether it was recorded.
func (r *Report) Outcome(phase Phase) (StepOutcome, bool) {
	for _, step := range r.Steps {
		if step.Phase == phase {
			return step, true
		}
	}
	return StepOutcome{}, false
}

// Ran reports whether phase was executed.
func (r *Report) Ran(phase Phase) bool {
	step, ok := r.Outcome(phase)
	return ok && !step.Skipped
}

// Failed reports whether phase ran and failed.
func (r *Report) Failed(phase Phase) bool {
	step, ok := r.Outcome(phase)
	return ok && step.Err != nil
}

// HoldRestored reports whether the final hold succeeded.
func (r *Report) HoldRestored() bool {
	return r.Ran(PhaseHold) && !r.Failed(PhaseHold)
}

// Err aggregates every step error, or nil.
func (r *Report) Err() error {
	return r.errs.ErrorOrNil()
}

// ExitCode maps the report to a process exit status. A failed hold outranks
// every other failure.
func (r *Report) ExitCode() int {
	switch {
	case r.Failed(PhaseHold):
		return ExitHold
	case r.Failed(PhaseUnhold):
		return ExitUnhold
	case r.Failed(PhaseSync), r.Failed(PhaseUpgrade):
		return ExitUpgrade
	case r.Failed(PhaseReload):
		return ExitReload
	}
	return ExitOK
}
