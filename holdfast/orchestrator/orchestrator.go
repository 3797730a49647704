// Package orchestrator runs the unhold, sync, upgrade, reload, hold sequence.
//
// The hold state lives in the package database and is never cached here. Once
// the unhold step has succeeded the hold step always runs before Run returns,
// whatever happened in between. A SIGKILL between the two cannot be guarded
// against in-process; the next run re-applies the hold.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/steelcutops/holdfast/holdfast/hostmanager"
	mm "github.com/steelcutops/holdfast/holdfast/modulemanager"
	pm "github.com/steelcutops/holdfast/holdfast/packagemanager"
)

// ErrInterrupted marks a phase skipped because a termination signal arrived.
var ErrInterrupted = errors.New("skipped after termination signal")

// Config wires the collaborators.
type Config struct {
	PackageManager pm.PackageManager
	ModuleManager  mm.ModuleManager
	// Host is only needed with RebootOnReloadFailure.
	Host hostmanager.ControlOperations

	// Pattern selects the protected package family.
	Pattern string
	// Modules lists the family's kernel modules, dependants first.
	Modules []string

	// RebootOnReloadFailure reboots after a successful hold when the reload failed.
	RebootOnReloadFailure bool

	Logger        logrus.FieldLogger
	OnPhaseChange func(Phase)
}

// Orchestrator executes the update sequence. It is single use.
type Orchestrator struct {
	config Config
	log    logrus.FieldLogger

	state  State
	before []pm.Package
	report *Report
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		config: cfg,
		log:    logger,
		state:  StateStart,
	}
}

// Run performs the full sequence. Cancelling ctx never stops a running step;
// steps that have not started yet are skipped, except the hold.
func (o *Orchestrator) Run(ctx context.Context) *Report {
	return o.run(ctx, PhaseUnhold, false)
}

// MarkOnly performs the hold step alone, used to establish the initial held state.
func (o *Orchestrator) MarkOnly(ctx context.Context) *Report {
	return o.run(ctx, PhaseHold, true)
}

func (o *Orchestrator) run(ctx context.Context, first Phase, markOnly bool) *Report {
	o.report = &Report{}
	o.state = StateStart
	steps := context.WithoutCancel(ctx)

	for _, phase := range Phases {
		if phase == first {
			break
		}
		o.report.skip(phase)
	}

	phase := first
	for phase != phaseDone {
		t := transitions[phase]
		o.setPhase(phase)

		var err error
		if phase.interruptible() && ctx.Err() != nil {
			err = fmt.Errorf("%s: %w", phase, ErrInterrupted)
		} else {
			err = o.execute(steps, phase, markOnly)
		}
		o.report.record(phase, err)

		if err != nil {
			o.failed(phase, err)
			next := t.onFailure
			o.skipUntil(phase, next)
			phase = next
			continue
		}

		if o.state != StateFailed {
			o.state = t.reached
		}
		o.log.WithFields(logrus.Fields{"phase": phase, "state": o.state}).Info("Phase completed")
		phase = t.next
	}

	o.finish(steps)
	return o.report
}

func (o *Orchestrator) execute(ctx context.Context, phase Phase, markOnly bool) error {
	switch phase {
	case PhaseUnhold:
		return o.unhold(ctx)
	case PhaseSync:
		return o.config.PackageManager.Sync(ctx)
	case PhaseUpgrade:
		return o.config.PackageManager.UpgradeAll(ctx)
	case PhaseReload:
		return o.config.ModuleManager.Reload(ctx, o.config.Modules)
	case PhaseHold:
		if markOnly {
			return o.markOnlyHold(ctx)
		}
		return o.hold(ctx)
	}
	return fmt.Errorf("unknown phase %q", phase)
}

func (o *Orchestrator) unhold(ctx context.Context) error {
	pkgs, err := o.config.PackageManager.ListPackages(ctx, o.config.Pattern)
	if err != nil {
		return err
	}
	o.before = pkgs
	if len(pkgs) == 0 {
		o.log.WithField("pattern", o.config.Pattern).Warn("No installed packages match the filter")
	}
	return o.config.PackageManager.Unhold(ctx, pm.Names(pkgs))
}

// hold re-reads the family so packages pulled in by the upgrade are held too.
func (o *Orchestrator) hold(ctx context.Context) error {
	var result *multierror.Error

	names := pm.Names(o.before)
	after, err := o.config.PackageManager.ListPackages(ctx, o.config.Pattern)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("hold set may be incomplete: %w", err))
	} else {
		names = pm.Union(names, pm.Names(after))
		o.report.Changes = pm.Diff(o.before, after)
	}

	o.report.Held = names
	if err := o.config.PackageManager.Hold(ctx, names); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (o *Orchestrator) markOnlyHold(ctx context.Context) error {
	pkgs, err := o.config.PackageManager.ListPackages(ctx, o.config.Pattern)
	if err != nil {
		return err
	}
	o.report.Held = pm.Names(pkgs)
	return o.config.PackageManager.Hold(ctx, o.report.Held)
}

func (o *Orchestrator) failed(phase Phase, err error) {
	o.state = StateFailed
	entry := o.log.WithFields(logrus.Fields{"phase": phase, "state": o.state}).WithError(err)
	switch phase {
	case PhaseHold:
		entry.WithField("severity", "critical").Error("Failed to restore package hold, driver packages are left unprotected")
	case PhaseUnhold:
		entry.Error("Failed to lift package hold, nothing was changed")
	case PhaseReload:
		entry.Error("Kernel module reload failed, a reboot will load the new modules")
	default:
		entry.Error("Phase failed, restoring package hold")
	}
}

// skipUntil records the phases between from and to as skipped.
func (o *Orchestrator) skipUntil(from, to Phase) {
	skipping := false
	for _, phase := range Phases {
		if phase == to {
			return
		}
		if skipping {
			o.log.WithField("phase", phase).Warn("Phase skipped")
			o.report.skip(phase)
		}
		if phase == from {
			skipping = true
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context) {
	r := o.report
	r.State = o.state

	for _, change := range r.Changes {
		o.log.WithFields(logrus.Fields{
			"package": change.Name,
			"from":    change.From,
			"to":      change.To,
		}).Info("Package version changed")
	}

	if o.config.RebootOnReloadFailure && o.reloadBroken() && r.HoldRestored() && o.config.Host != nil {
		if err := o.config.Host.Reboot(ctx); err != nil {
			r.errs = multierror.Append(r.errs, err)
		} else {
			r.Rebooted = true
		}
	}
}

// reloadBroken reports a reload that ran and failed. A reload skipped because
// of a termination signal never triggers a reboot.
func (o *Orchestrator) reloadBroken() bool {
	step, ok := o.report.Outcome(PhaseReload)
	return ok && step.Err != nil && !errors.Is(step.Err, ErrInterrupted)
}

func (o *Orchestrator) setPhase(phase Phase) {
	o.log.WithFields(logrus.Fields{"phase": phase, "state": o.state}).Info("Starting phase")
	if o.config.OnPhaseChange != nil {
		o.config.OnPhaseChange(phase)
	}
}
