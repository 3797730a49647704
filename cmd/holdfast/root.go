package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steelcutops/holdfast/holdfast"
	"github.com/steelcutops/holdfast/holdfast/host"
	"github.com/steelcutops/holdfast/holdfast/hostmanager"
	mm "github.com/steelcutops/holdfast/holdfast/modulemanager"
	"github.com/steelcutops/holdfast/holdfast/orchestrator"
	pm "github.com/steelcutops/holdfast/holdfast/packagemanager"
	"github.com/steelcutops/holdfast/logger"
)

type flags struct {
	MarkOnly              bool
	Verbose               bool
	RebootOnReloadFailure bool
}

type app struct {
	host   *host.Host
	stdout io.Writer
	stderr io.Writer
}

func newApp() *app {
	return &app{
		host:   host.NewHost(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

const longHelp = `Lift the hold on the NVIDIA driver packages, upgrade them, reload the
kernel modules and put the hold back. Meant to run once at boot, before the
display manager starts.

With --mark-only only the hold is applied, which establishes the held
resting state after installation.

Compiled-in settings:
  package filter  %s
  kernel modules  %s
  apt-get         %s
  apt-mark        %s
  dpkg-query      %s
  rmmod           %s
  modprobe        %s
  reboot          %s

Exit codes:
  %-3d success
  %-3d usage or preflight error, nothing changed
  %-3d unhold failed, nothing changed
  %-3d sync or upgrade failed, hold restored
  %-3d kernel module reload failed, hold restored
  %-3d hold NOT restored`

func (a *app) newRootCmd(f *flags, exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holdfast",
		Short: "Upgrade held NVIDIA driver packages and reload their kernel modules.",
		Long: fmt.Sprintf(longHelp,
			holdfast.PackagePattern, strings.Join(holdfast.KernelModules, " "),
			pm.AptGetPath, pm.AptMarkPath, pm.DpkgQueryPath,
			mm.RmmodPath, mm.ModprobePath, hostmanager.RebootPath,
			orchestrator.ExitOK, orchestrator.ExitUsage, orchestrator.ExitUnhold,
			orchestrator.ExitUpgrade, orchestrator.ExitReload, orchestrator.ExitHold,
		),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			*exitCode = a.run(cmd.Context(), f)
			return nil
		},
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	cmd.Flags().BoolVar(&f.MarkOnly, "mark-only", false, "only hold the packages, do not upgrade anything")
	cmd.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "show diagnostic output")
	cmd.Flags().BoolVar(&f.RebootOnReloadFailure, "reboot-on-reload-failure", false, "reboot after the hold is restored if the module reload failed")

	return cmd
}

func (a *app) execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer stop()

	f := &flags{}
	exitCode := orchestrator.ExitOK
	cmd := a.newRootCmd(f, &exitCode)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(a.stderr, "holdfast: %v\n", err)
		fmt.Fprintln(a.stderr, cmd.UsageString())
		return orchestrator.ExitUsage
	}
	return exitCode
}

func (a *app) run(ctx context.Context, f *flags) int {
	log := logger.Configure(logger.Options{Verbose: f.Verbose, Out: a.stderr})

	if err := a.host.HostManager.Preflight(); err != nil {
		log.WithError(err).Error("Preflight failed, nothing was changed")
		return orchestrator.ExitUsage
	}

	o := orchestrator.New(orchestrator.Config{
		PackageManager:        a.host.PackageManager,
		ModuleManager:         a.host.ModuleManager,
		Host:                  a.host.HostManager,
		Pattern:               holdfast.PackagePattern,
		Modules:               holdfast.KernelModules,
		RebootOnReloadFailure: f.RebootOnReloadFailure,
		Logger:                log,
	})

	var report *orchestrator.Report
	if f.MarkOnly {
		report = o.MarkOnly(ctx)
	} else {
		report = o.Run(ctx)
	}

	code := report.ExitCode()
	if err := report.Err(); err != nil {
		log.WithField("exit_code", code).WithError(err).Error("Run failed")
	} else {
		log.WithField("held", len(report.Held)).Info("Run finished")
	}

	if report.Ran(orchestrator.PhaseHold) && !report.HoldRestored() {
		banner := color.New(color.FgRed, color.Bold)
		banner.Fprintln(a.stderr, "holdfast: the NVIDIA driver packages are NOT held. Fix the package manager and run 'holdfast --mark-only'.")
	}
	if errors.Is(report.Err(), orchestrator.ErrInterrupted) {
		log.Warn("Run was interrupted, remaining steps are left for the next boot")
	}
	return code
}
