package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pm "github.com/steelcutops/holdfast/holdfast/packagemanager"
)

const pattern = "*nvidia*"

var modules = []string{"nvidia_drm", "nvidia_modeset", "nvidia_uvm", "nvidia"}

type callLog []string

func (c *callLog) add(name string) func(mock.Arguments) {
	return func(mock.Arguments) { *c = append(*c, name) }
}

type mockPackageManager struct {
	mock.Mock
}

func (m *mockPackageManager) ListPackages(_ context.Context, pattern string) ([]pm.Package, error) {
	args := m.Called(pattern)
	pkgs, _ := args.Get(0).([]pm.Package)
	return pkgs, args.Error(1)
}

func (m *mockPackageManager) Hold(_ context.Context, names []string) error {
	return m.Called(names).Error(0)
}

func (m *mockPackageManager) Unhold(_ context.Context, names []string) error {
	return m.Called(names).Error(0)
}

func (m *mockPackageManager) Sync(_ context.Context) error {
	return m.Called().Error(0)
}

func (m *mockPackageManager) UpgradeAll(_ context.Context) error {
	return m.Called().Error(0)
}

type mockModuleManager struct {
	mock.Mock
}

func (m *mockModuleManager) Reload(_ context.Context, modules []string) error {
	return m.Called(modules).Error(0)
}

type mockHost struct {
	mock.Mock
}

func (m *mockHost) Reboot(_ context.Context) error {
	return m.Called().Error(0)
}

var (
	before = []pm.Package{
		{Name: "nvidia-driver", Version: "535.1", Held: true},
		{Name: "libnvidia-gl", Version: "535.1", Held: true},
	}
	after = []pm.Package{
		{Name: "nvidia-driver", Version: "535.2"},
		{Name: "libnvidia-gl", Version: "535.2"},
		{Name: "nvidia-firmware", Version: "535.2"},
	}
	beforeNames = []string{"libnvidia-gl", "nvidia-driver"}
	allNames    = []string{"libnvidia-gl", "nvidia-driver", "nvidia-firmware"}
)

type fixture struct {
	pkg   *mockPackageManager
	mod   *mockModuleManager
	host  *mockHost
	calls *callLog
	hook  *logtest.Hook
	cfg   Config
}

func newFixture() *fixture {
	logger, hook := logtest.NewNullLogger()
	f := &fixture{
		pkg:   &mockPackageManager{},
		mod:   &mockModuleManager{},
		host:  &mockHost{},
		calls: &callLog{},
		hook:  hook,
	}
	f.cfg = Config{
		PackageManager: f.pkg,
		ModuleManager:  f.mod,
		Host:           f.host,
		Pattern:        pattern,
		Modules:        modules,
		Logger:         logger,
	}
	return f
}

// expect registers every collaborator call with the given results.
func (f *fixture) expect(unholdErr, syncErr, upgradeErr, reloadErr, holdErr error) {
	f.pkg.On("ListPackages", pattern).Return(before, nil).Once().Run(f.calls.add("list"))
	f.pkg.On("Unhold", beforeNames).Return(unholdErr).Run(f.calls.add("unhold"))
	f.pkg.On("Sync").Return(syncErr).Run(f.calls.add("sync"))
	f.pkg.On("UpgradeAll").Return(upgradeErr).Run(f.calls.add("upgrade"))
	f.mod.On("Reload", modules).Return(reloadErr).Run(f.calls.add("reload"))
	f.pkg.On("ListPackages", pattern).Return(after, nil).Once().Run(f.calls.add("list"))
	f.pkg.On("Hold", mock.Anything).Return(holdErr).Run(f.calls.add("hold"))
	f.host.On("Reboot").Return(nil).Run(f.calls.add("reboot"))
}

func TestRunSuccess(t *testing.T) {
	f := newFixture()
	f.expect(nil, nil, nil, nil, nil)

	var phases []Phase
	f.cfg.OnPhaseChange = func(p Phase) { phases = append(phases, p) }

	report := New(f.cfg).Run(context.Background())

	require.NoError(t, report.Err())
	assert.Equal(t, ExitOK, report.ExitCode())
	assert.Equal(t, StateHeld, report.State)
	assert.Equal(t, []string{"list", "unhold", "sync", "upgrade", "reload", "list", "hold"}, []string(*f.calls))
	assert.Equal(t, Phases, phases)
	assert.Equal(t, allNames, report.Held)
	f.pkg.AssertCalled(t, "Hold", allNames)
	assert.Equal(t, []pm.VersionChange{
		{Name: "libnvidia-gl", From: "535.1", To: "535.2"},
		{Name: "nvidia-driver", From: "535.1", To: "535.2"},
		{Name: "nvidia-firmware", To: "535.2"},
	}, report.Changes)
	f.host.AssertNotCalled(t, "Reboot")
}

func TestRunUnholdFailureStopsEverything(t *testing.T) {
	f := newFixture()
	f.expect(errors.New("apt-mark unhold: exit status 100"), nil, nil, nil, nil)

	report := New(f.cfg).Run(context.Background())

	assert.Equal(t, ExitUnhold, report.ExitCode())
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, PhaseUnhold, report.FailedPhase)
	assert.Equal(t, []string{"list", "unhold"}, []string(*f.calls))
	for _, phase := range []Phase{PhaseSync, PhaseUpgrade, PhaseReload, PhaseHold} {
		assert.False(t, report.Ran(phase), phase)
	}
	f.pkg.AssertNotCalled(t, "Hold", mock.Anything)
}

func TestRunListingFailureCountsAsUnhold(t *testing.T) {
	f := newFixture()
	f.pkg.On("ListPackages", pattern).Return(nil, errors.New("dpkg-query: database locked"))

	report := New(f.cfg).Run(context.Background())

	assert.Equal(t, ExitUnhold, report.ExitCode())
	f.pkg.AssertNotCalled(t, "Unhold", mock.Anything)
	f.pkg.AssertNotCalled(t, "Hold", mock.Anything)
}

func TestRunSyncFailureRestoresHold(t *testing.T) {
	f := newFixture()
	f.expect(nil, errors.New("apt-get update: exit status 100"), nil, nil, nil)

	report := New(f.cfg).Run(context.Background())

	assert.Equal(t, ExitUpgrade, report.ExitCode())
	assert.Equal(t, []string{"list", "unhold", "sync", "list", "hold"}, []string(*f.calls))
	assert.Equal(t, PhaseSync, report.FailedPhase)
	assert.Equal(t, StateFailed, report.State)
	assert.True(t, report.HoldRestored())
	f.pkg.AssertNotCalled(t, "UpgradeAll")
	f.mod.AssertNotCalled(t, "Reload", mock.Anything)
}

func TestRunUpgradeFailureSkipsReload(t *testing.T) {
	f := newFixture()
	f.expect(nil, nil, errors.New("apt-get dist-upgrade: exit status 100"), nil, nil)

	report := New(f.cfg).Run(context.Background())

	assert.Equal(t, ExitUpgrade, report.ExitCode())
	assert.Equal(t, []string{"list", "unhold", "sync", "upgrade", "list", "hold"}, []string(*f.calls))
	step, ok := report.Outcome(PhaseReload)
	require.True(t, ok)
	assert.True(t, step.Skipped)
	f.pkg.AssertCalled(t, "Hold", allNames)
}

func TestRunReloadFailureIsReported(t *testing.T) {
	f := newFixture()
	f.expect(nil, nil, nil, errors.New("rmmod nvidia: exit status 1"), nil)

	report := New(f.cfg).Run(context.Background())

	assert.Equal(t, ExitReload, report.ExitCode())
	assert.NotEqual(t, ExitOK, report.ExitCode())
	assert.True(t, report.HoldRestored())
	assert.ErrorContains(t, report.Err(), "rmmod nvidia")
	f.host.AssertNotCalled(t, "Reboot")
}

func TestRunHoldFailureIsCritical(t *testing.T) {
	f := newFixture()
	f.expect(nil, nil, nil, nil, errors.New("apt-mark hold: exit status 100"))

	report := New(f.cfg).Run(context.Background())

	assert.Equal(t, ExitHold, report.ExitCode())
	assert.False(t, report.HoldRestored())

	var critical *logrus.Entry
	for _, entry := range f.hook.AllEntries() {
		if entry.Data["severity"] == "critical" {
			critical = entry
		}
	}
	require.NotNil(t, critical)
	assert.Equal(t, logrus.ErrorLevel, critical.Level)
	assert.Equal(t, PhaseHold, critical.Data["phase"])
}

func TestRunHoldFailureOutranksEarlierFailures(t *testing.T) {
	f := newFixture()
	f.expect(nil, errors.New("sync"), nil, nil, errors.New("hold"))

	report := New(f.cfg).Run(context.Background())

	assert.Equal(t, ExitHold, report.ExitCode())
	assert.Equal(t, PhaseSync, report.FailedPhase)
}

func TestRunRelistFailureHoldsKnownPackages(t *testing.T) {
	f := newFixture()
	f.pkg.On("ListPackages", pattern).Return(before, nil).Once()
	f.pkg.On("Unhold", beforeNames).Return(nil)
	f.pkg.On("Sync").Return(nil)
	f.pkg.On("UpgradeAll").Return(nil)
	f.mod.On("Reload", modules).Return(nil)
	f.pkg.On("ListPackages", pattern).Return(nil, errors.New("dpkg-query: exit status 2")).Once()
	f.pkg.On("Hold", beforeNames).Return(nil)

	report := New(f.cfg).Run(context.Background())

	assert.Equal(t, ExitHold, report.ExitCode())
	assert.ErrorContains(t, report.Err(), "hold set may be incomplete")
	f.pkg.AssertCalled(t, "Hold", beforeNames)
}

func TestRunEmptyFamily(t *testing.T) {
	f := newFixture()
	f.pkg.On("ListPackages", pattern).Return(nil, nil)
	f.pkg.On("Unhold", []string{}).Return(nil)
	f.pkg.On("Sync").Return(nil)
	f.pkg.On("UpgradeAll").Return(nil)
	f.mod.On("Reload", modules).Return(nil)
	f.pkg.On("Hold", mock.Anything).Return(nil)

	report := New(f.cfg).Run(context.Background())

	assert.Equal(t, ExitOK, report.ExitCode())
	assert.Empty(t, report.Held)
}

func TestRunInterruptedSkipsToHold(t *testing.T) {
	f := newFixture()
	f.expect(nil, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.cfg.OnPhaseChange = func(p Phase) {
		if p == PhaseSync {
			cancel()
		}
	}

	report := New(f.cfg).Run(ctx)

	assert.Equal(t, ExitUpgrade, report.ExitCode())
	assert.ErrorIs(t, report.Err(), ErrInterrupted)
	assert.Equal(t, []string{"list", "unhold", "list", "hold"}, []string(*f.calls))
	f.pkg.AssertNotCalled(t, "Sync")
}

func TestRunInterruptedBeforeStart(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := New(f.cfg).Run(ctx)

	assert.Equal(t, ExitUnhold, report.ExitCode())
	assert.ErrorIs(t, report.Err(), ErrInterrupted)
	f.pkg.AssertNotCalled(t, "ListPackages", mock.Anything)
}

func TestRunRebootAfterHoldOnReloadFailure(t *testing.T) {
	f := newFixture()
	f.cfg.RebootOnReloadFailure = true
	f.expect(nil, nil, nil, errors.New("rmmod nvidia: exit status 1"), nil)

	report := New(f.cfg).Run(context.Background())

	assert.Equal(t, ExitReload, report.ExitCode())
	assert.True(t, report.Rebooted)
	assert.Equal(t, []string{"list", "unhold", "sync", "upgrade", "reload", "list", "hold", "reboot"}, []string(*f.calls))
}

func TestRunNoRebootWhenReloadInterrupted(t *testing.T) {
	f := newFixture()
	f.cfg.RebootOnReloadFailure = true
	f.expect(nil, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.cfg.OnPhaseChange = func(p Phase) {
		if p == PhaseReload {
			cancel()
		}
	}

	report := New(f.cfg).Run(ctx)

	assert.Equal(t, ExitReload, report.ExitCode())
	assert.ErrorIs(t, report.Err(), ErrInterrupted)
	assert.Contains(t, report.Err().Error(), "reload: skipped after termination signal")
	assert.True(t, report.HoldRestored())
	assert.False(t, report.Rebooted)
	assert.Equal(t, []string{"list", "unhold", "sync", "upgrade", "list", "hold"}, []string(*f.calls))
	f.mod.AssertNotCalled(t, "Reload", mock.Anything)
	f.host.AssertNotCalled(t, "Reboot")
}

func TestRunNoRebootWhenHoldFails(t *testing.T) {
	f := newFixture()
	f.cfg.RebootOnReloadFailure = true
	f.expect(nil, nil, nil, errors.New("reload"), errors.New("hold"))

	report := New(f.cfg).Run(context.Background())

	assert.Equal(t, ExitHold, report.ExitCode())
	assert.False(t, report.Rebooted)
	f.host.AssertNotCalled(t, "Reboot")
}

func TestMarkOnly(t *testing.T) {
	f := newFixture()
	f.pkg.On("ListPackages", pattern).Return(before, nil)
	f.pkg.On("Hold", beforeNames).Return(nil)

	report := New(f.cfg).MarkOnly(context.Background())

	assert.Equal(t, ExitOK, report.ExitCode())
	assert.Equal(t, StateHeld, report.State)
	for _, phase := range []Phase{PhaseUnhold, PhaseSync, PhaseUpgrade, PhaseReload} {
		step, ok := report.Outcome(phase)
		require.True(t, ok)
		assert.True(t, step.Skipped, phase)
	}
	f.pkg.AssertNotCalled(t, "Unhold", mock.Anything)
	f.pkg.AssertNotCalled(t, "Sync")
	f.pkg.AssertNotCalled(t, "UpgradeAll")
	f.mod.AssertNotCalled(t, "Reload", mock.Anything)
	f.pkg.AssertNumberOfCalls(t, "Hold", 1)
}

func TestMarkOnlyHoldFailure(t *testing.T) {
	f := newFixture()
	f.pkg.On("ListPackages", pattern).Return(before, nil)
	f.pkg.On("Hold", beforeNames).Return(errors.New("apt-mark hold: exit status 100"))

	report := New(f.cfg).MarkOnly(context.Background())

	assert.Equal(t, ExitHold, report.ExitCode())
}

func TestMarkOnlyListingFailure(t *testing.T) {
	f := newFixture()
	f.pkg.On("ListPackages", pattern).Return(nil, errors.New("dpkg-query: exit status 2"))

	report := New(f.cfg).MarkOnly(context.Background())

	assert.Equal(t, ExitHold, report.ExitCode())
	f.pkg.AssertNotCalled(t, "Hold", mock.Anything)
}

// Every combination of sync, upgrade and reload outcomes holds exactly once.
func TestRunAlwaysHoldsOnceAfterUnhold(t *testing.T) {
	boom := errors.New("boom")
	outcomes := []error{nil, boom}

	for _, syncErr := range outcomes {
		for _, upgradeErr := range outcomes {
			for _, reloadErr := range outcomes {
				name := fmt.Sprintf("sync=%v/upgrade=%v/reload=%v", syncErr, upgradeErr, reloadErr)
				t.Run(name, func(t *testing.T) {
					f := newFixture()
					f.expect(nil, syncErr, upgradeErr, reloadErr, nil)

					report := New(f.cfg).Run(context.Background())

					f.pkg.AssertNumberOfCalls(t, "Hold", 1)
					assert.True(t, report.HoldRestored())

					upgraded := syncErr == nil && upgradeErr == nil
					assert.Equal(t, upgraded, report.Ran(PhaseReload))

					switch {
					case syncErr != nil || upgradeErr != nil:
						assert.Equal(t, ExitUpgrade, report.ExitCode())
					case reloadErr != nil:
						assert.Equal(t, ExitReload, report.ExitCode())
					default:
						assert.Equal(t, ExitOK, report.ExitCode())
					}
				})
			}
		}
	}
}

func TestExitCodesAreDistinct(t *testing.T) {
	codes := map[int]bool{}
	for _, code := range []int{ExitOK, ExitUsage, ExitUnhold, ExitUpgrade, ExitReload, ExitHold} {
		assert.False(t, codes[code], code)
		codes[code] = true
	}
}
