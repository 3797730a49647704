package host

import (
	"github.com/steelcutops/holdfast/holdfast/commandmanager"
	"github.com/steelcutops/holdfast/holdfast/hostmanager"
	"github.com/steelcutops/holdfast/holdfast/modulemanager"
)

type HostOption func(*Host)

// WithCommandManager returns a HostOption that sets the CommandManager every other manager runs through.
func WithCommandManager(manager commandmanager.CommandManager) HostOption {
	return func(host *Host) {
		host.CommandManager = manager
	}
}

// WithHostManager returns a HostOption that sets the HostManager for a Host.
func WithHostManager(manager hostmanager.HostManager) HostOption {
	return func(host *Host) {
		host.HostManager = manager
	}
}

// WithModuleManager returns a HostOption that sets the ModuleManager for a Host.
func WithModuleManager(manager modulemanager.ModuleManager) HostOption {
	return func(host *Host) {
		host.ModuleManager = manager
	}
}
