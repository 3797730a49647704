package host

import (
	"github.com/steelcutops/holdfast/holdfast/commandmanager"
	"github.com/steelcutops/holdfast/holdfast/hostmanager"
	"github.com/steelcutops/holdfast/holdfast/modulemanager"
	"github.com/steelcutops/holdfast/holdfast/packagemanager"
)

// NewHost wires the local managers. Managers set through options are kept;
// the rest are built on top of the host's CommandManager.
func NewHost(options ...HostOption) *Host {
	h := &Host{}
	for _, option := range options {
		option(h)
	}

	if h.CommandManager == nil {
		h.CommandManager = &commandmanager.UnixCommandManager{}
	}
	if h.HostManager == nil {
		h.HostManager = &hostmanager.UnixHostManager{CommandManager: h.CommandManager}
	}
	if h.ModuleManager == nil {
		h.ModuleManager = &modulemanager.LinuxModuleManager{CommandManager: h.CommandManager}
	}
	if h.PackageManager == nil {
		h.PackageManager = &packagemanager.AptPackageManager{CommandManager: h.CommandManager}
	}
	return h
}
