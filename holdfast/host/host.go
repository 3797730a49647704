package host

import (
	"github.com/steelcutops/holdfast/holdfast/commandmanager"
	"github.com/steelcutops/holdfast/holdfast/hostmanager"
	"github.com/steelcutops/holdfast/holdfast/modulemanager"
	"github.com/steelcutops/holdfast/holdfast/packagemanager"
)

// Host bundles the managers for the local machine. Every manager shares one
// CommandManager.
type Host struct {
	CommandManager commandmanager.CommandManager
	HostManager    hostmanager.HostManager
	ModuleManager  modulemanager.ModuleManager
	PackageManager packagemanager.PackageManager
}
