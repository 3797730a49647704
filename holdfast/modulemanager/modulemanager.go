// Package modulemanager unloads and reloads kernel modules through rmmod and modprobe.
package modulemanager

import (
	"context"
	"errors"
)

// ErrModuleBusy is returned when a running process is known to keep the modules open.
var ErrModuleBusy = errors.New("kernel module in use")

// ModuleManager reloads a family of kernel modules.
type ModuleManager interface {
	// Reload unloads the loaded modules in the given order, dependants first, and
	// loads them back in reverse order. The last module is always loaded.
	Reload(ctx context.Context, modules []string) error
}
