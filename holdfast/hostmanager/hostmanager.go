package hostmanager

import (
	"context"
	"errors"
)

var (
	// ErrNotPrivileged is returned when the process does not run as root.
	ErrNotPrivileged = errors.New("must run as root")
	// ErrUnsupportedOS is returned on hosts outside the Debian family.
	ErrUnsupportedOS = errors.New("unsupported operating system")
)

// HostManager encompasses the host checks and controls holdfast needs.
type HostManager interface {
	SystemInfoOperations
	ControlOperations

	// Preflight verifies the host can be managed before anything is mutated.
	Preflight() error
}

// Reboots go through the hard-coded binary, never through PATH.
const RebootPath = "/sbin/reboot"

// ControlOperations represents control operations for the host.
type ControlOperations interface {
	Reboot(ctx context.Context) error
}
