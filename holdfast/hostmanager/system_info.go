package hostmanager

import "strings"

// OSRelease holds the fields of os-release(5) that matter here.
type OSRelease struct {
	ID         string
	IDLike     []string
	PrettyName string
	VersionID  string
}

// IsDebianFamily reports whether the release is Debian or derived from it.
func (r OSRelease) IsDebianFamily() bool {
	if r.ID == "debian" {
		return true
	}
	for _, like := range r.IDLike {
		if like == "debian" {
			return true
		}
	}
	return false
}

func (r OSRelease) String() string {
	if r.PrettyName != "" {
		return r.PrettyName
	}
	return strings.TrimSpace(r.ID + " " + r.VersionID)
}

// SystemInfoOperations represents operations that retrieve system information.
type SystemInfoOperations interface {
	OSRelease() (OSRelease, error)
	IsPrivileged() bool
}
