// Package holdfast holds the compiled-in description of the protected driver family.
//
// None of these values can be changed at runtime: holdfast runs as root before
// the graphical session and accepts no package names or binary paths from its
// caller.
package holdfast

// PackagePattern is the dpkg glob selecting the protected package family.
const PackagePattern = "*nvidia*"

// KernelModules are the family's kernel modules, dependants first.
var KernelModules = []string{"nvidia_drm", "nvidia_modeset", "nvidia_uvm", "nvidia"}
