package packagemanager

import (
	"context"
	"sort"
)

// Package is an installed package as reported by the package database.
type Package struct {
	Name    string
	Version string
	// Held reports whether the package currently carries a hold mark.
	Held bool
}

// PackageManager is the subset of package-manager operations the orchestrator needs.
// Implementations never cache hold state; every call goes to the package database.
type PackageManager interface {
	// ListPackages returns the installed packages whose name matches pattern.
	// No match is an empty result, not an error.
	ListPackages(ctx context.Context, pattern string) ([]Package, error)
	Hold(ctx context.Context, names []string) error
	Unhold(ctx context.Context, names []string) error
	// Sync refreshes the repository indexes.
	Sync(ctx context.Context) error
	// UpgradeAll performs an unattended full upgrade.
	UpgradeAll(ctx context.Context) error
}

// Names returns the sorted package names.
func Names(pkgs []Package) []string {
	names := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Union merges name lists, dropping duplicates. The result is sorted.
func Union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// VersionChange describes a package whose installed version differs between two listings.
// An empty From means newly installed, an empty To means removed.
type VersionChange struct {
	Name string
	From string
	To   string
}

// Diff reports the version changes from before to after, sorted by name.
func Diff(before, after []Package) []VersionChange {
	old := make(map[string]string, len(before))
	for _, p := range before {
		old[p.Name] = p.Version
	}
	var changes []VersionChange
	for _, p := range after {
		prev, ok := old[p.Name]
		delete(old, p.Name)
		if ok && prev == p.Version {
			continue
		}
		changes = append(changes, VersionChange{Name: p.Name, From: prev, To: p.Version})
	}
	for name, version := range old {
		changes = append(changes, VersionChange{Name: name, From: version})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
	return changes
}
