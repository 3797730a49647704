package packagemanager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	cm "github.com/steelcutops/holdfast/holdfast/commandmanager"
)

// Binaries are invoked by absolute path only.
const (
	AptGetPath    = "/usr/bin/apt-get"
	AptMarkPath   = "/usr/bin/apt-mark"
	DpkgQueryPath = "/usr/bin/dpkg-query"
)

const dpkgQueryFormat = "${db:Status-Abbrev}\t${binary:Package}\t${Version}\n"

// dpkg-query exits 1 when nothing matches the pattern.
const dpkgNoMatch = "no packages found matching"

type AptPackageManager struct {
	CommandManager cm.CommandManager
}

func (apm *AptPackageManager) ListPackages(ctx context.Context, pattern string) ([]Package, error) {
	output, err := apm.CommandManager.Run(ctx, cm.CommandConfig{
		Command: DpkgQueryPath,
		Args:    []string{"--show", "--showformat=" + dpkgQueryFormat, pattern},
	})
	if err != nil {
		var cmdErr *cm.CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 && strings.Contains(output.STDERR, dpkgNoMatch) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing packages matching %q: %w", pattern, err)
	}
	return parseDpkgQuery(output.STDOUT), nil
}

// parseDpkgQuery keeps only packages whose current state is installed ("ii", "hi").
func parseDpkgQuery(out string) []Package {
	var packages []Package
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			continue
		}
		status := strings.TrimSpace(parts[0])
		if status != "ii" && status != "hi" {
			continue
		}
		packages = append(packages, Package{
			Name:    strings.TrimSpace(parts[1]),
			Version: strings.TrimSpace(parts[2]),
			Held:    status[0] == 'h',
		})
	}
	return packages
}

func (apm *AptPackageManager) Hold(ctx context.Context, names []string) error {
	return apm.mark(ctx, "hold", names)
}

func (apm *AptPackageManager) Unhold(ctx context.Context, names []string) error {
	return apm.mark(ctx, "unhold", names)
}

func (apm *AptPackageManager) mark(ctx context.Context, action string, names []string) error {
	if len(names) == 0 {
		log.WithField("action", action).Debug("No packages to mark")
		return nil
	}
	log.WithField("packages", strings.Join(names, " ")).Infof("apt-mark %s", action)

	_, err := apm.CommandManager.Run(ctx, cm.CommandConfig{
		Command: AptMarkPath,
		Args:    append([]string{action, "-qq"}, names...),
	})
	if err != nil {
		return fmt.Errorf("apt-mark %s: %w", action, err)
	}
	return nil
}

func (apm *AptPackageManager) Sync(ctx context.Context) error {
	_, err := apm.CommandManager.Run(ctx, cm.CommandConfig{
		Command:     AptGetPath,
		Args:        []string{"update", "-q"},
		Passthrough: true,
	})
	if err != nil {
		return fmt.Errorf("apt-get update: %w", err)
	}
	return nil
}

func (apm *AptPackageManager) UpgradeAll(ctx context.Context) error {
	_, err := apm.CommandManager.Run(ctx, cm.CommandConfig{
		Command:     AptGetPath,
		Env:         []string{"DEBIAN_FRONTEND=noninteractive"},
		Args:        []string{"dist-upgrade", "-q", "-y", "-o", "Dpkg::Options::=--force-confdef", "-o", "Dpkg::Options::=--force-confold"},
		Passthrough: true,
	})
	if err != nil {
		return fmt.Errorf("apt-get dist-upgrade: %w", err)
	}
	return nil
}
