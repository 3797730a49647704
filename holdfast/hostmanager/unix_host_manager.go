package hostmanager

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gopkg.in/ini.v1"

	cm "github.com/steelcutops/holdfast/holdfast/commandmanager"
)

const OSReleasePath = "/etc/os-release"

type UnixHostManager struct {
	CommandManager cm.CommandManager
	// OSReleasePath overrides the default os-release location.
	OSReleasePath string
	// Geteuid overrides unix.Geteuid.
	Geteuid func() int
}

func (uhm *UnixHostManager) OSRelease() (OSRelease, error) {
	path := uhm.OSReleasePath
	if path == "" {
		path = OSReleasePath
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true, KeyValueDelimiters: "="}, path)
	if err != nil {
		return OSRelease{}, fmt.Errorf("reading %s: %w", path, err)
	}
	section := cfg.Section(ini.DefaultSection)

	value := func(key string) string {
		return strings.Trim(section.Key(key).String(), `"'`)
	}

	return OSRelease{
		ID:         value("ID"),
		IDLike:     strings.Fields(value("ID_LIKE")),
		PrettyName: value("PRETTY_NAME"),
		VersionID:  value("VERSION_ID"),
	}, nil
}

func (uhm *UnixHostManager) IsPrivileged() bool {
	geteuid := uhm.Geteuid
	if geteuid == nil {
		geteuid = unix.Geteuid
	}
	return geteuid() == 0
}

func (uhm *UnixHostManager) Preflight() error {
	if !uhm.IsPrivileged() {
		return ErrNotPrivileged
	}

	release, err := uhm.OSRelease()
	if err != nil {
		return err
	}
	if !release.IsDebianFamily() {
		return fmt.Errorf("%w: %s", ErrUnsupportedOS, release)
	}

	log.WithField("os", release.String()).Debug("Preflight passed")
	return nil
}

func (uhm *UnixHostManager) Reboot(ctx context.Context) error {
	log.Warn("Rebooting host")
	_, err := uhm.CommandManager.Run(ctx, cm.CommandConfig{
		Command: RebootPath,
	})
	if err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}
