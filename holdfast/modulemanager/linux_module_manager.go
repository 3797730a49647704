package modulemanager

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
	ps "github.com/mitchellh/go-ps"
	log "github.com/sirupsen/logrus"

	cm "github.com/steelcutops/holdfast/holdfast/commandmanager"
)

const (
	RmmodPath       = "/sbin/rmmod"
	ModprobePath    = "/sbin/modprobe"
	ProcModulesPath = "/proc/modules"
)

// Linux truncates process names to this many bytes.
const commLen = 15

// DefaultBlockingProcesses keep the GPU driver open while they run.
var DefaultBlockingProcesses = []string{
	"Xorg",
	"Xwayland",
	"nvidia-persistenced",
	"nvidia-smi",
	"gnome-shell",
	"kwin_wayland",
	"kwin_x11",
}

type LinuxModuleManager struct {
	CommandManager cm.CommandManager
	// ModulesPath overrides ProcModulesPath.
	ModulesPath string
	// Processes overrides ps.Processes.
	Processes func() ([]ps.Process, error)
	// BlockingProcesses overrides DefaultBlockingProcesses.
	BlockingProcesses []string
}

func (m *LinuxModuleManager) Reload(ctx context.Context, modules []string) error {
	if len(modules) == 0 {
		return nil
	}

	busy, err := m.busyProcesses()
	if err != nil {
		return fmt.Errorf("listing processes: %w", err)
	}
	if len(busy) > 0 {
		return fmt.Errorf("%w by %s", ErrModuleBusy, strings.Join(busy, ", "))
	}

	loaded, err := m.Loaded()
	if err != nil {
		return err
	}

	var unloaded []string
	for _, module := range modules {
		if !loaded[module] {
			log.WithField("module", module).Debug("Module not loaded, skipping unload")
			continue
		}
		log.WithField("module", module).Info("Unloading kernel module")
		if _, err := m.CommandManager.Run(ctx, cm.CommandConfig{Command: RmmodPath, Args: []string{module}}); err != nil {
			var result *multierror.Error
			result = multierror.Append(result, fmt.Errorf("rmmod %s: %w", module, err))
			// Reload whatever was already unloaded.
			if restoreErr := m.load(ctx, reversed(unloaded)); restoreErr != nil {
				result = multierror.Append(result, restoreErr)
			}
			return result.ErrorOrNil()
		}
		unloaded = append(unloaded, module)
	}

	primary := modules[len(modules)-1]
	var toLoad []string
	for _, module := range reversed(modules) {
		if loaded[module] || module == primary {
			toLoad = append(toLoad, module)
		}
	}
	return m.load(ctx, toLoad)
}

func (m *LinuxModuleManager) load(ctx context.Context, modules []string) error {
	for _, module := range modules {
		log.WithField("module", module).Info("Loading kernel module")
		if _, err := m.CommandManager.Run(ctx, cm.CommandConfig{Command: ModprobePath, Args: []string{module}}); err != nil {
			return fmt.Errorf("modprobe %s: %w", module, err)
		}
	}
	return nil
}

// Loaded returns the set of currently loaded modules.
func (m *LinuxModuleManager) Loaded() (map[string]bool, error) {
	path := m.ModulesPath
	if path == "" {
		path = ProcModulesPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading loaded modules: %w", err)
	}
	defer f.Close()

	loaded := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			loaded[fields[0]] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading loaded modules: %w", err)
	}
	return loaded, nil
}

func (m *LinuxModuleManager) busyProcesses() ([]string, error) {
	list := m.Processes
	if list == nil {
		list = ps.Processes
	}
	procs, err := list()
	if err != nil {
		return nil, err
	}

	names := m.BlockingProcesses
	if names == nil {
		names = DefaultBlockingProcesses
	}

	var busy []string
	for _, p := range procs {
		exe := p.Executable()
		for _, name := range names {
			if exe == name || (len(exe) == commLen && strings.HasPrefix(name, exe)) {
				busy = append(busy, fmt.Sprintf("%s[%d]", name, p.Pid()))
				break
			}
		}
	}
	return busy, nil
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[len(in)-1-i] = s
	}
	return out
}
