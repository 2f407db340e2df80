package driver

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// PlatformCommands describes how one device type is driven: the command
// producing its running configuration, capability probes job modules may
// run, and the per-command timeout.
type PlatformCommands struct {
	DeviceType     string   `yaml:"device_type"`
	ShowRunning    string   `yaml:"show_running"`
	Probes         []string `yaml:"probes"`
	TimeoutSeconds int      `yaml:"command_timeout_seconds"`
}

// CommandTimeout returns the per-command timeout for this platform
func (p PlatformCommands) CommandTimeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultCommandTimeout
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ShowRunningCommand returns the runnable show-running command
func (p PlatformCommands) ShowRunningCommand() Command {
	return Command{Name: "show_running", Text: p.ShowRunning, Timeout: p.CommandTimeout()}
}

// ProbeCommands returns the runnable capability probes
func (p PlatformCommands) ProbeCommands() []Command {
	cmds := make([]Command, 0, len(p.Probes))
	for i, probe := range p.Probes {
		cmds = append(cmds, Command{
			Name:    fmt.Sprintf("probe_%d", i),
			Text:    probe,
			Timeout: p.CommandTimeout(),
		})
	}
	return cmds
}

// DefaultPlatform serves device types with no table entry.
var DefaultPlatform = PlatformCommands{
	DeviceType:     "default",
	ShowRunning:    "show running-config",
	Probes:         []string{"show version"},
	TimeoutSeconds: 60,
}

var (
	platformMu sync.RWMutex
	platforms  = map[string]PlatformCommands{
		"cisco_ios":     {DeviceType: "cisco_ios", ShowRunning: "show running-config", Probes: []string{"show version"}, TimeoutSeconds: 60},
		"cisco_nxos":    {DeviceType: "cisco_nxos", ShowRunning: "show running-config", Probes: []string{"show version"}, TimeoutSeconds: 90},
		"arista_eos":    {DeviceType: "arista_eos", ShowRunning: "show running-config", Probes: []string{"show version"}, TimeoutSeconds: 60},
		"juniper_junos": {DeviceType: "juniper_junos", ShowRunning: "show configuration | display set", Probes: []string{"show version"}, TimeoutSeconds: 90},
		"linux":         {DeviceType: "linux", ShowRunning: "ip addr show", Probes: []string{"uname -a"}, TimeoutSeconds: 30},
	}
)

// LookupPlatform returns the command table entry for a device type. Unknown
// types get DefaultPlatform and ok=false.
func LookupPlatform(deviceType string) (PlatformCommands, bool) {
	platformMu.RLock()
	defer platformMu.RUnlock()
	p, ok := platforms[deviceType]
	if !ok {
		return DefaultPlatform, false
	}
	return p, true
}

// RegisterPlatform adds or replaces a platform table entry
func RegisterPlatform(p PlatformCommands) error {
	if p.DeviceType == "" {
		return fmt.Errorf("platform device_type is required")
	}
	if p.ShowRunning == "" {
		return fmt.Errorf("platform %s: show_running is required", p.DeviceType)
	}
	platformMu.Lock()
	defer platformMu.Unlock()
	platforms[p.DeviceType] = p
	return nil
}

// PlatformTypes returns the known device types, sorted
func PlatformTypes() []string {
	platformMu.RLock()
	defer platformMu.RUnlock()
	types := make([]string, 0, len(platforms))
	for t := range platforms {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

type platformOverlay struct {
	Platforms []PlatformCommands `yaml:"platforms"`
}

// LoadPlatformOverlay merges platform definitions from a YAML file over the
// built-in table. Entries replace builtins with the same device_type.
func LoadPlatformOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read platform file: %w", err)
	}
	var overlay platformOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse platform file %s: %w", path, err)
	}
	for _, p := range overlay.Platforms {
		if err := RegisterPlatform(p); err != nil {
			return err
		}
	}
	return nil
}
