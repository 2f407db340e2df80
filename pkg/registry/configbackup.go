package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/driver"
	"github.com/netraven-io/netraven/pkg/logpipe"
	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/redact"
)

// ConfigBackup retrieves the running configuration over SSH and stores a
// snapshot in the config store. The session transcript is redacted and
// logged; the stored configuration itself is kept unredacted so diffs and
// search see the real text.
type ConfigBackup struct{}

// Meta returns the job type metadata
func (ConfigBackup) Meta() Meta {
	return Meta{
		Label:       "Configuration Backup",
		Icon:        "archive",
		Description: "Retrieves the running configuration over SSH and stores a deduplicated snapshot.",
	}
}

// Run executes a configuration backup against one device
func (ConfigBackup) Run(ctx context.Context, in RunInput) *model.JobResult {
	device := in.Device.Device
	result := model.NewJobResult(in.JobID, device.ID, true)
	if in.IsProbe() {
		return result
	}

	platform, known := driver.LookupPlatform(device.DeviceType)
	if !known {
		in.Log(logpipe.ConnectionLog(in.JobID, device.ID, model.LevelWarning, TypeConfigBackup,
			fmt.Sprintf("no platform mapping for device type %q, using default commands", device.DeviceType)))
	}
	cmd := platform.ShowRunningCommand()

	drv := in.Driver
	if drv == nil {
		drv = driver.NewSSHDriver()
	}

	run, err := drv.RunCommands(ctx, in.Device, []driver.Command{cmd})
	if run != nil && run.SessionLog != "" {
		transcript := redact.Redact(run.SessionLog, config.GetRedactionPatterns())
		in.Log(logpipe.SessionLog(in.JobID, device.ID, TypeConfigBackup, transcript))
	}
	if err != nil {
		return failWith(result, err)
	}

	configText := run.Outputs[cmd.Name]
	if strings.TrimSpace(configText) == "" {
		result.Success = false
		result.Details[model.DetailError] = "device returned an empty configuration"
		return result
	}

	outcome, err := in.Store.PersistConfig(ctx, device.ID, configText, model.JSONMap{
		"job_id":      in.JobID,
		"device_type": platform.DeviceType,
		"command":     cmd.Text,
	})
	if err != nil {
		result.Success = false
		result.Details[model.DetailError] = "storing configuration: " + err.Error()
		return result
	}

	if outcome.Stored {
		result.Details["config_id"] = outcome.ConfigID
	}
	result.Details["meta"] = model.JSONMap{
		"lines_saved": len(strings.Split(configText, "\n")),
		"config_size": len(configText),
		"stored":      outcome.Stored,
	}
	return result
}
