package registry

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/driver"
	"github.com/netraven-io/netraven/pkg/model"
)

// Reachability checks whether a device answers TCP connections on its
// management port and on the SSH port, recording connect timings. It needs
// no credential; an unreachable device is reported as a retriable failure.
type Reachability struct{}

// Meta returns the job type metadata
func (Reachability) Meta() Meta {
	return Meta{
		Label:       "Check Reachability",
		Icon:        "signal",
		Description: "Probes the device management and SSH ports over TCP and records connect timings.",
	}
}

// Run executes the reachability check against one device
func (Reachability) Run(ctx context.Context, in RunInput) *model.JobResult {
	device := in.Device.Device
	result := model.NewJobResult(in.JobID, device.ID, true)
	if in.IsProbe() {
		return result
	}

	timeout := config.GetConnectionTimeout()
	elapsed, err := tcpProbe(ctx, device.Addr(), timeout)
	result.Details["reachable"] = err == nil
	result.Details["latency_ms"] = elapsed.Milliseconds()

	sshAddr := net.JoinHostPort(device.IPAddress, strconv.Itoa(model.DefaultSSHPort))
	if sshAddr == device.Addr() {
		result.Details["ssh_port_open"] = err == nil
	} else {
		_, sshErr := tcpProbe(ctx, sshAddr, timeout)
		result.Details["ssh_port_open"] = sshErr == nil
	}

	if err != nil {
		return failWith(result, &driver.Error{
			Kind:   driver.ErrUnreachable,
			Device: device.Hostname,
			Cause:  err,
		})
	}
	return result
}

// tcpProbe dials addr and reports the connect round-trip time
func tcpProbe(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	dialer := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, err
	}
	conn.Close()
	return elapsed, nil
}

// failWith folds a classified transport error into a module result so the
// executor can decide credential rotation and the dispatcher task retries.
func failWith(result *model.JobResult, err error) *model.JobResult {
	result.Success = false
	result.Err = err
	result.Retriable = driver.Retriable(err)
	result.Details[model.DetailError] = err.Error()
	result.Details[model.DetailErrorType] = driver.ClassOf(err)
	return result
}
