package testutil

import (
	"net"
	"strconv"
	"testing"

	"github.com/netraven-io/netraven/pkg/model"
)

// TargetDevice builds a device aimed at a test listener address.
func TargetDevice(t *testing.T, addr string) *model.Device {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad listener address %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad listener port %q: %v", portStr, err)
	}
	return &model.Device{
		ID:         10,
		Hostname:   "test-device",
		IPAddress:  host,
		DeviceType: "linux",
		Port:       port,
		Source:     "local",
	}
}

// TargetWithCredential pairs TargetDevice with a plaintext credential.
func TargetWithCredential(t *testing.T, addr, user, password string) *model.DeviceWithCredential {
	t.Helper()
	return &model.DeviceWithCredential{
		Device:     TargetDevice(t, addr),
		Credential: Credential(100, user, 10),
		Password:   password,
	}
}

// Device builds a minimal device row fixture.
func Device(id int64, ip string) *model.Device {
	return &model.Device{
		ID:         id,
		Hostname:   "dev-" + strconv.FormatInt(id, 10),
		IPAddress:  ip,
		DeviceType: "cisco_ios",
		Port:       model.DefaultSSHPort,
		Source:     "local",
	}
}

// Credential builds a credential row fixture.
func Credential(id int64, username string, priority int) *model.Credential {
	return &model.Credential{
		ID:       id,
		Username: username,
		Priority: priority,
	}
}

// Job builds an enabled manual job fixture in PENDING state.
func Job(id int64, jobType string) *model.Job {
	job := model.NewJob("job-"+strconv.FormatInt(id, 10), jobType)
	job.ID = id
	return job
}
