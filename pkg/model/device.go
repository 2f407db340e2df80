// Package model defines the core entities shared by the orchestration packages:
// devices, credentials, tags, jobs, results, logs, and configuration snapshots.
package model

import (
	"database/sql"
	"net"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/netraven-io/netraven/pkg/util"
)

// DefaultSSHPort is used when a device has no explicit port.
const DefaultSSHPort = 22

// Device represents a managed network device. Devices are created and owned
// by external collaborators; the core reads them when running jobs.
type Device struct {
	ID           int64          `db:"id" json:"id"`
	Hostname     string         `db:"hostname" json:"hostname"`
	IPAddress    string         `db:"ip_address" json:"ip_address"`
	DeviceType   string         `db:"device_type" json:"device_type"`
	Port         int            `db:"port" json:"port"`
	Description  sql.NullString `db:"description" json:"description,omitempty"`
	SerialNumber sql.NullString `db:"serial_number" json:"serial_number,omitempty"`
	Model        sql.NullString `db:"model" json:"model,omitempty"`
	Source       string         `db:"source" json:"source"`
	Notes        sql.NullString `db:"notes" json:"notes,omitempty"`
	LastUpdated  pq.NullTime    `db:"last_updated" json:"last_updated,omitempty"`
	UpdatedBy    sql.NullString `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// NewDevice creates a device with defaults
func NewDevice(hostname, ipAddress string) *Device {
	return &Device{
		Hostname:   hostname,
		IPAddress:  ipAddress,
		DeviceType: "unknown",
		Port:       DefaultSSHPort,
		Source:     "local",
	}
}

// Validate checks device fields
func (d *Device) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(d.Hostname != "", "hostname is required")
	v.Add(net.ParseIP(d.IPAddress) != nil, "ip_address must be a valid IPv4 or IPv6 address")
	v.Add(d.Port >= 1 && d.Port <= 65535, "port must be in range 1-65535")
	v.Add(d.DeviceType != "", "device_type is required")
	return v.Build()
}

// Addr returns the host:port dial address for the device
func (d *Device) Addr() string {
	port := d.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(d.IPAddress, strconv.Itoa(port))
}

// DeviceWithCredential pairs a device with the credential selected for one
// connection attempt. Job modules receive this composite; Device rows are
// never mutated to carry credentials.
type DeviceWithCredential struct {
	Device     *Device
	Credential *Credential
	Password   string `json:"-"` // decrypted, never persisted
}
