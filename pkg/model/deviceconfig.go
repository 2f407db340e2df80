package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DeviceConfiguration is an immutable snapshot of a device's running
// configuration. Snapshots are append-only; consecutive snapshots for the
// same device never share a hash.
type DeviceConfiguration struct {
	ID             int64     `db:"id" json:"id"`
	DeviceID       int64     `db:"device_id" json:"device_id"`
	RetrievedAt    time.Time `db:"retrieved_at" json:"retrieved_at"`
	ConfigText     string    `db:"config_text" json:"config_text"`
	DataHash       string    `db:"data_hash" json:"data_hash"`
	ConfigMetadata JSONMap   `db:"config_metadata" json:"config_metadata,omitempty"`
}

// HashConfig returns the lowercase hex SHA-256 of the config text
func HashConfig(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
