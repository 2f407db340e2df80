package model

import "database/sql"

// DefaultTagName is the reserved tag guaranteed to exist.
const DefaultTagName = "default"

// Tag drives device-credential and device-job associations. A credential or
// job applies to a device iff they share at least one tag.
type Tag struct {
	ID   int64          `db:"id" json:"id"`
	Name string         `db:"name" json:"name"`
	Type sql.NullString `db:"type" json:"type,omitempty"`
}

// IsDefault returns true for the reserved default tag
func (t *Tag) IsDefault() bool {
	return t.Name == DefaultTagName
}
