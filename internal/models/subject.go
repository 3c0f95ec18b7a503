package models

import "time"

// Subject represents a monitored minor stored in the 'subjects' table.
type Subject struct {
	ID                int64     `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Age               int       `db:"age" json:"age"`
	Platform          string    `db:"platform" json:"platform"` // primary messaging platform label
	MonitoringEnabled bool      `db:"monitoring_enabled" json:"monitoring_enabled"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// DefaultSubjectAge is used in classifier prompts when a subject's age is unknown.
const DefaultSubjectAge = 13
