package models

import "time"

// UsageMeter is the per-subject, per-calendar-month cost ledger row.
// One row per (subject, month), created lazily on the first chargeable call
// and only ever incremented within a month.
type UsageMeter struct {
	SubjectID     int64     `db:"subject_id" json:"subject_id"`
	Month         string    `db:"month" json:"month"` // "2006-01"
	EstimatedCost float64   `db:"estimated_cost" json:"estimated_cost"`
	SmallCalls    int       `db:"small_calls" json:"small_calls"`
	SmartCalls    int       `db:"smart_calls" json:"smart_calls"`
	FallbackCalls int       `db:"fallback_calls" json:"fallback_calls"`
	CaptionCalls  int       `db:"caption_calls" json:"caption_calls"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
