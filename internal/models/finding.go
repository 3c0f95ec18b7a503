package models

import (
	"time"

	"github.com/lib/pq"
)

// Finding risk levels.
const (
	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// Finding is a persisted, guardian-visible alert. Created only when a
// SmartDecision's action is "alert"; marked handled later by a guardian.
type Finding struct {
	ID                   int64          `db:"id" json:"id"`
	SubjectID            int64          `db:"subject_id" json:"subject_id"`
	DecisionID           int64          `db:"decision_id" json:"decision_id"`
	ThreatDetected       bool           `db:"threat_detected" json:"threat_detected"`
	RiskLevel            string         `db:"risk_level" json:"risk_level"`
	ThreatTypes          pq.StringArray `db:"threat_types" json:"threat_types"`
	ExplanationEncrypted string         `db:"explanation_encrypted" json:"explanation"`
	Handled              bool           `db:"handled" json:"handled"`
	HandledAt            *time.Time     `db:"handled_at" json:"handled_at,omitempty"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
}
