package models

import (
	"time"

	"github.com/lib/pq"
)

// Tier-2 actions.
const (
	ActionIgnore  = "ignore"
	ActionMonitor = "monitor"
	ActionAlert   = "alert"
)

// Tier-2 threat-type vocabulary.
const (
	ThreatGrooming      = "grooming"
	ThreatSexualContent = "sexual_content"
	ThreatViolence      = "violence"
	ThreatExtortion     = "extortion"
	ThreatManipulation  = "manipulation"
	ThreatNone          = "none"
)

// ThreatTypes lists every valid threat type, used to validate classifier output.
var ThreatTypes = map[string]bool{
	ThreatGrooming:      true,
	ThreatSexualContent: true,
	ThreatViolence:      true,
	ThreatExtortion:     true,
	ThreatManipulation:  true,
	ThreatNone:          true,
}

// Actions lists every valid Tier-2 action.
var Actions = map[string]bool{
	ActionIgnore:  true,
	ActionMonitor: true,
	ActionAlert:   true,
}

// SmartDecision is the write-once Tier-2 output for one conversation-window
// evaluation. EvaluationID ties the row to log lines of the same run.
type SmartDecision struct {
	ID                 int64          `db:"id" json:"id"`
	EvaluationID       string         `db:"evaluation_id" json:"evaluation_id"`
	ChatID             int64          `db:"chat_id" json:"chat_id"`
	SubjectID          int64          `db:"subject_id" json:"subject_id"`
	WindowFrom         time.Time      `db:"window_from" json:"window_from"`
	WindowTo           time.Time      `db:"window_to" json:"window_to"`
	FinalRiskScore     int            `db:"final_risk_score" json:"final_risk_score"` // 0-100
	ThreatType         string         `db:"threat_type" json:"threat_type"`
	Confidence         float64        `db:"confidence" json:"confidence"` // 0-1
	Action             string         `db:"action" json:"action"`
	KeyReasons         pq.StringArray `db:"key_reasons" json:"key_reasons"`
	EvidenceMessageIDs pq.Int64Array  `db:"evidence_message_ids" json:"evidence_message_ids"`
	FallbackUsed       bool           `db:"fallback_used" json:"fallback_used"`
	Model              string         `db:"model" json:"model"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
}
