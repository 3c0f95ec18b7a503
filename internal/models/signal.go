package models

import (
	"time"

	"github.com/lib/pq"
)

// Fixed risk-code vocabulary shared by the pre-filter and the Tier-1 classifier.
const (
	RiskCodeGrooming       = "grooming"
	RiskCodeMeetup         = "meetup"
	RiskCodeSecrecy        = "secrecy"
	RiskCodeSexualContent  = "sexual_content"
	RiskCodeExplicitImages = "explicit_images"
	RiskCodeExtortion      = "extortion"
	RiskCodeIsolation      = "isolation"
	RiskCodeManipulation   = "manipulation"
	RiskCodePersonalInfo   = "personal_info"
)

// CriticalRiskCodes are the codes that escalate a batch to Tier-2 on their own,
// regardless of the numeric risk score.
var CriticalRiskCodes = map[string]bool{
	RiskCodeGrooming:       true,
	RiskCodeMeetup:         true,
	RiskCodeExtortion:      true,
	RiskCodeExplicitImages: true,
	RiskCodeIsolation:      true,
}

// RiskCodes lists every valid code, used to validate classifier output.
var RiskCodes = map[string]bool{
	RiskCodeGrooming:       true,
	RiskCodeMeetup:         true,
	RiskCodeSecrecy:        true,
	RiskCodeSexualContent:  true,
	RiskCodeExplicitImages: true,
	RiskCodeExtortion:      true,
	RiskCodeIsolation:      true,
	RiskCodeManipulation:   true,
	RiskCodePersonalInfo:   true,
}

// SmallSignal is the write-once Tier-1 output for a single message.
type SmallSignal struct {
	ID        int64          `db:"id" json:"id"`
	MessageID int64          `db:"message_id" json:"message_id"`
	ChatID    int64          `db:"chat_id" json:"chat_id"`
	RiskScore int            `db:"risk_score" json:"risk_score"` // 0-100
	RiskCodes pq.StringArray `db:"risk_codes" json:"risk_codes"`
	Escalate  bool           `db:"escalate" json:"escalate"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
