// Package finding_emitter turns an alerting Tier-2 decision into a durable
// Finding row and a best-effort guardian notification.
package finding_emitter

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/crypto"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/repository"
)

// Notification is the payload handed to the external notification collaborator.
type Notification struct {
	FindingID   int64    `json:"finding_id"`
	SubjectID   int64    `json:"subject_id"`
	SubjectName string   `json:"subject_name"`
	RiskLevel   string   `json:"risk_level"`
	ThreatTypes []string `json:"threat_types"`
	Explanation string   `json:"explanation"`
}

// Notifier delivers guardian notifications. Delivery is best-effort; the
// Finding row is the durable source of truth.
type Notifier interface {
	NotifyFinding(ctx context.Context, n *Notification) error
}

// Emitter builds and persists Findings.
type Emitter struct {
	findings repository.FindingRepository
	notifier Notifier
	cipher   *crypto.Cipher
	logger   *zap.Logger
}

func NewEmitter(findings repository.FindingRepository, notifier Notifier, cipher *crypto.Cipher, logger *zap.Logger) *Emitter {
	return &Emitter{findings: findings, notifier: notifier, cipher: cipher, logger: logger}
}

// RiskLevel maps a final risk score onto the Finding risk-level vocabulary.
func RiskLevel(score int) string {
	switch {
	case score >= 90:
		return models.RiskLevelCritical
	case score >= 70:
		return models.RiskLevelHigh
	case score >= 40:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// Emit persists a Finding for an alerting decision and then attempts
// notification. Notification failure is logged and never rolls back the
// Finding.
func (e *Emitter) Emit(ctx context.Context, subject *models.Subject, decision *models.SmartDecision) (*models.Finding, error) {
	explanation := strings.Join(decision.KeyReasons, "; ")
	encrypted, err := e.cipher.Encrypt(explanation)
	if err != nil {
		e.logger.Error("Failed to encrypt finding explanation, storing empty",
			zap.Int64("decision_id", decision.ID), zap.Error(err))
		encrypted = ""
	}

	finding := &models.Finding{
		SubjectID:            subject.ID,
		DecisionID:           decision.ID,
		ThreatDetected:       true,
		RiskLevel:            RiskLevel(decision.FinalRiskScore),
		ThreatTypes:          []string{decision.ThreatType},
		ExplanationEncrypted: encrypted,
	}
	if err := e.findings.SaveFinding(finding); err != nil {
		return nil, err
	}

	e.logger.Info("Finding created",
		zap.Int64("finding_id", finding.ID),
		zap.Int64("subject_id", subject.ID),
		zap.String("risk_level", finding.RiskLevel),
		zap.String("threat_type", decision.ThreatType))

	if e.notifier != nil {
		err := e.notifier.NotifyFinding(ctx, &Notification{
			FindingID:   finding.ID,
			SubjectID:   subject.ID,
			SubjectName: subject.Name,
			RiskLevel:   finding.RiskLevel,
			ThreatTypes: finding.ThreatTypes,
			Explanation: explanation,
		})
		if err != nil {
			e.logger.Warn("Guardian notification failed, finding remains persisted",
				zap.Int64("finding_id", finding.ID), zap.Error(err))
		}
	}

	return finding, nil
}
