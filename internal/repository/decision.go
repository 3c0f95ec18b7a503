package repository

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

type DecisionRepository interface {
	SaveDecision(decision *models.SmartDecision) error
	GetDecisionByID(id int64) (*models.SmartDecision, error)
	GetDecisionsBySubject(subjectID int64, limit int) ([]*models.SmartDecision, error)
}

type decisionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewDecisionRepository(db *sqlx.DB, logger *zap.Logger) DecisionRepository {
	return &decisionRepository{db: db, logger: logger}
}

func (r *decisionRepository) SaveDecision(decision *models.SmartDecision) error {
	query := `INSERT INTO smart_decisions (evaluation_id, chat_id, subject_id, window_from, window_to, final_risk_score,
	              threat_type, confidence, action, key_reasons, evidence_message_ids, fallback_used, model)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id, created_at`
	return r.db.QueryRowx(query, decision.EvaluationID, decision.ChatID, decision.SubjectID, decision.WindowFrom,
		decision.WindowTo, decision.FinalRiskScore, decision.ThreatType, decision.Confidence, decision.Action,
		decision.KeyReasons, decision.EvidenceMessageIDs, decision.FallbackUsed, decision.Model).StructScan(decision)
}

func (r *decisionRepository) GetDecisionByID(id int64) (*models.SmartDecision, error) {
	var decision models.SmartDecision
	query := `SELECT id, evaluation_id, chat_id, subject_id, window_from, window_to, final_risk_score, threat_type,
	              confidence, action, key_reasons, evidence_message_ids, fallback_used, model, created_at
	          FROM smart_decisions WHERE id = $1`
	err := r.db.Get(&decision, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &decision, nil
}

func (r *decisionRepository) GetDecisionsBySubject(subjectID int64, limit int) ([]*models.SmartDecision, error) {
	var decisions []*models.SmartDecision
	query := `SELECT id, evaluation_id, chat_id, subject_id, window_from, window_to, final_risk_score, threat_type,
	              confidence, action, key_reasons, evidence_message_ids, fallback_used, model, created_at
	          FROM smart_decisions WHERE subject_id = $1 ORDER BY created_at DESC LIMIT $2`
	err := r.db.Select(&decisions, query, subjectID, limit)
	if err != nil {
		return nil, err
	}
	return decisions, nil
}
