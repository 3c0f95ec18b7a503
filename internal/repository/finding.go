package repository

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

// ErrFindingNotFound is returned by MarkHandled when the id does not exist.
var ErrFindingNotFound = errors.New("finding not found")

const findingColumns = `id, subject_id, decision_id, threat_detected, risk_level, threat_types, explanation_encrypted, handled, handled_at, created_at`

type FindingRepository interface {
	SaveFinding(finding *models.Finding) error
	GetFindingByID(id int64) (*models.Finding, error)
	GetFindingsBySubject(subjectID int64) ([]*models.Finding, error)
	GetUnhandledFindings() ([]*models.Finding, error)
	MarkHandled(id int64) error
}

type findingRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewFindingRepository(db *sqlx.DB, logger *zap.Logger) FindingRepository {
	return &findingRepository{db: db, logger: logger}
}

func (r *findingRepository) SaveFinding(finding *models.Finding) error {
	query := `INSERT INTO findings (subject_id, decision_id, threat_detected, risk_level, threat_types, explanation_encrypted)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	return r.db.QueryRowx(query, finding.SubjectID, finding.DecisionID, finding.ThreatDetected,
		finding.RiskLevel, finding.ThreatTypes, finding.ExplanationEncrypted).StructScan(finding)
}

func (r *findingRepository) GetFindingByID(id int64) (*models.Finding, error) {
	var finding models.Finding
	query := `SELECT ` + findingColumns + ` FROM findings WHERE id = $1`
	err := r.db.Get(&finding, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &finding, nil
}

func (r *findingRepository) GetFindingsBySubject(subjectID int64) ([]*models.Finding, error) {
	var findings []*models.Finding
	query := `SELECT ` + findingColumns + ` FROM findings WHERE subject_id = $1 ORDER BY created_at DESC`
	err := r.db.Select(&findings, query, subjectID)
	if err != nil {
		return nil, err
	}
	return findings, nil
}

func (r *findingRepository) GetUnhandledFindings() ([]*models.Finding, error) {
	var findings []*models.Finding
	query := `SELECT ` + findingColumns + ` FROM findings WHERE handled = FALSE ORDER BY created_at DESC`
	err := r.db.Select(&findings, query)
	if err != nil {
		return nil, err
	}
	return findings, nil
}

func (r *findingRepository) MarkHandled(id int64) error {
	query := `UPDATE findings SET handled = TRUE, handled_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(query, id)
	if err != nil {
		r.logger.Error("Failed to mark finding handled", zap.Int64("finding_id", id), zap.Error(err))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrFindingNotFound
	}
	return nil
}
