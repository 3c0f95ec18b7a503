package repository

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

type SubjectRepository interface {
	GetSubjectByID(id int64) (*models.Subject, error)
	GetMonitoredSubjects() ([]*models.Subject, error)
}

type subjectRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSubjectRepository(db *sqlx.DB, logger *zap.Logger) SubjectRepository {
	return &subjectRepository{db: db, logger: logger}
}

func (r *subjectRepository) GetSubjectByID(id int64) (*models.Subject, error) {
	var subject models.Subject
	query := `SELECT id, name, age, platform, monitoring_enabled, created_at FROM subjects WHERE id = $1`
	err := r.db.Get(&subject, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Subject not found
		}
		return nil, err
	}
	return &subject, nil
}

func (r *subjectRepository) GetMonitoredSubjects() ([]*models.Subject, error) {
	var subjects []*models.Subject
	query := `SELECT id, name, age, platform, monitoring_enabled, created_at FROM subjects WHERE monitoring_enabled = TRUE ORDER BY id`
	err := r.db.Select(&subjects, query)
	if err != nil {
		return nil, err
	}
	return subjects, nil
}
