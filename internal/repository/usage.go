package repository

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

// UsageDelta is one chargeable call folded into the monthly meter.
type UsageDelta struct {
	Cost          float64
	SmallCalls    int
	SmartCalls    int
	FallbackCalls int
	CaptionCalls  int
}

// UsageRepository persists the per-subject monthly meter. IncrementUsage is a
// single upsert-with-increment statement so concurrent tier calls for the same
// subject never lose updates.
type UsageRepository interface {
	IncrementUsage(subjectID int64, month string, delta UsageDelta) error
	GetUsage(subjectID int64, month string) (*models.UsageMeter, error)
}

type usageRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewUsageRepository(db *sqlx.DB, logger *zap.Logger) UsageRepository {
	return &usageRepository{db: db, logger: logger}
}

func (r *usageRepository) IncrementUsage(subjectID int64, month string, delta UsageDelta) error {
	query := `INSERT INTO usage_meters (subject_id, month, estimated_cost, small_calls, smart_calls, fallback_calls, caption_calls, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	          ON CONFLICT (subject_id, month) DO UPDATE SET
	              estimated_cost = usage_meters.estimated_cost + EXCLUDED.estimated_cost,
	              small_calls    = usage_meters.small_calls + EXCLUDED.small_calls,
	              smart_calls    = usage_meters.smart_calls + EXCLUDED.smart_calls,
	              fallback_calls = usage_meters.fallback_calls + EXCLUDED.fallback_calls,
	              caption_calls  = usage_meters.caption_calls + EXCLUDED.caption_calls,
	              updated_at     = NOW()`
	_, err := r.db.Exec(query, subjectID, month, delta.Cost, delta.SmallCalls, delta.SmartCalls, delta.FallbackCalls, delta.CaptionCalls)
	return err
}

func (r *usageRepository) GetUsage(subjectID int64, month string) (*models.UsageMeter, error) {
	var meter models.UsageMeter
	query := `SELECT subject_id, month, estimated_cost, small_calls, smart_calls, fallback_calls, caption_calls, updated_at
	          FROM usage_meters WHERE subject_id = $1 AND month = $2`
	err := r.db.Get(&meter, query, subjectID, month)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No chargeable calls yet this month
		}
		return nil, err
	}
	return &meter, nil
}
