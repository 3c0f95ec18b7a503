package repository

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

// CheckpointRepository manages the per-conversation scan checkpoint. Every
// write is an atomic upsert keyed by chat_id: concurrent scans triggered by
// ingestion and by the scheduler tick serialize on the row instead of racing
// a read-then-write. Last writer wins on timestamps.
type CheckpointRepository interface {
	GetCheckpoint(chatID int64) (*models.ScanCheckpoint, error)
	StampTier1Scan(chatID int64, at time.Time) error
	StampTier2Scan(chatID int64, at time.Time) error
	TouchActivity(chatID int64, at time.Time) error
	AppendPending(chatID int64, messageIDs []int64) error
	RemovePending(chatID int64, messageIDs []int64) error
	SetScanInterval(chatID int64, minutes int) error
}

type checkpointRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewCheckpointRepository(db *sqlx.DB, logger *zap.Logger) CheckpointRepository {
	return &checkpointRepository{db: db, logger: logger}
}

func (r *checkpointRepository) GetCheckpoint(chatID int64) (*models.ScanCheckpoint, error) {
	var cp models.ScanCheckpoint
	query := `SELECT chat_id, last_tier1_scan_at, last_tier2_scan_at, last_activity_at, scan_interval_minutes, pending_message_ids, updated_at
	          FROM scan_checkpoints WHERE chat_id = $1`
	err := r.db.Get(&cp, query, chatID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No checkpoint yet
		}
		return nil, err
	}
	return &cp, nil
}

func (r *checkpointRepository) StampTier1Scan(chatID int64, at time.Time) error {
	query := `INSERT INTO scan_checkpoints (chat_id, last_tier1_scan_at, updated_at)
	          VALUES ($1, $2, NOW())
	          ON CONFLICT (chat_id) DO UPDATE SET last_tier1_scan_at = EXCLUDED.last_tier1_scan_at, updated_at = NOW()`
	_, err := r.db.Exec(query, chatID, at)
	return err
}

func (r *checkpointRepository) StampTier2Scan(chatID int64, at time.Time) error {
	query := `INSERT INTO scan_checkpoints (chat_id, last_tier2_scan_at, updated_at)
	          VALUES ($1, $2, NOW())
	          ON CONFLICT (chat_id) DO UPDATE SET last_tier2_scan_at = EXCLUDED.last_tier2_scan_at, updated_at = NOW()`
	_, err := r.db.Exec(query, chatID, at)
	return err
}

func (r *checkpointRepository) TouchActivity(chatID int64, at time.Time) error {
	query := `INSERT INTO scan_checkpoints (chat_id, last_activity_at, updated_at)
	          VALUES ($1, $2, NOW())
	          ON CONFLICT (chat_id) DO UPDATE
	          SET last_activity_at = GREATEST(COALESCE(scan_checkpoints.last_activity_at, EXCLUDED.last_activity_at), EXCLUDED.last_activity_at),
	              updated_at = NOW()`
	_, err := r.db.Exec(query, chatID, at)
	return err
}

// AppendPending adds message ids to the pending batch without reading the row
// first. array_cat keeps concurrent appends from losing each other.
func (r *checkpointRepository) AppendPending(chatID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	query := `INSERT INTO scan_checkpoints (chat_id, pending_message_ids, updated_at)
	          VALUES ($1, $2, NOW())
	          ON CONFLICT (chat_id) DO UPDATE
	          SET pending_message_ids = array_cat(scan_checkpoints.pending_message_ids, EXCLUDED.pending_message_ids),
	              updated_at = NOW()`
	_, err := r.db.Exec(query, chatID, pq.Array(messageIDs))
	return err
}

// RemovePending drops only the given ids from the pending batch. Ids parked
// by a concurrent ingest between read and scan stay on the list.
func (r *checkpointRepository) RemovePending(chatID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	query := `UPDATE scan_checkpoints
	          SET pending_message_ids = (
	                  SELECT COALESCE(array_agg(id), '{}')
	                  FROM unnest(pending_message_ids) AS id
	                  WHERE NOT (id = ANY($2))
	              ),
	              updated_at = NOW()
	          WHERE chat_id = $1`
	_, err := r.db.Exec(query, chatID, pq.Array(messageIDs))
	return err
}

func (r *checkpointRepository) SetScanInterval(chatID int64, minutes int) error {
	query := `INSERT INTO scan_checkpoints (chat_id, scan_interval_minutes, updated_at)
	          VALUES ($1, $2, NOW())
	          ON CONFLICT (chat_id) DO UPDATE SET scan_interval_minutes = EXCLUDED.scan_interval_minutes, updated_at = NOW()`
	_, err := r.db.Exec(query, chatID, minutes)
	return err
}
