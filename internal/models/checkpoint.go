package models

import (
	"time"

	"github.com/lib/pq"
)

// ScanCheckpoint is the per-conversation scheduling state, one row per chat.
// It is the only mutable scheduling state and is always written via upsert
// keyed by chat_id so concurrent scans cannot race a read-then-write.
type ScanCheckpoint struct {
	ChatID              int64         `db:"chat_id" json:"chat_id"`
	LastTier1ScanAt     *time.Time    `db:"last_tier1_scan_at" json:"last_tier1_scan_at"`
	LastTier2ScanAt     *time.Time    `db:"last_tier2_scan_at" json:"last_tier2_scan_at"`
	LastActivityAt      *time.Time    `db:"last_activity_at" json:"last_activity_at"`
	ScanIntervalMinutes int           `db:"scan_interval_minutes" json:"scan_interval_minutes"`
	PendingMessageIDs   pq.Int64Array `db:"pending_message_ids" json:"pending_message_ids"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}
