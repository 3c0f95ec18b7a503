package repository

import (
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

type SignalRepository interface {
	SaveSignals(signals []*models.SmallSignal) error
	GetSignalsInWindow(chatID int64, from, to time.Time) ([]*models.SmallSignal, error)
}

type signalRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSignalRepository(db *sqlx.DB, logger *zap.Logger) SignalRepository {
	return &signalRepository{db: db, logger: logger}
}

func (r *signalRepository) SaveSignals(signals []*models.SmallSignal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	query := `INSERT INTO small_signals (message_id, chat_id, risk_score, risk_codes, escalate)
	          VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	for _, sig := range signals {
		if err := tx.QueryRowx(query, sig.MessageID, sig.ChatID, sig.RiskScore, sig.RiskCodes, sig.Escalate).StructScan(sig); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetSignalsInWindow returns signals for messages of the chat whose timestamps
// fall within the window, exactly as written by Tier-1.
func (r *signalRepository) GetSignalsInWindow(chatID int64, from, to time.Time) ([]*models.SmallSignal, error) {
	var signals []*models.SmallSignal
	query := `SELECT s.id, s.message_id, s.chat_id, s.risk_score, s.risk_codes, s.escalate, s.created_at
	          FROM small_signals s
	          JOIN messages m ON s.message_id = m.id
	          WHERE s.chat_id = $1 AND m.timestamp >= $2 AND m.timestamp <= $3
	          ORDER BY m.timestamp, s.message_id`
	err := r.db.Select(&signals, query, chatID, from, to)
	if err != nil {
		return nil, err
	}
	return signals, nil
}
