package repository

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

const messageColumns = `id, chat_id, subject_id, external_id, sender_role, modality, content_encrypted, caption, media_ref, timestamp, created_at`

type MessageRepository interface {
	SaveMessage(msg *models.Message) error
	GetMessagesByIDs(ids []int64) ([]*models.Message, error)
	GetMessagesSince(chatID int64, since time.Time) ([]*models.Message, error)
	GetMessagesInWindow(chatID int64, from, to time.Time) ([]*models.Message, error)
	UpdateCaption(id int64, caption string) error
}

type messageRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewMessageRepository(db *sqlx.DB, logger *zap.Logger) MessageRepository {
	return &messageRepository{db: db, logger: logger}
}

func (r *messageRepository) SaveMessage(msg *models.Message) error {
	query := `INSERT INTO messages (chat_id, subject_id, external_id, sender_role, modality, content_encrypted, caption, media_ref, timestamp)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, created_at`
	return r.db.QueryRowx(query, msg.ChatID, msg.SubjectID, msg.ExternalID, msg.SenderRole, msg.Modality,
		msg.ContentEncrypted, msg.Caption, msg.MediaRef, msg.Timestamp).StructScan(msg)
}

// GetMessagesByIDs loads the pending-batch messages for a scheduled Tier-1
// pass, oldest first.
func (r *messageRepository) GetMessagesByIDs(ids []int64) ([]*models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var msgs []*models.Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ANY($1) ORDER BY timestamp, id`
	err := r.db.Select(&msgs, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessagesSince returns messages of the chat strictly newer than the given
// timestamp, oldest first.
func (r *messageRepository) GetMessagesSince(chatID int64, since time.Time) ([]*models.Message, error) {
	var msgs []*models.Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = $1 AND timestamp > $2 ORDER BY timestamp, id`
	err := r.db.Select(&msgs, query, chatID, since)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepository) GetMessagesInWindow(chatID int64, from, to time.Time) ([]*models.Message, error) {
	var msgs []*models.Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = $1 AND timestamp >= $2 AND timestamp <= $3 ORDER BY timestamp, id`
	err := r.db.Select(&msgs, query, chatID, from, to)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateCaption backfills the derived caption/transcript. The only mutation
// messages ever receive.
func (r *messageRepository) UpdateCaption(id int64, caption string) error {
	query := `UPDATE messages SET caption = $1 WHERE id = $2`
	_, err := r.db.Exec(query, caption, id)
	return err
}
