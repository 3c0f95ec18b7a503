package repository

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

type ChatRepository interface {
	GetChatByID(id int64) (*models.Chat, error)
	GetChatsBySubject(subjectID int64) ([]*models.Chat, error)
	GetOrCreateChat(chat *models.Chat) error
	TouchActivity(chatID int64, at time.Time) error
}

type chatRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewChatRepository(db *sqlx.DB, logger *zap.Logger) ChatRepository {
	return &chatRepository{db: db, logger: logger}
}

func (r *chatRepository) GetChatByID(id int64) (*models.Chat, error) {
	var chat models.Chat
	query := `SELECT id, subject_id, external_id, name, is_group, last_activity_at, created_at FROM chats WHERE id = $1`
	err := r.db.Get(&chat, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Chat not found
		}
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepository) GetChatsBySubject(subjectID int64) ([]*models.Chat, error) {
	var chats []*models.Chat
	query := `SELECT id, subject_id, external_id, name, is_group, last_activity_at, created_at
	          FROM chats WHERE subject_id = $1 ORDER BY id`
	err := r.db.Select(&chats, query, subjectID)
	if err != nil {
		return nil, err
	}
	return chats, nil
}

// GetOrCreateChat upserts the chat keyed by (subject_id, external_id) and
// fills the struct with the stored row either way.
func (r *chatRepository) GetOrCreateChat(chat *models.Chat) error {
	query := `INSERT INTO chats (subject_id, external_id, name, is_group)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (subject_id, external_id) DO UPDATE SET name = EXCLUDED.name, is_group = EXCLUDED.is_group
	          RETURNING id, subject_id, external_id, name, is_group, last_activity_at, created_at`
	return r.db.QueryRowx(query, chat.SubjectID, chat.ExternalID, chat.Name, chat.IsGroup).StructScan(chat)
}

func (r *chatRepository) TouchActivity(chatID int64, at time.Time) error {
	query := `UPDATE chats SET last_activity_at = GREATEST(COALESCE(last_activity_at, $1), $1) WHERE id = $2`
	_, err := r.db.Exec(query, at, chatID)
	return err
}
