package models

import "time"

// Sender roles within a conversation.
const (
	RoleSubject = "subject"
	RoleOther   = "other"
)

// Message modalities.
const (
	ModalityText  = "text"
	ModalityImage = "image"
	ModalityAudio = "audio"
	ModalityVideo = "video"
)

// Message represents a message stored in the 'messages' table.
// Rows are immutable once stored except for caption/transcript backfill.
type Message struct {
	ID               int64     `db:"id" json:"id"`
	ChatID           int64     `db:"chat_id" json:"chat_id"`
	SubjectID        int64     `db:"subject_id" json:"subject_id"`
	ExternalID       string    `db:"external_id" json:"external_id"` // platform-side message id
	SenderRole       string    `db:"sender_role" json:"sender_role"` // "subject" or "other"
	Modality         string    `db:"modality" json:"modality"`
	ContentEncrypted string    `db:"content_encrypted" json:"-"`
	Caption          *string   `db:"caption" json:"caption,omitempty"` // derived caption/transcript, nullable
	MediaRef         *string   `db:"media_ref" json:"media_ref,omitempty"`
	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// HasAudio reports whether the message carries an audio or video track.
func (m *Message) HasAudio() bool {
	return m.Modality == ModalityAudio || m.Modality == ModalityVideo
}
