package models

import "time"

// Chat represents one conversation thread scoped to a subject.
type Chat struct {
	ID             int64      `db:"id" json:"id"`
	SubjectID      int64      `db:"subject_id" json:"subject_id"`
	ExternalID     string     `db:"external_id" json:"external_id"` // platform-side conversation id
	Name           string     `db:"name" json:"name"`
	IsGroup        bool       `db:"is_group" json:"is_group"`
	LastActivityAt *time.Time `db:"last_activity_at" json:"last_activity_at"` // nullable until first message
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
