package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// CodeSnapshot is a persisted copy of a room's document. Written by the
// snapshot persister off the hot path, never read back into a live room.
type CodeSnapshot struct {
	ID           string    `gorm:"type:varchar(27);primaryKey" json:"id"`
	SessionID    string    `gorm:"type:varchar(255);not null;index:idx_snapshot_session_time" json:"session_id"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	Revision     uint64    `gorm:"not null" json:"revision"`
	Participants int       `gorm:"not null;default:0" json:"participants"`
	SavedAt      time.Time `gorm:"index:idx_snapshot_session_time" json:"saved_at"`
}

// BeforeCreate generates KSUID
func (s *CodeSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = ksuid.New().String()
	}
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now()
	}
	return nil
}

// TableName override
func (CodeSnapshot) TableName() string {
	return "code_snapshots"
}
