package models

import "time"

type RebuildStatus string

const (
	RebuildOK          RebuildStatus = "ok"
	RebuildDegraded    RebuildStatus = "degraded"
	RebuildConfigError RebuildStatus = "config_error"
)

// RebuildRun records the outcome of one reconciliation pass for an account.
type RebuildRun struct {
	ID        uint   `gorm:"primaryKey"`
	AccountID string `gorm:"type:text;not null;index:idx_rebuild_account"`
	Trigger   string `gorm:"type:text;not null"` // "manual", "webhook", "upload", "schedule"

	Status   RebuildStatus `gorm:"type:text;not null"`
	Attempts int           `gorm:"not null;default:0"`

	FilesCreated   int    `gorm:"not null;default:0"`
	FilesUpdated   int    `gorm:"not null;default:0"`
	FilesDeleted   int    `gorm:"not null;default:0"`
	SourcesDirtied int    `gorm:"not null;default:0"`
	LastError      string `gorm:"type:text"`

	StartedAt   time.Time `gorm:"index:idx_rebuild_account"`
	CompletedAt time.Time

	CreatedAt time.Time
}
