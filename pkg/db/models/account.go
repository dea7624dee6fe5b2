package models

import (
	"time"
)

// Account is a tenant owning exactly one bucket and the credentials to read it.
type Account struct {
	ID     string `gorm:"primaryKey;type:text"`
	Name   string `gorm:"type:text;not null"`
	Bucket string `gorm:"type:text;not null"`
	Region string `gorm:"type:text"`

	AccessKey string `gorm:"type:text;not null"`
	SecretKey string `gorm:"type:text;not null"`

	// Usage counters, only ever changed through store.ApplyUsage.
	UploadCount  int64 `gorm:"not null;default:0"`
	RefreshCount int64 `gorm:"not null;default:0"`
	PingCount    int64 `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relationships
	Files   []File   `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
	Sources []Source `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
}

// HasCredentials reports whether the account can talk to its bucket at all.
func (a *Account) HasCredentials() bool {
	return a.AccessKey != "" && a.SecretKey != "" && a.Bucket != ""
}
