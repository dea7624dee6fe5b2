package models

import (
	"fmt"
	"strings"
	"time"
)

// File is one catalog row per (account, key). Rows are hard-deleted once the
// object is gone from the bucket.
type File struct {
	ID        uint   `gorm:"primaryKey"`
	AccountID string `gorm:"type:text;not null;uniqueIndex:idx_account_key"`
	Key       string `gorm:"type:text;not null;uniqueIndex:idx_account_key"`

	// File metadata
	Size         int64  `gorm:"not null"`
	ETag         string `gorm:"type:text"`
	URL          string `gorm:"type:text"`
	Version      int64  `gorm:"not null;default:1"`
	LastModified time.Time
	LastChecked  time.Time

	// Timestamps
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PathLevel is the number of '/'-separated segments in the key.
func (f *File) PathLevel() int {
	key := strings.Trim(f.Key, "/")
	if key == "" {
		return 0
	}
	return strings.Count(key, "/") + 1
}

// IsHidden reports whether any segment of the key starts with a dot.
func (f *File) IsHidden() bool {
	return IsHiddenKey(f.Key)
}

func IsHiddenKey(key string) bool {
	for _, segment := range strings.Split(key, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}

// ContentChanged reports whether size or modification time differ from the
// observed values. Times are compared at second precision because S3 and the
// catalog databases don't agree on sub-second resolution.
func (f *File) ContentChanged(size int64, lastModified time.Time) bool {
	if f.Size != size {
		return true
	}
	return !f.LastModified.UTC().Truncate(time.Second).Equal(lastModified.UTC().Truncate(time.Second))
}

// FileURL derives the public object URL. An empty endpoint means AWS S3
// virtual-hosted style.
func FileURL(endpoint, bucket, key string, useSSL bool) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	if endpoint == "" || endpoint == "s3.amazonaws.com" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
	}

	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, endpoint, bucket, key)
}
