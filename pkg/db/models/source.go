package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

type SourceState string

const (
	SourceCreated SourceState = "created"
	SourceRunning SourceState = "running"
	SourceSuccess SourceState = "success"
	SourceError   SourceState = "error"
)

var (
	ErrSourceRunning    = errors.New("source is already running")
	ErrSourceNotRunning = errors.New("source is not running")
)

// Source is a named group of CSV files selected by a directory filter.
type Source struct {
	ID        uint   `gorm:"primaryKey"`
	AccountID string `gorm:"type:text;not null;index"`
	Name      string `gorm:"type:text;not null"`

	DirectoryFilter string `gorm:"type:text;not null"`
	IncludeSubdirs  bool   `gorm:"not null"`
	IncludeColumns  string `gorm:"type:text"` // comma separated, empty means all
	DataPoints      int    `gorm:"not null;default:0"`
	TailOnly        bool   `gorm:"not null"`

	// Aggregation state
	FileID       *uint
	State        SourceState `gorm:"type:text;not null"`
	DoUpdate     bool        `gorm:"not null;index"`
	Error        *string     `gorm:"type:text"`
	MaxPathLevel int         `gorm:"not null;default:0"`
	LastUpdated  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Source) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(s.DirectoryFilter) == "" {
		s.DirectoryFilter = "*"
	}
	if s.State == "" {
		s.State = SourceCreated
	}
	return nil
}

// Columns splits IncludeColumns into trimmed, non-empty names.
func (s *Source) Columns() []string {
	var columns []string
	for _, c := range strings.Split(s.IncludeColumns, ",") {
		if c = strings.TrimSpace(c); c != "" {
			columns = append(columns, c)
		}
	}
	return columns
}

// Start moves the source into running. The previous error and aggregate
// file are cleared, as is the dirty flag.
func (s *Source) Start() error {
	if s.State == SourceRunning {
		return ErrSourceRunning
	}
	s.State = SourceRunning
	s.Error = nil
	s.FileID = nil
	s.DoUpdate = false
	return nil
}

// Succeed completes a run with the freshly aggregated file.
func (s *Source) Succeed(fileID uint, maxPathLevel int, now time.Time) error {
	if s.State != SourceRunning {
		return ErrSourceNotRunning
	}
	s.State = SourceSuccess
	s.FileID = &fileID
	s.MaxPathLevel = maxPathLevel
	s.LastUpdated = &now
	s.Error = nil
	return nil
}

// Fail completes a run with an error; FileID is left untouched.
func (s *Source) Fail(message string) error {
	if s.State != SourceRunning {
		return ErrSourceNotRunning
	}
	s.State = SourceError
	s.Error = &message
	return nil
}
