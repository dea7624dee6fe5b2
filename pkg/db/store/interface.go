package store

import (
	"context"
	"errors"
	"time"

	"github.com/mwantia/lakesync/pkg/db/migrations"
	"github.com/mwantia/lakesync/pkg/db/models"
)

var ErrNotFound = errors.New("record not found")

// ChangeSet holds every catalog mutation of one reconciliation pass. It is
// committed as a single transaction by ApplyChanges.
type ChangeSet struct {
	Create    []*models.File
	Update    []*models.File
	Touch     []uint // IDs whose last_checked is bumped to CheckedAt
	Delete    []uint
	CheckedAt time.Time
}

func (cs ChangeSet) Empty() bool {
	return len(cs.Create) == 0 && len(cs.Update) == 0 && len(cs.Touch) == 0 && len(cs.Delete) == 0
}

// FileFilter narrows ListFiles. Prefix is matched literally.
type FileFilter struct {
	Prefix        string
	IncludeHidden bool
	Limit         int
	Offset        int
}

// UsageDelta is added onto the account counters.
type UsageDelta struct {
	Uploads   int64
	Refreshes int64
	Pings     int64
}

func (d UsageDelta) IsZero() bool {
	return d.Uploads == 0 && d.Refreshes == 0 && d.Pings == 0
}

// CatalogStore defines the interface for database operations
type CatalogStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	SchemaStatus(ctx context.Context) ([]migrations.MigrationStatus, error)
	Health(ctx context.Context) error

	// Init connects and migrates; Cleanup closes. Both are driven by the
	// agent's service container.
	Init(ctx context.Context) error
	Cleanup(ctx context.Context) error

	// Account operations
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	UpdateAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, id string) error
	ApplyUsage(ctx context.Context, accountID string, delta UsageDelta) error

	// File operations
	CreateFile(ctx context.Context, file *models.File) error
	GetFile(ctx context.Context, accountID, key string) (*models.File, error)
	GetFileByID(ctx context.Context, id uint) (*models.File, error)
	ListFiles(ctx context.Context, accountID string, filter FileFilter) ([]models.File, error)
	ListAccountFiles(ctx context.Context, accountID string) ([]models.File, error)
	UpdateFile(ctx context.Context, file *models.File) error
	DeleteFile(ctx context.Context, id uint) error
	DeleteFilesByAccount(ctx context.Context, accountID string) error
	ApplyChanges(ctx context.Context, accountID string, changes ChangeSet) error
	// RecordAggregate upserts an aggregate written by the worker. The version
	// is bumped on every call.
	RecordAggregate(ctx context.Context, accountID, key string, size int64, url string, lastModified, checkedAt time.Time) (*models.File, error)

	// Source operations
	CreateSource(ctx context.Context, source *models.Source) error
	GetSource(ctx context.Context, id uint) (*models.Source, error)
	ListSources(ctx context.Context, accountID string) ([]models.Source, error)
	ListDirtySources(ctx context.Context, accountID string) ([]models.Source, error)
	UpdateSource(ctx context.Context, source *models.Source) error
	DeleteSource(ctx context.Context, id uint) error
	MarkSourcesDirty(ctx context.Context, ids []uint) error

	// Rebuild history
	CreateRebuildRun(ctx context.Context, run *models.RebuildRun) error
	ListRebuildRuns(ctx context.Context, accountID string, limit int) ([]models.RebuildRun, error)
}
