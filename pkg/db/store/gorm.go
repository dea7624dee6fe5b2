package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mwantia/lakesync/pkg/db/migrations"
	"github.com/mwantia/lakesync/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Bound on the number of bind variables per IN clause; sqlite caps a
// statement at 32766.
const batchSize = 500

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// gormStore implements CatalogStore on top of any gorm dialector. SQLiteStore
// and PostgresStore only differ in how they open and tune the connection.
type gormStore struct {
	db *gorm.DB
}

// ParseLogLevel maps a configured level name onto gorm's logger levels.
func ParseLogLevel(level string) logger.LogLevel {
	switch level {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}

func openGorm(dialector gorm.Dialector, level logger.LogLevel) (*gorm.DB, error) {
	// Default to silent logging
	if level == 0 {
		level = logger.Silent
	}

	return gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// DB returns the underlying GORM database instance
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Close closes the database connection
func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Cleanup closes the connection when the service container shuts down.
func (s *gormStore) Cleanup(ctx context.Context) error {
	return s.Close()
}

// Migrate runs all pending versioned migrations
func (s *gormStore) Migrate(ctx context.Context) error {
	_, err := migrations.NewMigrator(s.db).Migrate(ctx)
	return err
}

func (s *gormStore) SchemaStatus(ctx context.Context) ([]migrations.MigrationStatus, error) {
	return migrations.NewMigrator(s.db).Status(ctx)
}

// Health checks database connectivity
func (s *gormStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Account operations

func (s *gormStore) CreateAccount(ctx context.Context, account *models.Account) error {
	return s.db.WithContext(ctx).Create(account).Error
}

func (s *gormStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

func (s *gormStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.WithContext(ctx).Order("id").Find(&accounts).Error
	return accounts, err
}

func (s *gormStore) UpdateAccount(ctx context.Context, account *models.Account) error {
	return s.db.WithContext(ctx).Save(account).Error
}

func (s *gormStore) DeleteAccount(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", id).Delete(&models.Source{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", id).Delete(&models.File{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", id).Delete(&models.RebuildRun{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Account{}, "id = ?", id).Error
	})
}

func (s *gormStore) ApplyUsage(ctx context.Context, accountID string, delta UsageDelta) error {
	if delta.IsZero() {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Account{}).
			Where("id = ?", accountID).
			Updates(map[string]any{
				"upload_count":  gorm.Expr("upload_count + ?", delta.Uploads),
				"refresh_count": gorm.Expr("refresh_count + ?", delta.Refreshes),
				"ping_count":    gorm.Expr("ping_count + ?", delta.Pings),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// File operations

func (s *gormStore) CreateFile(ctx context.Context, file *models.File) error {
	return s.db.WithContext(ctx).Create(file).Error
}

func (s *gormStore) GetFile(ctx context.Context, accountID, key string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND key = ?", accountID, key).
		First(&file).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &file, nil
}

func (s *gormStore) GetFileByID(ctx context.Context, id uint) (*models.File, error) {
	var file models.File
	if err := s.db.WithContext(ctx).First(&file, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &file, nil
}

func (s *gormStore) ListFiles(ctx context.Context, accountID string, filter FileFilter) ([]models.File, error) {
	var files []models.File
	query := s.db.WithContext(ctx).Where("account_id = ?", accountID)

	if filter.Prefix != "" {
		query = query.Where(`key LIKE ? ESCAPE '\'`, escapeLike(filter.Prefix)+"%")
	}
	// Hidden keys have a segment starting with a dot. They are dropped
	// before paging so every page is full.
	if !filter.IncludeHidden {
		query = query.Where("key NOT LIKE ? AND key NOT LIKE ?", ".%", "%/.%")
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	err := query.Order("key").Find(&files).Error
	return files, err
}

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

func (s *gormStore) ListAccountFiles(ctx context.Context, accountID string) ([]models.File, error) {
	return s.ListFiles(ctx, accountID, FileFilter{IncludeHidden: true})
}

func (s *gormStore) UpdateFile(ctx context.Context, file *models.File) error {
	return s.db.WithContext(ctx).Save(file).Error
}

func (s *gormStore) DeleteFile(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.File{}, id).Error
}

func (s *gormStore) DeleteFilesByAccount(ctx context.Context, accountID string) error {
	return s.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&models.File{}).Error
}

func (s *gormStore) ApplyChanges(ctx context.Context, accountID string, changes ChangeSet) error {
	if changes.Empty() {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(changes.Create) > 0 {
			if err := tx.CreateInBatches(changes.Create, batchSize).Error; err != nil {
				return fmt.Errorf("failed to create files: %w", err)
			}
		}

		for _, file := range changes.Update {
			if file.AccountID != accountID {
				return fmt.Errorf("file %d belongs to account '%s', not '%s'", file.ID, file.AccountID, accountID)
			}
			if err := tx.Save(file).Error; err != nil {
				return fmt.Errorf("failed to update file '%s': %w", file.Key, err)
			}
		}

		for _, ids := range chunk(changes.Touch, batchSize) {
			err := tx.Model(&models.File{}).
				Where("account_id = ? AND id IN ?", accountID, ids).
				Update("last_checked", changes.CheckedAt).Error
			if err != nil {
				return fmt.Errorf("failed to touch files: %w", err)
			}
		}

		for _, ids := range chunk(changes.Delete, batchSize) {
			err := tx.Where("account_id = ? AND id IN ?", accountID, ids).
				Delete(&models.File{}).Error
			if err != nil {
				return fmt.Errorf("failed to delete files: %w", err)
			}
		}

		return nil
	})
}

func (s *gormStore) RecordAggregate(ctx context.Context, accountID, key string, size int64, url string, lastModified, checkedAt time.Time) (*models.File, error) {
	var file models.File

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("account_id = ? AND key = ?", accountID, key).
			First(&file).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			file = models.File{
				AccountID:    accountID,
				Key:          key,
				Size:         size,
				URL:          url,
				Version:      1,
				LastModified: lastModified,
				LastChecked:  checkedAt,
			}
			return tx.Create(&file).Error
		case err != nil:
			return err
		}

		file.Size = size
		file.URL = url
		file.Version++
		file.LastModified = lastModified
		file.LastChecked = checkedAt
		return tx.Save(&file).Error
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// Source operations

func (s *gormStore) CreateSource(ctx context.Context, source *models.Source) error {
	return s.db.WithContext(ctx).Create(source).Error
}

func (s *gormStore) GetSource(ctx context.Context, id uint) (*models.Source, error) {
	var source models.Source
	if err := s.db.WithContext(ctx).First(&source, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &source, nil
}

func (s *gormStore) ListSources(ctx context.Context, accountID string) ([]models.Source, error) {
	var sources []models.Source
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id").Find(&sources).Error
	return sources, err
}

func (s *gormStore) ListDirtySources(ctx context.Context, accountID string) ([]models.Source, error) {
	var sources []models.Source
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND do_update = ?", accountID, true).
		Order("id").
		Find(&sources).Error
	return sources, err
}

func (s *gormStore) UpdateSource(ctx context.Context, source *models.Source) error {
	return s.db.WithContext(ctx).Save(source).Error
}

func (s *gormStore) DeleteSource(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.Source{}, id).Error
}

func (s *gormStore) MarkSourcesDirty(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, batch := range chunk(ids, batchSize) {
			err := tx.Model(&models.Source{}).
				Where("id IN ?", batch).
				Update("do_update", true).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Rebuild history

func (s *gormStore) CreateRebuildRun(ctx context.Context, run *models.RebuildRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *gormStore) ListRebuildRuns(ctx context.Context, accountID string, limit int) ([]models.RebuildRun, error) {
	var runs []models.RebuildRun
	query := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("started_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&runs).Error
	return runs, err
}

func chunk(ids []uint, size int) [][]uint {
	var chunks [][]uint
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
