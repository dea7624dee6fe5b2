package migrations

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Migration is one versioned schema step of the catalog database.
type Migration struct {
	Version     int
	Description string
	Up          func(*gorm.DB) error
	Down        func(*gorm.DB) error
}

// schemaVersion is one row per applied migration.
type schemaVersion struct {
	Version     int    `gorm:"primaryKey;autoIncrement:false"`
	Description string `gorm:"type:text"`
	AppliedAt   time.Time
}

func (schemaVersion) TableName() string {
	return "schema_migrations"
}

// MigrationStatus reports whether a migration has been applied and when.
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
	AppliedAt   time.Time
}

// Migrator applies the catalog migrations in version order, each in its own
// transaction together with its history row.
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
	now        func() time.Time
}

func NewMigrator(db *gorm.DB) *Migrator {
	return newMigrator(db, catalogMigrations())
}

func newMigrator(db *gorm.DB, steps []Migration) *Migrator {
	sorted := append([]Migration(nil), steps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	return &Migrator{
		db:         db,
		migrations: sorted,
		now:        time.Now,
	}
}

// Migrate applies every pending migration and returns the versions it
// applied. It stops at the first failure; earlier steps stay applied.
func (m *Migrator) Migrate(ctx context.Context) ([]int, error) {
	if err := m.db.WithContext(ctx).AutoMigrate(&schemaVersion{}); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var versions []int
	for _, migration := range m.migrations {
		if _, ok := done[migration.Version]; ok {
			continue
		}
		if err := m.up(ctx, migration); err != nil {
			return versions, fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}
		versions = append(versions, migration.Version)
	}
	return versions, nil
}

// Rollback reverts the most recently applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	var last schemaVersion
	if err := m.db.WithContext(ctx).Order("version DESC").First(&last).Error; err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	migration, ok := m.find(last.Version)
	if !ok {
		return fmt.Errorf("migration %d is applied but unknown to this build", last.Version)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Down(tx); err != nil {
			return fmt.Errorf("rollback of %d failed: %w", migration.Version, err)
		}
		return tx.Delete(&last).Error
	})
}

func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if !m.db.WithContext(ctx).Migrator().HasTable(&schemaVersion{}) {
		return m.status(nil), nil
	}

	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	return m.status(done), nil
}

func (m *Migrator) status(done map[int]time.Time) []MigrationStatus {
	statuses := make([]MigrationStatus, 0, len(m.migrations))
	for _, migration := range m.migrations {
		at, ok := done[migration.Version]
		statuses = append(statuses, MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
			Applied:     ok,
			AppliedAt:   at,
		})
	}
	return statuses
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	var rows []schemaVersion
	if err := m.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query schema_migrations: %w", err)
	}

	done := make(map[int]time.Time, len(rows))
	for _, row := range rows {
		done[row.Version] = row.AppliedAt
	}
	return done, nil
}

func (m *Migrator) find(version int) (Migration, bool) {
	for _, migration := range m.migrations {
		if migration.Version == version {
			return migration, true
		}
	}
	return Migration{}, false
}

func (m *Migrator) up(ctx context.Context, migration Migration) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Up(tx); err != nil {
			return err
		}
		return tx.Create(&schemaVersion{
			Version:     migration.Version,
			Description: migration.Description,
			AppliedAt:   m.now().UTC(),
		}).Error
	})
}
