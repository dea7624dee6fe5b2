package migrations

import (
	"github.com/mwantia/lakesync/pkg/db/models"
	"gorm.io/gorm"
)

// catalogMigrations lists every schema step. Append only.
func catalogMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Accounts, files and sources",
			Up: func(db *gorm.DB) error {
				return db.AutoMigrate(&models.Account{}, &models.File{}, &models.Source{})
			},
			Down: func(db *gorm.DB) error {
				return db.Migrator().DropTable(&models.Source{}, &models.File{}, &models.Account{})
			},
		},
		{
			Version:     2,
			Description: "Rebuild run history",
			Up: func(db *gorm.DB) error {
				return db.AutoMigrate(&models.RebuildRun{})
			},
			Down: func(db *gorm.DB) error {
				return db.Migrator().DropTable(&models.RebuildRun{})
			},
		},
	}
}
