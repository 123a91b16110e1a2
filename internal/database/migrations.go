package database

import (
	"errors"
	"time"

	"github.com/ParchmentLabs/drafthub/backend/internal/docs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillSnapshotContributors = "2026-08-12_backfill_snapshot_contributors"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillSnapshotContributors, apply: backfillSnapshotContributors},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Snapshots written before contributor attribution landed carry an empty
// contributors column; normalize them to an empty list.
func backfillSnapshotContributors(db *gorm.DB) error {
	return db.Model(&docs.Snapshot{}).
		Where("contributors_json = ''").
		Update("contributors_json", "[]").Error
}
