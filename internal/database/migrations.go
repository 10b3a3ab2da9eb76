package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"github.com/MarcoPoloResearchLab/courtside/internal/tables"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	migrationLiftInlineSyncFlags = "2026-09-14_lift_inline_sync_flags"
	migrationBackfillUpdatedAt   = "2026-09-21_backfill_updated_at"
	migrationStripProviderPrefix = "2026-09-14_strip_provider_prefix"
	legacyDirtyFlag              = "_dirty"
	legacyDeletedFlag            = "_deleted"
	legacyProviderPrefix         = "google:"
)

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

func mirrorMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationLiftInlineSyncFlags, apply: liftInlineSyncFlags},
		{name: migrationBackfillUpdatedAt, apply: backfillUpdatedAt},
	}
}

func remoteMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationStripProviderPrefix, apply: stripProviderPrefix},
	}
}

func applyMigrations(db *gorm.DB, migrations []migrationDefinition, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		}); err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// liftInlineSyncFlags moves `_dirty`/`_deleted` payload markers written by
// older clients into outbox entries and tombstone columns.
func liftInlineSyncFlags(db *gorm.DB) error {
	var rows []store.RecordRow
	if err := db.Where("payload_json LIKE ? OR payload_json LIKE ?",
		`%"`+legacyDirtyFlag+`"%`, `%"`+legacyDeletedFlag+`"%`).
		Find(&rows).Error; err != nil {
		return err
	}
	now := time.Now().UTC().UnixMilli()
	for _, row := range rows {
		payload := map[string]any{}
		if err := json.Unmarshal(row.PayloadJSON, &payload); err != nil {
			continue
		}
		dirty := truthy(payload[legacyDirtyFlag])
		deleted := truthy(payload[legacyDeletedFlag])
		delete(payload, legacyDirtyFlag)
		delete(payload, legacyDeletedFlag)

		updates := map[string]any{}
		op := store.OpUpsert
		if deleted {
			updates["payload_json"] = datatypes.JSON("{}")
			deletedAt := row.UpdatedAtMillis
			if deletedAt == 0 {
				deletedAt = now
			}
			updates["deleted_at_ms"] = deletedAt
			op = store.OpDelete
		} else {
			encoded, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			updates["payload_json"] = datatypes.JSON(encoded)
		}
		if err := db.Model(&store.RecordRow{}).
			Where("collection = ? AND record_id = ?", row.Collection, row.RecordID).
			Updates(updates).Error; err != nil {
			return err
		}
		if !dirty && !deleted {
			continue
		}
		entry := store.OutboxEntry{
			Collection:       row.Collection,
			RecordID:         row.RecordID,
			UserID:           row.UserID,
			Op:               op,
			EnqueuedAtMillis: now,
		}
		if err := db.Create(&entry).Error; err != nil {
			return err
		}
	}
	return nil
}

func backfillUpdatedAt(db *gorm.DB) error {
	return db.Model(&store.RecordRow{}).
		Where("updated_at_ms = 0").
		Update("updated_at_ms", gorm.Expr("created_at_ms")).Error
}

func stripProviderPrefix(db *gorm.DB) error {
	start := len(legacyProviderPrefix) + 1
	for _, table := range tables.Names() {
		statement := fmt.Sprintf("UPDATE %s SET user_id = substr(user_id, %d) WHERE user_id LIKE '%s%%';", table, start, legacyProviderPrefix)
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}

func truthy(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return strings.EqualFold(typed, "true") || typed == "1"
	case float64:
		return typed != 0
	default:
		return false
	}
}
