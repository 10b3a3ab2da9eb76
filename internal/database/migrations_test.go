package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func openBareMirror(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "mirror.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	models := append(store.Models(), &migrationRecord{})
	if err := database.AutoMigrate(models...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func TestApplyMigrationsLiftsInlineSyncFlags(testContext *testing.T) {
	database := openBareMirror(testContext)

	rows := []store.RecordRow{
		{
			Collection:      store.CollectionGameSessions.String(),
			RecordID:        "dirty-session",
			UserID:          "user-1",
			AthleteID:       "athlete-1",
			PayloadJSON:     datatypes.JSON(`{"status":"active","_dirty":true}`),
			CreatedAtMillis: 1000,
			UpdatedAtMillis: 2000,
		},
		{
			Collection:      store.CollectionGameEvents.String(),
			RecordID:        "deleted-event",
			UserID:          "user-1",
			AthleteID:       "athlete-1",
			PayloadJSON:     datatypes.JSON(`{"type":"shot","_deleted":"true"}`),
			CreatedAtMillis: 1000,
			UpdatedAtMillis: 3000,
		},
		{
			Collection:      store.CollectionGoals.String(),
			RecordID:        "clean-goal",
			UserID:          "user-1",
			AthleteID:       "athlete-1",
			PayloadJSON:     datatypes.JSON(`{"metric":"fg_pct","_dirty":false}`),
			CreatedAtMillis: 1000,
			UpdatedAtMillis: 1000,
		},
	}
	if err := database.Create(&rows).Error; err != nil {
		testContext.Fatalf("failed to seed rows: %v", err)
	}

	if err := applyMigrations(database, mirrorMigrations(), zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var entries []store.OutboxEntry
	if err := database.Order("record_id ASC").Find(&entries).Error; err != nil {
		testContext.Fatalf("failed to load outbox: %v", err)
	}
	if len(entries) != 2 {
		testContext.Fatalf("expected 2 outbox entries, got %d", len(entries))
	}
	if entries[0].RecordID != "deleted-event" || entries[0].Op != store.OpDelete {
		testContext.Fatalf("unexpected delete entry: %#v", entries[0])
	}
	if entries[1].RecordID != "dirty-session" || entries[1].Op != store.OpUpsert {
		testContext.Fatalf("unexpected upsert entry: %#v", entries[1])
	}

	var deleted store.RecordRow
	if err := database.Where("record_id = ?", "deleted-event").Take(&deleted).Error; err != nil {
		testContext.Fatalf("failed to reload deleted row: %v", err)
	}
	if deleted.DeletedAtMillis == nil || *deleted.DeletedAtMillis != 3000 {
		testContext.Fatalf("expected tombstone at 3000, got %v", deleted.DeletedAtMillis)
	}

	var clean store.RecordRow
	if err := database.Where("record_id = ?", "clean-goal").Take(&clean).Error; err != nil {
		testContext.Fatalf("failed to reload clean row: %v", err)
	}
	if string(clean.PayloadJSON) != `{"metric":"fg_pct"}` {
		testContext.Fatalf("expected flags stripped, got %s", clean.PayloadJSON)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationLiftInlineSyncFlags).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database := openBareMirror(testContext)
	if err := applyMigrations(database, mirrorMigrations(), zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	row := store.RecordRow{
		Collection:      store.CollectionGoals.String(),
		RecordID:        "late-goal",
		UserID:          "user-1",
		PayloadJSON:     datatypes.JSON(`{"_dirty":true}`),
		CreatedAtMillis: 10,
		UpdatedAtMillis: 0,
	}
	if err := database.Create(&row).Error; err != nil {
		testContext.Fatalf("failed to seed row: %v", err)
	}
	if err := applyMigrations(database, mirrorMigrations(), zap.NewNop()); err != nil {
		testContext.Fatalf("failed to reapply migrations: %v", err)
	}

	var count int64
	if err := database.Model(&store.OutboxEntry{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count outbox: %v", err)
	}
	if count != 0 {
		testContext.Fatalf("expected applied migrations to be skipped, got %d outbox entries", count)
	}
}

func TestOpenMirrorBackfillsUpdatedAt(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "mirror.db")
	database, err := OpenMirror(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open mirror: %v", err)
	}
	var applied int64
	if err := database.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if applied != int64(len(mirrorMigrations())) {
		testContext.Fatalf("expected %d migrations recorded, got %d", len(mirrorMigrations()), applied)
	}
	if err := backfillUpdatedAt(database); err != nil {
		testContext.Fatalf("backfill failed on empty table: %v", err)
	}
}

func TestOpenRemoteCreatesTables(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "remote.db")
	database, err := OpenRemote(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open remote: %v", err)
	}
	for _, table := range []string{"game_sessions", "game_events", "practice_sessions", "practice_entries", "goal_sets", "goals"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenMirror("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
