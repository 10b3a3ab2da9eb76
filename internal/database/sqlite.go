package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"github.com/MarcoPoloResearchLab/courtside/internal/tables"
	"github.com/MarcoPoloResearchLab/courtside/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenMirror opens the client-side mirror and brings its schema up to date.
func OpenMirror(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	models := append(store.Models(), &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, mirrorMigrations(), logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("local mirror initialized", zap.String("path", path))
	}
	return db, nil
}

// OpenRemote opens the server-side store backing the REST tables.
func OpenRemote(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&users.Identity{}, &users.AthleteProfile{}, &tables.RowChange{}, &migrationRecord{}); err != nil {
		return nil, err
	}
	if err := tables.Migrate(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, remoteMigrations(), logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("remote database initialized", zap.String("path", path))
	}
	return db, nil
}

func openSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
