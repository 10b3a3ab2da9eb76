package tables

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	noOpLogger         = zap.NewNop()
)

const defaultSelectLimit = 1000

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "tables.service.new"
	opSelect     = "tables.select"
	opUpsert     = "tables.upsert"
	opDelete     = "tables.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service serves per-user rows of the synced tables.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// Query narrows a Select.
type Query struct {
	AthleteID    string
	UpdatedSince *int64
	Limit        int
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Select returns the user's rows ordered by updated_at_ms.
func (s *Service) Select(ctx context.Context, userID, table string, query Query) ([]StoredRow, error) {
	if err := s.checkScope(opSelect, userID, table); err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 || limit > defaultSelectLimit {
		limit = defaultSelectLimit
	}

	statement := s.db.WithContext(ctx).Table(table).Where("user_id = ?", userID)
	if athleteID := strings.TrimSpace(query.AthleteID); athleteID != "" {
		statement = statement.Where("athlete_id = ?", athleteID)
	}
	if query.UpdatedSince != nil {
		statement = statement.Where("updated_at_ms >= ?", *query.UpdatedSince)
	}

	var rows []StoredRow
	if err := statement.Order("updated_at_ms ASC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		s.logError(opSelect, "query_failed", err, zap.String("table", table), zap.String("user_id", userID))
		return nil, newServiceError(opSelect, "query_failed", err)
	}
	return rows, nil
}

// Upsert stores the row unless the stored copy is newer, in which case the
// stored copy is returned with Accepted=false.
func (s *Service) Upsert(ctx context.Context, userID, table string, row StoredRow) (UpsertOutcome, error) {
	if err := s.checkScope(opUpsert, userID, table); err != nil {
		return UpsertOutcome{}, err
	}
	if err := row.Validate(); err != nil {
		return UpsertOutcome{}, newServiceError(opUpsert, "invalid_row", err)
	}
	row.UserID = userID

	var outcome UpsertOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadRow(tx, table, row.RowID)
		if err != nil {
			s.logError(opUpsert, "row_select_failed", err, zap.String("table", table), zap.String("row_id", row.RowID))
			return newServiceError(opUpsert, "row_select_failed", err)
		}
		if existing != nil && existing.UserID != userID {
			return newServiceError(opUpsert, "forbidden", ErrForbidden)
		}

		outcome = resolveUpsert(table, existing, row, s.clock())
		if !outcome.Accepted {
			return nil
		}
		if err := tx.Table(table).Clauses(clause.OnConflict{UpdateAll: true}).Create(&outcome.Row).Error; err != nil {
			s.logError(opUpsert, "row_persist_failed", err, zap.String("table", table), zap.String("row_id", row.RowID))
			return newServiceError(opUpsert, "row_persist_failed", err)
		}
		if err := tx.Create(outcome.audit).Error; err != nil {
			s.logError(opUpsert, "audit_persist_failed", err, zap.String("table", table), zap.String("row_id", row.RowID))
			return newServiceError(opUpsert, "audit_persist_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return UpsertOutcome{}, txErr
	}
	return outcome, nil
}

// Delete removes the row. Deleting an absent row succeeds.
func (s *Service) Delete(ctx context.Context, userID, table, rowID string) error {
	if err := s.checkScope(opDelete, userID, table); err != nil {
		return err
	}
	if strings.TrimSpace(rowID) == "" {
		return newServiceError(opDelete, "invalid_row", ErrInvalidRow)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadRow(tx, table, rowID)
		if err != nil {
			s.logError(opDelete, "row_select_failed", err, zap.String("table", table), zap.String("row_id", rowID))
			return newServiceError(opDelete, "row_select_failed", err)
		}
		if existing == nil {
			return nil
		}
		if existing.UserID != userID {
			return newServiceError(opDelete, "forbidden", ErrForbidden)
		}
		if err := tx.Table(table).Where("id = ?", rowID).Delete(&StoredRow{}).Error; err != nil {
			s.logError(opDelete, "row_delete_failed", err, zap.String("table", table), zap.String("row_id", rowID))
			return newServiceError(opDelete, "row_delete_failed", err)
		}
		audit := &RowChange{
			Table:                   table,
			RowID:                   rowID,
			UserID:                  userID,
			Operation:               OperationDelete,
			AppliedAtMillis:         s.clock().UTC().UnixMilli(),
			PreviousUpdatedAtMillis: pointerTo(existing.UpdatedAtMillis),
		}
		if err := tx.Create(audit).Error; err != nil {
			s.logError(opDelete, "audit_persist_failed", err, zap.String("table", table), zap.String("row_id", rowID))
			return newServiceError(opDelete, "audit_persist_failed", err)
		}
		return nil
	})
}

func (s *Service) checkScope(operation, userID, table string) error {
	if strings.TrimSpace(userID) == "" {
		return newServiceError(operation, "missing_user_id", errMissingUserID)
	}
	if !Known(table) {
		return newServiceError(operation, "unknown_table", ErrUnknownTable)
	}
	return nil
}

func loadRow(tx *gorm.DB, table, rowID string) (*StoredRow, error) {
	var row StoredRow
	err := tx.Table(table).Where("id = ?", rowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s == nil || s.logger == nil || err == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("tables service failure", allFields...)
}
