package tables

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Operation enumerates audited row operations.
type Operation string

const (
	OperationUpsert Operation = "upsert"
	OperationDelete Operation = "delete"
)

const maxIdentifierLength = 190

var (
	// ErrUnknownTable indicates a table outside the served set.
	ErrUnknownTable = errors.New("tables: unknown table")
	// ErrInvalidRow indicates a row missing its identity.
	ErrInvalidRow = errors.New("tables: invalid row")
	// ErrForbidden indicates the row belongs to another user.
	ErrForbidden = errors.New("tables: row owned by another user")
)

var served = map[string]struct{}{
	"game_sessions":     {},
	"game_events":       {},
	"practice_sessions": {},
	"practice_entries":  {},
	"goal_sets":         {},
	"goals":             {},
}

// Names lists the served tables in a stable order.
func Names() []string {
	names := make([]string, 0, len(served))
	for name := range served {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether the table is served.
func Known(table string) bool {
	_, ok := served[table]
	return ok
}

// StoredRow is the persisted shape shared by every served table.
type StoredRow struct {
	RowID           string         `gorm:"column:id;primaryKey;size:190;not null"`
	UserID          string         `gorm:"column:user_id;size:190;not null"`
	AthleteID       string         `gorm:"column:athlete_id;size:190;not null;default:''"`
	PayloadJSON     datatypes.JSON `gorm:"column:payload_json;not null"`
	CreatedAtMillis int64          `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64          `gorm:"column:updated_at_ms;not null"`
}

// Validate checks identifier bounds.
func (r StoredRow) Validate() error {
	id := strings.TrimSpace(r.RowID)
	if id == "" || len(id) > maxIdentifierLength {
		return fmt.Errorf("%w: id", ErrInvalidRow)
	}
	if len(r.AthleteID) > maxIdentifierLength {
		return fmt.Errorf("%w: athlete_id", ErrInvalidRow)
	}
	return nil
}

// RowChange captures an audit trail entry for an applied write.
type RowChange struct {
	ChangeID                int64          `gorm:"column:change_id;primaryKey;autoIncrement"`
	Table                   string         `gorm:"column:table_name;size:64;not null"`
	RowID                   string         `gorm:"column:row_id;size:190;not null;index"`
	UserID                  string         `gorm:"column:user_id;size:190;not null;index"`
	Operation               Operation      `gorm:"column:operation;size:16;not null"`
	AppliedAtMillis         int64          `gorm:"column:applied_at_ms;not null"`
	PreviousUpdatedAtMillis *int64         `gorm:"column:previous_updated_at_ms"`
	NewUpdatedAtMillis      *int64         `gorm:"column:new_updated_at_ms"`
	PayloadJSON             datatypes.JSON `gorm:"column:payload_json"`
}

// TableName provides the explicit table binding for GORM.
func (RowChange) TableName() string {
	return "row_changes"
}

// Migrate creates every served table and its owner index.
func Migrate(db *gorm.DB) error {
	for _, name := range Names() {
		if err := db.Table(name).AutoMigrate(&StoredRow{}); err != nil {
			return err
		}
		index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s (user_id, athlete_id, updated_at_ms)", name, name)
		if err := db.Exec(index).Error; err != nil {
			return err
		}
	}
	return nil
}
