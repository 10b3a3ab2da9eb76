package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Op enumerates outbox operations.
type Op string

const (
	// OpUpsert pushes the current record state.
	OpUpsert Op = "upsert"
	// OpDelete pushes a deletion for a tombstoned record.
	OpDelete Op = "delete"
)

// RecordRow is the physical row backing every collection.
type RecordRow struct {
	Collection      string         `gorm:"column:collection;primaryKey;size:64;not null;index:idx_records_owner,priority:1"`
	RecordID        string         `gorm:"column:record_id;primaryKey;size:190;not null"`
	UserID          string         `gorm:"column:user_id;size:190;not null;default:'';index:idx_records_owner,priority:2"`
	AthleteID       string         `gorm:"column:athlete_id;size:190;not null;default:'';index:idx_records_owner,priority:3"`
	PayloadJSON     datatypes.JSON `gorm:"column:payload_json;not null"`
	CreatedAtMillis int64          `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64          `gorm:"column:updated_at_ms;not null"`
	DeletedAtMillis *int64         `gorm:"column:deleted_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (RecordRow) TableName() string {
	return "records"
}

// OutboxEntry is one pending change awaiting remote acknowledgement.
type OutboxEntry struct {
	Seq                 int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	Collection          string `gorm:"column:collection;size:64;not null;index:idx_outbox_record,priority:1"`
	RecordID            string `gorm:"column:record_id;size:190;not null;index:idx_outbox_record,priority:2"`
	UserID              string `gorm:"column:user_id;size:190;not null;default:'';index:idx_outbox_user"`
	Op                  Op     `gorm:"column:op;size:16;not null"`
	EnqueuedAtMillis    int64  `gorm:"column:enqueued_at_ms;not null"`
	Attempts            int    `gorm:"column:attempts;not null;default:0"`
	NextAttemptAtMillis int64  `gorm:"column:next_attempt_at_ms;not null;default:0"`
	LastError           string `gorm:"column:last_error;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (OutboxEntry) TableName() string {
	return "outbox"
}

// Conflict records how a disagreement between local and remote state was settled.
type Conflict struct {
	ConflictID            int64          `gorm:"column:conflict_id;primaryKey;autoIncrement"`
	Collection            string         `gorm:"column:collection;size:64;not null"`
	RecordID              string         `gorm:"column:record_id;size:190;not null"`
	UserID                string         `gorm:"column:user_id;size:190;not null;index:idx_conflicts_user_time,priority:1"`
	Source                string         `gorm:"column:source;size:32;not null"`
	Resolution            string         `gorm:"column:resolution;size:16;not null"`
	LocalUpdatedAtMillis  int64          `gorm:"column:local_updated_at_ms;not null;default:0"`
	RemoteUpdatedAtMillis int64          `gorm:"column:remote_updated_at_ms;not null;default:0"`
	LocalPayloadJSON      datatypes.JSON `gorm:"column:local_payload_json"`
	RemotePayloadJSON     datatypes.JSON `gorm:"column:remote_payload_json"`
	DetectedAtMillis      int64          `gorm:"column:detected_at_ms;not null;index:idx_conflicts_user_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Conflict) TableName() string {
	return "sync_conflicts"
}

// Models lists the GORM models that make up the local mirror schema.
func Models() []any {
	return []any{&RecordRow{}, &OutboxEntry{}, &Conflict{}}
}

func toRow(collection Collection, record Record) (RecordRow, error) {
	payload := []byte("{}")
	if !record.IsTombstone() {
		encoded, err := json.Marshal(record.Fields.orEmpty())
		if err != nil {
			return RecordRow{}, fmt.Errorf("encode fields: %w", err)
		}
		payload = encoded
	}
	row := RecordRow{
		Collection:      collection.String(),
		RecordID:        record.ID,
		UserID:          record.UserID,
		AthleteID:       record.AthleteID,
		PayloadJSON:     datatypes.JSON(payload),
		CreatedAtMillis: record.CreatedAt.UnixMilli(),
		UpdatedAtMillis: record.UpdatedAt.UnixMilli(),
	}
	if record.IsTombstone() {
		deletedAt := record.Tombstone.DeletedAt.UnixMilli()
		row.DeletedAtMillis = &deletedAt
	}
	return row, nil
}

func fromRow(row RecordRow) (Record, error) {
	record := Record{
		ID:        row.RecordID,
		UserID:    row.UserID,
		AthleteID: row.AthleteID,
		CreatedAt: FromMillis(row.CreatedAtMillis),
		UpdatedAt: FromMillis(row.UpdatedAtMillis),
	}
	if row.DeletedAtMillis != nil {
		record.Tombstone = &Tombstone{DeletedAt: FromMillis(*row.DeletedAtMillis)}
		return record, nil
	}
	fields := Fields{}
	if len(row.PayloadJSON) > 0 {
		if err := json.Unmarshal(row.PayloadJSON, &fields); err != nil {
			return Record{}, fmt.Errorf("decode fields for %s/%s: %w", row.Collection, row.RecordID, err)
		}
	}
	record.Fields = fields
	return record, nil
}

// FromMillis converts unix milliseconds to a UTC time; zero stays the zero time.
func FromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}
