package store

import (
	"encoding/json"
	"time"
)

// Fields holds the domain-specific values of a record.
type Fields map[string]any

// Clone returns a shallow copy of the fields.
func (f Fields) Clone() Fields {
	clone := make(Fields, len(f))
	for key, value := range f {
		clone[key] = value
	}
	return clone
}

// Equal compares two field sets by their JSON encoding.
func (f Fields) Equal(other Fields) bool {
	left, leftErr := json.Marshal(f.orEmpty())
	right, rightErr := json.Marshal(other.orEmpty())
	if leftErr != nil || rightErr != nil {
		return false
	}
	return string(left) == string(right)
}

func (f Fields) orEmpty() Fields {
	if f == nil {
		return Fields{}
	}
	return f
}

// Tombstone marks a deleted record awaiting remote confirmation.
type Tombstone struct {
	DeletedAt time.Time
}

// Record is either a live row carrying fields or a tombstone carrying only identity.
type Record struct {
	ID        string
	UserID    string
	AthleteID string
	Fields    Fields
	CreatedAt time.Time
	UpdatedAt time.Time
	Tombstone *Tombstone
}

// Live constructs a live record.
func Live(id, userID, athleteID string, fields Fields, createdAt, updatedAt time.Time) Record {
	return Record{
		ID:        id,
		UserID:    userID,
		AthleteID: athleteID,
		Fields:    fields.Clone(),
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
}

// NewTombstone replaces a record with its tombstone. Fields are dropped.
func NewTombstone(record Record, deletedAt time.Time) Record {
	deletedAt = deletedAt.UTC()
	return Record{
		ID:        record.ID,
		UserID:    record.UserID,
		AthleteID: record.AthleteID,
		CreatedAt: record.CreatedAt,
		UpdatedAt: deletedAt,
		Tombstone: &Tombstone{DeletedAt: deletedAt},
	}
}

// IsTombstone reports whether the record is a deletion marker.
func (r Record) IsTombstone() bool {
	return r.Tombstone != nil
}

// Clone returns a copy whose fields may be mutated independently.
func (r Record) Clone() Record {
	clone := r
	if r.Fields != nil {
		clone.Fields = r.Fields.Clone()
	}
	if r.Tombstone != nil {
		tombstone := *r.Tombstone
		clone.Tombstone = &tombstone
	}
	return clone
}

// Same reports whether two records carry identical state.
func (r Record) Same(other Record) bool {
	if r.ID != other.ID || r.UserID != other.UserID || r.AthleteID != other.AthleteID {
		return false
	}
	if r.IsTombstone() != other.IsTombstone() {
		return false
	}
	if r.UpdatedAt.UnixMilli() != other.UpdatedAt.UnixMilli() {
		return false
	}
	if r.IsTombstone() {
		return true
	}
	return r.Fields.Equal(other.Fields)
}
