package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/store"
)

// Meta is the identity and bookkeeping every domain value embeds.
type Meta struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	AthleteID string    `json:"athlete_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Metadata exposes the embedded Meta to the repository.
func (m *Meta) Metadata() *Meta {
	return m
}

// Entity is satisfied by pointers to structs embedding Meta.
type Entity[T any] interface {
	*T
	Metadata() *Meta
}

var metaKeys = map[string]struct{}{
	"id":         {},
	"user_id":    {},
	"athlete_id": {},
	"created_at": {},
	"updated_at": {},
}

// IsMetaKey reports whether key is owned by the repository rather than the domain.
func IsMetaKey(key string) bool {
	_, ok := metaKeys[key]
	return ok
}

// Encode converts a domain value into a live store record.
func Encode[T any, PT Entity[T]](value T) (store.Record, error) {
	meta := *PT(&value).Metadata()
	encoded, err := json.Marshal(value)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode %T: %w", value, err)
	}
	fields := store.Fields{}
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return store.Record{}, fmt.Errorf("encode %T: %w", value, err)
	}
	for key := range metaKeys {
		delete(fields, key)
	}
	return store.Live(meta.ID, meta.UserID, meta.AthleteID, fields, meta.CreatedAt, meta.UpdatedAt), nil
}

// Decode converts a live store record into a domain value.
func Decode[T any, PT Entity[T]](record store.Record) (T, error) {
	var value T
	if record.IsTombstone() {
		return value, fmt.Errorf("decode %s: %w", record.ID, store.ErrNotFound)
	}
	encoded, err := json.Marshal(record.Fields)
	if err != nil {
		return value, fmt.Errorf("decode %s: %w", record.ID, err)
	}
	if err := json.Unmarshal(encoded, &value); err != nil {
		return value, fmt.Errorf("decode %s: %w", record.ID, err)
	}
	*PT(&value).Metadata() = Meta{
		ID:        record.ID,
		UserID:    record.UserID,
		AthleteID: record.AthleteID,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	return value, nil
}

// normalizeFields round-trips a patch through JSON so stored values always
// have their wire representation.
func normalizeFields(patch store.Fields) (store.Fields, error) {
	encoded, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	normalized := store.Fields{}
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}
