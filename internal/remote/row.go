package remote

import (
	"encoding/json"
	"fmt"
)

// Column names reserved for row metadata on the wire.
const (
	ColumnID        = "id"
	ColumnUserID    = "user_id"
	ColumnAthleteID = "athlete_id"
	ColumnCreatedAt = "created_at_ms"
	ColumnUpdatedAt = "updated_at_ms"
)

// Row is one remote table row: metadata columns plus domain fields, flattened on the wire.
type Row struct {
	ID              string
	UserID          string
	AthleteID       string
	CreatedAtMillis int64
	UpdatedAtMillis int64
	Fields          map[string]any
}

// IsMetaColumn reports whether key is reserved for row metadata.
func IsMetaColumn(key string) bool {
	switch key {
	case ColumnID, ColumnUserID, ColumnAthleteID, ColumnCreatedAt, ColumnUpdatedAt:
		return true
	default:
		return false
	}
}

func (r Row) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+5)
	for key, value := range r.Fields {
		if IsMetaColumn(key) {
			continue
		}
		flat[key] = value
	}
	flat[ColumnID] = r.ID
	flat[ColumnUserID] = r.UserID
	flat[ColumnAthleteID] = r.AthleteID
	flat[ColumnCreatedAt] = r.CreatedAtMillis
	flat[ColumnUpdatedAt] = r.UpdatedAtMillis
	return json.Marshal(flat)
}

func (r *Row) UnmarshalJSON(data []byte) error {
	flat := map[string]any{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	decoded := Row{Fields: make(map[string]any, len(flat))}
	for key, value := range flat {
		var err error
		switch key {
		case ColumnID:
			decoded.ID, err = stringColumn(key, value)
		case ColumnUserID:
			decoded.UserID, err = stringColumn(key, value)
		case ColumnAthleteID:
			decoded.AthleteID, err = stringColumn(key, value)
		case ColumnCreatedAt:
			decoded.CreatedAtMillis, err = millisColumn(key, value)
		case ColumnUpdatedAt:
			decoded.UpdatedAtMillis, err = millisColumn(key, value)
		default:
			decoded.Fields[key] = value
		}
		if err != nil {
			return err
		}
	}
	*r = decoded
	return nil
}

func stringColumn(key string, value any) (string, error) {
	switch typed := value.(type) {
	case nil:
		return "", nil
	case string:
		return typed, nil
	default:
		return "", fmt.Errorf("column %s: expected string, got %T", key, value)
	}
}

func millisColumn(key string, value any) (int64, error) {
	switch typed := value.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(typed), nil
	default:
		return 0, fmt.Errorf("column %s: expected number, got %T", key, value)
	}
}
