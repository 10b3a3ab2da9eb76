package syncer

import (
	"encoding/json"

	"github.com/MarcoPoloResearchLab/courtside/internal/remote"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"gorm.io/datatypes"
)

func rowFromRecord(record store.Record) remote.Row {
	return remote.Row{
		ID:              record.ID,
		UserID:          record.UserID,
		AthleteID:       record.AthleteID,
		CreatedAtMillis: record.CreatedAt.UnixMilli(),
		UpdatedAtMillis: record.UpdatedAt.UnixMilli(),
		Fields:          record.Fields.Clone(),
	}
}

func recordFromRow(row remote.Row) store.Record {
	fields := store.Fields{}
	for key, value := range row.Fields {
		if remote.IsMetaColumn(key) {
			continue
		}
		fields[key] = value
	}
	return store.Live(row.ID, row.UserID, row.AthleteID, fields,
		store.FromMillis(row.CreatedAtMillis), store.FromMillis(row.UpdatedAtMillis))
}

func payload(record *store.Record) datatypes.JSON {
	if record == nil || record.IsTombstone() {
		return datatypes.JSON("{}")
	}
	encoded, err := json.Marshal(record.Fields)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(encoded)
}
