package tables

import "time"

// UpsertOutcome reports whether an incoming row replaced the stored one.
type UpsertOutcome struct {
	Accepted bool
	Row      StoredRow
	audit    *RowChange
}

// resolveUpsert applies last-writer-wins on updated_at_ms. Ties favour the
// incoming row so a client retrying its own write is never rejected.
func resolveUpsert(table string, existing *StoredRow, incoming StoredRow, appliedAt time.Time) UpsertOutcome {
	if existing != nil && incoming.UpdatedAtMillis < existing.UpdatedAtMillis {
		return UpsertOutcome{Accepted: false, Row: *existing}
	}

	updated := incoming
	appliedAtMillis := appliedAt.UTC().UnixMilli()
	if existing != nil && existing.CreatedAtMillis > 0 {
		updated.CreatedAtMillis = existing.CreatedAtMillis
	}
	if updated.UpdatedAtMillis == 0 {
		updated.UpdatedAtMillis = appliedAtMillis
	}
	if updated.CreatedAtMillis == 0 || updated.CreatedAtMillis > updated.UpdatedAtMillis {
		updated.CreatedAtMillis = updated.UpdatedAtMillis
	}
	if len(updated.PayloadJSON) == 0 {
		updated.PayloadJSON = []byte("{}")
	}

	audit := &RowChange{
		Table:              table,
		RowID:              updated.RowID,
		UserID:             updated.UserID,
		Operation:          OperationUpsert,
		AppliedAtMillis:    appliedAtMillis,
		NewUpdatedAtMillis: pointerTo(updated.UpdatedAtMillis),
		PayloadJSON:        updated.PayloadJSON,
	}
	if existing != nil {
		audit.PreviousUpdatedAtMillis = pointerTo(existing.UpdatedAtMillis)
	}
	return UpsertOutcome{Accepted: true, Row: updated, audit: audit}
}

func pointerTo[T any](value T) *T {
	return &value
}
