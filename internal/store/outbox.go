package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PendingEntries returns outbox entries for the user ordered by sequence.
// Entries still inside their retry backoff are skipped unless force is set.
func (m *Manager) PendingEntries(ctx context.Context, userID string, now time.Time, force bool) ([]OutboxEntry, error) {
	db, err := m.handle(ctx)
	if err != nil {
		return nil, err
	}
	query := db.Where("user_id = ?", userID)
	if !force {
		query = query.Where("next_attempt_at_ms <= ?", now.UTC().UnixMilli())
	}
	var entries []OutboxEntry
	if err := query.Order("seq ASC").Find(&entries).Error; err != nil {
		m.logError(opPendingEntries, "select_failed", err, zap.String("user_id", userID))
		return nil, newError(opPendingEntries, "select_failed", err)
	}
	return entries, nil
}

// PendingCount counts outbox entries; an empty userID counts every user.
func (m *Manager) PendingCount(ctx context.Context, userID string) (int64, error) {
	db, err := m.handle(ctx)
	if err != nil {
		return 0, err
	}
	query := db.Model(&OutboxEntry{})
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		m.logError(opPendingCount, "count_failed", err)
		return 0, newError(opPendingCount, "count_failed", err)
	}
	return count, nil
}

// Acknowledge removes entries up to and including upToSeq for one record and
// reports how many newer entries remain.
func (m *Manager) Acknowledge(ctx context.Context, collection Collection, id string, upToSeq int64) (int64, error) {
	if err := checkKey(opAcknowledge, collection, id); err != nil {
		return 0, err
	}
	db, err := m.handle(ctx)
	if err != nil {
		return 0, err
	}
	var remaining int64
	txErr := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ? AND record_id = ? AND seq <= ?", collection.String(), id, upToSeq).
			Delete(&OutboxEntry{}).Error; err != nil {
			return err
		}
		count, err := countPending(tx, collection, id)
		if err != nil {
			return err
		}
		remaining = count
		return nil
	})
	if txErr != nil {
		m.logError(opAcknowledge, "transaction_failed", txErr, zap.String("collection", collection.String()), zap.String("record_id", id))
		return 0, newError(opAcknowledge, "transaction_failed", txErr)
	}
	return remaining, nil
}

// MarkFailed bumps the attempt counter of the given entries and defers them.
func (m *Manager) MarkFailed(ctx context.Context, seqs []int64, cause error, nextAttempt time.Time) error {
	if len(seqs) == 0 {
		return nil
	}
	db, err := m.handle(ctx)
	if err != nil {
		return err
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	if err := db.Model(&OutboxEntry{}).
		Where("seq IN ?", seqs).
		Updates(map[string]any{
			"attempts":           gorm.Expr("attempts + 1"),
			"last_error":         message,
			"next_attempt_at_ms": nextAttempt.UTC().UnixMilli(),
		}).Error; err != nil {
		m.logError(opMarkFailed, "update_failed", err)
		return newError(opMarkFailed, "update_failed", err)
	}
	return nil
}

// DropPending discards every outbox entry for one record.
func (m *Manager) DropPending(ctx context.Context, collection Collection, id string) error {
	if err := checkKey(opDropPending, collection, id); err != nil {
		return err
	}
	db, err := m.handle(ctx)
	if err != nil {
		return err
	}
	if err := db.Where("collection = ? AND record_id = ?", collection.String(), id).Delete(&OutboxEntry{}).Error; err != nil {
		m.logError(opDropPending, "delete_failed", err)
		return newError(opDropPending, "delete_failed", err)
	}
	return nil
}

// PurgeIfClean physically removes a tombstone once no outbox entry references it.
func (m *Manager) PurgeIfClean(ctx context.Context, collection Collection, id string) (bool, error) {
	if err := checkKey(opPurgeIfClean, collection, id); err != nil {
		return false, err
	}
	db, err := m.handle(ctx)
	if err != nil {
		return false, err
	}
	purged := false
	txErr := db.Transaction(func(tx *gorm.DB) error {
		count, err := countPending(tx, collection, id)
		if err != nil || count > 0 {
			return err
		}
		record, found, err := loadRecord(tx, collection, id)
		if err != nil || !found || !record.IsTombstone() {
			return err
		}
		if err := deleteRecord(tx, collection, id); err != nil {
			return err
		}
		purged = true
		return nil
	})
	if txErr != nil {
		m.logError(opPurgeIfClean, "transaction_failed", txErr, zap.String("collection", collection.String()), zap.String("record_id", id))
		return false, newError(opPurgeIfClean, "transaction_failed", txErr)
	}
	return purged, nil
}

// MergeAction tells Merge what to do with the local row.
type MergeAction int

const (
	MergeKeep MergeAction = iota
	MergeWrite
	MergePurge
)

// MergeDecision is produced by a MergeFunc.
type MergeDecision struct {
	Action      MergeAction
	Record      Record
	DropPending bool
}

// MergeFunc inspects the local row (nil when absent) and its pending state.
type MergeFunc func(current *Record, pending bool) (MergeDecision, error)

// Merge applies an incoming change against the local row in one transaction
// so a concurrent local write cannot slip between inspection and write.
func (m *Manager) Merge(ctx context.Context, collection Collection, id string, decide MergeFunc) (MergeDecision, error) {
	if err := checkKey(opMerge, collection, id); err != nil {
		return MergeDecision{}, err
	}
	db, err := m.handle(ctx)
	if err != nil {
		return MergeDecision{}, err
	}
	var decision MergeDecision
	txErr := db.Transaction(func(tx *gorm.DB) error {
		current, found, err := loadRecord(tx, collection, id)
		if err != nil {
			return err
		}
		count, err := countPending(tx, collection, id)
		if err != nil {
			return err
		}
		var currentPtr *Record
		if found {
			currentPtr = &current
		}
		decision, err = decide(currentPtr, count > 0)
		if err != nil {
			return err
		}
		if decision.DropPending {
			if err := tx.Where("collection = ? AND record_id = ?", collection.String(), id).Delete(&OutboxEntry{}).Error; err != nil {
				return err
			}
		}
		switch decision.Action {
		case MergeWrite:
			decision.Record.ID = id
			return writeRecord(tx, collection, decision.Record)
		case MergePurge:
			return deleteRecord(tx, collection, id)
		default:
			return nil
		}
	})
	if txErr != nil {
		m.logError(opMerge, "transaction_failed", txErr, zap.String("collection", collection.String()), zap.String("record_id", id))
		return MergeDecision{}, newError(opMerge, "transaction_failed", txErr)
	}
	return decision, nil
}

func countPending(db *gorm.DB, collection Collection, id string) (int64, error) {
	var count int64
	err := db.Model(&OutboxEntry{}).
		Where("collection = ? AND record_id = ?", collection.String(), id).
		Count(&count).Error
	return count, err
}

// LogConflict appends a conflict record.
func (m *Manager) LogConflict(ctx context.Context, conflict Conflict) error {
	db, err := m.handle(ctx)
	if err != nil {
		return err
	}
	if conflict.DetectedAtMillis == 0 {
		conflict.DetectedAtMillis = m.clock().UTC().UnixMilli()
	}
	conflict.ConflictID = 0
	if err := db.Create(&conflict).Error; err != nil {
		m.logError(opLogConflict, "insert_failed", err, zap.String("record_id", conflict.RecordID))
		return newError(opLogConflict, "insert_failed", err)
	}
	return nil
}

// ListConflicts returns the most recent conflicts for the user, newest first.
func (m *Manager) ListConflicts(ctx context.Context, userID string, limit int) ([]Conflict, error) {
	db, err := m.handle(ctx)
	if err != nil {
		return nil, err
	}
	query := db.Where("user_id = ?", userID).Order("detected_at_ms DESC").Order("conflict_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var conflicts []Conflict
	if err := query.Find(&conflicts).Error; err != nil {
		m.logError(opListConflicts, "select_failed", err)
		return nil, newError(opListConflicts, "select_failed", err)
	}
	return conflicts, nil
}

// IsNotFound reports whether err signals a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
