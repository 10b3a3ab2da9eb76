package syncer

import (
	"context"
	"errors"
	"sort"

	"github.com/MarcoPoloResearchLab/courtside/internal/remote"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"go.uber.org/zap"
)

const (
	opPush     = "sync.push"
	opPull     = "sync.pull"
	opConflict = "sync.conflict"

	resolutionRemoteWins = "remote_wins"
	resolutionLocalKept  = "local_kept"
	resolutionRejected   = "rejected"
)

// change is every outbox entry for one record, coalesced.
type change struct {
	collection store.Collection
	id         string
	seqs       []int64
	maxSeq     int64
	attempts   int
}

// coalesce groups entries by record and orders the groups parents first,
// then by their earliest sequence.
func coalesce(entries []store.OutboxEntry) []*change {
	byKey := map[string]*change{}
	ordered := make([]*change, 0, len(entries))
	for _, entry := range entries {
		key := entry.Collection + "\x00" + entry.RecordID
		current := byKey[key]
		if current == nil {
			current = &change{collection: store.Collection(entry.Collection), id: entry.RecordID}
			byKey[key] = current
			ordered = append(ordered, current)
		}
		current.seqs = append(current.seqs, entry.Seq)
		if entry.Seq > current.maxSeq {
			current.maxSeq = entry.Seq
		}
		if entry.Attempts > current.attempts {
			current.attempts = entry.Attempts
		}
	}
	rank := map[store.Collection]int{}
	for index, collection := range store.Collections() {
		rank[collection] = index
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank[ordered[i].collection] < rank[ordered[j].collection]
	})
	return ordered
}

// push sends every pending record once and returns how many were settled.
func (e *Engine) push(ctx context.Context, userID string, force bool) (int, error) {
	entries, err := e.store.PendingEntries(ctx, userID, e.clock(), force)
	if err != nil {
		return 0, err
	}
	pushed := 0
	var firstErr error
	for _, pending := range coalesce(entries) {
		if err := ctx.Err(); err != nil {
			return pushed, err
		}
		if !pending.collection.Valid() {
			e.logError(opPush, "unknown_collection", store.ErrUnknownCollection, zap.String("collection", pending.collection.String()))
			continue
		}
		err := e.pushOne(ctx, userID, pending)
		if err == nil {
			pushed++
			continue
		}
		if rejectedPermanently(err) {
			e.park(ctx, userID, pending, err)
		} else {
			e.fail(ctx, pending, err)
		}
		if firstErr == nil {
			firstErr = err
		}
		if errors.Is(err, remote.ErrUnauthorized) {
			return pushed, err
		}
	}
	return pushed, firstErr
}

func (e *Engine) pushOne(ctx context.Context, userID string, pending *change) error {
	table := pending.collection.RemoteTable()
	record, err := e.store.Get(ctx, pending.collection, pending.id)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing left to send; settle the entries.
		_, err = e.store.Acknowledge(ctx, pending.collection, pending.id, pending.maxSeq)
		return err
	}
	if err != nil {
		return err
	}

	if record.IsTombstone() {
		if err := e.remote.Delete(ctx, table, record.ID); err != nil {
			return err
		}
		remaining, err := e.store.Acknowledge(ctx, pending.collection, pending.id, pending.maxSeq)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if _, err := e.store.PurgeIfClean(ctx, pending.collection, pending.id); err != nil {
				return err
			}
		}
		return nil
	}

	outcome, err := e.remote.Upsert(ctx, table, rowFromRecord(record))
	if err != nil {
		return err
	}
	if _, err := e.store.Acknowledge(ctx, pending.collection, pending.id, pending.maxSeq); err != nil {
		return err
	}
	if outcome.Accepted {
		return nil
	}
	return e.applyRejection(ctx, userID, pending.collection, record, outcome.Row)
}

// applyRejection adopts the newer server copy unless a local write landed
// after the rejected one.
func (e *Engine) applyRejection(ctx context.Context, userID string, collection store.Collection, sent store.Record, serverRow remote.Row) error {
	incoming := recordFromRow(serverRow)
	resolution := resolutionRemoteWins
	_, err := e.store.Merge(ctx, collection, sent.ID, func(current *store.Record, pending bool) (store.MergeDecision, error) {
		if pending && current != nil && current.UpdatedAt.After(incoming.UpdatedAt) {
			resolution = resolutionLocalKept
			return store.MergeDecision{Action: store.MergeKeep}, nil
		}
		return store.MergeDecision{Action: store.MergeWrite, Record: incoming, DropPending: pending}, nil
	})
	if err != nil {
		return err
	}
	e.conflict(ctx, userID, collection, "push", resolution, &sent, &incoming)
	return nil
}

// rejectedPermanently reports a remote refusal that a retry cannot fix, such as
// a malformed row or a profile owned by someone else. Unauthorized responses
// stay pending until the user signs in again.
func rejectedPermanently(err error) bool {
	var statusErr *remote.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return !remote.IsRetryable(err) && !errors.Is(err, remote.ErrUnauthorized)
}

// park drops the outbox entries of a record the remote refuses and keeps the
// local copy, recording the refusal in the conflict log.
func (e *Engine) park(ctx context.Context, userID string, pending *change, cause error) {
	e.logError(opPush, "remote_rejected", cause,
		zap.String("collection", pending.collection.String()),
		zap.String("record_id", pending.id))
	if err := e.store.DropPending(ctx, pending.collection, pending.id); err != nil {
		e.logError(opPush, "drop_pending", err, zap.String("record_id", pending.id))
		e.fail(ctx, pending, cause)
		return
	}

	entry := store.Conflict{
		Collection: pending.collection.String(),
		RecordID:   pending.id,
		UserID:     userID,
		Source:     "push",
		Resolution: resolutionRejected,
	}
	if local, err := e.store.Get(ctx, pending.collection, pending.id); err == nil {
		entry.LocalUpdatedAtMillis = local.UpdatedAt.UnixMilli()
		entry.LocalPayloadJSON = payload(&local)
		if local.IsTombstone() {
			if _, err := e.store.PurgeIfClean(ctx, pending.collection, pending.id); err != nil {
				e.logError(opPush, "purge_failed", err, zap.String("record_id", pending.id))
			}
		}
	}
	if err := e.store.LogConflict(ctx, entry); err != nil {
		e.logError(opConflict, "insert_failed", err, zap.String("record_id", pending.id))
	}
}

func (e *Engine) fail(ctx context.Context, pending *change, cause error) {
	attempts := pending.attempts + 1
	next := e.clock().Add(e.backoff.Delay(attempts))
	e.logError(opPush, "remote_failed", cause,
		zap.String("collection", pending.collection.String()),
		zap.String("record_id", pending.id),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next))
	if err := e.store.MarkFailed(ctx, pending.seqs, cause, next); err != nil {
		e.logError(opPush, "mark_failed", err, zap.String("record_id", pending.id))
	}
}

func (e *Engine) conflict(ctx context.Context, userID string, collection store.Collection, source, resolution string, local, incoming *store.Record) {
	entry := store.Conflict{
		Collection:            collection.String(),
		RecordID:              incoming.ID,
		UserID:                userID,
		Source:                source,
		Resolution:            resolution,
		RemoteUpdatedAtMillis: incoming.UpdatedAt.UnixMilli(),
		LocalPayloadJSON:      payload(local),
		RemotePayloadJSON:     payload(incoming),
	}
	if local != nil {
		entry.LocalUpdatedAtMillis = local.UpdatedAt.UnixMilli()
	}
	if err := e.store.LogConflict(ctx, entry); err != nil {
		e.logError(opConflict, "insert_failed", err, zap.String("record_id", incoming.ID))
	}
	e.logger.Info("sync conflict resolved",
		zap.String("collection", collection.String()),
		zap.String("record_id", incoming.ID),
		zap.String("source", source),
		zap.String("resolution", resolution))
}
