package syncer

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/courtside/internal/remote"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// pull fetches every remote table with bounded concurrency, then merges the
// tables one at a time, parents first. A table that fails to fetch is logged
// and skipped. With purge set, non-pending local rows absent remotely are
// removed.
func (e *Engine) pull(ctx context.Context, userID string, purge bool) (pulled, purged int, err error) {
	collections := store.Collections()
	fetched := make([][]remote.Row, len(collections))
	failures := make([]error, len(collections))

	var group errgroup.Group
	group.SetLimit(e.concurrency)
	for index, collection := range collections {
		group.Go(func() error {
			fetched[index], failures[index] = e.fetchAll(ctx, collection.RemoteTable())
			return nil
		})
	}
	_ = group.Wait()

	var firstErr error
	for index, collection := range collections {
		if failures[index] != nil {
			e.logError(opPull, "fetch_failed", failures[index], zap.String("table", collection.RemoteTable()))
			if firstErr == nil {
				firstErr = failures[index]
			}
			continue
		}
		seen := make(map[string]struct{}, len(fetched[index]))
		for _, row := range fetched[index] {
			if row.ID == "" {
				continue
			}
			seen[row.ID] = struct{}{}
			changed, err := e.mergeRow(ctx, userID, collection, row)
			if err != nil {
				e.logError(opPull, "merge_failed", err, zap.String("collection", collection.String()), zap.String("record_id", row.ID))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if changed {
				pulled++
			}
		}
		if !purge {
			continue
		}
		removed, err := e.purgeMissing(ctx, userID, collection, seen)
		purged += removed
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return pulled, purged, firstErr
}

// fetchAll pages through a table by updated_at. Rows sharing the boundary
// timestamp are fetched again and deduplicated by id.
func (e *Engine) fetchAll(ctx context.Context, table string) ([]remote.Row, error) {
	var (
		rows  []remote.Row
		seen  = map[string]struct{}{}
		since *int64
	)
	for {
		page, err := e.remote.Select(ctx, table, remote.Query{UpdatedSince: since, Limit: e.pageSize})
		if err != nil {
			return nil, err
		}
		fresh := 0
		for _, row := range page {
			if _, dup := seen[row.ID]; dup {
				continue
			}
			seen[row.ID] = struct{}{}
			rows = append(rows, row)
			fresh++
			watermark := row.UpdatedAtMillis
			since = &watermark
		}
		if len(page) < e.pageSize {
			return rows, nil
		}
		if fresh == 0 {
			return rows, errors.New("syncer: page made no progress; more rows share one updated_at than fit a page")
		}
	}
}

// mergeRow applies one remote row and reports whether the mirror changed.
func (e *Engine) mergeRow(ctx context.Context, userID string, collection store.Collection, row remote.Row) (bool, error) {
	incoming := recordFromRow(row)
	var (
		local      *store.Record
		resolution string
	)
	decision, err := e.store.Merge(ctx, collection, row.ID, func(current *store.Record, pending bool) (store.MergeDecision, error) {
		switch {
		case current == nil:
			return store.MergeDecision{Action: store.MergeWrite, Record: incoming}, nil
		case current.Same(incoming):
			return store.MergeDecision{Action: store.MergeKeep}, nil
		case !pending:
			return store.MergeDecision{Action: store.MergeWrite, Record: incoming}, nil
		}
		snapshot := current.Clone()
		local = &snapshot
		if incoming.UpdatedAt.After(current.UpdatedAt) {
			resolution = resolutionRemoteWins
			return store.MergeDecision{Action: store.MergeWrite, Record: incoming, DropPending: true}, nil
		}
		resolution = resolutionLocalKept
		return store.MergeDecision{Action: store.MergeKeep}, nil
	})
	if err != nil {
		return false, err
	}
	if resolution != "" {
		e.conflict(ctx, userID, collection, "pull", resolution, local, &incoming)
	}
	return decision.Action == store.MergeWrite, nil
}

func (e *Engine) purgeMissing(ctx context.Context, userID string, collection store.Collection, seen map[string]struct{}) (int, error) {
	local, err := e.store.Scan(ctx, collection, store.ScanFilter{UserID: userID, IncludeTombstones: true})
	if err != nil {
		e.logError(opPull, "scan_failed", err, zap.String("collection", collection.String()))
		return 0, err
	}
	purged := 0
	for _, record := range local {
		if _, ok := seen[record.ID]; ok {
			continue
		}
		decision, err := e.store.Merge(ctx, collection, record.ID, func(current *store.Record, pending bool) (store.MergeDecision, error) {
			if current == nil || pending {
				return store.MergeDecision{Action: store.MergeKeep}, nil
			}
			return store.MergeDecision{Action: store.MergePurge}, nil
		})
		if err != nil {
			e.logError(opPull, "purge_failed", err, zap.String("collection", collection.String()), zap.String("record_id", record.ID))
			return purged, err
		}
		if decision.Action == store.MergePurge {
			purged++
		}
	}
	return purged, nil
}
