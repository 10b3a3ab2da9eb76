package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"github.com/MarcoPoloResearchLab/courtside/internal/store/storetest"
)

func TestAcknowledgeKeepsNewerEntries(t *testing.T) {
	ctx := context.Background()
	manager := storetest.NewManager(t)

	first, err := manager.PutPending(ctx, store.CollectionGameEvents, liveSession("event-1", baseTime, store.Fields{"made": false}))
	if err != nil {
		t.Fatalf("put pending failed: %v", err)
	}
	if _, err := manager.PutPending(ctx, store.CollectionGameEvents, liveSession("event-1", baseTime.Add(time.Second), store.Fields{"made": true})); err != nil {
		t.Fatalf("put pending failed: %v", err)
	}

	remaining, err := manager.Acknowledge(ctx, store.CollectionGameEvents, "event-1", first.Seq)
	if err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected the newer edit to stay queued, got %d", remaining)
	}

	entries, err := manager.PendingEntries(ctx, testUserID, baseTime, true)
	if err != nil {
		t.Fatalf("pending entries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Seq <= first.Seq {
		t.Fatalf("unexpected remaining entries %+v", entries)
	}

	remaining, err = manager.Acknowledge(ctx, store.CollectionGameEvents, "event-1", entries[0].Seq)
	if err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected empty outbox for the record, got %d", remaining)
	}
}

func TestMarkFailedDefersEntries(t *testing.T) {
	ctx := context.Background()
	manager := storetest.NewManager(t)

	entry, err := manager.PutPending(ctx, store.CollectionPracticeSessions, liveSession("practice-1", baseTime, store.Fields{"focus": "corner threes"}))
	if err != nil {
		t.Fatalf("put pending failed: %v", err)
	}
	retryAt := baseTime.Add(30 * time.Second)
	if err := manager.MarkFailed(ctx, []int64{entry.Seq}, errors.New("remote unavailable"), retryAt); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}

	due, err := manager.PendingEntries(ctx, testUserID, baseTime, false)
	if err != nil {
		t.Fatalf("pending entries failed: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected entry to wait out its backoff, got %+v", due)
	}

	forced, err := manager.PendingEntries(ctx, testUserID, baseTime, true)
	if err != nil {
		t.Fatalf("pending entries failed: %v", err)
	}
	if len(forced) != 1 {
		t.Fatalf("expected forced read to include deferred entry, got %d", len(forced))
	}
	if forced[0].Attempts != 1 || forced[0].LastError != "remote unavailable" || forced[0].NextAttemptAtMillis != retryAt.UnixMilli() {
		t.Fatalf("unexpected failure bookkeeping %+v", forced[0])
	}

	later, err := manager.PendingEntries(ctx, testUserID, retryAt, false)
	if err != nil {
		t.Fatalf("pending entries failed: %v", err)
	}
	if len(later) != 1 {
		t.Fatalf("expected entry to be due after backoff, got %d", len(later))
	}
}

func TestPendingCountScopesByUser(t *testing.T) {
	ctx := context.Background()
	manager := storetest.NewManager(t)

	if _, err := manager.PutPending(ctx, store.CollectionGoals, liveSession("goal-1", baseTime, store.Fields{"target": 40.0})); err != nil {
		t.Fatalf("put pending failed: %v", err)
	}
	other := store.Live("goal-2", "user-2", "athlete-2", store.Fields{"target": 10.0}, baseTime, baseTime)
	if _, err := manager.PutPending(ctx, store.CollectionGoals, other); err != nil {
		t.Fatalf("put pending failed: %v", err)
	}

	mine, err := manager.PendingCount(ctx, testUserID)
	if err != nil {
		t.Fatalf("pending count failed: %v", err)
	}
	all, err := manager.PendingCount(ctx, "")
	if err != nil {
		t.Fatalf("pending count failed: %v", err)
	}
	if mine != 1 || all != 2 {
		t.Fatalf("unexpected counts mine=%d all=%d", mine, all)
	}
}

func TestPurgeIfCleanWaitsForOutbox(t *testing.T) {
	ctx := context.Background()
	manager := storetest.NewManager(t)

	tombstone := store.NewTombstone(liveSession("game-1", baseTime, nil), baseTime.Add(time.Minute))
	entry, err := manager.PutPending(ctx, store.CollectionGameSessions, tombstone)
	if err != nil {
		t.Fatalf("put pending failed: %v", err)
	}

	purged, err := manager.PurgeIfClean(ctx, store.CollectionGameSessions, "game-1")
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if purged {
		t.Fatalf("tombstone must stay while its delete is queued")
	}

	if _, err := manager.Acknowledge(ctx, store.CollectionGameSessions, "game-1", entry.Seq); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	purged, err = manager.PurgeIfClean(ctx, store.CollectionGameSessions, "game-1")
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if !purged {
		t.Fatalf("expected acknowledged tombstone to be purged")
	}
	if _, err := manager.Get(ctx, store.CollectionGameSessions, "game-1"); !store.IsNotFound(err) {
		t.Fatalf("expected purged record to be gone, got %v", err)
	}
}

func TestPurgeIfCleanIgnoresLiveRecords(t *testing.T) {
	ctx := context.Background()
	manager := storetest.NewManager(t)

	if err := manager.Put(ctx, store.CollectionGameSessions, liveSession("game-1", baseTime, store.Fields{"status": "active"})); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	purged, err := manager.PurgeIfClean(ctx, store.CollectionGameSessions, "game-1")
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if purged {
		t.Fatalf("live records must never be purged")
	}
}

func TestMergeSeesPendingStateAndDropsIt(t *testing.T) {
	ctx := context.Background()
	manager := storetest.NewManager(t)

	if _, err := manager.PutPending(ctx, store.CollectionGoalSets, liveSession("set-1", baseTime, store.Fields{"name": "Local"})); err != nil {
		t.Fatalf("put pending failed: %v", err)
	}

	incoming := liveSession("set-1", baseTime.Add(time.Hour), store.Fields{"name": "Remote"})
	sawPending := false
	decision, err := manager.Merge(ctx, store.CollectionGoalSets, "set-1", func(current *store.Record, pending bool) (store.MergeDecision, error) {
		if current == nil {
			t.Fatalf("expected local row to be visible")
		}
		sawPending = pending
		return store.MergeDecision{Action: store.MergeWrite, Record: incoming, DropPending: true}, nil
	})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if !sawPending || decision.Action != store.MergeWrite {
		t.Fatalf("unexpected merge outcome pending=%v decision=%+v", sawPending, decision)
	}

	loaded, err := manager.Get(ctx, store.CollectionGoalSets, "set-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.Fields["name"] != "Remote" {
		t.Fatalf("expected remote row to win, got %+v", loaded)
	}
	pending, err := manager.PendingCount(ctx, testUserID)
	if err != nil {
		t.Fatalf("pending count failed: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected pending entries to be dropped, got %d", pending)
	}
}

func TestMergeAbsentRowAndPurge(t *testing.T) {
	ctx := context.Background()
	manager := storetest.NewManager(t)

	if _, err := manager.Merge(ctx, store.CollectionGoals, "goal-1", func(current *store.Record, pending bool) (store.MergeDecision, error) {
		if current != nil || pending {
			t.Fatalf("expected absent row, got %+v pending=%v", current, pending)
		}
		return store.MergeDecision{Action: store.MergeWrite, Record: liveSession("ignored", baseTime, store.Fields{"target": 5.0})}, nil
	}); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if _, err := manager.Get(ctx, store.CollectionGoals, "goal-1"); err != nil {
		t.Fatalf("expected merge to write under the merge key: %v", err)
	}

	if _, err := manager.Merge(ctx, store.CollectionGoals, "goal-1", func(current *store.Record, pending bool) (store.MergeDecision, error) {
		return store.MergeDecision{Action: store.MergePurge}, nil
	}); err != nil {
		t.Fatalf("merge purge failed: %v", err)
	}
	if _, err := manager.Get(ctx, store.CollectionGoals, "goal-1"); !store.IsNotFound(err) {
		t.Fatalf("expected purge to remove the row, got %v", err)
	}
}

func TestConflictLogNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock(baseTime, time.Second)
	manager := storetest.NewManagerAt(t, filepath.Join(t.TempDir(), "mirror.db"), clock.Now)

	for _, id := range []string{"event-1", "event-2", "event-3"} {
		if err := manager.LogConflict(ctx, store.Conflict{
			Collection: store.CollectionGameEvents.String(),
			RecordID:   id,
			UserID:     testUserID,
			Source:     "pull",
			Resolution: "remote",
		}); err != nil {
			t.Fatalf("log conflict failed: %v", err)
		}
	}
	if err := manager.LogConflict(ctx, store.Conflict{
		Collection: store.CollectionGameEvents.String(),
		RecordID:   "event-9",
		UserID:     "user-2",
		Source:     "push",
		Resolution: "remote",
	}); err != nil {
		t.Fatalf("log conflict failed: %v", err)
	}

	conflicts, err := manager.ListConflicts(ctx, testUserID, 2)
	if err != nil {
		t.Fatalf("list conflicts failed: %v", err)
	}
	if len(conflicts) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(conflicts))
	}
	if conflicts[0].RecordID != "event-3" || conflicts[1].RecordID != "event-2" {
		t.Fatalf("expected newest first, got %s then %s", conflicts[0].RecordID, conflicts[1].RecordID)
	}
	if conflicts[0].DetectedAtMillis <= conflicts[1].DetectedAtMillis {
		t.Fatalf("expected detection time from the manager clock")
	}
}
