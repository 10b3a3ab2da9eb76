package goals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/analytics"
	"github.com/MarcoPoloResearchLab/courtside/internal/practice"
	"github.com/MarcoPoloResearchLab/courtside/internal/records"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"github.com/MarcoPoloResearchLab/courtside/internal/store/storetest"
)

var (
	juneFirst  = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	juneThirty = time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	manager  *store.Manager
	service  *Service
	practice *practice.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	manager := storetest.NewManager(t)
	identity := storetest.NewIdentity("user-1", "athlete-1")
	clock := storetest.NewClock(time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC), time.Second)

	engine, err := analytics.NewEngine(analytics.EngineConfig{Reader: manager, Identity: identity, Clock: clock.Now})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	service, err := NewService(ServiceConfig{Gateway: manager, Identity: identity, Evaluator: engine, Clock: clock.Now})
	if err != nil {
		t.Fatalf("goal service: %v", err)
	}
	practiceService, err := practice.NewService(practice.ServiceConfig{Gateway: manager, Identity: identity, Clock: clock.Now})
	if err != nil {
		t.Fatalf("practice service: %v", err)
	}
	return fixture{manager: manager, service: service, practice: practiceService}
}

func (f fixture) juneSet(t *testing.T) GoalSet {
	t.Helper()
	set, err := f.service.CreateSet(context.Background(), SetInput{
		Name:      "June shooting",
		Type:      SetTypePractice,
		StartDate: juneFirst,
		DueDate:   juneThirty,
	})
	if err != nil {
		t.Fatalf("create set failed: %v", err)
	}
	return set
}

func TestCreateSetValidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CreateSet(context.Background(), SetInput{
		Name:      "Backwards",
		Type:      SetTypeGame,
		StartDate: juneThirty,
		DueDate:   juneFirst,
	})
	if !errors.Is(err, ErrInvalidSet) {
		t.Fatalf("expected ErrInvalidSet, got %v", err)
	}
}

func TestAddGoalValidation(t *testing.T) {
	f := newFixture(t)
	set := f.juneSet(t)
	ctx := context.Background()

	testCases := []struct {
		name  string
		input GoalInput
		want  error
	}{
		{name: "zone metric without zone", input: GoalInput{Metric: MetricZoneFGPct, TargetValue: 40, TargetType: TargetPercent}, want: ErrZoneRequired},
		{name: "end after due", input: GoalInput{Metric: MetricFGPct, TargetValue: 40, TargetType: TargetPercent, TargetEndDate: juneThirty.AddDate(0, 0, 1)}, want: ErrGoalEndAfterDue},
		{name: "percent above 100", input: GoalInput{Metric: MetricFGPct, TargetValue: 140, TargetType: TargetPercent}, want: ErrInvalidTarget},
		{name: "mismatched target type", input: GoalInput{Metric: MetricMakes, TargetValue: 40, TargetType: TargetPercent}, want: ErrInvalidTarget},
		{name: "unknown metric", input: GoalInput{Metric: "dunks", TargetValue: 4, TargetType: TargetTotal}, want: ErrInvalidMetric},
		{name: "valid zone goal", input: GoalInput{Metric: MetricZoneFGPct, ZoneID: "paint", TargetValue: 55, TargetType: TargetPercent}},
		{name: "valid default target type", input: GoalInput{Metric: MetricMakes, TargetValue: 200}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := f.service.AddGoal(ctx, set.ID, testCase.input)
			if testCase.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.want != nil && !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}

	goals, err := f.service.ListGoals(ctx, set.ID)
	if err != nil {
		t.Fatalf("list goals failed: %v", err)
	}
	if len(goals) != 2 {
		t.Fatalf("expected 2 stored goals, got %d", len(goals))
	}
	if !goals[0].TargetEndDate.Equal(juneThirty) {
		t.Fatalf("expected end date to default to the due date, got %s", goals[0].TargetEndDate)
	}
}

func TestEffectiveWindowClampsToDueDate(t *testing.T) {
	f := newFixture(t)
	set := f.juneSet(t)
	ctx := context.Background()

	goal, err := f.service.AddGoal(ctx, set.ID, GoalInput{Metric: MetricFGPct, TargetValue: 40, TargetType: TargetPercent, TargetEndDate: juneThirty})
	if err != nil {
		t.Fatalf("add goal failed: %v", err)
	}
	shortened := time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)
	set, err = f.service.UpdateSet(ctx, set.ID, SetPatch{DueDate: &shortened})
	if err != nil {
		t.Fatalf("update set failed: %v", err)
	}

	from, to := EffectiveWindow(goal, set)
	if !from.Equal(juneFirst) || !to.Equal(shortened) {
		t.Fatalf("expected window %s..%s, got %s..%s", juneFirst, shortened, from, to)
	}

	late := juneThirty
	if _, err := f.service.UpdateGoal(ctx, goal.ID, GoalPatch{TargetEndDate: &late}); !errors.Is(err, ErrGoalEndAfterDue) {
		t.Fatalf("expected ErrGoalEndAfterDue on update, got %v", err)
	}
}

func TestArchiveHidesSetFromDefaultListing(t *testing.T) {
	f := newFixture(t)
	set := f.juneSet(t)
	ctx := context.Background()

	archived, err := f.service.ArchiveSet(ctx, set.ID)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if !archived.Archived || archived.ArchivedAt == nil {
		t.Fatalf("expected archived set, got %+v", archived)
	}

	visible, err := f.service.ListSets(ctx, false)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("expected archived set to be hidden, got %d", len(visible))
	}
	all, err := f.service.ListSets(ctx, true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected archived set when included, got %d", len(all))
	}

	restored, err := f.service.UnarchiveSet(ctx, set.ID)
	if err != nil {
		t.Fatalf("unarchive failed: %v", err)
	}
	if restored.Archived || restored.ArchivedAt != nil {
		t.Fatalf("expected unarchived set, got %+v", restored)
	}
}

func TestDeleteSetTombstonesGoals(t *testing.T) {
	f := newFixture(t)
	set := f.juneSet(t)
	ctx := context.Background()

	goal, err := f.service.AddGoal(ctx, set.ID, GoalInput{Metric: MetricAttempts, TargetValue: 300, TargetType: TargetTotal})
	if err != nil {
		t.Fatalf("add goal failed: %v", err)
	}
	if err := f.service.DeleteSet(ctx, set.ID); err != nil {
		t.Fatalf("delete set failed: %v", err)
	}

	if _, err := f.service.GetGoal(ctx, goal.ID); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected goal to be gone, got %v", err)
	}
	stored, err := f.manager.Get(ctx, store.CollectionGoals, goal.ID)
	if err != nil {
		t.Fatalf("expected tombstone to remain in the mirror: %v", err)
	}
	if !stored.IsTombstone() {
		t.Fatalf("expected tombstone, got %+v", stored)
	}
}

func TestEvaluateMeasuresEffectiveWindow(t *testing.T) {
	f := newFixture(t)
	set := f.juneSet(t)
	ctx := context.Background()

	inside, err := f.practice.StartSession(ctx, "", time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("start practice: %v", err)
	}
	if _, err := f.practice.AddEntry(ctx, inside.ID, practice.EntryInput{ZoneID: "paint", Attempts: 10, Makes: 2}); err != nil {
		t.Fatalf("add entry: %v", err)
	}
	outside, err := f.practice.StartSession(ctx, "", time.Date(2026, 5, 20, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("start practice: %v", err)
	}
	if _, err := f.practice.AddEntry(ctx, outside.ID, practice.EntryInput{ZoneID: "paint", Attempts: 10, Makes: 10}); err != nil {
		t.Fatalf("add entry: %v", err)
	}

	goal, err := f.service.AddGoal(ctx, set.ID, GoalInput{Metric: MetricFGPct, TargetValue: 40, TargetType: TargetPercent})
	if err != nil {
		t.Fatalf("add goal failed: %v", err)
	}
	progress, err := f.service.Evaluate(ctx, goal.ID)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if progress.Width != "50%" || progress.Label != "Target: 40% · Value: 20%" {
		t.Fatalf("unexpected progress %+v", progress)
	}
}
