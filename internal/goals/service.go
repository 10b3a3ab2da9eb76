package goals

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/analytics"
	"github.com/MarcoPoloResearchLab/courtside/internal/records"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"go.uber.org/zap"
)

var noOpLogger = zap.NewNop()

// Evaluator computes the statistics a goal is measured against.
type Evaluator interface {
	ComputeSessionPerformance(ctx context.Context, mode analytics.Mode, options analytics.Options) (analytics.Performance, error)
}

// ServiceConfig wires the goal services.
type ServiceConfig struct {
	Gateway    records.Gateway
	Identity   records.IdentitySource
	Notifier   records.Notifier
	IDProvider records.IDProvider
	Evaluator  Evaluator
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service is the goal Mutation Layer.
type Service struct {
	sets      *records.Repository[GoalSet, *GoalSet]
	goals     *records.Repository[Goal, *Goal]
	evaluator Evaluator
	clock     func() time.Time
	logger    *zap.Logger
}

// SetInput describes a new goal set.
type SetInput struct {
	Name      string
	Type      SetType
	StartDate time.Time
	DueDate   time.Time
}

// SetPatch edits a goal set; nil fields are left unchanged.
type SetPatch struct {
	Name      *string
	StartDate *time.Time
	DueDate   *time.Time
}

// GoalInput describes a new goal. A zero TargetEndDate defaults to the set's
// due date.
type GoalInput struct {
	Metric        Metric
	TargetValue   float64
	TargetType    TargetType
	TargetEndDate time.Time
	ZoneID        string
}

// GoalPatch edits a goal; nil fields are left unchanged.
type GoalPatch struct {
	Metric        *Metric
	TargetValue   *float64
	TargetType    *TargetType
	TargetEndDate *time.Time
	ZoneID        *string
}

func NewService(cfg ServiceConfig) (*Service, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	base := records.Config{
		Gateway:       cfg.Gateway,
		Identity:      cfg.Identity,
		ProfileScoped: true,
		IDProvider:    cfg.IDProvider,
		Clock:         clock,
		Notifier:      cfg.Notifier,
		Logger:        logger,
	}

	setConfig := base
	setConfig.Collection = store.CollectionGoalSets
	sets, err := records.New[GoalSet](setConfig)
	if err != nil {
		return nil, err
	}
	goalConfig := base
	goalConfig.Collection = store.CollectionGoals
	goals, err := records.New[Goal](goalConfig)
	if err != nil {
		return nil, err
	}
	return &Service{sets: sets, goals: goals, evaluator: cfg.Evaluator, clock: clock, logger: logger}, nil
}

func (s *Service) CreateSet(ctx context.Context, input SetInput) (GoalSet, error) {
	return s.sets.Add(ctx, GoalSet{
		Name:      input.Name,
		Type:      input.Type,
		StartDate: input.StartDate.UTC(),
		DueDate:   input.DueDate.UTC(),
	})
}

// UpdateSet edits a set. Goals whose end date falls after a shortened due
// date are kept; EffectiveWindow clamps them.
func (s *Service) UpdateSet(ctx context.Context, id string, patch SetPatch) (GoalSet, error) {
	fields := store.Fields{}
	if patch.Name != nil {
		fields["name"] = *patch.Name
	}
	if patch.StartDate != nil {
		fields["start_date"] = patch.StartDate.UTC()
	}
	if patch.DueDate != nil {
		fields["due_date"] = patch.DueDate.UTC()
	}
	if len(fields) == 0 {
		return s.sets.Get(ctx, id)
	}
	return s.sets.Update(ctx, id, fields)
}

// ArchiveSet hides the set from the default listing without deleting it.
func (s *Service) ArchiveSet(ctx context.Context, id string) (GoalSet, error) {
	set, err := s.sets.Get(ctx, id)
	if err != nil {
		return GoalSet{}, err
	}
	if set.Archived {
		return set, nil
	}
	return s.sets.Update(ctx, id, store.Fields{
		"archived":    true,
		"archived_at": s.clock().UTC(),
	})
}

func (s *Service) UnarchiveSet(ctx context.Context, id string) (GoalSet, error) {
	set, err := s.sets.Get(ctx, id)
	if err != nil {
		return GoalSet{}, err
	}
	if !set.Archived {
		return set, nil
	}
	return s.sets.Update(ctx, id, store.Fields{
		"archived":    false,
		"archived_at": nil,
	})
}

// DeleteSet tombstones the set and every goal in it.
func (s *Service) DeleteSet(ctx context.Context, id string) error {
	if _, err := s.sets.Get(ctx, id); err != nil {
		return err
	}
	goals, err := s.ListGoals(ctx, id)
	if err != nil {
		return err
	}
	for _, goal := range goals {
		if err := s.goals.Delete(ctx, goal.ID); err != nil && !errors.Is(err, records.ErrNotFound) {
			return err
		}
	}
	return s.sets.Delete(ctx, id)
}

func (s *Service) GetSet(ctx context.Context, id string) (GoalSet, error) {
	return s.sets.Get(ctx, id)
}

func (s *Service) ListSets(ctx context.Context, includeArchived bool) ([]GoalSet, error) {
	return s.sets.List(ctx, func(set GoalSet) bool {
		return includeArchived || !set.Archived
	})
}

func (s *Service) AddGoal(ctx context.Context, setID string, input GoalInput) (Goal, error) {
	set, err := s.sets.Get(ctx, setID)
	if err != nil {
		return Goal{}, err
	}
	goal := Goal{
		GoalSetID:     setID,
		Metric:        input.Metric,
		TargetValue:   input.TargetValue,
		TargetType:    input.TargetType,
		TargetEndDate: input.TargetEndDate.UTC(),
		ZoneID:        input.ZoneID,
	}
	if input.TargetEndDate.IsZero() {
		goal.TargetEndDate = set.DueDate
	}
	if goal.TargetType == "" {
		goal.TargetType, _ = goal.Metric.Kind()
	}
	if err := goal.validateAgainst(set); err != nil {
		return Goal{}, err
	}
	return s.goals.Add(ctx, goal)
}

func (s *Service) UpdateGoal(ctx context.Context, id string, patch GoalPatch) (Goal, error) {
	goal, err := s.goals.Get(ctx, id)
	if err != nil {
		return Goal{}, err
	}
	fields := store.Fields{}
	if patch.Metric != nil {
		goal.Metric = *patch.Metric
		fields["metric"] = *patch.Metric
	}
	if patch.TargetValue != nil {
		goal.TargetValue = *patch.TargetValue
		fields["target_value"] = *patch.TargetValue
	}
	if patch.TargetType != nil {
		goal.TargetType = *patch.TargetType
		fields["target_type"] = *patch.TargetType
	}
	if patch.TargetEndDate != nil {
		goal.TargetEndDate = patch.TargetEndDate.UTC()
		fields["target_end_date"] = goal.TargetEndDate
	}
	if patch.ZoneID != nil {
		goal.ZoneID = *patch.ZoneID
		fields["zone_id"] = *patch.ZoneID
	}
	if len(fields) == 0 {
		return goal, nil
	}
	set, err := s.sets.Get(ctx, goal.GoalSetID)
	if err != nil {
		return Goal{}, err
	}
	if err := goal.validateAgainst(set); err != nil {
		return Goal{}, err
	}
	return s.goals.Update(ctx, id, fields)
}

func (s *Service) DeleteGoal(ctx context.Context, id string) error {
	return s.goals.Delete(ctx, id)
}

func (s *Service) GetGoal(ctx context.Context, id string) (Goal, error) {
	return s.goals.Get(ctx, id)
}

// ListGoals returns the set's goals in creation order.
func (s *Service) ListGoals(ctx context.Context, setID string) ([]Goal, error) {
	return s.goals.List(ctx, func(goal Goal) bool {
		return goal.GoalSetID == setID
	})
}

// Evaluate measures the goal over its effective window.
func (s *Service) Evaluate(ctx context.Context, goalID string) (Progress, error) {
	if s.evaluator == nil {
		return Progress{}, errors.New("goals: no evaluator configured")
	}
	goal, err := s.goals.Get(ctx, goalID)
	if err != nil {
		return Progress{}, err
	}
	set, err := s.sets.Get(ctx, goal.GoalSetID)
	if err != nil {
		return Progress{}, err
	}
	from, to := EffectiveWindow(goal, set)
	through := to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	options := analytics.Options{From: &from, To: &through}
	if goal.Metric.ZoneBound() {
		options.ZoneID = goal.ZoneID
	}
	mode := analytics.ModePractice
	if set.Type == SetTypeGame {
		mode = analytics.ModeGame
	}
	performance, err := s.evaluator.ComputeSessionPerformance(ctx, mode, options)
	if err != nil {
		return Progress{}, err
	}
	return NewProgress(goal, metricValue(goal, performance)), nil
}

func metricValue(goal Goal, performance analytics.Performance) float64 {
	totals := performance.Totals
	switch goal.Metric {
	case MetricFGPct:
		return totals.FGPct
	case MetricEFGPct:
		return totals.EFGPct
	case MetricFreeThrowPct:
		return totals.FreeThrowPct
	case MetricAttempts:
		return float64(totals.Attempts)
	case MetricMakes:
		return float64(totals.Makes)
	case MetricThreePointMakes:
		return float64(totals.ThreePointMakes)
	case MetricFreeThrowMakes:
		return float64(totals.FreeThrowMakes)
	case MetricSessions:
		return float64(totals.Sessions)
	}
	for _, zone := range performance.Metrics {
		if zone.ZoneID != goal.ZoneID {
			continue
		}
		switch goal.Metric {
		case MetricZoneFGPct:
			return zone.FGPct
		case MetricZoneEFGPct:
			return zone.EFGPct
		case MetricZoneAttempts:
			return float64(zone.Attempts)
		case MetricZoneMakes:
			return float64(zone.Makes)
		}
	}
	return 0
}
