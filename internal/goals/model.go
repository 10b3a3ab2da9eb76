package goals

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/records"
)

// SetType is the activity a goal set tracks.
type SetType string

const (
	SetTypePractice SetType = "practice"
	SetTypeGame     SetType = "game"
)

// TargetType says how a goal's target is read.
type TargetType string

const (
	TargetPercent TargetType = "percent"
	TargetTotal   TargetType = "total"
)

// Metric names the statistic a goal tracks. Metrics prefixed with "zone_"
// are computed for a single zone and need a zone id.
type Metric string

const (
	MetricFGPct           Metric = "fg_pct"
	MetricEFGPct          Metric = "efg_pct"
	MetricFreeThrowPct    Metric = "free_throw_pct"
	MetricAttempts        Metric = "attempts"
	MetricMakes           Metric = "makes"
	MetricThreePointMakes Metric = "three_point_makes"
	MetricFreeThrowMakes  Metric = "free_throw_makes"
	MetricSessions        Metric = "sessions"
	MetricZoneFGPct       Metric = "zone_fg_pct"
	MetricZoneEFGPct      Metric = "zone_efg_pct"
	MetricZoneAttempts    Metric = "zone_attempts"
	MetricZoneMakes       Metric = "zone_makes"
)

var metricKinds = map[Metric]TargetType{
	MetricFGPct:           TargetPercent,
	MetricEFGPct:          TargetPercent,
	MetricFreeThrowPct:    TargetPercent,
	MetricAttempts:        TargetTotal,
	MetricMakes:           TargetTotal,
	MetricThreePointMakes: TargetTotal,
	MetricFreeThrowMakes:  TargetTotal,
	MetricSessions:        TargetTotal,
	MetricZoneFGPct:       TargetPercent,
	MetricZoneEFGPct:      TargetPercent,
	MetricZoneAttempts:    TargetTotal,
	MetricZoneMakes:       TargetTotal,
}

var (
	ErrInvalidSet      = errors.New("goals: invalid goal set")
	ErrInvalidMetric   = errors.New("goals: unknown metric")
	ErrInvalidTarget   = errors.New("goals: invalid target")
	ErrZoneRequired    = errors.New("no zone selected for a zone-bound goal")
	ErrGoalEndAfterDue = errors.New("goal end date after set due date")
	ErrMissingSet      = errors.New("goals: goal requires a goal set")
)

// ZoneBound reports whether the metric is computed for one zone.
func (m Metric) ZoneBound() bool {
	return strings.HasPrefix(string(m), "zone_")
}

// Kind returns the target type the metric is measured in.
func (m Metric) Kind() (TargetType, bool) {
	kind, ok := metricKinds[m]
	return kind, ok
}

// GoalSet groups goals over a date range.
type GoalSet struct {
	records.Meta
	Name       string     `json:"name"`
	Type       SetType    `json:"type"`
	StartDate  time.Time  `json:"start_date"`
	DueDate    time.Time  `json:"due_date"`
	Archived   bool       `json:"archived"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

func (s *GoalSet) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSet)
	}
	if s.Type != SetTypePractice && s.Type != SetTypeGame {
		return fmt.Errorf("%w: type %q", ErrInvalidSet, s.Type)
	}
	if s.StartDate.IsZero() || s.DueDate.IsZero() {
		return fmt.Errorf("%w: start and due dates are required", ErrInvalidSet)
	}
	if s.DueDate.Before(s.StartDate) {
		return fmt.Errorf("%w: due date before start date", ErrInvalidSet)
	}
	return nil
}

// Goal is one target inside a GoalSet.
type Goal struct {
	records.Meta
	GoalSetID     string     `json:"goal_set_id"`
	Metric        Metric     `json:"metric"`
	TargetValue   float64    `json:"target_value"`
	TargetType    TargetType `json:"target_type"`
	TargetEndDate time.Time  `json:"target_end_date"`
	ZoneID        string     `json:"zone_id,omitempty"`
}

// Validate checks the goal on its own; checks against the parent set live in
// validateAgainst.
func (g *Goal) Validate() error {
	if g.GoalSetID == "" {
		return ErrMissingSet
	}
	kind, ok := g.Metric.Kind()
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMetric, g.Metric)
	}
	if g.TargetType != kind {
		return fmt.Errorf("%w: %s is measured as %s", ErrInvalidTarget, g.Metric, kind)
	}
	if g.TargetValue <= 0 {
		return fmt.Errorf("%w: target must be positive", ErrInvalidTarget)
	}
	if g.TargetType == TargetPercent && g.TargetValue > 100 {
		return fmt.Errorf("%w: percent target above 100", ErrInvalidTarget)
	}
	if g.Metric.ZoneBound() && g.ZoneID == "" {
		return ErrZoneRequired
	}
	return nil
}

func (g Goal) validateAgainst(set GoalSet) error {
	if !g.TargetEndDate.IsZero() && g.TargetEndDate.After(set.DueDate) {
		return ErrGoalEndAfterDue
	}
	return nil
}

// EffectiveWindow is the date range a goal is measured over: from the set's
// start date to the goal's end date, clamped to the set's due date.
func EffectiveWindow(goal Goal, set GoalSet) (from, to time.Time) {
	from = set.StartDate
	to = set.DueDate
	if !goal.TargetEndDate.IsZero() && goal.TargetEndDate.Before(to) {
		to = goal.TargetEndDate
	}
	if to.Before(from) {
		to = from
	}
	return from, to
}
