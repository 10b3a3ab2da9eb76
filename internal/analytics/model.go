package analytics

import "time"

// Mode selects which activity the computation covers.
type Mode string

const (
	ModeGame     Mode = "game"
	ModePractice Mode = "practice"
)

// Options filter a performance computation. Nil and empty fields do not filter.
type Options struct {
	// Days limits sessions to those started within the last Days days.
	Days *int
	// ShotType, Contested and ZoneID apply to field-goal attempts only.
	ShotType  string
	Contested *bool
	ZoneID    string
	From      *time.Time
	To        *time.Time
}

// Totals aggregates every field-goal attempt in scope. Free throws are
// reported separately and never enter FGPct or EFGPct.
type Totals struct {
	Sessions           int     `json:"sessions"`
	Attempts           int     `json:"attempts"`
	Makes              int     `json:"makes"`
	ThreePointAttempts int     `json:"three_point_attempts"`
	ThreePointMakes    int     `json:"three_point_makes"`
	FGPct              float64 `json:"fg_pct"`
	EFGPct             float64 `json:"efg_pct"`
	FreeThrowAttempts  int     `json:"free_throw_attempts"`
	FreeThrowMakes     int     `json:"free_throw_makes"`
	FreeThrowPct       float64 `json:"free_throw_pct"`
}

// ZoneMetric aggregates attempts from one zone.
type ZoneMetric struct {
	ZoneID          string  `json:"zone_id"`
	Attempts        int     `json:"attempts"`
	Makes           int     `json:"makes"`
	ThreePointMakes int     `json:"three_point_makes"`
	FGPct           float64 `json:"fg_pct"`
	EFGPct          float64 `json:"efg_pct"`
	VolumePct       float64 `json:"volume_pct"`
}

// TrendPoint is one bucket of a trend series.
type TrendPoint struct {
	Key             string    `json:"key"`
	Start           time.Time `json:"start"`
	Sessions        int       `json:"sessions"`
	Attempts        int       `json:"attempts"`
	Makes           int       `json:"makes"`
	ThreePointMakes int       `json:"three_point_makes"`
	FGPct           float64   `json:"fg_pct"`
	EFGPct          float64   `json:"efg_pct"`
}

// Trend holds the three parallel series, each ascending by key.
type Trend struct {
	Daily   []TrendPoint `json:"daily"`
	Weekly  []TrendPoint `json:"weekly"`
	Monthly []TrendPoint `json:"monthly"`
}

// Counters tallies non-attempt game events.
type Counters struct {
	Assists         int `json:"assists"`
	Rebounds        int `json:"rebounds"`
	Steals          int `json:"steals"`
	ForcedTurnovers int `json:"forced_turnovers"`
}

// Performance is the full result of ComputeSessionPerformance.
type Performance struct {
	Mode     Mode         `json:"mode"`
	Totals   Totals       `json:"totals"`
	Metrics  []ZoneMetric `json:"metrics"`
	Trend    Trend        `json:"trend"`
	Counters Counters     `json:"counters"`
}

func emptyPerformance(mode Mode) Performance {
	return Performance{
		Mode:    mode,
		Metrics: []ZoneMetric{},
		Trend: Trend{
			Daily:   []TrendPoint{},
			Weekly:  []TrendPoint{},
			Monthly: []TrendPoint{},
		},
	}
}

// FGPct returns makes/attempts*100, or 0 without attempts.
func FGPct(makes, attempts int) float64 {
	if attempts <= 0 {
		return 0
	}
	return float64(makes) / float64(attempts) * 100
}

// EFGPct returns (makes + 0.5*threeMakes)/attempts*100, or 0 without attempts.
func EFGPct(makes, threeMakes, attempts int) float64 {
	if attempts <= 0 {
		return 0
	}
	return (float64(makes) + 0.5*float64(threeMakes)) / float64(attempts) * 100
}
