package analytics

import (
	"sort"
	"time"
)

const (
	dayKeyLayout   = "2006-01-02"
	monthKeyLayout = "2006-01"
)

type bucket struct {
	key      string
	start    time.Time
	sessions int
	totals   tally
}

func buildTrend(sessions []session, perSession map[string]*tally, location *time.Location) Trend {
	ordered := append([]session(nil), sessions...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].startedAt.Equal(ordered[j].startedAt) {
			return ordered[i].id < ordered[j].id
		}
		return ordered[i].startedAt.Before(ordered[j].startedAt)
	})

	trend := Trend{Daily: []TrendPoint{}, Weekly: []TrendPoint{}, Monthly: []TrendPoint{}}
	weekly := map[string]*bucket{}
	monthly := map[string]*bucket{}
	for _, s := range ordered {
		totals, ok := perSession[s.id]
		if !ok || totals.attempts == 0 {
			continue
		}
		local := s.startedAt.In(location)
		day := startOfDay(local)
		trend.Daily = append(trend.Daily, pointFrom(bucket{
			key:      day.Format(dayKeyLayout),
			start:    day,
			sessions: 1,
			totals:   *totals,
		}))

		week := startOfISOWeek(day)
		accumulate(weekly, week.Format(dayKeyLayout), week, *totals)
		month := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, location)
		accumulate(monthly, month.Format(monthKeyLayout), month, *totals)
	}
	trend.Weekly = flatten(weekly)
	trend.Monthly = flatten(monthly)
	return trend
}

func accumulate(buckets map[string]*bucket, key string, start time.Time, totals tally) {
	current := buckets[key]
	if current == nil {
		current = &bucket{key: key, start: start}
		buckets[key] = current
	}
	current.sessions++
	current.totals.attempts += totals.attempts
	current.totals.makes += totals.makes
	current.totals.threeTries += totals.threeTries
	current.totals.threeMakes += totals.threeMakes
}

func flatten(buckets map[string]*bucket) []TrendPoint {
	points := make([]TrendPoint, 0, len(buckets))
	for _, current := range buckets {
		points = append(points, pointFrom(*current))
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Key < points[j].Key
	})
	return points
}

func pointFrom(b bucket) TrendPoint {
	return TrendPoint{
		Key:             b.key,
		Start:           b.start,
		Sessions:        b.sessions,
		Attempts:        b.totals.attempts,
		Makes:           b.totals.makes,
		ThreePointMakes: b.totals.threeMakes,
		FGPct:           FGPct(b.totals.makes, b.totals.attempts),
		EFGPct:          EFGPct(b.totals.makes, b.totals.threeMakes, b.totals.attempts),
	}
}

func startOfDay(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, value.Location())
}

// startOfISOWeek returns the Monday of value's ISO week.
func startOfISOWeek(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
