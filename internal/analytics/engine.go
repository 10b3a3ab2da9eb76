package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/games"
	"github.com/MarcoPoloResearchLab/courtside/internal/practice"
	"github.com/MarcoPoloResearchLab/courtside/internal/records"
	"github.com/MarcoPoloResearchLab/courtside/internal/shots"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"go.uber.org/zap"
)

// Reader is the read-only slice of store.Manager analytics needs.
type Reader interface {
	Scan(ctx context.Context, collection store.Collection, filter store.ScanFilter) ([]store.Record, error)
}

type EngineConfig struct {
	Reader   Reader
	Identity records.IdentitySource
	Clock    func() time.Time
	// Location buckets days, weeks and months; defaults to UTC.
	Location *time.Location
	Logger   *zap.Logger
}

// Engine computes statistics from the local mirror only.
type Engine struct {
	reader   Reader
	identity records.IdentitySource
	clock    func() time.Time
	location *time.Location
	logger   *zap.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Reader == nil {
		return nil, fmt.Errorf("analytics: reader is required")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("analytics: identity source is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{reader: cfg.Reader, identity: cfg.Identity, clock: clock, location: location, logger: logger}, nil
}

// session and attempt flatten games and practice into one shape.
type session struct {
	id        string
	startedAt time.Time
}

type attempt struct {
	sessionID string
	zoneID    string
	shotType  string
	contested bool
	isThree   bool
	freeThrow bool
	attempts  int
	makes     int
}

// ComputeSessionPerformance aggregates the current profile's sessions of mode.
func (e *Engine) ComputeSessionPerformance(ctx context.Context, mode Mode, options Options) (Performance, error) {
	identity, err := e.identity.Current(true)
	if err != nil {
		return Performance{}, err
	}
	filter := store.ScanFilter{UserID: identity.UserID, AthleteID: identity.AthleteID}

	var (
		sessions []session
		attempts []attempt
		counters Counters
	)
	switch mode {
	case ModeGame:
		sessions, attempts, counters, err = e.loadGames(ctx, filter, options)
	case ModePractice:
		sessions, attempts, err = e.loadPractice(ctx, filter, options)
	default:
		return Performance{}, fmt.Errorf("analytics: unknown mode %q", mode)
	}
	if err != nil {
		return Performance{}, err
	}

	performance := aggregate(mode, sessions, filterAttempts(attempts, options), e.location)
	performance.Counters = counters
	return performance, nil
}

func (e *Engine) inWindow(startedAt time.Time, options Options) bool {
	if options.Days != nil {
		cutoff := e.clock().Add(-time.Duration(*options.Days) * 24 * time.Hour)
		if startedAt.Before(cutoff) {
			return false
		}
	}
	if options.From != nil && startedAt.Before(*options.From) {
		return false
	}
	if options.To != nil && startedAt.After(*options.To) {
		return false
	}
	return true
}

func (e *Engine) loadGames(ctx context.Context, filter store.ScanFilter, options Options) ([]session, []attempt, Counters, error) {
	var counters Counters
	sessionRecords, err := e.reader.Scan(ctx, store.CollectionGameSessions, filter)
	if err != nil {
		return nil, nil, counters, err
	}
	sessions := make([]session, 0, len(sessionRecords))
	inScope := map[string]struct{}{}
	for _, record := range sessionRecords {
		game, err := records.Decode[games.Session](record)
		if err != nil {
			e.skip(record, err)
			continue
		}
		if !e.inWindow(game.StartedAt, options) {
			continue
		}
		sessions = append(sessions, session{id: game.ID, startedAt: game.StartedAt})
		inScope[game.ID] = struct{}{}
	}

	eventRecords, err := e.reader.Scan(ctx, store.CollectionGameEvents, filter)
	if err != nil {
		return nil, nil, counters, err
	}
	attempts := make([]attempt, 0, len(eventRecords))
	for _, record := range eventRecords {
		event, err := records.Decode[games.Event](record)
		if err != nil {
			e.skip(record, err)
			continue
		}
		if _, ok := inScope[event.GameID]; !ok {
			continue
		}
		switch event.Type {
		case games.EventShot, games.EventFreeThrow:
			made := 0
			if event.Made {
				made = 1
			}
			attempts = append(attempts, attempt{
				sessionID: event.GameID,
				zoneID:    event.ZoneID,
				shotType:  event.ShotType,
				contested: event.Contested,
				isThree:   event.IsThree,
				freeThrow: event.Type == games.EventFreeThrow,
				attempts:  1,
				makes:     made,
			})
		case games.EventAssist:
			counters.Assists++
		case games.EventRebound:
			counters.Rebounds++
		case games.EventSteal:
			counters.Steals++
		case games.EventForcedTurnover:
			counters.ForcedTurnovers++
		}
	}
	return sessions, attempts, counters, nil
}

func (e *Engine) loadPractice(ctx context.Context, filter store.ScanFilter, options Options) ([]session, []attempt, error) {
	sessionRecords, err := e.reader.Scan(ctx, store.CollectionPracticeSessions, filter)
	if err != nil {
		return nil, nil, err
	}
	sessions := make([]session, 0, len(sessionRecords))
	inScope := map[string]struct{}{}
	for _, record := range sessionRecords {
		value, err := records.Decode[practice.Session](record)
		if err != nil {
			e.skip(record, err)
			continue
		}
		if !e.inWindow(value.StartedAt, options) {
			continue
		}
		sessions = append(sessions, session{id: value.ID, startedAt: value.StartedAt})
		inScope[value.ID] = struct{}{}
	}

	entryRecords, err := e.reader.Scan(ctx, store.CollectionPracticeEntries, filter)
	if err != nil {
		return nil, nil, err
	}
	attempts := make([]attempt, 0, len(entryRecords))
	for _, record := range entryRecords {
		entry, err := records.Decode[practice.Entry](record)
		if err != nil {
			e.skip(record, err)
			continue
		}
		if _, ok := inScope[entry.SessionID]; !ok {
			continue
		}
		attempts = append(attempts, attempt{
			sessionID: entry.SessionID,
			zoneID:    entry.ZoneID,
			shotType:  entry.ShotType,
			contested: entry.Contested,
			isThree:   entry.IsThree,
			freeThrow: entry.FreeThrow,
			attempts:  entry.Attempts,
			makes:     entry.Makes,
		})
	}
	return sessions, attempts, nil
}

func (e *Engine) skip(record store.Record, err error) {
	e.logger.Warn("analytics skipped undecodable record", zap.String("record_id", record.ID), zap.Error(err))
}

func filterAttempts(attempts []attempt, options Options) []attempt {
	filtered := attempts[:0:0]
	for _, candidate := range attempts {
		if candidate.attempts <= 0 {
			continue
		}
		if !candidate.freeThrow {
			if options.ShotType != "" {
				wanted, _ := shots.Canonical(options.ShotType)
				if shots.Type(candidate.shotType) != wanted {
					continue
				}
			}
			if options.Contested != nil && candidate.contested != *options.Contested {
				continue
			}
			if options.ZoneID != "" && candidate.zoneID != options.ZoneID {
				continue
			}
		}
		filtered = append(filtered, candidate)
	}
	return filtered
}

type tally struct {
	attempts   int
	makes      int
	threeTries int
	threeMakes int
}

func (t *tally) add(a attempt) {
	t.attempts += a.attempts
	t.makes += a.makes
	if a.isThree {
		t.threeTries += a.attempts
		t.threeMakes += a.makes
	}
}

func aggregate(mode Mode, sessions []session, attempts []attempt, location *time.Location) Performance {
	performance := emptyPerformance(mode)
	performance.Totals.Sessions = len(sessions)

	var overall, freeThrows tally
	zones := map[string]*tally{}
	perSession := map[string]*tally{}
	for _, a := range attempts {
		if a.freeThrow {
			freeThrows.add(a)
			continue
		}
		overall.add(a)
		zone := zones[a.zoneID]
		if zone == nil {
			zone = &tally{}
			zones[a.zoneID] = zone
		}
		zone.add(a)
		bucket := perSession[a.sessionID]
		if bucket == nil {
			bucket = &tally{}
			perSession[a.sessionID] = bucket
		}
		bucket.add(a)
	}

	performance.Totals.Attempts = overall.attempts
	performance.Totals.Makes = overall.makes
	performance.Totals.ThreePointAttempts = overall.threeTries
	performance.Totals.ThreePointMakes = overall.threeMakes
	performance.Totals.FGPct = FGPct(overall.makes, overall.attempts)
	performance.Totals.EFGPct = EFGPct(overall.makes, overall.threeMakes, overall.attempts)
	performance.Totals.FreeThrowAttempts = freeThrows.attempts
	performance.Totals.FreeThrowMakes = freeThrows.makes
	performance.Totals.FreeThrowPct = FGPct(freeThrows.makes, freeThrows.attempts)

	zoneIDs := make([]string, 0, len(zones))
	for zoneID := range zones {
		zoneIDs = append(zoneIDs, zoneID)
	}
	sort.Strings(zoneIDs)
	for _, zoneID := range zoneIDs {
		zone := zones[zoneID]
		performance.Metrics = append(performance.Metrics, ZoneMetric{
			ZoneID:          zoneID,
			Attempts:        zone.attempts,
			Makes:           zone.makes,
			ThreePointMakes: zone.threeMakes,
			FGPct:           FGPct(zone.makes, zone.attempts),
			EFGPct:          EFGPct(zone.makes, zone.threeMakes, zone.attempts),
			VolumePct:       FGPct(zone.attempts, overall.attempts),
		})
	}
	if freeThrows.attempts > 0 {
		performance.Metrics = append(performance.Metrics, ZoneMetric{
			ZoneID:   shots.FreeThrowZone,
			Attempts: freeThrows.attempts,
			Makes:    freeThrows.makes,
			FGPct:    FGPct(freeThrows.makes, freeThrows.attempts),
			EFGPct:   FGPct(freeThrows.makes, freeThrows.attempts),
		})
	}

	performance.Trend = buildTrend(sessions, perSession, location)
	return performance
}
