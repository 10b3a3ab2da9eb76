package games

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/records"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"go.uber.org/zap"
)

var noOpLogger = zap.NewNop()

// ServiceConfig wires the game services.
type ServiceConfig struct {
	Gateway    records.Gateway
	Identity   records.IdentitySource
	Notifier   records.Notifier
	IDProvider records.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service is the game Mutation Layer.
type Service struct {
	sessions *records.Repository[Session, *Session]
	events   *records.Repository[Event, *Event]
	clock    func() time.Time
	logger   *zap.Logger
}

// StartOptions are optional details for a new game.
type StartOptions struct {
	Opponent  string
	Location  string
	StartedAt time.Time
}

// SessionFilter narrows ListSessions; zero fields match everything.
type SessionFilter struct {
	Status SessionStatus
	From   *time.Time
	To     *time.Time
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

	sessionConfig := base
	sessionConfig.Collection = store.CollectionGameSessions
	sessions, err := records.New[Session](sessionConfig)
	if err != nil {
		return nil, err
	}
	eventConfig := base
	eventConfig.Collection = store.CollectionGameEvents
	events, err := records.New[Event](eventConfig)
	if err != nil {
		return nil, err
	}
	return &Service{sessions: sessions, events: events, clock: clock, logger: logger}, nil
}

// StartSession opens a new active game. Other active games are left alone.
func (s *Service) StartSession(ctx context.Context, options StartOptions) (Session, error) {
	startedAt := options.StartedAt
	if startedAt.IsZero() {
		startedAt = s.clock()
	}
	return s.sessions.Add(ctx, Session{
		Status:    StatusActive,
		StartedAt: startedAt.UTC(),
		Opponent:  options.Opponent,
		Location:  options.Location,
	})
}

// EndSession marks the game ended. Ending an ended game is a no-op.
func (s *Service) EndSession(ctx context.Context, id string) (Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !session.Active() {
		return session, nil
	}
	return s.sessions.Update(ctx, id, store.Fields{
		"status":   StatusEnded,
		"ended_at": s.clock().UTC(),
	})
}

// DeleteSession tombstones the game and every event logged in it.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.sessions.Get(ctx, id); err != nil {
		return err
	}
	events, err := s.ListEvents(ctx, id)
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := s.events.Delete(ctx, event.ID); err != nil && !errors.Is(err, records.ErrNotFound) {
			return err
		}
	}
	return s.sessions.Delete(ctx, id)
}

func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	return s.sessions.Get(ctx, id)
}

// ListSessions returns games matching filter, oldest first.
func (s *Service) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	return s.sessions.List(ctx, func(session Session) bool {
		if filter.Status != "" && session.Status != filter.Status {
			return false
		}
		if filter.From != nil && session.StartedAt.Before(*filter.From) {
			return false
		}
		if filter.To != nil && session.StartedAt.After(*filter.To) {
			return false
		}
		return true
	})
}

// ActiveSessions may return more than one game; concurrent starts are allowed.
func (s *Service) ActiveSessions(ctx context.Context) ([]Session, error) {
	return s.ListSessions(ctx, SessionFilter{Status: StatusActive})
}

func (s *Service) LogShot(ctx context.Context, gameID string, shot Shot) (Event, error) {
	return s.logEvent(ctx, Event{
		GameID:    gameID,
		Type:      EventShot,
		ZoneID:    shot.ZoneID,
		IsThree:   shot.IsThree,
		ShotType:  shot.ShotType,
		Contested: shot.Contested,
		Made:      shot.Made,
	})
}

func (s *Service) LogFreeThrow(ctx context.Context, gameID string, made bool) (Event, error) {
	return s.logEvent(ctx, Event{GameID: gameID, Type: EventFreeThrow, Made: made})
}

// LogCounter records an assist, rebound, steal or forced turnover.
func (s *Service) LogCounter(ctx context.Context, gameID string, eventType EventType) (Event, error) {
	if !eventType.IsCounter() {
		return Event{}, ErrInvalidEventType
	}
	return s.logEvent(ctx, Event{GameID: gameID, Type: eventType})
}

func (s *Service) logEvent(ctx context.Context, event Event) (Event, error) {
	if _, err := s.sessions.Get(ctx, event.GameID); err != nil {
		return Event{}, err
	}
	event.OccurredAt = s.clock().UTC()
	return s.events.Add(ctx, event)
}

// UpdateShot edits a shot event; other event types are immutable.
func (s *Service) UpdateShot(ctx context.Context, eventID string, patch ShotPatch) (Event, error) {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return Event{}, err
	}
	if event.Type != EventShot {
		return Event{}, ErrNotEditable
	}
	fields := store.Fields{}
	if patch.ZoneID != nil {
		fields["zone_id"] = *patch.ZoneID
	}
	if patch.IsThree != nil {
		fields["is_three"] = *patch.IsThree
	}
	if patch.ShotType != nil {
		fields["shot_type"] = *patch.ShotType
	}
	if patch.Contested != nil {
		fields["contested"] = *patch.Contested
	}
	if patch.Made != nil {
		fields["made"] = *patch.Made
	}
	if len(fields) == 0 {
		return event, nil
	}
	return s.events.Update(ctx, eventID, fields)
}

func (s *Service) DeleteEvent(ctx context.Context, eventID string) error {
	return s.events.Delete(ctx, eventID)
}

// ListEvents returns the game's events in logging order.
func (s *Service) ListEvents(ctx context.Context, gameID string) ([]Event, error) {
	return s.events.List(ctx, func(event Event) bool {
		return event.GameID == gameID
	})
}
