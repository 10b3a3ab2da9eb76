package practice

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/records"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"go.uber.org/zap"
)

var noOpLogger = zap.NewNop()

type ServiceConfig struct {
	Gateway    records.Gateway
	Identity   records.IdentitySource
	Notifier   records.Notifier
	IDProvider records.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service is the practice Mutation Layer.
type Service struct {
	sessions *records.Repository[Session, *Session]
	entries  *records.Repository[Entry, *Entry]
	clock    func() time.Time
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
	sessionConfig.Collection = store.CollectionPracticeSessions
	sessions, err := records.New[Session](sessionConfig)
	if err != nil {
		return nil, err
	}
	entryConfig := base
	entryConfig.Collection = store.CollectionPracticeEntries
	entries, err := records.New[Entry](entryConfig)
	if err != nil {
		return nil, err
	}
	return &Service{sessions: sessions, entries: entries, clock: clock}, nil
}

func (s *Service) StartSession(ctx context.Context, focus string, startedAt time.Time) (Session, error) {
	if startedAt.IsZero() {
		startedAt = s.clock()
	}
	return s.sessions.Add(ctx, Session{Status: StatusActive, StartedAt: startedAt.UTC(), Focus: focus})
}

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

// DeleteSession tombstones the session and its entries.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.sessions.Get(ctx, id); err != nil {
		return err
	}
	entries, err := s.ListEntries(ctx, id)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := s.entries.Delete(ctx, entry.ID); err != nil && !errors.Is(err, records.ErrNotFound) {
			return err
		}
	}
	return s.sessions.Delete(ctx, id)
}

func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	return s.sessions.Get(ctx, id)
}

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

func (s *Service) ActiveSessions(ctx context.Context) ([]Session, error) {
	return s.ListSessions(ctx, SessionFilter{Status: StatusActive})
}

// AddEntry logs attempts against an existing session.
func (s *Service) AddEntry(ctx context.Context, sessionID string, input EntryInput) (Entry, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return Entry{}, err
	}
	entry := Entry{
		SessionID: sessionID,
		ZoneID:    input.ZoneID,
		IsThree:   input.IsThree,
		ShotType:  input.ShotType,
		Contested: input.Contested,
		FreeThrow: input.FreeThrow,
		Attempts:  input.Attempts,
		Makes:     input.Makes,
		LoggedAt:  s.clock().UTC(),
	}
	if entry.FreeThrow {
		entry.ZoneID = ""
		entry.IsThree = false
		entry.ShotType = ""
	}
	return s.entries.Add(ctx, entry)
}

func (s *Service) UpdateEntry(ctx context.Context, entryID string, patch EntryPatch) (Entry, error) {
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
	if patch.Attempts != nil {
		fields["attempts"] = *patch.Attempts
	}
	if patch.Makes != nil {
		fields["makes"] = *patch.Makes
	}
	if len(fields) == 0 {
		return s.entries.Get(ctx, entryID)
	}
	return s.entries.Update(ctx, entryID, fields)
}

func (s *Service) DeleteEntry(ctx context.Context, entryID string) error {
	return s.entries.Delete(ctx, entryID)
}

func (s *Service) ListEntries(ctx context.Context, sessionID string) ([]Entry, error) {
	return s.entries.List(ctx, func(entry Entry) bool {
		return entry.SessionID == sessionID
	})
}
