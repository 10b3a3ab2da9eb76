package games

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/records"
	"github.com/MarcoPoloResearchLab/courtside/internal/shots"
)

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

const (
	StatusActive SessionStatus = "active"
	StatusEnded  SessionStatus = "ended"
)

// EventType enumerates what an event records.
type EventType string

const (
	EventShot           EventType = "shot"
	EventFreeThrow      EventType = "free_throw"
	EventAssist         EventType = "assist"
	EventRebound        EventType = "rebound"
	EventSteal          EventType = "steal"
	EventForcedTurnover EventType = "forced_turnover"
)

var (
	ErrInvalidStatus    = errors.New("games: invalid session status")
	ErrInvalidEventType = errors.New("games: invalid event type")
	ErrMissingGame      = errors.New("games: event requires a game")
	ErrZoneRequired     = errors.New("games: no zone selected for shot")
	ErrInvalidShotType  = errors.New("games: unknown shot type")
	ErrNotEditable      = errors.New("games: only shot events can be edited")
)

// Session is one game.
type Session struct {
	records.Meta
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at"`
	Opponent  string        `json:"opponent,omitempty"`
	Location  string        `json:"location,omitempty"`
}

func (s *Session) Validate() error {
	switch s.Status {
	case StatusActive, StatusEnded:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s.Status)
	}
}

// Active reports whether the session is still running.
func (s Session) Active() bool {
	return s.Status == StatusActive
}

// Event is one logged action inside a game.
type Event struct {
	records.Meta
	GameID     string    `json:"game_id"`
	Type       EventType `json:"type"`
	ZoneID     string    `json:"zone_id,omitempty"`
	IsThree    bool      `json:"is_three"`
	ShotType   string    `json:"shot_type,omitempty"`
	Contested  bool      `json:"contested"`
	Made       bool      `json:"made"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e *Event) Validate() error {
	if e.GameID == "" {
		return ErrMissingGame
	}
	switch e.Type {
	case EventShot:
		if e.ZoneID == "" {
			return ErrZoneRequired
		}
		if !shots.Known(e.ShotType) {
			return fmt.Errorf("%w: %q", ErrInvalidShotType, e.ShotType)
		}
	case EventFreeThrow, EventAssist, EventRebound, EventSteal, EventForcedTurnover:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEventType, e.Type)
	}
	return nil
}

// IsCounter reports whether the event type is a tallied stat rather than an attempt.
func (t EventType) IsCounter() bool {
	switch t {
	case EventAssist, EventRebound, EventSteal, EventForcedTurnover:
		return true
	default:
		return false
	}
}

// Shot describes a field-goal attempt to log.
type Shot struct {
	ZoneID    string
	IsThree   bool
	ShotType  string
	Contested bool
	Made      bool
}

// ShotPatch edits a logged shot; nil fields are left unchanged.
type ShotPatch struct {
	ZoneID    *string
	IsThree   *bool
	ShotType  *string
	Contested *bool
	Made      *bool
}
