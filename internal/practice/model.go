package practice

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/records"
	"github.com/MarcoPoloResearchLab/courtside/internal/shots"
)

// SessionStatus is the lifecycle state of a practice session.
type SessionStatus string

const (
	StatusActive SessionStatus = "active"
	StatusEnded  SessionStatus = "ended"
)

var (
	ErrInvalidStatus   = errors.New("practice: invalid session status")
	ErrMissingSession  = errors.New("practice: entry requires a session")
	ErrZoneRequired    = errors.New("practice: no zone selected for entry")
	ErrInvalidShotType = errors.New("practice: unknown shot type")
	ErrInvalidCounts   = errors.New("practice: makes must be between 0 and attempts, attempts at least 1")
)

// Session is one practice.
type Session struct {
	records.Meta
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at"`
	Focus     string        `json:"focus,omitempty"`
}

func (s *Session) Validate() error {
	switch s.Status {
	case StatusActive, StatusEnded:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s.Status)
	}
}

func (s Session) Active() bool {
	return s.Status == StatusActive
}

// Entry is a batch of attempts from one spot.
type Entry struct {
	records.Meta
	SessionID string    `json:"session_id"`
	ZoneID    string    `json:"zone_id,omitempty"`
	IsThree   bool      `json:"is_three"`
	ShotType  string    `json:"shot_type,omitempty"`
	Contested bool      `json:"contested"`
	FreeThrow bool      `json:"free_throw"`
	Attempts  int       `json:"attempts"`
	Makes     int       `json:"makes"`
	LoggedAt  time.Time `json:"logged_at"`
}

func (e *Entry) Validate() error {
	if e.SessionID == "" {
		return ErrMissingSession
	}
	if e.Attempts < 1 || e.Makes < 0 || e.Makes > e.Attempts {
		return fmt.Errorf("%w: %d/%d", ErrInvalidCounts, e.Makes, e.Attempts)
	}
	if e.FreeThrow {
		return nil
	}
	if e.ZoneID == "" {
		return ErrZoneRequired
	}
	if !shots.Known(e.ShotType) {
		return fmt.Errorf("%w: %q", ErrInvalidShotType, e.ShotType)
	}
	return nil
}

// EntryInput describes attempts to log.
type EntryInput struct {
	ZoneID    string
	IsThree   bool
	ShotType  string
	Contested bool
	FreeThrow bool
	Attempts  int
	Makes     int
}

// EntryPatch edits a logged entry; nil fields are left unchanged.
type EntryPatch struct {
	ZoneID    *string
	IsThree   *bool
	ShotType  *string
	Contested *bool
	Attempts  *int
	Makes     *int
}
