// Package account tracks who is signed in on this device and which athlete
// profile writes are attributed to.
package account

import (
	"errors"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/courtside/internal/auth"
)

var (
	// ErrUnauthenticated indicates an operation needs a signed-in user.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNoActiveProfile indicates an operation needs an active athlete profile.
	ErrNoActiveProfile = errors.New("no active profile selected")
)

// Identity is the resolved owner for a write.
type Identity struct {
	UserID    string
	AthleteID string
}

// Session holds the current user, their token and the active profile.
// The zero value is a signed-out session.
type Session struct {
	mu        sync.RWMutex
	userID    string
	token     string
	athleteID string
	listeners []func(Identity)
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{}
}

// SignIn reads the user id from the token claims and stores both. The
// token's athlete claim becomes the active profile when none is selected.
// A different user never inherits the previous user's profile.
func (s *Session) SignIn(token string) (Identity, error) {
	claims, err := auth.ParseUnverified(token)
	if err != nil {
		return Identity{}, err
	}
	_, userID := auth.SplitUserID(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return Identity{}, ErrUnauthenticated
	}
	s.mu.Lock()
	if s.userID != userID {
		s.athleteID = ""
	}
	s.userID = userID
	s.token = strings.TrimSpace(token)
	if s.athleteID == "" {
		s.athleteID = strings.TrimSpace(claims.AthleteID)
	}
	identity := Identity{UserID: s.userID, AthleteID: s.athleteID}
	listeners := append([]func(Identity){}, s.listeners...)
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(identity)
	}
	return identity, nil
}

// SignOut clears the user, token and active profile.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.userID = ""
	s.token = ""
	s.athleteID = ""
	s.mu.Unlock()
}

// SelectProfile sets the active athlete profile.
func (s *Session) SelectProfile(athleteID string) {
	s.mu.Lock()
	s.athleteID = strings.TrimSpace(athleteID)
	s.mu.Unlock()
}

// OnSignIn registers a callback invoked after every successful SignIn.
func (s *Session) OnSignIn(listener func(Identity)) {
	if listener == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
}

// UserID returns the signed-in user or ErrUnauthenticated.
func (s *Session) UserID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" {
		return "", ErrUnauthenticated
	}
	return s.userID, nil
}

// Current returns the user and active profile. requireProfile controls
// whether a missing profile is an error.
func (s *Session) Current(requireProfile bool) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" {
		return Identity{}, ErrUnauthenticated
	}
	if requireProfile && s.athleteID == "" {
		return Identity{}, ErrNoActiveProfile
	}
	return Identity{UserID: s.userID, AthleteID: s.athleteID}, nil
}

// AccessToken satisfies remote.TokenSource.
func (s *Session) AccessToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrUnauthenticated
	}
	return s.token, nil
}
