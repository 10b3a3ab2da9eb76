// Package storetest provides SQLite-backed fixtures for packages built on store.Manager.
package storetest

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/account"
	"github.com/MarcoPoloResearchLab/courtside/internal/database"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"gorm.io/gorm"
)

// NewManager opens a fresh mirror under t.TempDir and closes it on cleanup.
func NewManager(t testing.TB) *store.Manager {
	t.Helper()
	return NewManagerAt(t, filepath.Join(t.TempDir(), "mirror.db"), nil)
}

// NewManagerAt opens the mirror at path using clock for outbox timestamps.
func NewManagerAt(t testing.TB, path string, clock func() time.Time) *store.Manager {
	t.Helper()
	manager, err := store.NewManager(store.Config{
		Open: func() (*gorm.DB, error) {
			return database.OpenMirror(path, nil)
		},
		Clock: clock,
	})
	if err != nil {
		t.Fatalf("failed to construct manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

// Identity is a settable records.IdentitySource.
type Identity struct {
	mu       sync.Mutex
	identity account.Identity
}

// NewIdentity returns an identity signed in as userID with athleteID active.
func NewIdentity(userID, athleteID string) *Identity {
	return &Identity{identity: account.Identity{UserID: userID, AthleteID: athleteID}}
}

// Set replaces the current identity.
func (i *Identity) Set(userID, athleteID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.identity = account.Identity{UserID: userID, AthleteID: athleteID}
}

func (i *Identity) Current(requireProfile bool) (account.Identity, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.identity.UserID == "" {
		return account.Identity{}, account.ErrUnauthenticated
	}
	if requireProfile && i.identity.AthleteID == "" {
		return account.Identity{}, account.ErrNoActiveProfile
	}
	return i.identity, nil
}

// Clock is a manually advanced clock. Each call to Now advances it by Step.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewClock starts a clock at start advancing by step per reading.
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{now: start.UTC(), Step: step}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.now
	c.now = c.now.Add(c.Step)
	return current
}

// Set moves the clock to at.
func (c *Clock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at.UTC()
}
