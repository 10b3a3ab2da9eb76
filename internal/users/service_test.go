package users

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}, &AthleteProfile{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestResolveCanonicalUserIDStripsProviderPrefix(t *testing.T) {
	service := newTestService(t)

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
	}
	userID, err := service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id without provider prefix, got %q", userID)
	}

	// second call should hit cache and not create a duplicate record.
	userID, err = service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id to remain stable, got %q", userID)
	}
}

func TestResolveCanonicalUserIDRejectsEmptyClaims(t *testing.T) {
	service := newTestService(t)
	if _, err := service.ResolveCanonicalUserID(auth.SessionClaims{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity error, got %v", err)
	}
}

func TestClaimProfileBindsAthleteToFirstOwner(t *testing.T) {
	service := newTestService(t)

	if err := service.ClaimProfile("user-1", "athlete-1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if err := service.ClaimProfile("user-1", "athlete-1"); err != nil {
		t.Fatalf("repeat claim by owner failed: %v", err)
	}
	if err := service.ClaimProfile("user-2", "athlete-1"); !errors.Is(err, ErrProfileOwnedElsewhere) {
		t.Fatalf("expected ownership error, got %v", err)
	}
	if err := service.ClaimProfile("user-1", " "); err == nil {
		t.Fatalf("expected error for blank athlete id")
	}

	profiles, err := service.ListProfiles("user-1")
	if err != nil {
		t.Fatalf("list profiles failed: %v", err)
	}
	if len(profiles) != 1 || profiles[0] != "athlete-1" {
		t.Fatalf("unexpected profiles %#v", profiles)
	}
}
