package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/auth"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrProfileOwnedElsewhere indicates the athlete profile belongs to another account.
	ErrProfileOwnedElsewhere = errors.New("users: athlete profile owned by another user")
	errMissingAthleteID      = errors.New("users: athlete id required")
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical user identifiers and athlete profile ownership.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	cache    sync.Map
	profiles sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the provided session claims.
// It creates a new identity mapping when the provider+subject pair has not been seen before.
func (s *Service) ResolveCanonicalUserID(claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		if canonicalIdentifier, ok := cachedIdentifier.(string); ok {
			return canonicalIdentifier, nil
		}
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		_ = s.db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

// ClaimProfile records userID as the owner of athleteID on first use and
// rejects later writes from any other account.
func (s *Service) ClaimProfile(userID, athleteID string) error {
	athleteID = normalize(athleteID)
	if athleteID == "" {
		return errMissingAthleteID
	}
	if owner, ok := s.profiles.Load(athleteID); ok {
		if owner.(string) != userID {
			return ErrProfileOwnedElsewhere
		}
		return nil
	}

	var profile AthleteProfile
	err := s.db.Where("athlete_id = ?", athleteID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = AthleteProfile{AthleteID: athleteID, UserID: userID, ClaimedAt: s.now().UTC()}
		if err := s.db.Create(&profile).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	s.profiles.Store(athleteID, profile.UserID)
	if profile.UserID != userID {
		return ErrProfileOwnedElsewhere
	}
	return nil
}

// ListProfiles returns the athlete ids owned by the user.
func (s *Service) ListProfiles(userID string) ([]string, error) {
	athleteIDs := make([]string, 0)
	err := s.db.Model(&AthleteProfile{}).
		Where("user_id = ?", userID).
		Order("claimed_at ASC").
		Pluck("athlete_id", &athleteIDs).Error
	return athleteIDs, err
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	if prefix, raw := auth.SplitUserID(claims.UserID); raw != "" {
		subject = raw
		if prefix != "" {
			provider = prefix
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
