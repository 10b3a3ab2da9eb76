// Package app wires the local mirror, the mutation services, analytics and
// the sync engine into one client.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/account"
	"github.com/MarcoPoloResearchLab/courtside/internal/analytics"
	"github.com/MarcoPoloResearchLab/courtside/internal/database"
	"github.com/MarcoPoloResearchLab/courtside/internal/games"
	"github.com/MarcoPoloResearchLab/courtside/internal/goals"
	"github.com/MarcoPoloResearchLab/courtside/internal/normalize"
	"github.com/MarcoPoloResearchLab/courtside/internal/practice"
	"github.com/MarcoPoloResearchLab/courtside/internal/records"
	"github.com/MarcoPoloResearchLab/courtside/internal/remote"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"github.com/MarcoPoloResearchLab/courtside/internal/syncer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingMirrorPath = errors.New("app: mirror path is required")
	errMissingRemote     = errors.New("app: remote client or remote url is required")
)

type Config struct {
	MirrorPath string
	// Remote overrides the HTTP client built from RemoteURL.
	Remote          remote.Client
	RemoteURL       string
	RemoteTimeout   time.Duration
	SyncInterval    time.Duration
	Backoff         syncer.Backoff
	PullConcurrency int
	PageSize        int
	Location        *time.Location
	Clock           func() time.Time
	IDProvider      records.IDProvider
	Logger          *zap.Logger
}

// App is one client instance bound to one mirror file.
type App struct {
	Store     *store.Manager
	Session   *account.Session
	Sync      *syncer.Engine
	Games     *games.Service
	Practice  *practice.Service
	Goals     *goals.Service
	Analytics *analytics.Engine

	logger *zap.Logger
}

func New(cfg Config) (*App, error) {
	if strings.TrimSpace(cfg.MirrorPath) == "" {
		return nil, errMissingMirrorPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = records.NewUUIDProvider()
	}

	mirrorPath := cfg.MirrorPath
	manager, err := store.NewManager(store.Config{
		Open: func() (*gorm.DB, error) {
			return database.OpenMirror(mirrorPath, logger)
		},
		Clock:  clock,
		Logger: logger.Named("store"),
	})
	if err != nil {
		return nil, err
	}

	session := account.NewSession()

	client := cfg.Remote
	if client == nil {
		if strings.TrimSpace(cfg.RemoteURL) == "" {
			return nil, errMissingRemote
		}
		httpClient, err := remote.NewHTTPClient(remote.HTTPClientConfig{
			BaseURL:     cfg.RemoteURL,
			TokenSource: session,
			Timeout:     cfg.RemoteTimeout,
		})
		if err != nil {
			return nil, err
		}
		client = httpClient
	}

	engine, err := syncer.NewEngine(syncer.Config{
		Store:           manager,
		Remote:          client,
		Identity:        session,
		Interval:        cfg.SyncInterval,
		Backoff:         cfg.Backoff,
		PullConcurrency: cfg.PullConcurrency,
		PageSize:        cfg.PageSize,
		Clock:           clock,
		Logger:          logger.Named("sync"),
	})
	if err != nil {
		return nil, err
	}
	session.OnSignIn(func(account.Identity) {
		engine.Notify()
	})

	stats, err := analytics.NewEngine(analytics.EngineConfig{
		Reader:   manager,
		Identity: session,
		Clock:    clock,
		Location: cfg.Location,
		Logger:   logger.Named("analytics"),
	})
	if err != nil {
		return nil, err
	}

	gameService, err := games.NewService(games.ServiceConfig{
		Gateway:    manager,
		Identity:   session,
		Notifier:   engine,
		IDProvider: idProvider,
		Clock:      clock,
		Logger:     logger.Named("games"),
	})
	if err != nil {
		return nil, err
	}
	practiceService, err := practice.NewService(practice.ServiceConfig{
		Gateway:    manager,
		Identity:   session,
		Notifier:   engine,
		IDProvider: idProvider,
		Clock:      clock,
		Logger:     logger.Named("practice"),
	})
	if err != nil {
		return nil, err
	}
	goalService, err := goals.NewService(goals.ServiceConfig{
		Gateway:    manager,
		Identity:   session,
		Notifier:   engine,
		IDProvider: idProvider,
		Evaluator:  stats,
		Clock:      clock,
		Logger:     logger.Named("goals"),
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Store:     manager,
		Session:   session,
		Sync:      engine,
		Games:     gameService,
		Practice:  practiceService,
		Goals:     goalService,
		Analytics: stats,
		logger:    logger,
	}, nil
}

// SignIn adopts a session token and, when athleteID is set, selects that
// profile.
func (a *App) SignIn(token, athleteID string) (account.Identity, error) {
	if strings.TrimSpace(athleteID) != "" {
		a.Session.SelectProfile(athleteID)
	}
	identity, err := a.Session.SignIn(token)
	if err != nil {
		return account.Identity{}, fmt.Errorf("app: sign in: %w", err)
	}
	return identity, nil
}

// Start opens the mirror, repairs legacy rows, hydrates from the remote when
// signed in and starts the background sync loop. Only a mirror that cannot
// be opened fails Start.
func (a *App) Start(ctx context.Context) error {
	if err := a.Store.EnsureReady(ctx); err != nil {
		return err
	}

	a.Normalize(ctx)

	if _, err := a.Session.UserID(); err == nil {
		result, err := a.Sync.Bootstrap(ctx)
		if err != nil {
			a.logger.Warn("bootstrap failed; serving local mirror", zap.Error(err))
		} else {
			a.logger.Info("bootstrap complete", zap.Int("pulled", result.Pulled), zap.Int("purged", result.Purged))
		}
	}

	return a.Sync.StartAutoSync(ctx)
}

// Normalize runs the default normalization rules over the mirror.
func (a *App) Normalize(ctx context.Context) normalize.Report {
	pass := normalize.Pass{
		Gateway: a.Store,
		Rules:   normalize.DefaultRules(),
		Logger:  a.logger.Named("normalize"),
	}
	report := pass.Run(ctx)
	if total := report.Total(); total > 0 {
		a.Sync.Notify()
	}
	return report
}

// Close releases the mirror.
func (a *App) Close() error {
	return a.Store.Close()
}
