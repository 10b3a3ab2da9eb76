package app

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/analytics"
	"github.com/MarcoPoloResearchLab/courtside/internal/auth"
	"github.com/MarcoPoloResearchLab/courtside/internal/database"
	"github.com/MarcoPoloResearchLab/courtside/internal/games"
	"github.com/MarcoPoloResearchLab/courtside/internal/server"
	"github.com/MarcoPoloResearchLab/courtside/internal/shots"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"github.com/MarcoPoloResearchLab/courtside/internal/tables"
	"github.com/MarcoPoloResearchLab/courtside/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testSigningSecret = "app-test-secret"
	testUserID        = "user-1"
	testAthleteID     = "athlete-1"
)

type remoteFixture struct {
	url    string
	issuer *auth.TokenIssuer
}

func newRemoteFixture(t *testing.T) remoteFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenRemote(filepath.Join(t.TempDir(), "remote.db"), nil)
	if err != nil {
		t.Fatalf("failed to open remote database: %v", err)
	}
	tableService, err := tables.NewService(tables.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create tables service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    "courtside_session",
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "courtside-auth",
		Audience:      "courtside-api",
	})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Validator: validator,
		Users:     userService,
		Tables:    tableService,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)
	return remoteFixture{url: httpServer.URL, issuer: issuer}
}

func (f remoteFixture) token(t *testing.T) string {
	t.Helper()
	token, _, err := f.issuer.Issue(context.Background(), auth.TokenRequest{UserID: testUserID, AthleteID: testAthleteID})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// newTestApp builds an app on a fresh mirror. The returned context stops the
// sync loop before the mirror is closed.
func newTestApp(t *testing.T, remoteURL string, logger *zap.Logger) (*App, context.Context) {
	t.Helper()
	application, err := New(Config{
		MirrorPath:   filepath.Join(t.TempDir(), "mirror.db"),
		RemoteURL:    remoteURL,
		SyncInterval: time.Hour,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() { _ = application.Close() })
	t.Cleanup(cancel)
	return application, ctx
}

func TestNewRequiresMirrorAndRemote(t *testing.T) {
	if _, err := New(Config{RemoteURL: "http://localhost"}); err == nil {
		t.Fatalf("expected missing mirror path error")
	}
	if _, err := New(Config{MirrorPath: filepath.Join(t.TempDir(), "mirror.db")}); err == nil {
		t.Fatalf("expected missing remote error")
	}
}

func TestTwoDevicesConvergeThroughRemote(t *testing.T) {
	fixture := newRemoteFixture(t)
	token := fixture.token(t)

	phone, ctx := newTestApp(t, fixture.url, nil)
	if _, err := phone.SignIn(token, ""); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if err := phone.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	game, err := phone.Games.StartSession(ctx, games.StartOptions{Opponent: "Hawks"})
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	if _, err := phone.Games.LogShot(ctx, game.ID, games.Shot{ZoneID: "right_corner", IsThree: true, ShotType: string(shots.TypeCatchShoot), Made: true}); err != nil {
		t.Fatalf("log shot failed: %v", err)
	}
	if _, err := phone.Games.LogShot(ctx, game.ID, games.Shot{ZoneID: "paint", ShotType: string(shots.TypeLayup), Contested: true}); err != nil {
		t.Fatalf("log shot failed: %v", err)
	}
	if _, err := phone.Games.LogCounter(ctx, game.ID, games.EventAssist); err != nil {
		t.Fatalf("log counter failed: %v", err)
	}
	if _, err := phone.Games.EndSession(ctx, game.ID); err != nil {
		t.Fatalf("end session failed: %v", err)
	}

	if _, err := phone.Sync.SyncNow(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	pending, err := phone.Store.PendingCount(ctx, testUserID)
	if err != nil {
		t.Fatalf("pending count failed: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected empty outbox after sync, got %d", pending)
	}

	tablet, tabletCtx := newTestApp(t, fixture.url, nil)
	if _, err := tablet.SignIn(token, ""); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if err := tablet.Start(tabletCtx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	sessions, err := tablet.Games.ListSessions(tabletCtx, games.SessionFilter{})
	if err != nil {
		t.Fatalf("list sessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one game on the second device, got %d", len(sessions))
	}
	if sessions[0].ID != game.ID || sessions[0].Opponent != "Hawks" || sessions[0].Active() {
		t.Fatalf("unexpected hydrated session %+v", sessions[0])
	}

	performance, err := tablet.Analytics.ComputeSessionPerformance(tabletCtx, analytics.ModeGame, analytics.Options{})
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	if performance.Totals.Attempts != 2 || performance.Totals.Makes != 1 || performance.Totals.ThreePointMakes != 1 {
		t.Fatalf("unexpected totals %+v", performance.Totals)
	}
	if performance.Counters.Assists != 1 {
		t.Fatalf("expected one assist, got %+v", performance.Counters)
	}
}

func TestStartSignedOutNormalizesMirror(t *testing.T) {
	fixture := newRemoteFixture(t)
	application, ctx := newTestApp(t, fixture.url, nil)

	legacyAt := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	legacy := store.Live("game-legacy", testUserID, testAthleteID, store.Fields{"status": "completed"}, legacyAt, legacyAt)
	if err := application.Store.Put(ctx, store.CollectionGameSessions, legacy); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := application.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	repaired, err := application.Store.Get(ctx, store.CollectionGameSessions, "game-legacy")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if repaired.Fields["status"] != "ended" {
		t.Fatalf("expected legacy status to be normalized, got %v", repaired.Fields["status"])
	}
	pending, err := application.Store.PendingCount(ctx, testUserID)
	if err != nil {
		t.Fatalf("pending count failed: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected the repair to be queued for push, got %d", pending)
	}
}

func TestStartSurvivesUnreachableRemote(t *testing.T) {
	fixture := newRemoteFixture(t)
	token := fixture.token(t)
	offline := httptest.NewServer(nil)
	offlineURL := offline.URL
	offline.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	application, ctx := newTestApp(t, offlineURL, zap.New(core))
	if _, err := application.SignIn(token, ""); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if err := application.Start(ctx); err != nil {
		t.Fatalf("expected start to tolerate an unreachable remote, got %v", err)
	}
	if logs.FilterMessage("bootstrap failed; serving local mirror").Len() != 1 {
		t.Fatalf("expected bootstrap failure to be logged once")
	}

	if _, err := application.Games.StartSession(ctx, games.StartOptions{}); err != nil {
		t.Fatalf("local write failed while offline: %v", err)
	}
	pending, err := application.Store.PendingCount(ctx, testUserID)
	if err != nil {
		t.Fatalf("pending count failed: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected the write to stay pending, got %d", pending)
	}
}
