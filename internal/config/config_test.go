package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadServerRequiresSigningSecret(t *testing.T) {
	if _, err := LoadServer(NewViper()); err == nil || !strings.Contains(err.Error(), "auth.signing_secret") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestLoadServerReadsEnvironment(t *testing.T) {
	t.Setenv("COURTSIDE_AUTH_SIGNING_SECRET", "secret")
	t.Setenv("COURTSIDE_HTTP_ADDRESS", "127.0.0.1:9999")
	t.Setenv("COURTSIDE_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadServer(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:9999" || cfg.SigningSecret != "secret" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.TokenTTL != 24*time.Hour || cfg.CookieName != defaultCookieName {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.SyncInterval != 30*time.Second || cfg.BackoffBase != 5*time.Second || cfg.BackoffMax != 5*time.Minute {
		t.Fatalf("unexpected sync defaults %+v", cfg)
	}
	if cfg.Location != time.UTC {
		t.Fatalf("expected UTC buckets, got %v", cfg.Location)
	}
}

func TestLoadClientValidates(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{name: "bad timezone", key: "COURTSIDE_ANALYTICS_TIMEZONE", val: "Mars/Olympus"},
		{name: "oversized page", key: "COURTSIDE_SYNC_PAGE_SIZE", val: "5000"},
		{name: "inverted backoff", key: "COURTSIDE_SYNC_BACKOFF_MAX", val: "1s"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Setenv(testCase.key, testCase.val)
			if _, err := LoadClient(NewViper()); err == nil {
				t.Fatalf("expected %s to be rejected", testCase.key)
			}
		})
	}
}

func TestLoadDotEnvSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("COURTSIDE_REMOTE_URL=https://remote.example\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("COURTSIDE_REMOTE_URL", "")
	os.Unsetenv("COURTSIDE_REMOTE_URL")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envFile); err != nil {
		t.Fatalf("load dotenv failed: %v", err)
	}
	cfg, err := LoadClient(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.RemoteURL != "https://remote.example" {
		t.Fatalf("expected dotenv value, got %q", cfg.RemoteURL)
	}
}
