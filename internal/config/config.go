package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "COURTSIDE"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "courtside-remote.db"
	defaultMirrorPath         = "courtside.db"
	defaultRemoteURL          = "http://127.0.0.1:8080"
	defaultLogLevel           = "info"
	defaultCookieName         = "courtside_session"
	defaultIssuer             = "courtside-auth"
	defaultAudience           = "courtside-api"
	defaultTokenTTLMinutes    = 24 * 60
	defaultRemoteTimeout      = 15 * time.Second
	defaultSyncInterval       = 30 * time.Second
	defaultBackoffBase        = 5 * time.Second
	defaultBackoffMax         = 5 * time.Minute
	defaultPullConcurrency    = 3
	defaultPageSize           = 500
	defaultAnalyticsTimezone  = "UTC"
	defaultAllowedOriginsList = "*"
)

// ServerConfig captures runtime configuration for the remote API server.
type ServerConfig struct {
	HTTPAddress    string
	DatabasePath   string
	SigningSecret  string
	CookieName     string
	Issuer         string
	Audience       string
	TokenTTL       time.Duration
	AllowedOrigins []string
	LogLevel       string
	LogFile        string
}

// ClientConfig captures runtime configuration for the local-first client.
type ClientConfig struct {
	MirrorPath      string
	RemoteURL       string
	RemoteToken     string
	RemoteTimeout   time.Duration
	AthleteID       string
	SyncInterval    time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	PullConcurrency int
	PageSize        int
	Location        *time.Location
	LogLevel        string
	LogFile         string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOriginsList)

	configViper.SetDefault("client.mirror_path", defaultMirrorPath)
	configViper.SetDefault("remote.url", defaultRemoteURL)
	configViper.SetDefault("remote.token", "")
	configViper.SetDefault("remote.timeout", defaultRemoteTimeout)
	configViper.SetDefault("profile.athlete_id", "")
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.backoff_base", defaultBackoffBase)
	configViper.SetDefault("sync.backoff_max", defaultBackoffMax)
	configViper.SetDefault("sync.pull_concurrency", defaultPullConcurrency)
	configViper.SetDefault("sync.page_size", defaultPageSize)
	configViper.SetDefault("analytics.timezone", defaultAnalyticsTimezone)
}

// LoadDotEnv loads KEY=value files into the process environment. Missing
// files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// LoadServer parses server configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		CookieName:     configViper.GetString("auth.cookie_name"),
		Issuer:         configViper.GetString("auth.issuer"),
		Audience:       configViper.GetString("auth.audience"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		AllowedOrigins: splitList(configViper.GetString("cors.allowed_origins")),
		LogLevel:       configViper.GetString("log.level"),
		LogFile:        configViper.GetString("log.file"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	return nil
}

// LoadClient parses client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	location, err := time.LoadLocation(configViper.GetString("analytics.timezone"))
	if err != nil {
		return ClientConfig{}, fmt.Errorf("analytics.timezone: %w", err)
	}
	cfg := ClientConfig{
		MirrorPath:      configViper.GetString("client.mirror_path"),
		RemoteURL:       configViper.GetString("remote.url"),
		RemoteToken:     configViper.GetString("remote.token"),
		RemoteTimeout:   configViper.GetDuration("remote.timeout"),
		AthleteID:       configViper.GetString("profile.athlete_id"),
		SyncInterval:    configViper.GetDuration("sync.interval"),
		BackoffBase:     configViper.GetDuration("sync.backoff_base"),
		BackoffMax:      configViper.GetDuration("sync.backoff_max"),
		PullConcurrency: configViper.GetInt("sync.pull_concurrency"),
		PageSize:        configViper.GetInt("sync.page_size"),
		Location:        location,
		LogLevel:        configViper.GetString("log.level"),
		LogFile:         configViper.GetString("log.file"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ClientConfig) validate() error {
	if strings.TrimSpace(c.MirrorPath) == "" {
		return fmt.Errorf("client.mirror_path is required")
	}
	if strings.TrimSpace(c.RemoteURL) == "" {
		return fmt.Errorf("remote.url is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("sync.backoff_base must be positive and not exceed sync.backoff_max")
	}
	if c.PullConcurrency <= 0 {
		return fmt.Errorf("sync.pull_concurrency must be positive")
	}
	if c.PageSize <= 0 || c.PageSize > 1000 {
		return fmt.Errorf("sync.page_size must be between 1 and 1000")
	}
	return nil
}

func splitList(raw string) []string {
	values := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
