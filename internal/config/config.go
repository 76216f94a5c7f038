package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Google endpoints used when the config leaves them empty.
const (
	DefaultAuthURL         = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultTokenURL        = "https://oauth2.googleapis.com/token"
	DefaultBusinessInfoURL = "https://mybusinessbusinessinformation.googleapis.com/v1"
	DefaultReviewsURL      = "https://mybusiness.googleapis.com/v4"
	DefaultUserInfoURL     = "https://www.googleapis.com/oauth2/v2/userinfo"
	CallbackPath           = "/oauth/callback/google"
)

// DefaultScopes grants read access to business locations and reviews.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/business.manage",
	"https://www.googleapis.com/auth/plus.business.manage",
}

// Config represents the complete application configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Google   GoogleConfig   `yaml:"google"`
	Sync     SyncConfig     `yaml:"sync"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	DBPath          string        `yaml:"db_path"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	Auth         AuthConfig      `yaml:"auth"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	CORS         CORSConfig      `yaml:"cors"`
	MaxBodyBytes int64           `yaml:"max_body_bytes"`
}

// AuthConfig protects the /admin routes.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	APIKeys    []string `yaml:"api_keys"`
	HeaderName string   `yaml:"header_name"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

// GoogleConfig holds OAuth client settings and listing endpoints.
type GoogleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ClientID        string        `yaml:"client_id"`
	ClientSecret    string        `yaml:"client_secret"`
	PublicURL       string        `yaml:"public_url"`
	Scopes          []string      `yaml:"scopes"`
	LocationID      string        `yaml:"location_id"`
	AuthURL         string        `yaml:"auth_url"`
	TokenURL        string        `yaml:"token_url"`
	BusinessInfoURL string        `yaml:"business_info_url"`
	ReviewsURL      string        `yaml:"reviews_url"`
	UserInfoURL     string        `yaml:"userinfo_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	PageSize        int           `yaml:"page_size"`
	UseUTLS         bool          `yaml:"use_utls"`
}

// RedirectURL is the callback registered with the OAuth client.
func (g GoogleConfig) RedirectURL() string {
	return strings.TrimRight(g.PublicURL, "/") + CallbackPath
}

// SyncConfig tunes the review importer.
type SyncConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	BatchPause      time.Duration `yaml:"batch_pause"`
	TokenValidity   time.Duration `yaml:"token_validity"`
	DefaultCooldown time.Duration `yaml:"default_cooldown"`
	Interval        time.Duration `yaml:"interval"`
}

// TelegramConfig enables sync summaries in a Telegram chat.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.Google.Validate(); err != nil {
		return fmt.Errorf("google: %w", err)
	}

	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("host is required")
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.TLS.Enabled {
		if s.TLS.CertFile == "" {
			return fmt.Errorf("tls cert_file is required when TLS is enabled")
		}
		if s.TLS.KeyFile == "" {
			return fmt.Errorf("tls key_file is required when TLS is enabled")
		}
	}
	return nil
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.Auth.Enabled && len(a.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth: api_keys is required when auth is enabled")
	}
	if a.Auth.HeaderName == "" {
		a.Auth.HeaderName = "X-API-Key"
	}
	if a.RateLimit.RequestsPerMinute <= 0 {
		a.RateLimit.RequestsPerMinute = 600
	}
	if a.RateLimit.Burst <= 0 {
		a.RateLimit.Burst = 50
	}
	if a.MaxBodyBytes <= 0 {
		a.MaxBodyBytes = 1 << 20
	}
	return nil
}

// Validate validates Google configuration and applies endpoint defaults.
func (g *GoogleConfig) Validate() error {
	if g.Enabled {
		if g.ClientID == "" {
			return fmt.Errorf("client_id is required when google is enabled")
		}
		if g.ClientSecret == "" {
			return fmt.Errorf("client_secret is required when google is enabled")
		}
		if g.PublicURL == "" {
			return fmt.Errorf("public_url is required when google is enabled")
		}
	}
	if g.PublicURL != "" {
		u, err := url.Parse(g.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("public_url must be an absolute URL")
		}
	}
	if len(g.Scopes) == 0 {
		g.Scopes = append([]string(nil), DefaultScopes...)
	}
	if g.AuthURL == "" {
		g.AuthURL = DefaultAuthURL
	}
	if g.TokenURL == "" {
		g.TokenURL = DefaultTokenURL
	}
	if g.BusinessInfoURL == "" {
		g.BusinessInfoURL = DefaultBusinessInfoURL
	}
	if g.ReviewsURL == "" {
		g.ReviewsURL = DefaultReviewsURL
	}
	if g.UserInfoURL == "" {
		g.UserInfoURL = DefaultUserInfoURL
	}
	if g.Timeout <= 0 {
		g.Timeout = 10 * time.Second
	}
	if g.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	if g.RetryAttempts == 0 {
		g.RetryAttempts = 3
	}
	if g.RetryBackoff <= 0 {
		g.RetryBackoff = time.Second
	}
	if g.PageSize <= 0 {
		g.PageSize = 50
	}
	return nil
}

// Validate validates sync configuration.
func (s *SyncConfig) Validate() error {
	if s.BatchSize <= 0 {
		s.BatchSize = 10
	}
	if s.BatchPause < 0 {
		return fmt.Errorf("batch_pause cannot be negative")
	}
	if s.BatchPause == 0 {
		s.BatchPause = 100 * time.Millisecond
	}
	if s.TokenValidity <= 0 {
		s.TokenValidity = time.Hour
	}
	if s.DefaultCooldown <= 0 {
		s.DefaultCooldown = time.Minute
	}
	if s.Interval < 0 {
		return fmt.Errorf("interval cannot be negative")
	}
	return nil
}

// Validate validates Telegram configuration.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" {
		return fmt.Errorf("bot_token is required when telegram is enabled")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("chat_id is required when telegram is enabled")
	}
	return nil
}
