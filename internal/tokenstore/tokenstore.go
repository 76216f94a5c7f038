// Package tokenstore keeps the Google OAuth credential, the last sync
// summary and the rate-limit cooldown in the settings table.
package tokenstore

import (
	"sync"
	"time"

	"github.com/luthierworks/luthier/internal/models"
	"github.com/luthierworks/luthier/internal/store"
)

// DefaultValidity is how long an access token is trusted after issuance.
const DefaultValidity = time.Hour

// Store persists the OAuth credential. It never talks to the network.
type Store struct {
	mu       sync.Mutex
	settings store.SettingsStore
	validity time.Duration
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithValidity overrides the token validity window.
func WithValidity(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.validity = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store over settings.
func New(settings store.SettingsStore, opts ...Option) *Store {
	s := &Store{
		settings: settings,
		validity: DefaultValidity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores the token pair and stamps it with the current time. An empty
// refresh token keeps the one already stored.
func (s *Store) Save(accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.settings.Set(store.SettingGoogleAccessToken, accessToken); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := s.settings.Set(store.SettingGoogleRefreshToken, refreshToken); err != nil {
			return err
		}
	}
	return store.SetTime(s.settings, store.SettingGoogleTokenTimestamp, s.now())
}

// Read returns whatever is stored, without validation.
func (s *Store) Read() models.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c models.Credential
	c.AccessToken, _ = s.settings.Get(store.SettingGoogleAccessToken)
	c.RefreshToken, _ = s.settings.Get(store.SettingGoogleRefreshToken)
	c.IssuedAt, _ = store.GetTime(s.settings, store.SettingGoogleTokenTimestamp)
	return c
}

// IsExpired is true when no issuance time is stored or the validity window
// has elapsed.
func (s *Store) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	issued, ok := store.GetTime(s.settings, store.SettingGoogleTokenTimestamp)
	if !ok {
		return true
	}
	return s.now().Sub(issued) > s.validity
}

// Clear removes the credential, the cached sync stats and any cooldown.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{
		store.SettingGoogleAccessToken,
		store.SettingGoogleRefreshToken,
		store.SettingGoogleTokenTimestamp,
		store.SettingGoogleSyncStats,
		store.SettingGoogleRateLimitUntil,
	} {
		if err := s.settings.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// SetCooldown blocks sync runs until the given deadline.
func (s *Store) SetCooldown(until time.Time) error {
	return store.SetTime(s.settings, store.SettingGoogleRateLimitUntil, until)
}

// CooldownUntil returns the stored deadline when it lies in the future.
func (s *Store) CooldownUntil() (time.Time, bool) {
	until, ok := store.GetTime(s.settings, store.SettingGoogleRateLimitUntil)
	if !ok || !until.After(s.now()) {
		return time.Time{}, false
	}
	return until, true
}

// SelectedLocation returns the location chosen by the operator, if any.
func (s *Store) SelectedLocation() string {
	id, _ := s.settings.Get(store.SettingGoogleLocationID)
	return id
}

// SelectLocation remembers the location to sync. Empty clears it.
func (s *Store) SelectLocation(id string) error {
	if id == "" {
		return s.settings.Delete(store.SettingGoogleLocationID)
	}
	return s.settings.Set(store.SettingGoogleLocationID, models.NormalizeLocationID(id))
}
