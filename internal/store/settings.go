package store

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"time"
)

// SettingsStore is a flat string key/value table. Tokens, the last sync
// summary and the rate-limit cooldown live here.
type SettingsStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// Setting keys.
const (
	SettingGoogleAccessToken    = "google_access_token"
	SettingGoogleRefreshToken   = "google_refresh_token"
	SettingGoogleTokenTimestamp = "google_token_timestamp"
	SettingGoogleSyncStats      = "google_sync_stats"
	SettingGoogleRateLimitUntil = "google_rate_limit_until"
	SettingGoogleLocationID     = "google_location_id"
)

// SQLiteSettingsStore implements SettingsStore using SQLite
type SQLiteSettingsStore struct {
	db *sql.DB
}

// NewSQLiteSettingsStore wraps db. The settings table is created by migrations.
func NewSQLiteSettingsStore(db *sql.DB) *SQLiteSettingsStore {
	return &SQLiteSettingsStore{db: db}
}

// Get retrieves a setting value
func (s *SQLiteSettingsStore) Get(key string) (string, bool) {
	var value string
	if err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value); err != nil {
		return "", false
	}
	return value, true
}

// Set sets a setting value
func (s *SQLiteSettingsStore) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	return err
}

// Delete removes a setting
func (s *SQLiteSettingsStore) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key)
	return err
}

// GetTime reads a millisecond Unix timestamp. Missing or malformed values
// report false.
func GetTime(s SettingsStore, key string) (time.Time, bool) {
	value, ok := s.Get(key)
	if !ok || value == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// SetTime stores t as a millisecond Unix timestamp.
func SetTime(s SettingsStore, key string, t time.Time) error {
	return s.Set(key, strconv.FormatInt(t.UnixMilli(), 10))
}

// GetJSON decodes a JSON value into v. A missing or corrupt value reports false.
func GetJSON(s SettingsStore, key string, v interface{}) bool {
	value, ok := s.Get(key)
	if !ok || value == "" {
		return false
	}
	return json.Unmarshal([]byte(value), v) == nil
}

// SetJSON encodes v as JSON under key.
func SetJSON(s SettingsStore, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(key, string(data))
}
