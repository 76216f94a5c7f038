package tokenstore

import (
	"testing"
	"time"

	"github.com/luthierworks/luthier/internal/models"
	"github.com/luthierworks/luthier/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*Store, *store.MemorySettingsStore, *fakeClock) {
	settings := store.NewMemorySettingsStore()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	return New(settings, WithClock(clock.Now)), settings, clock
}

func TestStore_SaveRead(t *testing.T) {
	ts, _, clock := newTestStore()

	cred := ts.Read()
	assert.False(t, cred.HasAccess())
	assert.True(t, cred.IssuedAt.IsZero())

	require.NoError(t, ts.Save("access-1", "refresh-1"))
	cred = ts.Read()
	assert.Equal(t, "access-1", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
	assert.True(t, clock.Now().Equal(cred.IssuedAt))

	clock.Advance(time.Minute)
	require.NoError(t, ts.Save("access-2", ""))
	cred = ts.Read()
	assert.Equal(t, "access-2", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken, "empty refresh keeps the stored one")
	assert.True(t, clock.Now().Equal(cred.IssuedAt))
}

func TestStore_IsExpired(t *testing.T) {
	ts, settings, clock := newTestStore()

	assert.True(t, ts.IsExpired(), "no timestamp means expired")

	require.NoError(t, ts.Save("a", "r"))
	assert.False(t, ts.IsExpired())

	clock.Advance(time.Hour)
	assert.False(t, ts.IsExpired(), "exactly one hour is still valid")

	clock.Advance(time.Millisecond)
	assert.True(t, ts.IsExpired())

	require.NoError(t, settings.Set(store.SettingGoogleTokenTimestamp, "nonsense"))
	assert.True(t, ts.IsExpired())
}

func TestStore_WithValidity(t *testing.T) {
	settings := store.NewMemorySettingsStore()
	clock := &fakeClock{t: time.Now()}
	ts := New(settings, WithClock(clock.Now), WithValidity(10*time.Minute))

	require.NoError(t, ts.Save("a", ""))
	clock.Advance(11 * time.Minute)
	assert.True(t, ts.IsExpired())
}

func TestStore_ClearRemovesEverything(t *testing.T) {
	ts, settings, clock := newTestStore()
	stats := NewStatsCache(settings)

	require.NoError(t, ts.Save("a", "r"))
	require.NoError(t, stats.Save(&models.SyncRun{Imported: 1}))
	require.NoError(t, ts.SetCooldown(clock.Now().Add(time.Minute)))

	require.NoError(t, ts.Clear())

	cred := ts.Read()
	assert.Empty(t, cred.AccessToken)
	assert.Empty(t, cred.RefreshToken)
	assert.True(t, ts.IsExpired())
	_, ok := stats.Load()
	assert.False(t, ok)
	_, ok = ts.CooldownUntil()
	assert.False(t, ok)
}

func TestStore_Cooldown(t *testing.T) {
	ts, _, clock := newTestStore()

	_, ok := ts.CooldownUntil()
	assert.False(t, ok)

	deadline := clock.Now().Add(30 * time.Second)
	require.NoError(t, ts.SetCooldown(deadline))

	until, ok := ts.CooldownUntil()
	require.True(t, ok)
	assert.True(t, deadline.Equal(until))

	clock.Advance(31 * time.Second)
	_, ok = ts.CooldownUntil()
	assert.False(t, ok)
}

func TestStore_SelectedLocation(t *testing.T) {
	ts, _, _ := newTestStore()

	assert.Empty(t, ts.SelectedLocation())
	require.NoError(t, ts.SelectLocation("accounts/1/locations/77"))
	assert.Equal(t, "77", ts.SelectedLocation())
	require.NoError(t, ts.SelectLocation(""))
	assert.Empty(t, ts.SelectedLocation())
}

func TestStatsCache(t *testing.T) {
	settings := store.NewMemorySettingsStore()
	cache := NewStatsCache(settings)

	_, ok := cache.Load()
	assert.False(t, ok)

	completed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, cache.Save(&models.SyncRun{Imported: 2, Skipped: 1, Errors: 0, CompletedAt: completed}))
	require.NoError(t, cache.Save(&models.SyncRun{Imported: 0, Skipped: 3, Errors: 0, CompletedAt: completed}))

	run, ok := cache.Load()
	require.True(t, ok)
	assert.Equal(t, 0, run.Imported)
	assert.Equal(t, 3, run.Skipped)
	assert.True(t, completed.Equal(run.CompletedAt))

	raw, _ := settings.Get(store.SettingGoogleSyncStats)
	assert.Contains(t, raw, `"lastSync"`)

	require.NoError(t, settings.Set(store.SettingGoogleSyncStats, "{"))
	_, ok = cache.Load()
	assert.False(t, ok)
}
