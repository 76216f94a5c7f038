package tokenstore

import (
	"github.com/luthierworks/luthier/internal/models"
	"github.com/luthierworks/luthier/internal/store"
)

// StatsCache keeps the summary of the most recent sync run.
type StatsCache struct {
	settings store.SettingsStore
}

// NewStatsCache creates a StatsCache over settings.
func NewStatsCache(settings store.SettingsStore) *StatsCache {
	return &StatsCache{settings: settings}
}

// Save overwrites the cached summary.
func (c *StatsCache) Save(run *models.SyncRun) error {
	return store.SetJSON(c.settings, store.SettingGoogleSyncStats, run)
}

// Load returns the cached summary. A corrupt entry reads as absent.
func (c *StatsCache) Load() (*models.SyncRun, bool) {
	var run models.SyncRun
	if !store.GetJSON(c.settings, store.SettingGoogleSyncStats, &run) {
		return nil, false
	}
	return &run, true
}
