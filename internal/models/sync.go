package models

import "time"

// SyncRun summarizes one review import.
type SyncRun struct {
	Imported    int       `json:"imported"`
	Skipped     int       `json:"skipped"`
	Errors      int       `json:"errors"`
	LocationID  string    `json:"locationId,omitempty"`
	CompletedAt time.Time `json:"lastSync"`
}

// Total returns the number of reviews the run looked at.
func (s *SyncRun) Total() int {
	return s.Imported + s.Skipped + s.Errors
}
