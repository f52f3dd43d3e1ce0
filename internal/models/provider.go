package models

import "time"

// Provider is a configured upstream source: an Xtream-Codes API endpoint or
// an M3U playlist URL, with credentials and sync settings. Deleting a
// provider cascades to its streams (enforced by the schema).
type Provider struct {
	ID            int64      `json:"id,omitempty"`
	UserID        int64      `json:"user_id"`
	Name          string     `json:"name"`
	Type          int16      `json:"type"`
	URL           string     `json:"url"`
	Username      string     `json:"username,omitempty"`
	Password      string     `json:"password,omitempty"`
	MaxConns      int        `json:"max_conns"`
	RefreshPeriod int        `json:"refresh_period"` // hours between syncs
	ShouldFilter  bool       `json:"should_filter"`
	LastSynced    *time.Time `json:"last_synced,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}
