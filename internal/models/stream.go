package models

import "time"

// Stream is one live/VOD/series entry in the primary kptv_streams table.
// StreamURI is the natural key used for dedup and reconciliation.
type Stream struct {
	ID         int64      `json:"id,omitempty"`
	UserID     int64      `json:"user_id"`
	ProviderID int64      `json:"provider_id"`
	Type       int16      `json:"type"`
	Active     bool       `json:"active"`
	ChannelNo  *int       `json:"channel_no,omitempty"`
	Name       string     `json:"name"`
	OrigName   string     `json:"orig_name"`
	StreamURI  string     `json:"stream_uri"`
	TVGID      *string    `json:"tvg_id,omitempty"`
	TVGGroup   *string    `json:"tvg_group,omitempty"`
	TVGLogo    *string    `json:"tvg_logo,omitempty"`
	Extras     *string    `json:"extras,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// StagingRecord is an ephemeral pre-image of a stream scoped to one
// provider/user sync run. The staging table is truncated before load and
// again after a successful commit, so these never outlive a run.
type StagingRecord struct {
	UserID     int64
	ProviderID int64
	Type       int16
	ChannelNo  *int
	Name       string
	OrigName   string
	StreamURI  string
	TVGID      *string
	TVGGroup   *string
	TVGLogo    *string
	Extras     *string
}
