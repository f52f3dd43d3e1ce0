package models

import "time"

// MissingRecord is an append-only log entry noting that a previously-active
// stream was absent from a fresh fetch. Rows here are for manual review;
// nothing in the pipeline deletes or deactivates the stream itself.
type MissingRecord struct {
	ID         int64      `json:"id,omitempty"`
	StreamID   int64      `json:"stream_id"`
	ProviderID int64      `json:"provider_id"`
	StreamURI  string     `json:"stream_uri"`
	Name       string     `json:"name"`
	SeenAt     *time.Time `json:"seen_at,omitempty"`
}
