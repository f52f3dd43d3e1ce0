package store

import (
	"context"

	"github.com/kptv/streamsync/internal/models"
)

// Scope narrows pipeline operations to a user and/or a single provider.
// Zero values mean "all".
type Scope struct {
	UserID     int64
	ProviderID int64
}

// ReconcilePlan is the computed outcome of diffing staged records against
// the live table for one provider. Updates carry the final intended row
// values (ignore-list fields already resolved by the differ).
type ReconcilePlan struct {
	Inserts   []models.StagingRecord
	Updates   []models.Stream
	Unchanged int
}

// Store defines persistence for providers, filters, streams, the staging
// table and the missing log.
type Store interface {
	// ListProviders returns providers matching the scope, ordered by id.
	ListProviders(ctx context.Context, sc Scope) ([]models.Provider, error)
	// ListFilters returns all filter rules for a user.
	ListFilters(ctx context.Context, userID int64) ([]models.FilterRule, error)
	// MarkProviderSynced sets last_synced for the provider.
	MarkProviderSynced(ctx context.Context, providerID int64) error

	// ReplaceStaging truncates the user/provider slice of the staging table
	// and bulk-loads records in its place. Idempotent: identical input
	// yields identical staged output.
	ReplaceStaging(ctx context.Context, userID, providerID int64, records []models.StagingRecord) error
	// ClearStaging removes the user/provider slice of the staging table.
	ClearStaging(ctx context.Context, userID, providerID int64) error
	// CountStaging returns the number of staged rows for the scope.
	CountStaging(ctx context.Context, userID, providerID int64) (int, error)

	// ListStreams returns live-table rows for a user, optionally narrowed
	// to one provider (providerID 0 = all).
	ListStreams(ctx context.Context, userID, providerID int64) ([]models.Stream, error)
	// ListActiveStreams returns only rows with active=true.
	ListActiveStreams(ctx context.Context, userID, providerID int64) ([]models.Stream, error)

	// ApplyReconcile commits a plan for one provider in a single
	// transaction: inserts (forced active=false), updates, and the final
	// staging truncate. A failure rolls everything back.
	ApplyReconcile(ctx context.Context, userID, providerID int64, plan *ReconcilePlan) error

	// AppendMissing appends entries to the missing log. Never deletes or
	// deactivates anything.
	AppendMissing(ctx context.Context, records []models.MissingRecord) error

	// UpdateStreamMeta copies consolidated metadata onto one stream.
	// nil fields are left untouched.
	UpdateStreamMeta(ctx context.Context, streamID int64, channelNo *int, tvgID, tvgLogo *string) error

	// CallCleanupStreams invokes the CleanupStreams procedure (orphan
	// removal, URI dedup).
	CallCleanupStreams(ctx context.Context) error
	// CallResetStreamIDs invokes the ResetStreamIDs procedure (sequential
	// renumbering).
	CallResetStreamIDs(ctx context.Context) error
}
