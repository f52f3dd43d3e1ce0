package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kptv/streamsync/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool      *pgxpool.Pool
	batchSize int
}

// NewPostgres creates a Postgres store from a DSN. batchSize bounds how many
// statements are flushed per round trip during reconciliation; large IPTV
// catalogs exceed 100k rows, so commits are chunked within the transaction.
// Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string, batchSize int) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Postgres{pool: pool, batchSize: batchSize}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// ListProviders returns providers matching the scope, ordered by id.
func (p *Postgres) ListProviders(ctx context.Context, sc Scope) ([]models.Provider, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, name, type, url, COALESCE(username,''), COALESCE(password,''),
		        max_conns, refresh_period, should_filter, last_synced, created_at
		 FROM kptv_stream_providers
		 WHERE ($1 = 0 OR user_id = $1) AND ($2 = 0 OR id = $2)
		 ORDER BY id`,
		sc.UserID, sc.ProviderID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListProviders: %w", err)
	}
	defer rows.Close()

	var out []models.Provider
	for rows.Next() {
		var pr models.Provider
		if err := rows.Scan(&pr.ID, &pr.UserID, &pr.Name, &pr.Type, &pr.URL,
			&pr.Username, &pr.Password, &pr.MaxConns, &pr.RefreshPeriod,
			&pr.ShouldFilter, &pr.LastSynced, &pr.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListProviders scan: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// ListFilters returns all filter rules for a user.
func (p *Postgres) ListFilters(ctx context.Context, userID int64) ([]models.FilterRule, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, type, pattern FROM kptv_stream_filters WHERE user_id = $1 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListFilters: %w", err)
	}
	defer rows.Close()

	var out []models.FilterRule
	for rows.Next() {
		var f models.FilterRule
		if err := rows.Scan(&f.ID, &f.UserID, &f.Type, &f.Pattern); err != nil {
			return nil, fmt.Errorf("ListFilters scan: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MarkProviderSynced sets last_synced for the provider.
func (p *Postgres) MarkProviderSynced(ctx context.Context, providerID int64) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE kptv_stream_providers SET last_synced = NOW() WHERE id = $1`, providerID)
	if err != nil {
		return fmt.Errorf("MarkProviderSynced: %w", err)
	}
	return nil
}

// ReplaceStaging truncates the user/provider slice of kptv_stream_temp and
// bulk-loads records via COPY, all in one transaction so an aborted run
// cannot leave stale duplicate rows.
func (p *Postgres) ReplaceStaging(ctx context.Context, userID, providerID int64, records []models.StagingRecord) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ReplaceStaging begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM kptv_stream_temp WHERE user_id = $1 AND provider_id = $2`,
		userID, providerID); err != nil {
		return fmt.Errorf("ReplaceStaging truncate: %w", err)
	}

	if len(records) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"kptv_stream_temp"},
			[]string{"user_id", "provider_id", "type", "channel_no", "name",
				"orig_name", "stream_uri", "tvg_id", "tvg_group", "tvg_logo", "extras"},
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{r.UserID, r.ProviderID, r.Type, r.ChannelNo, r.Name,
					r.OrigName, r.StreamURI, r.TVGID, r.TVGGroup, r.TVGLogo, r.Extras}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("ReplaceStaging copy: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ReplaceStaging commit: %w", err)
	}
	return nil
}

// ClearStaging removes the user/provider slice of the staging table.
func (p *Postgres) ClearStaging(ctx context.Context, userID, providerID int64) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM kptv_stream_temp WHERE user_id = $1 AND provider_id = $2`,
		userID, providerID)
	if err != nil {
		return fmt.Errorf("ClearStaging: %w", err)
	}
	return nil
}

// CountStaging returns the number of staged rows for the scope.
func (p *Postgres) CountStaging(ctx context.Context, userID, providerID int64) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM kptv_stream_temp WHERE user_id = $1 AND provider_id = $2`,
		userID, providerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountStaging: %w", err)
	}
	return n, nil
}

const streamColumns = `id, user_id, provider_id, type, active, channel_no, name, orig_name,
	stream_uri, tvg_id, tvg_group, tvg_logo, extras, created_at, updated_at`

func scanStreams(rows pgx.Rows) ([]models.Stream, error) {
	defer rows.Close()
	var out []models.Stream
	for rows.Next() {
		var s models.Stream
		if err := rows.Scan(&s.ID, &s.UserID, &s.ProviderID, &s.Type, &s.Active,
			&s.ChannelNo, &s.Name, &s.OrigName, &s.StreamURI, &s.TVGID,
			&s.TVGGroup, &s.TVGLogo, &s.Extras, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListStreams returns live-table rows for a user, optionally narrowed to
// one provider (providerID 0 = all).
func (p *Postgres) ListStreams(ctx context.Context, userID, providerID int64) ([]models.Stream, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+streamColumns+` FROM kptv_streams
		 WHERE user_id = $1 AND ($2 = 0 OR provider_id = $2) ORDER BY id`,
		userID, providerID)
	if err != nil {
		return nil, fmt.Errorf("ListStreams: %w", err)
	}
	return scanStreams(rows)
}

// ListActiveStreams returns only rows with active=true.
func (p *Postgres) ListActiveStreams(ctx context.Context, userID, providerID int64) ([]models.Stream, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+streamColumns+` FROM kptv_streams
		 WHERE user_id = $1 AND ($2 = 0 OR provider_id = $2) AND active ORDER BY id`,
		userID, providerID)
	if err != nil {
		return nil, fmt.Errorf("ListActiveStreams: %w", err)
	}
	return scanStreams(rows)
}

// ApplyReconcile commits one provider's plan in a single transaction:
// inserts land with active=false, updates are applied row by row via a
// batch, and the staging slice is truncated last. Any failure rolls back
// the whole provider.
func (p *Postgres) ApplyReconcile(ctx context.Context, userID, providerID int64, plan *ReconcilePlan) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ApplyReconcile begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		br := tx.SendBatch(ctx, batch)
		var batchErr error
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil && batchErr == nil {
				batchErr = err
			}
		}
		if err := br.Close(); err != nil && batchErr == nil {
			batchErr = err
		}
		batch = &pgx.Batch{}
		return batchErr
	}

	for _, r := range plan.Inserts {
		batch.Queue(
			`INSERT INTO kptv_streams
			   (user_id, provider_id, type, active, channel_no, name, orig_name,
			    stream_uri, tvg_id, tvg_group, tvg_logo, extras)
			 VALUES ($1, $2, $3, false, $4, $5, $6, $7, $8, $9, $10, $11)`,
			r.UserID, r.ProviderID, r.Type, r.ChannelNo, r.Name, r.OrigName,
			r.StreamURI, r.TVGID, r.TVGGroup, r.TVGLogo, r.Extras)
		if batch.Len() >= p.batchSize {
			if err := flush(); err != nil {
				return fmt.Errorf("ApplyReconcile insert batch: %w", err)
			}
		}
	}
	for _, s := range plan.Updates {
		batch.Queue(
			`UPDATE kptv_streams SET
			   type = $2, channel_no = $3, name = $4, orig_name = $5,
			   tvg_id = $6, tvg_group = $7, tvg_logo = $8, extras = $9,
			   updated_at = NOW()
			 WHERE id = $1`,
			s.ID, s.Type, s.ChannelNo, s.Name, s.OrigName,
			s.TVGID, s.TVGGroup, s.TVGLogo, s.Extras)
		if batch.Len() >= p.batchSize {
			if err := flush(); err != nil {
				return fmt.Errorf("ApplyReconcile update batch: %w", err)
			}
		}
	}
	batch.Queue(`DELETE FROM kptv_stream_temp WHERE user_id = $1 AND provider_id = $2`,
		userID, providerID)
	if err := flush(); err != nil {
		return fmt.Errorf("ApplyReconcile batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ApplyReconcile commit: %w", err)
	}
	return nil
}

// AppendMissing appends entries to the missing log.
func (p *Postgres) AppendMissing(ctx context.Context, records []models.MissingRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range records {
		batch.Queue(
			`INSERT INTO kptv_stream_missing (stream_id, provider_id, stream_uri, name)
			 VALUES ($1, $2, $3, $4)`,
			m.StreamID, m.ProviderID, m.StreamURI, m.Name)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("AppendMissing: %w", err)
		}
	}
	return nil
}

// UpdateStreamMeta copies consolidated metadata onto one stream. nil fields
// are left untouched.
func (p *Postgres) UpdateStreamMeta(ctx context.Context, streamID int64, channelNo *int, tvgID, tvgLogo *string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE kptv_streams SET
		   channel_no = COALESCE($2, channel_no),
		   tvg_id     = COALESCE($3, tvg_id),
		   tvg_logo   = COALESCE($4, tvg_logo),
		   updated_at = NOW()
		 WHERE id = $1`,
		streamID, channelNo, tvgID, tvgLogo)
	if err != nil {
		return fmt.Errorf("UpdateStreamMeta: %w", err)
	}
	return nil
}

// CallCleanupStreams invokes the CleanupStreams procedure.
func (p *Postgres) CallCleanupStreams(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CALL CleanupStreams()`); err != nil {
		return fmt.Errorf("CallCleanupStreams: %w", err)
	}
	return nil
}

// CallResetStreamIDs invokes the ResetStreamIDs procedure.
func (p *Postgres) CallResetStreamIDs(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CALL ResetStreamIDs()`); err != nil {
		return fmt.Errorf("CallResetStreamIDs: %w", err)
	}
	return nil
}
