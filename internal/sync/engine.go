// Package sync orchestrates provider stream synchronization: fetch, filter,
// stage, reconcile, plus the read-only missing pass and the metadata fixup
// pass.
package sync

import (
	"context"
	"fmt"

	"github.com/kptv/streamsync/internal/filter"
	"github.com/kptv/streamsync/internal/models"
	"github.com/kptv/streamsync/internal/store"
	"github.com/sirupsen/logrus"
)

// State is where a provider's sync run currently is. Failed is terminal for
// that provider only; the run moves on to the next one.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateFiltering   State = "filtering"
	StateStaging     State = "staging"
	StateReconciling State = "reconciling"
	StateCommitted   State = "committed"
	StateFailed      State = "failed"
)

// CatalogFetcher retrieves a provider's full catalog as staging records.
type CatalogFetcher interface {
	Fetch(ctx context.Context, p *models.Provider) ([]models.StagingRecord, error)
}

// ProviderResult is the per-provider outcome of one run.
type ProviderResult struct {
	Provider  models.Provider
	State     State
	Err       error
	Fetched   int
	Filtered  int
	New       int
	Changed   int
	Unchanged int
}

// Summary aggregates a whole multi-provider run.
type Summary struct {
	Results []ProviderResult
}

// Failed returns the number of providers that did not commit.
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if r.State == StateFailed {
			n++
		}
	}
	return n
}

// Engine drives sequential per-provider synchronization. Providers are
// processed one at a time to respect their declared connection limits.
type Engine struct {
	store   store.Store
	fetcher CatalogFetcher
	log     logrus.FieldLogger

	// compiled filter sets cached per user for the duration of one run
	filters map[int64]*filter.Set
}

// NewEngine creates an Engine.
func NewEngine(s store.Store, f CatalogFetcher, log logrus.FieldLogger) *Engine {
	return &Engine{store: s, fetcher: f, log: log}
}

// Run synchronizes every provider in scope. A provider failure is recorded
// in the summary and does not abort the rest of the run; the returned error
// is non-nil only when the run could not start at all.
func (e *Engine) Run(ctx context.Context, sc store.Scope, ignore IgnoreSet) (*Summary, error) {
	providers, err := e.store.ListProviders(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	if len(providers) == 0 {
		e.log.Warn("No providers matched scope")
	}

	e.filters = make(map[int64]*filter.Set)
	summary := &Summary{}
	for i := range providers {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res := e.syncProvider(ctx, &providers[i], ignore)
		summary.Results = append(summary.Results, res)
	}
	return summary, nil
}

// syncProvider walks one provider through the state machine. Every error
// path lands in StateFailed with the staging slice left for the next run's
// truncate-first load to clear.
func (e *Engine) syncProvider(ctx context.Context, p *models.Provider, ignore IgnoreSet) ProviderResult {
	res := ProviderResult{Provider: *p, State: StateIdle}
	plog := e.log.WithFields(logrus.Fields{
		"provider": p.Name,
		"id":       p.ID,
		"user":     p.UserID,
	})

	res.State = StateFetching
	plog.Info("Fetching catalog")
	records, err := e.fetcher.Fetch(ctx, p)
	if err != nil {
		res.State = StateFailed
		res.Err = err
		plog.WithError(err).Error("Fetch failed")
		return res
	}
	res.Fetched = len(records)

	res.State = StateFiltering
	if p.ShouldFilter {
		set, err := e.filterSet(ctx, p.UserID)
		if err != nil {
			res.State = StateFailed
			res.Err = err
			plog.WithError(err).Error("Filter config rejected")
			return res
		}
		records = set.Apply(records)
	}
	res.Filtered = len(records)
	plog.WithFields(logrus.Fields{
		"fetched":  res.Fetched,
		"survived": res.Filtered,
	}).Info("Filtered catalog")

	res.State = StateStaging
	if err := e.store.ReplaceStaging(ctx, p.UserID, p.ID, records); err != nil {
		res.State = StateFailed
		res.Err = fmt.Errorf("stage: %w", err)
		plog.WithError(err).Error("Staging load failed")
		return res
	}

	res.State = StateReconciling
	live, err := e.store.ListStreams(ctx, p.UserID, p.ID)
	if err != nil {
		res.State = StateFailed
		res.Err = fmt.Errorf("load live streams: %w", err)
		plog.WithError(err).Error("Reconciliation failed")
		return res
	}
	plan := Diff(records, live, ignore)
	if err := e.store.ApplyReconcile(ctx, p.UserID, p.ID, plan); err != nil {
		res.State = StateFailed
		res.Err = fmt.Errorf("reconcile: %w", err)
		plog.WithError(err).Error("Reconciliation rolled back")
		return res
	}
	if err := e.store.MarkProviderSynced(ctx, p.ID); err != nil {
		plog.WithError(err).Warn("Could not record sync time")
	}

	res.State = StateCommitted
	res.New = len(plan.Inserts)
	res.Changed = len(plan.Updates)
	res.Unchanged = plan.Unchanged
	plog.WithFields(logrus.Fields{
		"new":       res.New,
		"changed":   res.Changed,
		"unchanged": res.Unchanged,
	}).Info("Provider committed")
	return res
}

// filterSet compiles (once per user per run) the user's filter rules.
func (e *Engine) filterSet(ctx context.Context, userID int64) (*filter.Set, error) {
	if set, ok := e.filters[userID]; ok {
		return set, nil
	}
	rules, err := e.store.ListFilters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load filters: %w", err)
	}
	set, err := filter.Compile(rules)
	if err != nil {
		return nil, err
	}
	e.filters[userID] = set
	return set, nil
}
