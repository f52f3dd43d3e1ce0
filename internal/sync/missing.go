package sync

import (
	"context"
	"fmt"

	"github.com/kptv/streamsync/internal/filter"
	"github.com/kptv/streamsync/internal/models"
	"github.com/kptv/streamsync/internal/store"
	"github.com/sirupsen/logrus"
)

// MissingResult is the per-provider outcome of a missing check.
type MissingResult struct {
	Provider models.Provider
	Active   int
	Missing  int
	Err      error
}

// CheckMissing fetches each provider in scope and flags currently-active
// live streams whose URI is absent from the fresh catalog. Flagged streams
// are appended to the missing log for manual review; nothing is deleted or
// deactivated.
func (e *Engine) CheckMissing(ctx context.Context, sc store.Scope) ([]MissingResult, error) {
	providers, err := e.store.ListProviders(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	e.filters = make(map[int64]*filter.Set)

	var results []MissingResult
	for i := range providers {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, e.checkProviderMissing(ctx, &providers[i]))
	}
	return results, nil
}

func (e *Engine) checkProviderMissing(ctx context.Context, p *models.Provider) MissingResult {
	res := MissingResult{Provider: *p}
	plog := e.log.WithFields(logrus.Fields{"provider": p.Name, "id": p.ID})

	records, err := e.fetcher.Fetch(ctx, p)
	if err != nil {
		res.Err = err
		plog.WithError(err).Error("Fetch failed, skipping missing check")
		return res
	}
	if p.ShouldFilter {
		set, err := e.filterSet(ctx, p.UserID)
		if err != nil {
			res.Err = err
			plog.WithError(err).Error("Filter config rejected, skipping missing check")
			return res
		}
		records = set.Apply(records)
	}

	fresh := make(map[string]bool, len(records))
	for _, r := range records {
		fresh[r.StreamURI] = true
	}

	active, err := e.store.ListActiveStreams(ctx, p.UserID, p.ID)
	if err != nil {
		res.Err = fmt.Errorf("load active streams: %w", err)
		return res
	}
	res.Active = len(active)

	var gone []models.MissingRecord
	for _, s := range active {
		if fresh[s.StreamURI] {
			continue
		}
		gone = append(gone, models.MissingRecord{
			StreamID:   s.ID,
			ProviderID: s.ProviderID,
			StreamURI:  s.StreamURI,
			Name:       s.Name,
		})
	}
	if len(gone) > 0 {
		if err := e.store.AppendMissing(ctx, gone); err != nil {
			res.Err = fmt.Errorf("append missing: %w", err)
			return res
		}
	}
	res.Missing = len(gone)
	plog.WithFields(logrus.Fields{
		"active":  res.Active,
		"missing": res.Missing,
	}).Info("Missing check done")
	return res
}
