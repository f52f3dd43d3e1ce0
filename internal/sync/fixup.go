package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/kptv/streamsync/internal/models"
	"github.com/kptv/streamsync/internal/store"
	"github.com/sirupsen/logrus"
)

// FixupResult summarizes one fixup pass.
type FixupResult struct {
	Groups  int // duplicate name groups examined
	Patched int // sibling streams updated
	Skipped int // groups skipped because of errors
}

// Fixup consolidates metadata across streams sharing a display name: the
// most-recently-updated sibling donates its channel number, TVG id and logo
// to the others. Best effort and non-transactional: a failed group is
// logged and skipped, never failing the pass.
func (e *Engine) Fixup(ctx context.Context, sc store.Scope) (*FixupResult, error) {
	streams, err := e.store.ListStreams(ctx, sc.UserID, sc.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}

	groups := make(map[string][]models.Stream)
	for _, s := range streams {
		groups[s.Name] = append(groups[s.Name], s)
	}

	res := &FixupResult{}
	for name, group := range groups {
		if len(group) < 2 {
			continue
		}
		res.Groups++
		if err := e.fixupGroup(ctx, group); err != nil {
			res.Skipped++
			e.log.WithError(err).WithField("name", name).Warn("Fixup group skipped")
			continue
		}
		res.Patched += len(group) - 1
	}
	e.log.WithFields(logrus.Fields{
		"groups":  res.Groups,
		"patched": res.Patched,
		"skipped": res.Skipped,
	}).Info("Fixup done")
	return res, nil
}

// fixupGroup copies the freshest sibling's metadata onto the rest of the
// group. Fields the donor does not carry are left alone (COALESCE in the
// store).
func (e *Engine) fixupGroup(ctx context.Context, group []models.Stream) error {
	sort.Slice(group, func(i, j int) bool {
		ti, tj := group[i].UpdatedAt, group[j].UpdatedAt
		if ti == nil || tj == nil {
			return tj == nil && ti != nil
		}
		return ti.After(*tj)
	})
	donor := group[0]
	if donor.ChannelNo == nil && donor.TVGID == nil && donor.TVGLogo == nil {
		return nil
	}
	for _, sib := range group[1:] {
		if err := e.store.UpdateStreamMeta(ctx, sib.ID, donor.ChannelNo, donor.TVGID, donor.TVGLogo); err != nil {
			return fmt.Errorf("stream %d: %w", sib.ID, err)
		}
	}
	return nil
}
