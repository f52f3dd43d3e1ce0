package sync

import (
	"fmt"
	"strings"

	"github.com/kptv/streamsync/internal/models"
	"github.com/kptv/streamsync/internal/store"
)

// Updatable field names accepted by the --ignore flag. stream_uri is the
// diff key and active is only ever set by manual promotion, so neither is
// listed here.
var updatableFields = map[string]bool{
	"name":       true,
	"orig_name":  true,
	"type":       true,
	"channel_no": true,
	"tvg_id":     true,
	"tvg_group":  true,
	"tvg_logo":   true,
	"extras":     true,
}

// IgnoreSet names stream fields that reconciliation must leave untouched on
// update (e.g. a manually curated logo).
type IgnoreSet map[string]bool

// ParseIgnore parses a comma-separated field list, rejecting unknown names.
func ParseIgnore(s string) (IgnoreSet, error) {
	set := IgnoreSet{}
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !updatableFields[f] {
			return nil, fmt.Errorf("unknown ignore field %q", f)
		}
		set[f] = true
	}
	return set, nil
}

// Diff partitions staged records against live rows keyed by stream URI.
// Staged URIs absent from live become inserts (committed active=false by
// the store). Staged URIs present in live become updates when any
// non-ignored field differs; the returned update row carries the final
// intended values, with ignored fields kept from the live row. Duplicate
// staged URIs keep the first occurrence.
func Diff(staged []models.StagingRecord, live []models.Stream, ignore IgnoreSet) *store.ReconcilePlan {
	byURI := make(map[string]models.Stream, len(live))
	for _, s := range live {
		if _, dup := byURI[s.StreamURI]; !dup {
			byURI[s.StreamURI] = s
		}
	}

	plan := &store.ReconcilePlan{}
	seen := make(map[string]bool, len(staged))
	for _, rec := range staged {
		if seen[rec.StreamURI] {
			continue
		}
		seen[rec.StreamURI] = true

		cur, ok := byURI[rec.StreamURI]
		if !ok {
			plan.Inserts = append(plan.Inserts, rec)
			continue
		}
		next, changed := merge(cur, rec, ignore)
		if changed {
			plan.Updates = append(plan.Updates, next)
		} else {
			plan.Unchanged++
		}
	}
	return plan
}

// merge produces the intended row for an existing stream: staged values
// overwrite live values except for ignored fields. changed reports whether
// anything actually differs.
func merge(cur models.Stream, rec models.StagingRecord, ignore IgnoreSet) (models.Stream, bool) {
	next := cur
	if !ignore["name"] {
		next.Name = rec.Name
	}
	if !ignore["orig_name"] {
		next.OrigName = rec.OrigName
	}
	if !ignore["type"] {
		next.Type = rec.Type
	}
	if !ignore["channel_no"] {
		next.ChannelNo = rec.ChannelNo
	}
	if !ignore["tvg_id"] {
		next.TVGID = rec.TVGID
	}
	if !ignore["tvg_group"] {
		next.TVGGroup = rec.TVGGroup
	}
	if !ignore["tvg_logo"] {
		next.TVGLogo = rec.TVGLogo
	}
	if !ignore["extras"] {
		next.Extras = rec.Extras
	}
	return next, !equalStreams(cur, next)
}

func equalStreams(a, b models.Stream) bool {
	return a.Name == b.Name &&
		a.OrigName == b.OrigName &&
		a.Type == b.Type &&
		eqIntPtr(a.ChannelNo, b.ChannelNo) &&
		eqStrPtr(a.TVGID, b.TVGID) &&
		eqStrPtr(a.TVGGroup, b.TVGGroup) &&
		eqStrPtr(a.TVGLogo, b.TVGLogo) &&
		eqStrPtr(a.Extras, b.Extras)
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
