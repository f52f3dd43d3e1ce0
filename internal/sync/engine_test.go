package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/kptv/streamsync/internal/models"
	"github.com/kptv/streamsync/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type scopeKey struct{ user, provider int64 }

// fakeStore is an in-memory Store for engine tests. ApplyReconcile is
// all-or-nothing like the real transaction: a configured failure leaves
// streams and staging exactly as they were.
type fakeStore struct {
	providers []models.Provider
	filters   map[int64][]models.FilterRule
	staging   map[scopeKey][]models.StagingRecord
	streams   map[int64]models.Stream
	nextID    int64
	missing   []models.MissingRecord
	synced    []int64

	failReconcile map[int64]bool // providerID -> fail
	failMetaFor   map[int64]bool // streamID -> fail
}

func newFakeStore(providers ...models.Provider) *fakeStore {
	return &fakeStore{
		providers:     providers,
		filters:       map[int64][]models.FilterRule{},
		staging:       map[scopeKey][]models.StagingRecord{},
		streams:       map[int64]models.Stream{},
		failReconcile: map[int64]bool{},
		failMetaFor:   map[int64]bool{},
	}
}

func (f *fakeStore) addStream(s models.Stream) models.Stream {
	f.nextID++
	s.ID = f.nextID
	now := time.Now()
	if s.UpdatedAt == nil {
		s.UpdatedAt = &now
	}
	f.streams[s.ID] = s
	return s
}

func (f *fakeStore) ListProviders(_ context.Context, sc store.Scope) ([]models.Provider, error) {
	var out []models.Provider
	for _, p := range f.providers {
		if (sc.UserID == 0 || p.UserID == sc.UserID) && (sc.ProviderID == 0 || p.ID == sc.ProviderID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListFilters(_ context.Context, userID int64) ([]models.FilterRule, error) {
	return f.filters[userID], nil
}

func (f *fakeStore) MarkProviderSynced(_ context.Context, providerID int64) error {
	f.synced = append(f.synced, providerID)
	return nil
}

func (f *fakeStore) ReplaceStaging(_ context.Context, userID, providerID int64, records []models.StagingRecord) error {
	f.staging[scopeKey{userID, providerID}] = append([]models.StagingRecord(nil), records...)
	return nil
}

func (f *fakeStore) ClearStaging(_ context.Context, userID, providerID int64) error {
	delete(f.staging, scopeKey{userID, providerID})
	return nil
}

func (f *fakeStore) CountStaging(_ context.Context, userID, providerID int64) (int, error) {
	return len(f.staging[scopeKey{userID, providerID}]), nil
}

func (f *fakeStore) listStreams(userID, providerID int64, activeOnly bool) []models.Stream {
	var out []models.Stream
	for _, s := range f.streams {
		if s.UserID != userID {
			continue
		}
		if providerID != 0 && s.ProviderID != providerID {
			continue
		}
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) ListStreams(_ context.Context, userID, providerID int64) ([]models.Stream, error) {
	return f.listStreams(userID, providerID, false), nil
}

func (f *fakeStore) ListActiveStreams(_ context.Context, userID, providerID int64) ([]models.Stream, error) {
	return f.listStreams(userID, providerID, true), nil
}

func (f *fakeStore) ApplyReconcile(_ context.Context, userID, providerID int64, plan *store.ReconcilePlan) error {
	if f.failReconcile[providerID] {
		return errors.New("injected transaction failure")
	}
	for _, r := range plan.Inserts {
		f.addStream(models.Stream{
			UserID: r.UserID, ProviderID: r.ProviderID, Type: r.Type,
			Active: false, ChannelNo: r.ChannelNo, Name: r.Name,
			OrigName: r.OrigName, StreamURI: r.StreamURI, TVGID: r.TVGID,
			TVGGroup: r.TVGGroup, TVGLogo: r.TVGLogo, Extras: r.Extras,
		})
	}
	for _, up := range plan.Updates {
		cur, ok := f.streams[up.ID]
		if !ok {
			return fmt.Errorf("update of unknown stream %d", up.ID)
		}
		up.Active = cur.Active // active is never touched by reconciliation
		f.streams[up.ID] = up
	}
	delete(f.staging, scopeKey{userID, providerID})
	return nil
}

func (f *fakeStore) AppendMissing(_ context.Context, records []models.MissingRecord) error {
	f.missing = append(f.missing, records...)
	return nil
}

func (f *fakeStore) UpdateStreamMeta(_ context.Context, streamID int64, channelNo *int, tvgID, tvgLogo *string) error {
	if f.failMetaFor[streamID] {
		return errors.New("injected meta failure")
	}
	s, ok := f.streams[streamID]
	if !ok {
		return fmt.Errorf("unknown stream %d", streamID)
	}
	if channelNo != nil {
		s.ChannelNo = channelNo
	}
	if tvgID != nil {
		s.TVGID = tvgID
	}
	if tvgLogo != nil {
		s.TVGLogo = tvgLogo
	}
	f.streams[streamID] = s
	return nil
}

func (f *fakeStore) CallCleanupStreams(context.Context) error { return nil }
func (f *fakeStore) CallResetStreamIDs(context.Context) error { return nil }

// fakeFetcher serves canned catalogs (or errors) per provider id.
type fakeFetcher struct {
	catalogs map[int64][]models.StagingRecord
	errs     map[int64]error
}

func (f *fakeFetcher) Fetch(_ context.Context, p *models.Provider) ([]models.StagingRecord, error) {
	if err := f.errs[p.ID]; err != nil {
		return nil, err
	}
	return f.catalogs[p.ID], nil
}

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func provider(id, userID int64, shouldFilter bool) models.Provider {
	return models.Provider{
		ID: id, UserID: userID, Name: fmt.Sprintf("prov-%d", id),
		Type: models.ProviderTypeM3U, URL: "http://example.com/playlist.m3u",
		ShouldFilter: shouldFilter,
	}
}

func rec(userID, providerID int64, uri, name string) models.StagingRecord {
	return models.StagingRecord{
		UserID: userID, ProviderID: providerID, Type: models.StreamTypeLive,
		Name: name, OrigName: name, StreamURI: uri,
	}
}

func TestRun_CommitsNewStreamsDisabled(t *testing.T) {
	fs := newFakeStore(provider(1, 10, false))
	ff := &fakeFetcher{catalogs: map[int64][]models.StagingRecord{
		1: {rec(10, 1, "http://h/a", "A"), rec(10, 1, "http://h/b", "B")},
	}}
	e := NewEngine(fs, ff, testLog())

	summary, err := e.Run(context.Background(), store.Scope{UserID: 10}, nil)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)

	res := summary.Results[0]
	require.Equal(t, StateCommitted, res.State)
	require.Equal(t, 2, res.Fetched)
	require.Equal(t, 2, res.New)
	require.Zero(t, res.Changed)

	streams, _ := fs.ListStreams(context.Background(), 10, 1)
	require.Len(t, streams, 2)
	for _, s := range streams {
		require.False(t, s.Active, "new streams must land disabled")
	}
	// staging truncated after commit
	n, _ := fs.CountStaging(context.Background(), 10, 1)
	require.Zero(t, n)
	require.Equal(t, []int64{1}, fs.synced)
}

func TestRun_ProviderFailureDoesNotAbortOthers(t *testing.T) {
	fs := newFakeStore(provider(1, 10, false), provider(2, 10, false))
	ff := &fakeFetcher{
		catalogs: map[int64][]models.StagingRecord{2: {rec(10, 2, "http://h/x", "X")}},
		errs:     map[int64]error{1: errors.New("connection refused")},
	}
	e := NewEngine(fs, ff, testLog())

	summary, err := e.Run(context.Background(), store.Scope{UserID: 10}, nil)
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)
	require.Equal(t, StateFailed, summary.Results[0].State)
	require.Error(t, summary.Results[0].Err)
	require.Equal(t, StateCommitted, summary.Results[1].State)
	require.Equal(t, 1, summary.Failed())

	streams, _ := fs.ListStreams(context.Background(), 10, 2)
	require.Len(t, streams, 1)
}

func TestRun_ReconcileFailureLeavesRowsUntouched(t *testing.T) {
	fs := newFakeStore(provider(1, 10, false), provider(2, 10, false))
	before := fs.addStream(models.Stream{
		UserID: 10, ProviderID: 1, Active: true,
		Name: "Old", OrigName: "Old", StreamURI: "http://h/old",
	})
	fs.failReconcile[1] = true
	ff := &fakeFetcher{catalogs: map[int64][]models.StagingRecord{
		1: {rec(10, 1, "http://h/old", "Renamed"), rec(10, 1, "http://h/new", "New")},
		2: {rec(10, 2, "http://h/other", "Other")},
	}}
	e := NewEngine(fs, ff, testLog())

	summary, err := e.Run(context.Background(), store.Scope{UserID: 10}, nil)
	require.NoError(t, err)
	require.Equal(t, StateFailed, summary.Results[0].State)
	require.Equal(t, StateCommitted, summary.Results[1].State)

	// provider 1 rows are exactly as they were pre-run
	streams, _ := fs.ListStreams(context.Background(), 10, 1)
	require.Len(t, streams, 1)
	require.Equal(t, before, streams[0])

	// provider 2's commit is unaffected
	streams, _ = fs.ListStreams(context.Background(), 10, 2)
	require.Len(t, streams, 1)
}

func TestRun_AppliesUserFilters(t *testing.T) {
	fs := newFakeStore(provider(1, 10, true))
	fs.filters[10] = []models.FilterRule{
		{UserID: 10, Type: models.FilterTypeInclude, Pattern: `^US`},
		{UserID: 10, Type: models.FilterTypeExclude, Pattern: `ESPN 2`},
	}
	ff := &fakeFetcher{catalogs: map[int64][]models.StagingRecord{
		1: {
			rec(10, 1, "http://h/1", "US ESPN"),
			rec(10, 1, "http://h/2", "US ESPN 2"),
			rec(10, 1, "http://h/3", "UK BBC One"),
		},
	}}
	e := NewEngine(fs, ff, testLog())

	summary, err := e.Run(context.Background(), store.Scope{UserID: 10}, nil)
	require.NoError(t, err)
	res := summary.Results[0]
	require.Equal(t, StateCommitted, res.State)
	require.Equal(t, 3, res.Fetched)
	require.Equal(t, 1, res.Filtered)

	streams, _ := fs.ListStreams(context.Background(), 10, 1)
	require.Len(t, streams, 1)
	require.Equal(t, "US ESPN", streams[0].Name)
}

func TestRun_BadFilterConfigFailsProviderBeforeStaging(t *testing.T) {
	fs := newFakeStore(provider(1, 10, true))
	fs.filters[10] = []models.FilterRule{
		{UserID: 10, Type: models.FilterTypeInclude, Pattern: `([`},
	}
	ff := &fakeFetcher{catalogs: map[int64][]models.StagingRecord{
		1: {rec(10, 1, "http://h/1", "A")},
	}}
	e := NewEngine(fs, ff, testLog())

	summary, err := e.Run(context.Background(), store.Scope{UserID: 10}, nil)
	require.NoError(t, err)
	require.Equal(t, StateFailed, summary.Results[0].State)

	n, _ := fs.CountStaging(context.Background(), 10, 1)
	require.Zero(t, n)
	streams, _ := fs.ListStreams(context.Background(), 10, 1)
	require.Empty(t, streams)
}

func TestRun_SecondIdenticalRunChangesNothing(t *testing.T) {
	fs := newFakeStore(provider(1, 10, false))
	ff := &fakeFetcher{catalogs: map[int64][]models.StagingRecord{
		1: {rec(10, 1, "http://h/a", "A"), rec(10, 1, "http://h/b", "B")},
	}}
	e := NewEngine(fs, ff, testLog())

	_, err := e.Run(context.Background(), store.Scope{UserID: 10}, nil)
	require.NoError(t, err)

	summary, err := e.Run(context.Background(), store.Scope{UserID: 10}, nil)
	require.NoError(t, err)
	res := summary.Results[0]
	require.Equal(t, StateCommitted, res.State)
	require.Zero(t, res.New)
	require.Zero(t, res.Changed)
	require.Equal(t, 2, res.Unchanged)
}

func TestCheckMissing_AppendsWithoutMutating(t *testing.T) {
	fs := newFakeStore(provider(1, 10, false))
	kept := fs.addStream(models.Stream{
		UserID: 10, ProviderID: 1, Active: true,
		Name: "Kept", OrigName: "Kept", StreamURI: "http://h/kept",
	})
	gone := fs.addStream(models.Stream{
		UserID: 10, ProviderID: 1, Active: true,
		Name: "Gone", OrigName: "Gone", StreamURI: "http://h/gone",
	})
	inactive := fs.addStream(models.Stream{
		UserID: 10, ProviderID: 1, Active: false,
		Name: "Inactive", OrigName: "Inactive", StreamURI: "http://h/inactive",
	})
	ff := &fakeFetcher{catalogs: map[int64][]models.StagingRecord{
		1: {rec(10, 1, "http://h/kept", "Kept")},
	}}
	e := NewEngine(fs, ff, testLog())

	results, err := e.CheckMissing(context.Background(), store.Scope{UserID: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, 2, results[0].Active)
	require.Equal(t, 1, results[0].Missing)

	require.Len(t, fs.missing, 1)
	require.Equal(t, gone.ID, fs.missing[0].StreamID)
	require.Equal(t, "http://h/gone", fs.missing[0].StreamURI)

	// nothing deleted or deactivated
	require.Len(t, fs.streams, 3)
	require.True(t, fs.streams[kept.ID].Active)
	require.True(t, fs.streams[gone.ID].Active)
	require.False(t, fs.streams[inactive.ID].Active)
}

func TestFixup_FreshestSiblingDonatesMetadata(t *testing.T) {
	fs := newFakeStore()
	old := time.Now().Add(-time.Hour)
	fresh := time.Now()
	chno := 42
	tvg := "espn.us"
	logo := "http://logo/espn.png"

	stale := fs.addStream(models.Stream{
		UserID: 10, ProviderID: 1, Name: "ESPN", OrigName: "ESPN",
		StreamURI: "http://h/1", UpdatedAt: &old,
	})
	donor := fs.addStream(models.Stream{
		UserID: 10, ProviderID: 2, Name: "ESPN", OrigName: "ESPN",
		StreamURI: "http://h/2", UpdatedAt: &fresh,
		ChannelNo: &chno, TVGID: &tvg, TVGLogo: &logo,
	})
	loner := fs.addStream(models.Stream{
		UserID: 10, ProviderID: 1, Name: "Solo", OrigName: "Solo",
		StreamURI: "http://h/3", UpdatedAt: &old,
	})

	e := NewEngine(fs, &fakeFetcher{}, testLog())
	res, err := e.Fixup(context.Background(), store.Scope{UserID: 10})
	require.NoError(t, err)
	require.Equal(t, 1, res.Groups)
	require.Equal(t, 1, res.Patched)
	require.Zero(t, res.Skipped)

	patched := fs.streams[stale.ID]
	require.NotNil(t, patched.ChannelNo)
	require.Equal(t, 42, *patched.ChannelNo)
	require.Equal(t, "espn.us", *patched.TVGID)
	require.Equal(t, "http://logo/espn.png", *patched.TVGLogo)

	require.Equal(t, donor, fs.streams[donor.ID])
	require.Nil(t, fs.streams[loner.ID].ChannelNo)
}

func TestFixup_GroupFailureSkippedNotFatal(t *testing.T) {
	fs := newFakeStore()
	old := time.Now().Add(-time.Hour)
	fresh := time.Now()
	chno := 7

	victim := fs.addStream(models.Stream{
		UserID: 10, ProviderID: 1, Name: "CNN", OrigName: "CNN",
		StreamURI: "http://h/1", UpdatedAt: &old,
	})
	fs.addStream(models.Stream{
		UserID: 10, ProviderID: 2, Name: "CNN", OrigName: "CNN",
		StreamURI: "http://h/2", UpdatedAt: &fresh, ChannelNo: &chno,
	})
	okStale := fs.addStream(models.Stream{
		UserID: 10, ProviderID: 1, Name: "BBC", OrigName: "BBC",
		StreamURI: "http://h/3", UpdatedAt: &old,
	})
	fs.addStream(models.Stream{
		UserID: 10, ProviderID: 2, Name: "BBC", OrigName: "BBC",
		StreamURI: "http://h/4", UpdatedAt: &fresh, ChannelNo: &chno,
	})
	fs.failMetaFor[victim.ID] = true

	e := NewEngine(fs, &fakeFetcher{}, testLog())
	res, err := e.Fixup(context.Background(), store.Scope{UserID: 10})
	require.NoError(t, err)
	require.Equal(t, 2, res.Groups)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 1, res.Patched)

	require.Nil(t, fs.streams[victim.ID].ChannelNo)
	require.NotNil(t, fs.streams[okStale.ID].ChannelNo)
}
