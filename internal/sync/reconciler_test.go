package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/wallwatch/internal/feed"
	"github.com/matheus3301/wallwatch/internal/fetch"
	"github.com/matheus3301/wallwatch/internal/snapshot"
	"go.uber.org/zap"
)

// wallSource serves one newest-first list per filter.
type wallSource struct {
	lists map[feed.Filter][]feed.Item
	err   map[feed.Filter]error
	calls map[feed.Filter]int
}

func newWallSource() *wallSource {
	return &wallSource{
		lists: make(map[feed.Filter][]feed.Item),
		err:   make(map[feed.Filter]error),
		calls: make(map[feed.Filter]int),
	}
}

func (s *wallSource) FetchPage(_ context.Context, _ int64, filter feed.Filter, offset, count int) ([]feed.Item, error) {
	s.calls[filter]++
	if err := s.err[filter]; err != nil {
		return nil, err
	}
	items := s.lists[filter]
	if offset >= len(items) {
		return nil, nil
	}
	return items[offset:min(offset+count, len(items))], nil
}

func testReconciler(t *testing.T, src feed.Source, now time.Time) (*Reconciler, *snapshot.Wall) {
	t.Helper()
	w := snapshot.NewRegistry().Wall(1)
	f := fetch.New(src, fetch.Config{MaxPageSize: 10, RetryDelay: time.Nanosecond}, zap.NewNop())
	r := NewReconciler(w, f, NewEngine(true, zap.NewNop()), Options{FirstPageSize: 3}, zap.NewNop())
	r.now = func() time.Time { return now }
	return r, w
}

func longCheck() Check {
	return Check{Kind: feed.LongCheck, Window: Window{Limit: 20}}
}

func TestCheckFirstRunUsesWindow(t *testing.T) {
	src := newWallSource()
	for id := int64(130); id > 100; id-- {
		src.lists[feed.FilterAll] = append(src.lists[feed.FilterAll], item(id, feed.Published, "p"))
	}
	r, w := testReconciler(t, src, t0)

	res, err := r.Check(context.Background(), Check{Kind: feed.LongCheck, Window: Window{Limit: 5}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Changes) != 5 || !res.Changed() {
		t.Fatalf("changes = %d, want 5", len(res.Changes))
	}
	if w.CountLive(feed.PublishedSet) != 5 {
		t.Errorf("live = %d, want 5", w.CountLive(feed.PublishedSet))
	}
}

func TestCheckScenarioAB(t *testing.T) {
	src := newWallSource()
	src.lists[feed.FilterAll] = published(105, 104, 103)
	r, w := testReconciler(t, src, t0)

	res, err := r.Check(context.Background(), longCheck())
	if err != nil {
		t.Fatal(err)
	}
	assertChanges(t, res.Changes,
		kindID{feed.ChangeNew, 105}, kindID{feed.ChangeNew, 104}, kindID{feed.ChangeNew, 103})

	src.lists[feed.FilterAll] = published(106, 105, 104)
	r.now = func() time.Time { return t0.Add(time.Minute) }
	res, err = r.Check(context.Background(), longCheck())
	if err != nil {
		t.Fatal(err)
	}
	assertChanges(t, res.Changes, kindID{feed.ChangeNew, 106}, kindID{feed.ChangeDeleted, 103})
	if s, _ := w.Get(103); s.Alive {
		t.Error("103 should be tombstoned")
	}

	res, err = r.Check(context.Background(), longCheck())
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() {
		t.Errorf("repeat check changes = %v, want none", summarize(res.Changes))
	}
}

func TestCheckPostponedPublished(t *testing.T) {
	src := newWallSource()
	src.lists[feed.FilterAll] = published(10)
	src.lists[feed.FilterPostponed] = []feed.Item{item(20, feed.Postponed, "soon")}
	src.lists[feed.FilterSuggested] = []feed.Item{item(30, feed.Suggested, "idea")}
	r, _ := testReconciler(t, src, t0)

	if _, err := r.Check(context.Background(), longCheck()); err != nil {
		t.Fatal(err)
	}

	src.lists[feed.FilterAll] = []feed.Item{item(20, feed.Published, "soon"), item(10, feed.Published, "post")}
	src.lists[feed.FilterPostponed] = nil
	r.now = func() time.Time { return t0.Add(time.Minute) }
	res, err := r.Check(context.Background(), longCheck())
	if err != nil {
		t.Fatal(err)
	}
	assertChanges(t, res.Changes, kindID{feed.ChangeMoved, 20})
	if res.Changes[0].From != feed.Postponed {
		t.Errorf("from = %s, want postponed", res.Changes[0].From)
	}
}

func TestCheckSortsFetchedItems(t *testing.T) {
	src := newWallSource()
	src.lists[feed.FilterSuggested] = []feed.Item{item(3, feed.Suggested, "a"), item(7, feed.Suggested, "b")}
	r, w := testReconciler(t, src, t0)

	res, err := r.Check(context.Background(), longCheck())
	if err != nil {
		t.Fatal(err)
	}
	assertChanges(t, res.Changes, kindID{feed.ChangeNew, 7}, kindID{feed.ChangeNew, 3})
	if w.CountLive(feed.SuggestedSet) != 2 {
		t.Error("both suggestions should be stored")
	}
}

func TestCheckFetchErrorLeavesStoreUntouched(t *testing.T) {
	src := newWallSource()
	src.lists[feed.FilterAll] = published(5, 4)
	src.err[feed.FilterSuggested] = feed.APIError(errors.New("rate limited"))
	r, w := testReconciler(t, src, t0)

	_, err := r.Check(context.Background(), longCheck())
	if feed.KindOf(err) != feed.KindAPI {
		t.Fatalf("error = %v, want api error", err)
	}
	if src.calls[feed.FilterSuggested] != 5 {
		t.Errorf("suggested attempts = %d, want 5", src.calls[feed.FilterSuggested])
	}
	if w.AnyLiveAbove(feed.PublishedSet, 0) {
		t.Error("store was modified by an aborted check")
	}
}

func TestCheckBoundsPublishedFetch(t *testing.T) {
	src := newWallSource()
	for id := int64(200); id > 100; id-- {
		src.lists[feed.FilterAll] = append(src.lists[feed.FilterAll], item(id, feed.Published, "p"))
	}
	r, _ := testReconciler(t, src, t0)
	if _, err := r.Check(context.Background(), Check{Kind: feed.LongCheck, Window: Window{Limit: 10}}); err != nil {
		t.Fatal(err)
	}

	src.calls[feed.FilterAll] = 0
	res, err := r.Check(context.Background(), Check{Kind: feed.ShortCheck, Window: Window{Limit: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() {
		t.Errorf("changes = %v, want none", summarize(res.Changes))
	}
	// the boundary is the 2nd newest id (199), inside the first page of 3
	if src.calls[feed.FilterAll] != 1 {
		t.Errorf("published page calls = %d, want 1", src.calls[feed.FilterAll])
	}
}
