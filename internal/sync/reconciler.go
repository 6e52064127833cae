package sync

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/wallwatch/internal/feed"
	"github.com/matheus3301/wallwatch/internal/fetch"
	"github.com/matheus3301/wallwatch/internal/snapshot"
	"go.uber.org/zap"
)

// Check parameterises one pass over a wall.
type Check struct {
	Kind   feed.CheckKind
	Window Window
	// Drift is the current period of this check kind. It widens the time
	// side of the window so scheduling jitter cannot skip items.
	Drift time.Duration
}

// Result holds what a check found.
type Result struct {
	Kind      feed.CheckKind
	StartedAt time.Time
	Changes   []feed.Change
}

// Changed reports whether the check found anything.
func (r *Result) Changed() bool { return r != nil && len(r.Changes) > 0 }

// Options tunes a Reconciler.
type Options struct {
	FirstPageSize int
	CountOffset   int
}

// Reconciler runs checks for a single wall: fetch every category set, then
// diff them against the snapshot store.
type Reconciler struct {
	wall    *snapshot.Wall
	fetcher *fetch.Fetcher
	engine  *Engine
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// NewReconciler creates a check runner for w.
func NewReconciler(w *snapshot.Wall, f *fetch.Fetcher, e *Engine, opts Options, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		wall:    w,
		fetcher: f,
		engine:  e,
		opts:    opts,
		logger:  logger.With(zap.Int64("wall_id", w.ID())),
		now:     time.Now,
	}
}

type plan struct {
	set    feed.Set
	border int64
	req    fetch.Request
	items  []feed.Item
}

// Check fetches all category sets and diffs them in order. A fetch error
// aborts the check before the store is touched.
func (r *Reconciler) Check(ctx context.Context, c Check) (*Result, error) {
	started := r.now()
	plans := []*plan{
		r.publishedPlan(c, started),
		r.queuePlan(feed.PostponedSet, feed.FilterPostponed),
		r.queuePlan(feed.SuggestedSet, feed.FilterSuggested),
	}

	for _, p := range plans {
		items, err := r.fetcher.Fetch(ctx, p.req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", p.set.Name(), err)
		}
		slices.SortFunc(items, func(a, b feed.Item) int {
			switch {
			case a.ID > b.ID:
				return -1
			case a.ID < b.ID:
				return 1
			default:
				return 0
			}
		})
		p.items = items
	}

	res := &Result{Kind: c.Kind, StartedAt: started}
	r.wall.Serialize(func() {
		for _, p := range plans {
			res.Changes = append(res.Changes, r.engine.Reconcile(r.wall, p.set, p.border, p.items, started)...)
		}
	})

	r.logger.Debug("check done",
		zap.String("check", string(c.Kind)),
		zap.Int("fetched", len(plans[0].items)+len(plans[1].items)+len(plans[2].items)),
		zap.Int("changes", len(res.Changes)),
		zap.Duration("took", r.now().Sub(started)),
	)
	return res, nil
}

// publishedPlan bounds the published fetch by the window. With nothing live
// to compare against yet, the window itself bounds the fetch.
func (r *Reconciler) publishedPlan(c Check, now time.Time) *plan {
	p := &plan{set: feed.PublishedSet}
	p.req = fetch.Request{WallID: r.wall.ID(), Filter: feed.FilterAll}

	if !r.wall.AnyLiveAbove(feed.PublishedSet, 0) {
		p.req.FirstPage = r.fetcher.MaxPageSize()
		p.req.Stop = c.Window.StopFunc(now)
		return p
	}

	boundary := NewBoundary(c.Window, now, c.Drift, r.opts.CountOffset).Resolve(r.wall, feed.PublishedSet)
	p.border = boundary
	if priors := r.wall.SnapshotsAbove(feed.PublishedSet, boundary); len(priors) > 0 {
		p.border = max(boundary, priors[len(priors)-1].ID)
	}
	p.req.FirstPage = r.opts.FirstPageSize
	p.req.Stop = fetch.IDBorder(p.border)
	return p
}

func (r *Reconciler) queuePlan(set feed.Set, filter feed.Filter) *plan {
	return &plan{
		set: set,
		req: fetch.Request{
			WallID:    r.wall.ID(),
			Filter:    filter,
			FirstPage: r.fetcher.MaxPageSize(),
		},
	}
}
