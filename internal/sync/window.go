package sync

import (
	"errors"
	"time"

	"github.com/matheus3301/wallwatch/internal/feed"
	"github.com/matheus3301/wallwatch/internal/fetch"
)

// ErrEmptyWindow is returned by Window.Validate when neither bound is set.
var ErrEmptyWindow = errors.New("window: period or limit is required")

// Window bounds how much history a check re-examines. Zero values are unset.
type Window struct {
	Period time.Duration
	Limit  int
}

// Validate checks that at least one bound is set.
func (w Window) Validate() error {
	if w.Period < 0 || w.Limit < 0 {
		return errors.New("window: negative bound")
	}
	if w.Period == 0 && w.Limit == 0 {
		return ErrEmptyWindow
	}
	return nil
}

// StopFunc bounds a fetch that has no stored history to compare against.
func (w Window) StopFunc(now time.Time) fetch.StopFunc {
	return fetch.WindowStop(w.Period, w.Limit, now)
}

// Index is the part of the snapshot store a boundary resolves against.
type Index interface {
	MinIDOlderThan(cats feed.Set, t time.Time) int64
	IDOfNthNewest(cats feed.Set, n int) int64
}

// Boundary is a window pinned to a point in time.
type Boundary struct {
	before   time.Time
	hasTime  bool
	nth      int
	hasCount bool
}

// NewBoundary pins w at now. drift widens the time side by the current check
// period; countOffset skips that many extra items on the count side.
func NewBoundary(w Window, now time.Time, drift time.Duration, countOffset int) Boundary {
	var b Boundary
	if w.Period > 0 {
		b.before = now.Add(-(w.Period + drift))
		b.hasTime = true
	}
	if w.Limit > 0 {
		b.nth = w.Limit + max(countOffset, 0)
		b.hasCount = true
	}
	return b
}

// Resolve turns the boundary into an id. When both bounds are set the smaller
// id wins, so the window covers at least what either bound asks for.
func (b Boundary) Resolve(idx Index, set feed.Set) int64 {
	switch {
	case b.hasTime && b.hasCount:
		return min(idx.MinIDOlderThan(set, b.before), idx.IDOfNthNewest(set, b.nth))
	case b.hasTime:
		return idx.MinIDOlderThan(set, b.before)
	case b.hasCount:
		return idx.IDOfNthNewest(set, b.nth)
	default:
		return 0
	}
}
