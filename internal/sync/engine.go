package sync

import (
	"errors"
	"time"

	"github.com/matheus3301/wallwatch/internal/feed"
	"github.com/matheus3301/wallwatch/internal/snapshot"
	"go.uber.org/zap"
)

var errAboveNewest = errors.New("live item of this set listed above the newest known id")

// Engine classifies freshly fetched items against stored snapshots.
// Ingestion is idempotent: an id is reported New at most once.
type Engine struct {
	watchEditing bool
	logger       *zap.Logger
}

// NewEngine creates a diff engine. Edits are only reported when watchEditing
// is set.
func NewEngine(watchEditing bool, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{watchEditing: watchEditing, logger: logger}
}

// Reconcile diffs fetched, which must be id-descending, against the live
// snapshots of set at or above boundary. Snapshot mutations are applied
// before the returned changes are handed out. fetchedAt is when the fetch
// started; snapshots first seen or edited after it are left alone.
func (e *Engine) Reconcile(w *snapshot.Wall, set feed.Set, boundary int64, fetched []feed.Item, fetchedAt time.Time) []feed.Change {
	priors := w.SnapshotsAbove(set, boundary)

	changes, cursor := e.scanNew(w, set, fetched, fetchedAt)
	if len(priors) == 0 {
		e.backfill(w, set, fetched[cursor:], fetchedAt, &changes)
		return changes
	}

	switch {
	case len(fetched) == 0:
		for _, p := range priors {
			e.deleted(w, p, fetchedAt, &changes)
		}
	case cursor < len(fetched):
		e.reconcile(w, set, priors, fetched[cursor:], fetchedAt, &changes)
	}
	return changes
}

// scanNew walks fetched from the top and takes every id above the newest
// known id of set. It returns the changes and the index of the first item
// that was not new.
func (e *Engine) scanNew(w *snapshot.Wall, set feed.Set, fetched []feed.Item, fetchedAt time.Time) ([]feed.Change, int) {
	top := w.NewestID(set)
	var changes []feed.Change

	i := 0
	for ; i < len(fetched); i++ {
		it := fetched[i]
		if it.ID <= top {
			break
		}
		prev, known := w.Get(it.ID)
		switch {
		case !known:
			if err := w.Upsert(snapshot.FromItem(it, fetchedAt)); err != nil {
				e.corrupt(w, it.ID, err)
				continue
			}
			changes = append(changes, change(feed.ChangeNew, w, it))
		case prev.Alive && !set.Contains(prev.Category):
			e.moved(w, prev, it, fetchedAt, &changes)
		case !prev.Alive:
			e.tombstoned(w, prev, fetchedAt)
		default:
			e.corrupt(w, it.ID, errAboveNewest)
		}
	}
	return changes, i
}

// reconcile merge-walks priors against rest. Both are id-descending and
// neither is rescanned.
func (e *Engine) reconcile(w *snapshot.Wall, set feed.Set, priors []snapshot.Snapshot, rest []feed.Item, fetchedAt time.Time, changes *[]feed.Change) {
	j := 0
	for _, p := range priors {
		for j < len(rest) && rest[j].ID > p.ID {
			e.unmatched(w, set, rest[j], fetchedAt, changes)
			j++
		}
		if j < len(rest) && rest[j].ID == p.ID {
			e.matched(w, p, rest[j], fetchedAt, changes)
			j++
			continue
		}
		e.deleted(w, p, fetchedAt, changes)
	}
	for ; j < len(rest); j++ {
		e.unmatched(w, set, rest[j], fetchedAt, changes)
	}
}

func (e *Engine) matched(w *snapshot.Wall, p snapshot.Snapshot, it feed.Item, fetchedAt time.Time, changes *[]feed.Change) {
	if p.EditedAt.After(fetchedAt) {
		return
	}
	fp := feed.Fingerprint(it)
	edited := e.watchEditing && fp != p.Fingerprint
	if !edited && it.Category == p.Category {
		return
	}

	next := p
	next.Category = it.Category
	next.Timestamp = it.Timestamp
	if edited {
		next.Fingerprint = fp
		next.EditedAt = fetchedAt
	}
	if err := w.Upsert(next); err != nil {
		e.corrupt(w, it.ID, err)
		return
	}
	if edited {
		*changes = append(*changes, change(feed.ChangeEdited, w, it))
	}
}

// unmatched handles a fetched item below the new-item region that has no
// live prior in set.
func (e *Engine) unmatched(w *snapshot.Wall, set feed.Set, it feed.Item, fetchedAt time.Time, changes *[]feed.Change) {
	prev, known := w.Get(it.ID)
	switch {
	case !known:
		// Older history the mirror never covered. Track it without
		// reporting it as new.
		if err := w.Upsert(snapshot.FromItem(it, fetchedAt)); err != nil {
			e.corrupt(w, it.ID, err)
		}
	case !prev.Alive:
		e.tombstoned(w, prev, fetchedAt)
	case !set.Contains(prev.Category):
		e.moved(w, prev, it, fetchedAt, changes)
	}
}

func (e *Engine) backfill(w *snapshot.Wall, set feed.Set, rest []feed.Item, fetchedAt time.Time, changes *[]feed.Change) {
	for _, it := range rest {
		e.unmatched(w, set, it, fetchedAt, changes)
	}
}

func (e *Engine) moved(w *snapshot.Wall, prev snapshot.Snapshot, it feed.Item, fetchedAt time.Time, changes *[]feed.Change) {
	if prev.EditedAt.After(fetchedAt) {
		return
	}
	next := snapshot.FromItem(it, fetchedAt)
	next.SeenAt = prev.SeenAt
	if !e.watchEditing {
		next.Fingerprint = prev.Fingerprint
	}
	if err := w.Upsert(next); err != nil {
		e.corrupt(w, it.ID, err)
		return
	}
	c := change(feed.ChangeMoved, w, it)
	c.From = prev.Category
	*changes = append(*changes, c)
}

func (e *Engine) deleted(w *snapshot.Wall, p snapshot.Snapshot, fetchedAt time.Time, changes *[]feed.Change) {
	if p.SeenAt.After(fetchedAt) || p.EditedAt.After(fetchedAt) {
		return
	}
	if !w.MarkDeleted(p.ID, fetchedAt) {
		return
	}
	*changes = append(*changes, feed.Change{Kind: feed.ChangeDeleted, WallID: w.ID(), ItemID: p.ID})
}

// tombstoned handles a deleted id that is listed again. A fetch that started
// before the deletion was recorded may still carry it.
func (e *Engine) tombstoned(w *snapshot.Wall, prev snapshot.Snapshot, fetchedAt time.Time) {
	if prev.DeletedAt.After(fetchedAt) {
		e.logger.Debug("stale fetch lists deleted item", zap.Int64("wall_id", w.ID()), zap.Int64("item_id", prev.ID))
		return
	}
	e.corrupt(w, prev.ID, snapshot.ErrTombstoned)
}

func (e *Engine) corrupt(w *snapshot.Wall, id int64, err error) {
	e.logger.Warn("skipping item", zap.Int64("wall_id", w.ID()), zap.Int64("item_id", id), zap.Error(err))
}

func change(kind feed.ChangeKind, w *snapshot.Wall, it feed.Item) feed.Change {
	item := it
	if item.WallID == 0 {
		item.WallID = w.ID()
	}
	return feed.Change{Kind: kind, WallID: w.ID(), ItemID: it.ID, Item: &item}
}
