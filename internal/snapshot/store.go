// Package snapshot keeps the in-memory mirror of every watched wall.
package snapshot

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wallwatch/internal/feed"
)

// ErrTombstoned is returned when a live snapshot would replace a deleted one.
var ErrTombstoned = errors.New("snapshot: id was already deleted")

// Snapshot is the last known state of one item.
type Snapshot struct {
	ID          int64
	Category    feed.Category
	Timestamp   time.Time
	Fingerprint string
	Alive       bool
	EditedAt    time.Time
	SeenAt      time.Time
	DeletedAt   time.Time
}

// FromItem builds a live snapshot of it observed at now.
func FromItem(it feed.Item, now time.Time) Snapshot {
	return Snapshot{
		ID:          it.ID,
		Category:    it.Category,
		Timestamp:   it.Timestamp,
		Fingerprint: feed.Fingerprint(it),
		Alive:       true,
		EditedAt:    now,
		SeenAt:      now,
	}
}

// Registry partitions snapshots by wall id. Walls never share a lock.
type Registry struct {
	mu    sync.RWMutex
	walls map[int64]*Wall
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{walls: make(map[int64]*Wall)}
}

// Wall returns the state of wallID, creating it on first use.
func (r *Registry) Wall(wallID int64) *Wall {
	r.mu.RLock()
	w, ok := r.walls[wallID]
	r.mu.RUnlock()
	if ok {
		return w
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.walls[wallID]; ok {
		return w
	}
	w = newWall(wallID)
	r.walls[wallID] = w
	return w
}

// Wall holds the snapshots of a single wall.
type Wall struct {
	id int64

	commit sync.Mutex

	mu         sync.RWMutex
	byID       map[int64]*Snapshot
	byCategory map[feed.Category][]int64 // newest first
}

func newWall(id int64) *Wall {
	return &Wall{
		id:         id,
		byID:       make(map[int64]*Snapshot),
		byCategory: make(map[feed.Category][]int64),
	}
}

// ID returns the wall id.
func (w *Wall) ID() int64 { return w.id }

// Serialize runs fn while holding the wall's commit lock.
func (w *Wall) Serialize(fn func()) {
	w.commit.Lock()
	defer w.commit.Unlock()
	fn()
}

// Get returns the snapshot for id.
func (w *Wall) Get(id int64) (Snapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.byID[id]
	if !ok {
		return Snapshot{}, false
	}
	return *s, true
}

// Upsert inserts or replaces a snapshot by id.
func (w *Wall) Upsert(s Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, ok := w.byID[s.ID]
	if !ok {
		cp := s
		w.byID[s.ID] = &cp
		w.insertOrdered(s.Category, s.ID)
		return nil
	}
	if !existing.Alive && s.Alive {
		return ErrTombstoned
	}
	if existing.Category != s.Category {
		w.removeOrdered(existing.Category, s.ID)
		w.insertOrdered(s.Category, s.ID)
	}
	if s.SeenAt.IsZero() {
		s.SeenAt = existing.SeenAt
	}
	*existing = s
	return nil
}

// MarkDeleted tombstones id as of at. It reports false when the id is
// unknown or already dead.
func (w *Wall) MarkDeleted(id int64, at time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.byID[id]
	if !ok || !s.Alive {
		return false
	}
	s.Alive = false
	s.DeletedAt = at
	return true
}

// CountLive counts live snapshots in cats.
func (w *Wall) CountLive(cats feed.Set) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for _, c := range cats {
		for _, id := range w.byCategory[c] {
			if w.byID[id].Alive {
				n++
			}
		}
	}
	return n
}

// AnyLiveAbove reports whether a live snapshot with id >= boundary exists.
func (w *Wall) AnyLiveAbove(cats feed.Set, boundary int64) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, c := range cats {
		for _, id := range w.byCategory[c] {
			if id < boundary {
				break
			}
			if w.byID[id].Alive {
				return true
			}
		}
	}
	return false
}

// SnapshotsAbove returns live snapshots with id >= boundary, newest first.
func (w *Wall) SnapshotsAbove(cats feed.Set, boundary int64) []Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []Snapshot
	for _, c := range cats {
		for _, id := range w.byCategory[c] {
			if id < boundary {
				break
			}
			if s := w.byID[id]; s.Alive {
				out = append(out, *s)
			}
		}
	}
	slices.SortFunc(out, func(a, b Snapshot) int { return cmpDesc(a.ID, b.ID) })
	return out
}

// MinIDOlderThan returns the largest id among snapshots stamped strictly
// before t, or 0.
func (w *Wall) MinIDOlderThan(cats feed.Set, t time.Time) int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var best int64
	for _, c := range cats {
		for _, id := range w.byCategory[c] {
			if w.byID[id].Timestamp.Before(t) {
				if id > best {
					best = id
				}
				break
			}
		}
	}
	return best
}

// IDOfNthNewest returns the id of the (n+1)-th newest live snapshot, or 0
// when fewer exist.
func (w *Wall) IDOfNthNewest(cats feed.Set, n int) int64 {
	if n < 0 {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	var ids []int64
	for _, c := range cats {
		taken := 0
		for _, id := range w.byCategory[c] {
			if taken > n {
				break
			}
			if w.byID[id].Alive {
				ids = append(ids, id)
				taken++
			}
		}
	}
	if len(ids) <= n {
		return 0
	}
	slices.SortFunc(ids, cmpDesc)
	return ids[n]
}

// NewestID returns the newest known id in cats, dead or alive, or 0.
func (w *Wall) NewestID(cats feed.Set) int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var best int64
	for _, c := range cats {
		if ids := w.byCategory[c]; len(ids) > 0 && ids[0] > best {
			best = ids[0]
		}
	}
	return best
}

func (w *Wall) insertOrdered(c feed.Category, id int64) {
	ids := w.byCategory[c]
	// Newest ids usually arrive on top, so the common case is a prepend.
	i, _ := slices.BinarySearchFunc(ids, id, cmpDesc)
	w.byCategory[c] = slices.Insert(ids, i, id)
}

func (w *Wall) removeOrdered(c feed.Category, id int64) {
	ids := w.byCategory[c]
	if i, found := slices.BinarySearchFunc(ids, id, cmpDesc); found {
		w.byCategory[c] = slices.Delete(ids, i, i+1)
	}
}

func cmpDesc(a, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
