package watch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wallwatch/internal/bus"
	"github.com/matheus3301/wallwatch/internal/feed"
	"github.com/matheus3301/wallwatch/internal/fetch"
	"github.com/matheus3301/wallwatch/internal/notify"
	"github.com/matheus3301/wallwatch/internal/snapshot"
	"github.com/matheus3301/wallwatch/internal/status"
	intsync "github.com/matheus3301/wallwatch/internal/sync"
	"go.uber.org/zap"
)

var (
	// ErrNotWatched is returned for walls the manager has never started.
	ErrNotWatched = errors.New("wall is not watched")
	// ErrShutdown is returned by Start once Shutdown has begun.
	ErrShutdown = errors.New("watch manager is shut down")
)

// Options configures every watch the manager creates.
type Options struct {
	Cadence       CadenceConfig
	Fetch         fetch.Config
	FirstPageSize int
	CountOffset   int
}

// Manager owns one Watch per wall. Walls share nothing but the snapshot
// registry, which never locks across walls.
type Manager struct {
	registry   *snapshot.Registry
	source     feed.Source
	dispatcher *notify.Dispatcher
	bus        *bus.Bus
	opts       Options
	logger     *zap.Logger

	mu      sync.Mutex
	watches map[int64]*Watch
	closed  bool
}

// NewManager creates a manager with no watches.
func NewManager(registry *snapshot.Registry, source feed.Source, dispatcher *notify.Dispatcher, b *bus.Bus, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry:   registry,
		source:     source,
		dispatcher: dispatcher,
		bus:        b,
		opts:       opts,
		logger:     logger,
		watches:    make(map[int64]*Watch),
	}
}

// Start begins watching spec.WallID and blocks for the priming long check.
// Starting a wall that is already running is a no-op. A stopped wall is
// replaced by a fresh watch over the same snapshots.
func (m *Manager) Start(ctx context.Context, spec Spec) (Info, error) {
	if err := spec.Validate(); err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Info{}, fmt.Errorf("start %d: %w", spec.WallID, ErrShutdown)
	}
	if w, ok := m.watches[spec.WallID]; ok && w.State() != status.Stopped {
		m.mu.Unlock()
		m.logger.Info("wall already watched", zap.Int64("wall_id", spec.WallID))
		return w.Info(), nil
	}
	w := m.newWatch(spec)
	m.watches[spec.WallID] = w
	m.mu.Unlock()

	w.Start(ctx)
	return w.Info(), nil
}

func (m *Manager) newWatch(spec Spec) *Watch {
	logger := m.logger.Named("watch")
	fetcher := fetch.New(m.source, m.opts.Fetch, logger)
	engine := intsync.NewEngine(spec.WatchEditing, logger)
	checker := intsync.NewReconciler(m.registry.Wall(spec.WallID), fetcher, engine, intsync.Options{
		FirstPageSize: m.opts.FirstPageSize,
		CountOffset:   m.opts.CountOffset,
	}, logger)
	return NewWatch(spec, checker, NewCadence(m.opts.Cadence), m.dispatcher, status.NewMachine(spec.WallID, m.bus), logger)
}

// Stop stops watching wallID.
func (m *Manager) Stop(wallID int64) (Info, error) {
	m.mu.Lock()
	w, ok := m.watches[wallID]
	m.mu.Unlock()
	if !ok {
		return Info{}, fmt.Errorf("stop %d: %w", wallID, ErrNotWatched)
	}
	w.Stop()
	return w.Info(), nil
}

// Get returns the watch of wallID.
func (m *Manager) Get(wallID int64) (Info, error) {
	m.mu.Lock()
	w, ok := m.watches[wallID]
	m.mu.Unlock()
	if !ok {
		return Info{}, fmt.Errorf("get %d: %w", wallID, ErrNotWatched)
	}
	return w.Info(), nil
}

// List returns every watch ordered by wall id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	watches := make([]*Watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(watches))
	for _, w := range watches {
		out = append(out, w.Info())
	}
	slices.SortFunc(out, func(a, b Info) int {
		switch {
		case a.WallID < b.WallID:
			return -1
		case a.WallID > b.WallID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Shutdown stops every watch and waits for in-flight checks until ctx is done.
// Later calls to Start fail with ErrShutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	watches := make([]*Watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	for _, w := range watches {
		w.Stop()
	}
	var errs []error
	for _, w := range watches {
		if err := w.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wall %d: %w", w.WallID(), err))
		}
	}
	return errors.Join(errs...)
}
