// Package watch schedules short and long checks for every watched wall.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wallwatch/internal/feed"
	"github.com/matheus3301/wallwatch/internal/notify"
	"github.com/matheus3301/wallwatch/internal/status"
	intsync "github.com/matheus3301/wallwatch/internal/sync"
	"go.uber.org/zap"
)

// Spec describes what to watch on one wall.
type Spec struct {
	WallID       int64
	WatchEditing bool
	Window       intsync.Window
	ShortWindow  intsync.Window
}

// Validate checks the wall id and both windows.
func (s Spec) Validate() error {
	if s.WallID == 0 {
		return errors.New("watch: wall id is required")
	}
	if err := s.Window.Validate(); err != nil {
		return fmt.Errorf("long window: %w", err)
	}
	if err := s.ShortWindow.Validate(); err != nil {
		return fmt.Errorf("short window: %w", err)
	}
	return nil
}

// Checker runs one check of a wall.
type Checker interface {
	Check(ctx context.Context, c intsync.Check) (*intsync.Result, error)
}

// Info is a point-in-time view of a watch.
type Info struct {
	WallID       int64
	State        status.State
	WatchEditing bool
	ShortPeriod  time.Duration
	LongPeriod   time.Duration
	LongInFlight bool
	LastCheckAt  time.Time
	Checks       int64
	Changes      int64
	Faults       int64
}

// Watch drives the checks of a single wall with one timer.
type Watch struct {
	spec       Spec
	checker    Checker
	dispatcher *notify.Dispatcher
	cadence    *Cadence
	status     *status.Machine
	logger     *zap.Logger
	now        func() time.Time

	longInFlight atomic.Bool
	wake         chan struct{}
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	mu          sync.Mutex
	lastShortAt time.Time
	lastLongAt  time.Time
	lastCheckAt time.Time
	checks      int64
	changes     int64
	faults      int64
}

// NewWatch creates an idle watch.
func NewWatch(spec Spec, checker Checker, cadence *Cadence, dispatcher *notify.Dispatcher, machine *status.Machine, logger *zap.Logger) *Watch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watch{
		spec:       spec,
		checker:    checker,
		dispatcher: dispatcher,
		cadence:    cadence,
		status:     machine,
		logger:     logger.With(zap.Int64("wall_id", spec.WallID)),
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
}

// WallID returns the watched wall.
func (w *Watch) WallID() int64 { return w.spec.WallID }

// State returns the lifecycle state.
func (w *Watch) State() status.State { return w.status.Current() }

// Start primes the mirror with a synchronous long check and then schedules
// checks in the background. Starting a watch that is not idle does nothing.
// The priming check runs to completion even if ctx is cancelled; Stop ends
// the watch.
func (w *Watch) Start(ctx context.Context) {
	now := w.now()

	w.mu.Lock()
	if err := w.status.Transition(status.Running); err != nil {
		w.mu.Unlock()
		w.logger.Info("watch already started", zap.String("state", string(w.status.Current())))
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.lastLongAt, w.lastShortAt = now, now
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	w.logger.Info("watch started")
	w.runCheck(loopCtx, feed.LongCheck)

	if loopCtx.Err() != nil {
		return
	}
	w.wg.Add(1)
	go w.loop(loopCtx)
}

// Stop cancels scheduling. A check already running finishes but its changes
// are not dispatched.
func (w *Watch) Stop() {
	w.mu.Lock()
	err := w.status.Transition(status.Stopped)
	cancel := w.cancel
	w.mu.Unlock()
	if err != nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	w.logger.Info("watch stopped")
}

// Wait blocks until the priming check, the loop and any in-flight check have
// returned, or ctx is done.
func (w *Watch) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Info returns the current counters and periods.
func (w *Watch) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Info{
		WallID:       w.spec.WallID,
		State:        w.status.Current(),
		WatchEditing: w.spec.WatchEditing,
		ShortPeriod:  w.cadence.Short(),
		LongPeriod:   w.cadence.Long(),
		LongInFlight: w.longInFlight.Load(),
		LastCheckAt:  w.lastCheckAt,
		Checks:       w.checks,
		Changes:      w.changes,
		Faults:       w.faults,
	}
}

func (w *Watch) loop(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(w.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-timer.C:
			w.tick(ctx)
		}
		timer.Reset(w.untilNext())
	}
}

// tick runs whichever check is due. The long check goes to the background
// so short checks keep their pace while it runs.
func (w *Watch) tick(ctx context.Context) {
	now := w.now()

	w.mu.Lock()
	longDue := !now.Before(w.lastLongAt.Add(w.cadence.Long()))
	shortDue := !now.Before(w.lastShortAt.Add(w.cadence.Short()))
	w.mu.Unlock()

	if longDue && w.longInFlight.CompareAndSwap(false, true) {
		w.mu.Lock()
		w.lastLongAt, w.lastShortAt = now, now
		w.mu.Unlock()

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runCheck(ctx, feed.LongCheck)
			w.longInFlight.Store(false)
			select {
			case w.wake <- struct{}{}:
			default:
			}
		}()
		return
	}

	if shortDue {
		w.mu.Lock()
		w.lastShortAt = now
		w.mu.Unlock()
		w.runCheck(ctx, feed.ShortCheck)
	}
}

// untilNext is the delay to the earlier of the next short and long check.
// A long check in flight is not rescheduled until it returns.
func (w *Watch) untilNext() time.Duration {
	w.mu.Lock()
	next := w.lastShortAt.Add(w.cadence.Short())
	if !w.longInFlight.Load() {
		if long := w.lastLongAt.Add(w.cadence.Long()); long.Before(next) {
			next = long
		}
	}
	w.mu.Unlock()
	return max(next.Sub(w.now()), 0)
}

func (w *Watch) runCheck(ctx context.Context, kind feed.CheckKind) {
	c := intsync.Check{Kind: kind, Window: w.spec.ShortWindow, Drift: w.cadence.Short()}
	if kind == feed.LongCheck {
		c.Window = w.spec.Window
		c.Drift = w.cadence.Long()
	}

	// Checks always run to completion. After Stop only the outcome is dropped.
	res, err := w.checker.Check(context.WithoutCancel(ctx), c)
	at := w.now()

	changed := false
	faulted := false
	switch {
	case err != nil:
		faulted = w.handleError(ctx, kind, err, at)
	case w.status.Is(status.Stopped):
		w.logger.Debug("discarding result of stopped watch", zap.Int("changes", len(res.Changes)))
	case res.Changed():
		changed = true
		w.dispatcher.Dispatch(ctx, feed.Batch{
			ID:      uuid.NewString(),
			WallID:  w.spec.WallID,
			Check:   kind,
			At:      at,
			Changes: res.Changes,
		})
	}
	w.cadence.Observe(changed)

	w.mu.Lock()
	w.lastCheckAt = at
	w.checks++
	if changed {
		w.changes += int64(len(res.Changes))
	}
	if faulted {
		w.faults++
	}
	w.mu.Unlock()
}

// handleError logs a failed check and reports challenges and fatal errors
// out of band. It reports whether a fault was raised.
func (w *Watch) handleError(ctx context.Context, kind feed.CheckKind, err error, at time.Time) bool {
	errKind := feed.KindOf(err)
	log := w.logger.With(zap.String("check", string(kind)), zap.Stringer("kind", errKind), zap.Error(err))

	switch errKind {
	case feed.KindTransient, feed.KindAPI:
		log.Warn("check aborted, will retry")
		return false
	}

	log.Error("check failed")
	if w.status.Is(status.Stopped) {
		return false
	}
	w.dispatcher.DispatchFault(ctx, feed.Fault{
		WallID:  w.spec.WallID,
		Check:   kind,
		Kind:    errKind,
		Message: err.Error(),
		At:      at,
	})
	return true
}
