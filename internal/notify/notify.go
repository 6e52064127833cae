// Package notify delivers change batches and check faults to observers.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wallwatch/internal/bus"
	"github.com/matheus3301/wallwatch/internal/feed"
	"github.com/matheus3301/wallwatch/internal/store"
	"go.uber.org/zap"
)

// Sink receives the changes found by one check.
type Sink interface {
	HandleBatch(ctx context.Context, b feed.Batch) error
}

// FaultSink receives checks that aborted on a challenge or fatal error.
type FaultSink interface {
	HandleFault(ctx context.Context, f feed.Fault) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, b feed.Batch) error

func (f SinkFunc) HandleBatch(ctx context.Context, b feed.Batch) error { return f(ctx, b) }

// FaultFunc adapts a function to FaultSink.
type FaultFunc func(ctx context.Context, f feed.Fault) error

func (f FaultFunc) HandleFault(ctx context.Context, flt feed.Fault) error { return f(ctx, flt) }

// Dispatcher fans batches and faults out to every registered sink, one after
// the other. Sink errors and panics are logged and never returned.
type Dispatcher struct {
	sinks  []Sink
	faults []FaultSink
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. Sinks that also implement FaultSink
// receive faults too.
func NewDispatcher(logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{logger: logger}
	for _, s := range sinks {
		d.sinks = append(d.sinks, s)
		if fs, ok := s.(FaultSink); ok {
			d.faults = append(d.faults, fs)
		}
	}
	return d
}

// AddFaultSink registers a sink that only wants faults.
func (d *Dispatcher) AddFaultSink(fs FaultSink) {
	d.faults = append(d.faults, fs)
}

// Dispatch delivers b to every sink.
func (d *Dispatcher) Dispatch(ctx context.Context, b feed.Batch) {
	for i, s := range d.sinks {
		err := guard(func() error { return s.HandleBatch(ctx, b) })
		if err != nil {
			d.logger.Error("sink failed",
				zap.Int("sink", i),
				zap.String("batch_id", b.ID),
				zap.Int64("wall_id", b.WallID),
				zap.Error(err))
		}
	}
}

// DispatchFault delivers f to every fault sink.
func (d *Dispatcher) DispatchFault(ctx context.Context, f feed.Fault) {
	for i, s := range d.faults {
		err := guard(func() error { return s.HandleFault(ctx, f) })
		if err != nil {
			d.logger.Error("fault sink failed",
				zap.Int("sink", i),
				zap.Int64("wall_id", f.WallID),
				zap.Error(err))
		}
	}
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// BusSink republishes batches and faults on the event bus.
type BusSink struct {
	bus *bus.Bus
}

// NewBusSink creates a sink publishing to b.
func NewBusSink(b *bus.Bus) *BusSink {
	return &BusSink{bus: b}
}

func (s *BusSink) HandleBatch(_ context.Context, b feed.Batch) error {
	s.bus.Publish(bus.Event{Kind: bus.KindChanges, WallID: b.WallID, Timestamp: b.At, Payload: b})
	return nil
}

func (s *BusSink) HandleFault(_ context.Context, f feed.Fault) error {
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	s.bus.Publish(bus.Event{Kind: bus.KindFault, WallID: f.WallID, Timestamp: at, Payload: f})
	return nil
}

// JournalSink appends batches and faults to the SQLite journal.
type JournalSink struct {
	db *store.DB
}

// NewJournalSink creates a sink writing to db.
func NewJournalSink(db *store.DB) *JournalSink {
	return &JournalSink{db: db}
}

func (s *JournalSink) HandleBatch(_ context.Context, b feed.Batch) error {
	if _, err := s.db.AppendBatch(b); err != nil {
		return fmt.Errorf("journal batch %s: %w", b.ID, err)
	}
	return nil
}

func (s *JournalSink) HandleFault(_ context.Context, f feed.Fault) error {
	if err := s.db.RecordFault(f); err != nil {
		return fmt.Errorf("journal fault: %w", err)
	}
	return nil
}
