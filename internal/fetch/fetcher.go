// Package fetch pages through a wall feed with the source retry policy.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wallwatch/internal/feed"
	"go.uber.org/zap"
)

// Config controls pagination and retries.
type Config struct {
	MaxPageSize        int
	ReconnectionWindow time.Duration
	RetryDelay         time.Duration
	APIAttempts        int
}

// DefaultConfig returns the stock pagination and retry settings.
func DefaultConfig() Config {
	return Config{
		MaxPageSize:        100,
		ReconnectionWindow: 10 * time.Minute,
		RetryDelay:         time.Second,
		APIAttempts:        5,
	}
}

// StopFunc reports whether it lies past the boundary. taken is the number of
// items already accepted. The item that stops the fetch is not returned.
type StopFunc func(it feed.Item, taken int) bool

// Request describes one paginated fetch.
type Request struct {
	WallID    int64
	Filter    feed.Filter
	FirstPage int
	Stop      StopFunc
}

// Fetcher retrieves items newest-first from a feed.Source.
type Fetcher struct {
	src    feed.Source
	cfg    Config
	logger *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a fetcher over src.
func New(src feed.Source, cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	if cfg.ReconnectionWindow <= 0 {
		cfg.ReconnectionWindow = def.ReconnectionWindow
	}
	if cfg.APIAttempts <= 0 {
		cfg.APIAttempts = def.APIAttempts
	}
	return &Fetcher{
		src:    src,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// MaxPageSize returns the steady-state page size.
func (f *Fetcher) MaxPageSize() int { return f.cfg.MaxPageSize }

// Fetch pages through the feed until a short page or until req.Stop fires.
func (f *Fetcher) Fetch(ctx context.Context, req Request) ([]feed.Item, error) {
	count := req.FirstPage
	if count <= 0 || count > f.cfg.MaxPageSize {
		count = f.cfg.MaxPageSize
	}

	var out []feed.Item
	offset := 0
	for {
		page, err := f.fetchPage(ctx, req, offset, count)
		if err != nil {
			return nil, err
		}
		for _, it := range page {
			if req.Stop != nil && req.Stop(it, len(out)) {
				return out, nil
			}
			out = append(out, it)
		}
		if len(page) < count {
			return out, nil
		}
		offset += len(page)
		count = f.cfg.MaxPageSize
	}
}

func (f *Fetcher) fetchPage(ctx context.Context, req Request, offset, count int) ([]feed.Item, error) {
	var firstFailure time.Time
	apiFailures := 0

	for {
		items, err := f.src.FetchPage(ctx, req.WallID, req.Filter, offset, count)
		if err == nil {
			return items, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		log := f.logger.With(
			zap.Int64("wall_id", req.WallID),
			zap.String("filter", string(req.Filter)),
			zap.Int("offset", offset),
			zap.Error(err),
		)
		switch feed.KindOf(err) {
		case feed.KindTransient:
			now := f.now()
			if firstFailure.IsZero() {
				firstFailure = now
			}
			if elapsed := now.Sub(firstFailure); elapsed > f.cfg.ReconnectionWindow {
				return nil, fmt.Errorf("fetch page at %d: gave up after %s: %w", offset, elapsed.Round(time.Second), err)
			}
			log.Debug("transient fetch failure, retrying")
		case feed.KindAPI:
			apiFailures++
			if apiFailures >= f.cfg.APIAttempts {
				return nil, fmt.Errorf("fetch page at %d: %d attempts: %w", offset, apiFailures, err)
			}
			log.Debug("api error, retrying", zap.Int("attempt", apiFailures))
		default:
			return nil, fmt.Errorf("fetch page at %d: %w", offset, err)
		}

		if err := f.sleep(ctx, f.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IDBorder stops at the first item older than id. Zero never stops.
func IDBorder(id int64) StopFunc {
	if id <= 0 {
		return nil
	}
	return func(it feed.Item, _ int) bool { return it.ID < id }
}

// TimeBorder stops at the first item stamped before t.
func TimeBorder(t time.Time) StopFunc {
	return func(it feed.Item, _ int) bool { return it.Timestamp.Before(t) }
}

// WindowStop bounds a fetch by count and/or age relative to now. A zero
// period or limit leaves that side unset. With both set the fetch continues
// until both are satisfied.
func WindowStop(period time.Duration, limit int, now time.Time) StopFunc {
	border := now.Add(-period)
	switch {
	case period > 0 && limit > 0:
		return func(it feed.Item, taken int) bool {
			return taken >= limit && it.Timestamp.Before(border)
		}
	case period > 0:
		return TimeBorder(border)
	case limit > 0:
		return func(_ feed.Item, taken int) bool { return taken >= limit }
	default:
		return nil
	}
}
