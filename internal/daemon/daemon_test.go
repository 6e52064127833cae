package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wallwatch/internal/api"
	"github.com/matheus3301/wallwatch/internal/client"
	"github.com/matheus3301/wallwatch/internal/config"
	"github.com/matheus3301/wallwatch/internal/feed"
	"github.com/matheus3301/wallwatch/internal/profile"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

// wallSource serves a mutable published list for any wall.
type wallSource struct {
	mu    sync.Mutex
	items []feed.Item // newest first
}

func (s *wallSource) FetchPage(_ context.Context, wallID int64, filter feed.Filter, offset, count int) ([]feed.Item, error) {
	if filter != feed.FilterAll {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset >= len(s.items) {
		return nil, nil
	}
	end := min(offset+count, len(s.items))
	out := make([]feed.Item, 0, end-offset)
	for _, it := range s.items[offset:end] {
		it.WallID = wallID
		out = append(out, it)
	}
	return out, nil
}

func (s *wallSource) post(id int64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := feed.Item{ID: id, Timestamp: time.Now(), Category: feed.Published, Text: text}
	s.items = append([]feed.Item{it}, s.items...)
}

// testHome points the profile tree at a short temp dir so socket paths stay
// under the Unix socket length limit.
func testHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "ww-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("WALLWATCH_HOME", dir)
	return dir
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.Default()
	cfg.Watcher.BaseShortPeriod = config.D(20 * time.Millisecond)
	cfg.Watcher.ShortPeriodIncrement = config.D(0)
	cfg.Watcher.MaxShortPeriod = config.D(20 * time.Millisecond)
	cfg.Watcher.BaseLongPeriod = config.D(time.Hour)
	cfg.Watches = []config.WatchConfig{{
		WallID:      7,
		Window:      config.WindowConfig{Limit: 50},
		ShortWindow: config.WindowConfig{Limit: 10},
	}}
	path := filepath.Join(dir, "config.toml")
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	return path
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonLifecycle(t *testing.T) {
	home := testHome(t)
	src := &wallSource{}
	src.post(1, "first")

	app := fxtest.New(t,
		fx.NopLogger,
		Module(Params{
			Profile:    "test",
			ConfigPath: writeConfig(t, home),
			Logger:     zap.NewNop(),
			Source:     src,
		}),
	)
	app.RequireStart()
	defer app.RequireStop()

	info, err := os.Stat(profile.SocketPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	c, err := client.New(profile.SocketPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	eventually(t, "configured watch", func() bool {
		watches, err := c.Watch.ListWatches(ctx)
		return err == nil && len(watches) == 1 && watches[0].WallID == 7 && watches[0].State == "RUNNING"
	})

	followCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stream, err := c.Watch.WatchChanges(followCtx, 7)
	if err != nil {
		t.Fatal(err)
	}

	src.post(2, "second")

	var got api.Change
	eventually(t, "journaled change", func() bool {
		page, err := c.Watch.ListChanges(ctx, api.ListChangesRequest{WallID: 7})
		if err != nil || len(page.Changes) == 0 {
			return false
		}
		got = page.Changes[0]
		return got.ItemID == 2
	})
	if got.Kind != "new" || got.Body != "second" || got.Category != "published" {
		t.Errorf("journaled change = %+v", got)
	}

	// The stream may have subscribed after the change was published; only
	// check what it delivers if anything arrives.
	recvDone := make(chan api.Envelope, 1)
	go func() {
		if env, err := stream.Recv(); err == nil {
			recvDone <- env
		}
	}()
	src.post(3, "third")
	select {
	case env := <-recvDone:
		if env.WallID != 7 || env.EventID == "" {
			t.Errorf("envelope = %+v", env)
		}
	case <-time.After(5 * time.Second):
		t.Error("no envelope streamed")
	}

	stopped, err := c.Watch.StopWatch(ctx, 7)
	if err != nil || stopped.State != "STOPPED" {
		t.Errorf("StopWatch() = %+v, %v", stopped, err)
	}
}

func TestSecondDaemonRefused(t *testing.T) {
	home := testHome(t)
	cfgPath := writeConfig(t, home)
	params := Params{Profile: "dup", ConfigPath: cfgPath, Logger: zap.NewNop(), Source: &wallSource{}}

	first := fxtest.New(t, fx.NopLogger, Module(params))
	first.RequireStart()
	defer first.RequireStop()

	params.SocketPath = filepath.Join(home, "other.sock")
	second := fx.New(fx.NopLogger, Module(params))
	err := second.Err()
	if err == nil || !strings.Contains(err.Error(), "profile lock held") {
		t.Fatalf("second daemon error = %v, want lock held", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Watcher.CountOffset = 2
	opts := managerOptions(cfg.Watcher)
	if err := opts.Cadence.Validate(); err != nil {
		t.Errorf("default cadence invalid: %v", err)
	}
	if opts.Fetch.MaxPageSize != 100 || opts.FirstPageSize != 10 || opts.CountOffset != 2 {
		t.Errorf("options = %+v", opts)
	}

	spec := specFromConfig(config.DefaultWatch(-5))
	if err := spec.Validate(); err != nil {
		t.Errorf("default watch invalid: %v", err)
	}
	if spec.Window.Period != 24*time.Hour || spec.ShortWindow.Limit != 10 {
		t.Errorf("spec = %+v", spec)
	}
}
