package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/matheus3301/wallwatch/internal/api"
	"github.com/matheus3301/wallwatch/internal/client"
	"github.com/matheus3301/wallwatch/internal/config"
	"github.com/matheus3301/wallwatch/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		fatalf("cannot connect to daemon for profile %q: %v", name, err)
	}
	defer func() { _ = c.Close() }()

	switch args[0] {
	case "watches":
		cmdWatches(c, *jsonFlag)
	case "start":
		cmdStart(c, args[1:], *jsonFlag)
	case "stop":
		cmdStop(c, args[1:], *jsonFlag)
	case "changes":
		cmdChanges(c, args[1:], *jsonFlag)
	case "follow":
		cmdFollow(c, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wallwatchctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  watches                    List watched walls")
	fmt.Fprintln(os.Stderr, "  start [flags] <wall>       Start watching a wall")
	fmt.Fprintln(os.Stderr, "  stop <wall>                Stop watching a wall")
	fmt.Fprintln(os.Stderr, "  changes [flags] [wall]     Show journaled changes, newest first")
	fmt.Fprintln(os.Stderr, "  follow [wall]              Stream live events")
}

func requestCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func cmdWatches(c *client.Client, jsonOut bool) {
	ctx, cancel := requestCtx()
	defer cancel()
	watches, err := c.Watch.ListWatches(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(watches)
		return
	}
	if len(watches) == 0 {
		fmt.Println("No walls watched.")
		return
	}
	for _, w := range watches {
		printInfo(w)
	}
}

func cmdStart(c *client.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	def := config.DefaultWatch(0)
	editing := fs.Bool("editing", false, "report edits")
	period := fs.Duration("period", def.Window.Period.Duration, "long check window age (0 = unset)")
	limit := fs.Int("limit", def.Window.Limit, "long check window count (0 = unset)")
	shortPeriod := fs.Duration("short-period", def.ShortWindow.Period.Duration, "short check window age (0 = unset)")
	shortLimit := fs.Int("short-limit", def.ShortWindow.Limit, "short check window count (0 = unset)")
	_ = fs.Parse(args)
	wallID := wallArg(fs.Args(), true)

	req := api.StartRequest{
		WallID:       wallID,
		WatchEditing: *editing,
		Window:       windowSpec(*period, *limit),
		ShortWindow:  windowSpec(*shortPeriod, *shortLimit),
	}

	// Start blocks for the first full check.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	info, err := c.Watch.StartWatch(ctx, req)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(info)
		return
	}
	printInfo(info)
}

func cmdStop(c *client.Client, args []string, jsonOut bool) {
	wallID := wallArg(args, true)
	ctx, cancel := requestCtx()
	defer cancel()
	info, err := c.Watch.StopWatch(ctx, wallID)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(info)
		return
	}
	printInfo(info)
}

func cmdChanges(c *client.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("changes", flag.ExitOnError)
	limit := fs.Int("limit", 20, "changes per page")
	before := fs.Int64("before", 0, "only changes with a journal id below this")
	_ = fs.Parse(args)
	wallID := wallArg(fs.Args(), false)

	ctx, cancel := requestCtx()
	defer cancel()
	page, err := c.Watch.ListChanges(ctx, api.ListChangesRequest{WallID: wallID, BeforeID: *before, Limit: *limit})
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(page)
		return
	}
	if len(page.Changes) == 0 {
		fmt.Println("No changes.")
		return
	}
	for _, ch := range page.Changes {
		printChange(ch)
	}
	if page.NextBeforeID != 0 {
		fmt.Printf("-- more: --before %d\n", page.NextBeforeID)
	}
}

func cmdFollow(c *client.Client, args []string, jsonOut bool) {
	wallID := wallArg(args, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := c.Watch.WatchChanges(ctx, wallID)
	if err != nil {
		fatalf("%v", err)
	}
	for {
		env, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			fatalf("%v", err)
		}
		if jsonOut {
			outputJSON(env)
			continue
		}
		at := time.UnixMilli(env.OccurredAtMs).Format(time.RFC3339)
		switch {
		case env.Fault != nil:
			fmt.Printf("%s wall %d FAULT %s check: %s: %s\n", at, env.WallID, env.Fault.Check, env.Fault.Kind, env.Fault.Message)
		case env.Status != nil:
			fmt.Printf("%s wall %d %s -> %s\n", at, env.WallID, env.Status.From, env.Status.To)
		default:
			for _, ch := range env.Changes {
				printChange(ch)
			}
		}
	}
}

func windowSpec(period time.Duration, limit int) api.WindowSpec {
	w := api.WindowSpec{Limit: limit}
	if period > 0 {
		w.Period = period.String()
	}
	return w
}

func wallArg(args []string, required bool) int64 {
	if len(args) == 0 {
		if required {
			fatalf("wall id is required")
		}
		return 0
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id == 0 {
		fatalf("invalid wall id %q", args[0])
	}
	return id
}

func printInfo(w api.WatchInfo) {
	last := "never"
	if w.LastCheckAtMs != 0 {
		last = time.UnixMilli(w.LastCheckAtMs).Format(time.RFC3339)
	}
	fmt.Printf("%-14d %-8s short=%-8s long=%-8s checks=%d changes=%d faults=%d last=%s\n",
		w.WallID, w.State, w.ShortPeriod, w.LongPeriod, w.Checks, w.Changes, w.Faults, last)
}

func printChange(ch api.Change) {
	at := time.UnixMilli(ch.DetectedAtMs).Format(time.RFC3339)
	line := fmt.Sprintf("%s wall %d %-7s %d", at, ch.WallID, ch.Kind, ch.ItemID)
	switch {
	case ch.Kind == "moved":
		line += fmt.Sprintf(" %s -> %s", ch.FromCategory, ch.Category)
	case ch.Category != "":
		line += " [" + ch.Category + "]"
	}
	if ch.Body != "" {
		body := []rune(ch.Body)
		if len(body) > 60 {
			body = append(body[:57], []rune("...")...)
		}
		line += " " + strconv.Quote(string(body))
	}
	fmt.Println(line)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
