package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/wallwatch/internal/bus"
	"github.com/matheus3301/wallwatch/internal/feed"
	"github.com/matheus3301/wallwatch/internal/status"
	"github.com/matheus3301/wallwatch/internal/store"
	intsync "github.com/matheus3301/wallwatch/internal/sync"
	"github.com/matheus3301/wallwatch/internal/watch"
	"google.golang.org/protobuf/types/known/structpb"
)

// WindowSpec is a window on the wire. Period uses time.ParseDuration syntax.
type WindowSpec struct {
	Period string `json:"period,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (w WindowSpec) window() (intsync.Window, error) {
	out := intsync.Window{Limit: w.Limit}
	if w.Period != "" {
		d, err := time.ParseDuration(w.Period)
		if err != nil {
			return intsync.Window{}, fmt.Errorf("period: %w", err)
		}
		out.Period = d
	}
	return out, nil
}

// StartRequest is the StartWatch request.
type StartRequest struct {
	WallID       int64      `json:"wall_id,string"`
	WatchEditing bool       `json:"watch_editing,omitempty"`
	Window       WindowSpec `json:"window"`
	ShortWindow  WindowSpec `json:"short_window"`
}

// Spec converts the request into a validated watch.Spec.
func (r StartRequest) Spec() (watch.Spec, error) {
	long, err := r.Window.window()
	if err != nil {
		return watch.Spec{}, fmt.Errorf("window: %w", err)
	}
	short, err := r.ShortWindow.window()
	if err != nil {
		return watch.Spec{}, fmt.Errorf("short window: %w", err)
	}
	spec := watch.Spec{WallID: r.WallID, WatchEditing: r.WatchEditing, Window: long, ShortWindow: short}
	return spec, spec.Validate()
}

// WatchInfo is the wire view of watch.Info.
type WatchInfo struct {
	WallID        int64  `json:"wall_id,string"`
	State         string `json:"state"`
	WatchEditing  bool   `json:"watch_editing"`
	ShortPeriod   string `json:"short_period"`
	LongPeriod    string `json:"long_period"`
	LongInFlight  bool   `json:"long_in_flight"`
	LastCheckAtMs int64  `json:"last_check_at_ms,omitempty,string"`
	Checks        int64  `json:"checks,string"`
	Changes       int64  `json:"changes,string"`
	Faults        int64  `json:"faults,string"`
}

func infoFromWatch(i watch.Info) WatchInfo {
	out := WatchInfo{
		WallID:       i.WallID,
		State:        string(i.State),
		WatchEditing: i.WatchEditing,
		ShortPeriod:  i.ShortPeriod.String(),
		LongPeriod:   i.LongPeriod.String(),
		LongInFlight: i.LongInFlight,
		Checks:       i.Checks,
		Changes:      i.Changes,
		Faults:       i.Faults,
	}
	if !i.LastCheckAt.IsZero() {
		out.LastCheckAtMs = i.LastCheckAt.UnixMilli()
	}
	return out
}

// ListWatchesResponse is the ListWatches reply.
type ListWatchesResponse struct {
	Watches []WatchInfo `json:"watches"`
}

// ListChangesRequest pages the journal newest-first. WallID zero lists every
// wall; BeforeID zero starts from the newest change.
type ListChangesRequest struct {
	WallID   int64 `json:"wall_id,omitempty,string"`
	BeforeID int64 `json:"before_id,omitempty,string"`
	Limit    int   `json:"limit,omitempty"`
}

// Change is one journaled or live change.
type Change struct {
	ID            int64    `json:"id,omitempty,string"`
	BatchID       string   `json:"batch_id"`
	Seq           int      `json:"seq"`
	WallID        int64    `json:"wall_id,string"`
	Check         string   `json:"check"`
	Kind          string   `json:"kind"`
	ItemID        int64    `json:"item_id,string"`
	Category      string   `json:"category,omitempty"`
	FromCategory  string   `json:"from_category,omitempty"`
	ItemTimestamp int64    `json:"item_timestamp_ms,omitempty,string"`
	Body          string   `json:"body,omitempty"`
	Attachments   []string `json:"attachments,omitempty"`
	DetectedAtMs  int64    `json:"detected_at_ms,string"`
}

func changeFromRecord(r store.ChangeRecord) Change {
	c := Change{
		ID:            r.ID,
		BatchID:       r.BatchID,
		Seq:           r.Seq,
		WallID:        r.WallID,
		Check:         r.Check,
		Kind:          r.Kind,
		ItemID:        r.ItemID,
		Category:      r.Category,
		FromCategory:  r.FromCategory,
		ItemTimestamp: r.ItemTimestamp,
		Body:          r.Body,
		DetectedAtMs:  r.DetectedAt,
	}
	for _, a := range r.Attachments {
		c.Attachments = append(c.Attachments, a.String())
	}
	return c
}

// ChangePage is the ListChanges reply. NextBeforeID is zero on the last page.
type ChangePage struct {
	Changes      []Change `json:"changes"`
	NextBeforeID int64    `json:"next_before_id,omitempty,string"`
}

// FaultInfo describes a check that aborted.
type FaultInfo struct {
	Check   string `json:"check"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StatusInfo describes a watch lifecycle transition.
type StatusInfo struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Envelope wraps one live event. Exactly one of Changes, Fault and Status
// is set, according to Kind.
type Envelope struct {
	EventID      string      `json:"event_id"`
	Kind         string      `json:"kind"`
	WallID       int64       `json:"wall_id,string"`
	OccurredAtMs int64       `json:"occurred_at_ms,string"`
	Changes      []Change    `json:"changes,omitempty"`
	Fault        *FaultInfo  `json:"fault,omitempty"`
	Status       *StatusInfo `json:"status,omitempty"`
}

func envelopeFromEvent(id string, evt bus.Event) (Envelope, bool) {
	env := Envelope{
		EventID:      id,
		Kind:         evt.Kind,
		WallID:       evt.WallID,
		OccurredAtMs: evt.Timestamp.UnixMilli(),
	}
	switch p := evt.Payload.(type) {
	case feed.Batch:
		for _, r := range store.RecordsFromBatch(p) {
			env.Changes = append(env.Changes, changeFromRecord(r))
		}
	case feed.Fault:
		env.Fault = &FaultInfo{Check: string(p.Check), Kind: p.Kind.String(), Message: p.Message}
	case status.StatusChange:
		env.Status = &StatusInfo{From: string(p.From), To: string(p.To)}
	default:
		return Envelope{}, false
	}
	return env, true
}

// encode and decode go through encoding/json so the Go types above define
// the Struct shape. Struct numbers are doubles, so int64 fields are tagged
// ",string" and travel as decimal strings.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func decode(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
