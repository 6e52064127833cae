package bus

import "time"

// Event kinds published by the watcher.
const (
	KindChanges       = "wall.changes"
	KindFault         = "wall.fault"
	KindStatusChanged = "watch.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	WallID    int64
	Timestamp time.Time
	Payload   any
}
