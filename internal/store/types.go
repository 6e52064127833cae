package store

import "github.com/matheus3301/wallwatch/internal/feed"

// ChangeRecord is one journaled change.
type ChangeRecord struct {
	ID            int64
	BatchID       string
	Seq           int
	WallID        int64
	Check         string
	Kind          string
	ItemID        int64
	Category      string
	FromCategory  string
	ItemTimestamp int64 // unix millis, 0 for deletions
	Body          string
	Attachments   []feed.Attachment
	DetectedAt    int64 // unix millis
}

// FaultRecord is one journaled check fault.
type FaultRecord struct {
	ID         int64
	WallID     int64
	Check      string
	Kind       string
	Message    string
	OccurredAt int64 // unix millis
}
