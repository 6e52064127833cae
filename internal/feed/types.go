package feed

import (
	"context"
	"fmt"
	"time"
)

// Category is the moderation category of a wall item.
type Category int

const (
	Published Category = iota
	Copy
	Reply
	Postponed
	Suggested
)

func (c Category) String() string {
	switch c {
	case Published:
		return "published"
	case Copy:
		return "copy"
	case Reply:
		return "reply"
	case Postponed:
		return "postponed"
	case Suggested:
		return "suggested"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Set is a group of categories checked together.
type Set []Category

var (
	PublishedSet = Set{Published, Copy, Reply}
	PostponedSet = Set{Postponed}
	SuggestedSet = Set{Suggested}
)

// Sets lists the category sets in diff order. Transition targets come before
// their sources so a moved item is re-categorised before its old set is checked.
var Sets = []Set{PublishedSet, PostponedSet, SuggestedSet}

// Contains reports whether c belongs to the set.
func (s Set) Contains(c Category) bool {
	for _, x := range s {
		if x == c {
			return true
		}
	}
	return false
}

// Name returns a stable name for logs and journal rows.
func (s Set) Name() string {
	switch {
	case s.Contains(Published):
		return "published"
	case s.Contains(Postponed):
		return "postponed"
	case s.Contains(Suggested):
		return "suggested"
	default:
		return "unknown"
	}
}

// SetOf returns the set c belongs to.
func SetOf(c Category) Set {
	switch c {
	case Postponed:
		return PostponedSet
	case Suggested:
		return SuggestedSet
	default:
		return PublishedSet
	}
}

// Filter selects which part of a wall the source returns.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterSuggested Filter = "suggests"
	FilterPostponed Filter = "postponed"
)

// Attachment is an opaque attachment descriptor. It only takes part in
// fingerprinting.
type Attachment struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

func (a Attachment) String() string {
	return a.Type + ":" + a.Ref
}

// Item is one wall entry as returned by the source.
type Item struct {
	ID          int64        `json:"id"`
	WallID      int64        `json:"wall_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Category    Category     `json:"category"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Source is the remote feed. Pages are returned newest-first and honour
// offset/count exactly.
type Source interface {
	FetchPage(ctx context.Context, wallID int64, filter Filter, offset, count int) ([]Item, error)
}

// ChangeKind classifies a detected change.
type ChangeKind int

const (
	ChangeNew ChangeKind = iota
	ChangeEdited
	ChangeDeleted
	ChangeMoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "new"
	case ChangeEdited:
		return "edited"
	case ChangeDeleted:
		return "deleted"
	case ChangeMoved:
		return "moved"
	default:
		return "unknown"
	}
}

// Change is a single classified change. Item is nil for deletions; From is
// only meaningful for moves.
type Change struct {
	Kind   ChangeKind
	WallID int64
	ItemID int64
	Item   *Item
	From   Category
}

// CheckKind tells which cadence produced a batch.
type CheckKind string

const (
	ShortCheck CheckKind = "short"
	LongCheck  CheckKind = "long"
)

// Batch groups the changes found by one check.
type Batch struct {
	ID      string
	WallID  int64
	Check   CheckKind
	At      time.Time
	Changes []Change
}

// Fault is reported out of band when a check aborts on a challenge or a
// fatal error.
type Fault struct {
	WallID  int64
	Check   CheckKind
	Kind    ErrorKind
	Message string
	At      time.Time
}
