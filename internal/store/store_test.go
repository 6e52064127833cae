package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wallwatch/internal/feed"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var at = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func testBatch(id string, wallID int64) feed.Batch {
	return feed.Batch{
		ID:     id,
		WallID: wallID,
		Check:  feed.ShortCheck,
		At:     at,
		Changes: []feed.Change{
			{Kind: feed.ChangeNew, WallID: wallID, ItemID: 106, Item: &feed.Item{
				ID: 106, Category: feed.Published, Timestamp: at.Add(-time.Minute), Text: "hello",
				Attachments: []feed.Attachment{{Type: "photo", Ref: "1_2"}},
			}},
			{Kind: feed.ChangeDeleted, WallID: wallID, ItemID: 103},
			{Kind: feed.ChangeMoved, WallID: wallID, ItemID: 90, From: feed.Postponed, Item: &feed.Item{
				ID: 90, Category: feed.Published, Timestamp: at, Text: "scheduled",
			}},
		},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (journal + faults)", result.Version)
	}
}

func TestRollbackThenMigrate(t *testing.T) {
	db := testDB(t)

	if err := db.Rollback(); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`SELECT 1 FROM faults`); err == nil {
		t.Error("faults table should be gone after rollback")
	}
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Changed || result.Version != 2 {
		t.Errorf("result = %+v, want changed at version 2", result)
	}
}

func TestAppendAndListChanges(t *testing.T) {
	db := testDB(t)

	n, err := db.AppendBatch(testBatch("b1", 7))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("written = %d, want 3", n)
	}

	got, err := db.ListChanges(7, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d changes, want 3", len(got))
	}

	// newest row first: moved, deleted, new
	moved, deleted, added := got[0], got[1], got[2]
	if moved.Kind != "moved" || moved.FromCategory != "postponed" || moved.Category != "published" {
		t.Errorf("moved = %+v", moved)
	}
	if deleted.Kind != "deleted" || deleted.ItemID != 103 || deleted.Body != "" || len(deleted.Attachments) != 0 {
		t.Errorf("deleted = %+v", deleted)
	}
	if added.Kind != "new" || added.Body != "hello" || added.Seq != 0 || added.BatchID != "b1" {
		t.Errorf("new = %+v", added)
	}
	if len(added.Attachments) != 1 || added.Attachments[0].Ref != "1_2" {
		t.Errorf("attachments = %v", added.Attachments)
	}
	if added.DetectedAt != at.UnixMilli() || added.Check != "short" {
		t.Errorf("detected_at/check = %d/%s", added.DetectedAt, added.Check)
	}
}

func TestAppendBatchIsIdempotent(t *testing.T) {
	db := testDB(t)
	b := testBatch("b1", 7)

	if _, err := db.AppendBatch(b); err != nil {
		t.Fatal(err)
	}
	n, err := db.AppendBatch(b)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second append wrote %d rows, want 0", n)
	}
	got, _ := db.ListChanges(7, 0, 10)
	if len(got) != 3 {
		t.Errorf("got %d changes, want 3", len(got))
	}
}

func TestAppendEmptyBatch(t *testing.T) {
	db := testDB(t)
	n, err := db.AppendBatch(feed.Batch{ID: "empty", WallID: 1})
	if err != nil || n != 0 {
		t.Errorf("AppendBatch(empty) = %d, %v", n, err)
	}
}

func TestListChangesPagination(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"b1", "b2"} {
		if _, err := db.AppendBatch(testBatch(id, 7)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.AppendBatch(testBatch("other", 8)); err != nil {
		t.Fatal(err)
	}

	page1, err := db.ListChanges(7, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 4 {
		t.Fatalf("page1 = %d rows, want 4", len(page1))
	}
	page2, err := db.ListChanges(7, page1[len(page1)-1].ID, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 2 {
		t.Fatalf("page2 = %d rows, want 2", len(page2))
	}
	for _, r := range append(page1, page2...) {
		if r.WallID != 7 {
			t.Errorf("row %d belongs to wall %d", r.ID, r.WallID)
		}
	}

	all, _ := db.ListChanges(0, 0, 100)
	if len(all) != 9 {
		t.Errorf("all walls = %d rows, want 9", len(all))
	}
}

func TestFaults(t *testing.T) {
	db := testDB(t)

	faults := []feed.Fault{
		{WallID: 1, Check: feed.LongCheck, Kind: feed.KindChallenge, Message: "captcha", At: at},
		{WallID: 2, Check: feed.ShortCheck, Kind: feed.KindFatal, Message: "unauthorized"},
	}
	for _, f := range faults {
		if err := db.RecordFault(f); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ListFaults(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Kind != "challenge" || got[0].Check != "long" || got[0].OccurredAt != at.UnixMilli() {
		t.Errorf("wall 1 faults = %+v", got)
	}

	all, err := db.ListFaults(0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].WallID != 2 {
		t.Errorf("all faults = %+v, want wall 2 first", all)
	}
	if all[0].OccurredAt == 0 {
		t.Error("zero fault time should default to now")
	}
}
