package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/wallwatch/internal/feed"
)

// RecordsFromBatch flattens a batch into journal rows, numbered in order.
func RecordsFromBatch(b feed.Batch) []ChangeRecord {
	detected := b.At.UnixMilli()
	out := make([]ChangeRecord, 0, len(b.Changes))
	for i, c := range b.Changes {
		r := ChangeRecord{
			BatchID:    b.ID,
			Seq:        i,
			WallID:     b.WallID,
			Check:      string(b.Check),
			Kind:       c.Kind.String(),
			ItemID:     c.ItemID,
			DetectedAt: detected,
		}
		if c.Kind == feed.ChangeMoved {
			r.FromCategory = c.From.String()
		}
		if c.Item != nil {
			r.Category = c.Item.Category.String()
			r.ItemTimestamp = c.Item.Timestamp.UnixMilli()
			r.Body = c.Item.Text
			r.Attachments = c.Item.Attachments
		}
		out = append(out, r)
	}
	return out
}

// AppendBatch writes every change of b in one transaction. Re-appending the
// same batch is a no-op. It returns the number of rows written.
func (db *DB) AppendBatch(b feed.Batch) (int, error) {
	if len(b.Changes) == 0 {
		return 0, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO changes (batch_id, seq, wall_id, check_kind, kind, item_id, category, from_category, item_ts, body, attachments, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id, seq) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	written := 0
	for _, r := range RecordsFromBatch(b) {
		attachments, err := json.Marshal(nonNil(r.Attachments))
		if err != nil {
			return 0, fmt.Errorf("encode attachments of %d: %w", r.ItemID, err)
		}
		res, err := stmt.Exec(r.BatchID, r.Seq, r.WallID, r.Check, r.Kind, r.ItemID, r.Category, r.FromCategory, r.ItemTimestamp, r.Body, string(attachments), r.DetectedAt)
		if err != nil {
			return 0, fmt.Errorf("insert change %d: %w", r.ItemID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return written, nil
}

// ListChanges returns journaled changes newest first, using keyset
// pagination on the row id. A zero wallID lists every wall; a zero beforeID
// starts from the newest row.
func (db *DB) ListChanges(wallID, beforeID int64, limit int) ([]ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, batch_id, seq, wall_id, check_kind, kind, item_id, category, from_category, item_ts, body, attachments, detected_at
		FROM changes
		WHERE (? = 0 OR wall_id = ?) AND (? = 0 OR id < ?)
		ORDER BY id DESC
		LIMIT ?`
	rows, err := db.Query(query, wallID, wallID, beforeID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ChangeRecord
	for rows.Next() {
		var (
			r           ChangeRecord
			attachments string
		)
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Seq, &r.WallID, &r.Check, &r.Kind, &r.ItemID, &r.Category, &r.FromCategory, &r.ItemTimestamp, &r.Body, &attachments, &r.DetectedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attachments), &r.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of change %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordFault journals a check fault.
func (db *DB) RecordFault(f feed.Fault) error {
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO faults (wall_id, check_kind, kind, message, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.WallID, string(f.Check), f.Kind.String(), f.Message, at.UnixMilli())
	return err
}

// ListFaults returns the most recent faults, newest first. A zero wallID
// lists every wall.
func (db *DB) ListFaults(wallID int64, limit int) ([]FaultRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, wall_id, check_kind, kind, message, occurred_at
		FROM faults
		WHERE (? = 0 OR wall_id = ?)
		ORDER BY id DESC
		LIMIT ?`, wallID, wallID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []FaultRecord
	for rows.Next() {
		var f FaultRecord
		if err := rows.Scan(&f.ID, &f.WallID, &f.Check, &f.Kind, &f.Message, &f.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nonNil(a []feed.Attachment) []feed.Attachment {
	if a == nil {
		return []feed.Attachment{}
	}
	return a
}
