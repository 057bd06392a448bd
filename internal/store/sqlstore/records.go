package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/store"
)

// ensureTables lazily creates the per-type record and raw tables the first
// time a modem type is seen.
func (s *SQLStore) ensureTables(ctx context.Context, modemType string) error {
	suffix := store.CollectionSuffix(modemType)
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured[suffix] {
		return nil
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS records_%s (
			ts_ms    INTEGER NOT NULL,
			imei     TEXT NOT NULL,
			priority INTEGER NOT NULL,
			document TEXT NOT NULL,
			PRIMARY KEY (ts_ms, imei)
		) WITHOUT ROWID`, suffix),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_records_%s_imei_ts
			ON records_%s (imei, ts_ms DESC)`, suffix, suffix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS raw_%s (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			imei        TEXT NOT NULL,
			received_ms INTEGER NOT NULL,
			document    TEXT NOT NULL
		)`, suffix),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_raw_%s_imei_received
			ON raw_%s (imei, received_ms DESC)`, suffix, suffix),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure tables for %s: %w", suffix, err)
		}
	}
	s.ensured[suffix] = true
	return nil
}

func (s *SQLStore) InsertRecords(ctx context.Context, modemType string, records []*avl.Record) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}
	if err := s.ensureTables(ctx, modemType); err != nil {
		return 0, 0, err
	}
	table := store.RecordsCollection(modemType)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR IGNORE INTO %s (ts_ms, imei, priority, document) VALUES (?, ?, ?, ?)`, table))
	if err != nil {
		return 0, 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range records {
		doc, err := json.Marshal(rec)
		if err != nil {
			return 0, 0, fmt.Errorf("marshal record %s@%d: %w", rec.IMEI, rec.Timestamp.UnixMilli(), err)
		}
		res, err := stmt.ExecContext(ctx, rec.Timestamp.UnixMilli(), rec.IMEI, rec.Priority, string(doc))
		if err != nil {
			return 0, 0, fmt.Errorf("insert record: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit insert: %w", err)
	}
	return inserted, len(records) - inserted, nil
}

func (s *SQLStore) LatestRecord(ctx context.Context, modemType, imei string) (*avl.Record, error) {
	if err := s.ensureTables(ctx, modemType); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT document FROM %s WHERE imei = ? ORDER BY ts_ms DESC LIMIT 1`,
		store.RecordsCollection(modemType)), imei)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("latest record: %w", err)
	}
	return decodeRecord(doc)
}

func (s *SQLStore) Records(ctx context.Context, modemType, imei string, limit, skip int) ([]avl.Record, error) {
	if err := s.ensureTables(ctx, modemType); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT document FROM %s WHERE imei = ? ORDER BY ts_ms DESC LIMIT ? OFFSET ?`,
		store.RecordsCollection(modemType)), imei, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	return collectRecords(rows)
}

func (s *SQLStore) RecordRange(ctx context.Context, modemType, imei string, from, to time.Time) ([]avl.Record, error) {
	if err := s.ensureTables(ctx, modemType); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT document FROM %s WHERE imei = ? AND ts_ms >= ? AND ts_ms <= ?
		 ORDER BY ts_ms ASC LIMIT ?`,
		store.RecordsCollection(modemType)),
		imei, from.UnixMilli(), to.UnixMilli(), store.MaxRangeRecords)
	if err != nil {
		return nil, fmt.Errorf("record range: %w", err)
	}
	return collectRecords(rows)
}

func (s *SQLStore) CountRecords(ctx context.Context, modemType, imei string) (int64, error) {
	if err := s.ensureTables(ctx, modemType); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE imei = ?`,
		store.RecordsCollection(modemType)), imei).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *SQLStore) CountRecordsSince(ctx context.Context, modemType, imei string, since time.Time) (int64, error) {
	if err := s.ensureTables(ctx, modemType); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE imei = ? AND ts_ms >= ?`,
		store.RecordsCollection(modemType)), imei, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records since: %w", err)
	}
	return n, nil
}

func (s *SQLStore) InsertRaw(ctx context.Context, modemType string, frame *avl.RawFrame) error {
	if err := s.ensureTables(ctx, modemType); err != nil {
		return err
	}
	doc, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal raw frame: %w", err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (imei, received_ms, document) VALUES (?, ?, ?)`,
		store.RawCollection(modemType)),
		frame.IMEI, frame.ReceivedAt.UnixMilli(), string(doc))
	if err != nil {
		return fmt.Errorf("insert raw frame: %w", err)
	}
	return nil
}

func (s *SQLStore) RawFrames(ctx context.Context, modemType, imei string, limit int) ([]avl.RawFrame, error) {
	if err := s.ensureTables(ctx, modemType); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT document FROM %s WHERE imei = ? ORDER BY received_ms DESC, id DESC LIMIT ?`,
		store.RawCollection(modemType)), imei, limit)
	if err != nil {
		return nil, fmt.Errorf("raw frames: %w", err)
	}
	defer rows.Close()

	var frames []avl.RawFrame
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan raw frame: %w", err)
		}
		var frame avl.RawFrame
		if err := json.Unmarshal([]byte(doc), &frame); err != nil {
			return nil, fmt.Errorf("decode raw frame: %w", err)
		}
		frames = append(frames, frame)
	}
	return frames, rows.Err()
}

func collectRecords(rows *sql.Rows) ([]avl.Record, error) {
	defer rows.Close()
	var records []avl.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func decodeRecord(doc string) (*avl.Record, error) {
	var rec avl.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
