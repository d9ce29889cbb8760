package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/chatmerge/internal/timeutil"
)

// MergeRecord describes the last successful merge of a logical
// file.
type MergeRecord struct {
	RelPath  string
	FileHash string
	FileSize int64
	Entries  int
	MergedAt time.Time
}

// RecordMerge upserts the merge state for rec.RelPath and clears
// any failure previously recorded for it.
func (db *DB) RecordMerge(rec MergeRecord) error {
	return db.Update(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO merged_files
				(rel_path, file_hash, file_size, entries, merged_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(rel_path) DO UPDATE SET
				file_hash = excluded.file_hash,
				file_size = excluded.file_size,
				entries   = excluded.entries,
				merged_at = excluded.merged_at`,
			rec.RelPath, rec.FileHash, rec.FileSize,
			rec.Entries, timeutil.Format(rec.MergedAt),
		); err != nil {
			return fmt.Errorf("recording merge %s: %w", rec.RelPath, err)
		}
		if _, err := tx.Exec(
			"DELETE FROM failed_files WHERE rel_path = ?",
			rec.RelPath,
		); err != nil {
			return fmt.Errorf("clearing failure %s: %w", rec.RelPath, err)
		}
		return nil
	})
}

// GetMerge returns the merge state for relPath. ok is false when
// the file has never been merged.
func (db *DB) GetMerge(relPath string) (MergeRecord, bool, error) {
	row := db.reader.QueryRow(`
		SELECT rel_path, file_hash, file_size, entries, merged_at
		FROM merged_files WHERE rel_path = ?`, relPath)
	rec, err := scanMerge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MergeRecord{}, false, nil
	}
	if err != nil {
		return MergeRecord{}, false, err
	}
	return rec, true, nil
}

// ListMerges returns all merge records ordered by path.
func (db *DB) ListMerges() ([]MergeRecord, error) {
	rows, err := db.reader.Query(`
		SELECT rel_path, file_hash, file_size, entries, merged_at
		FROM merged_files ORDER BY rel_path`)
	if err != nil {
		return nil, fmt.Errorf("listing merges: %w", err)
	}
	defer rows.Close()

	var out []MergeRecord
	for rows.Next() {
		rec, err := scanMerge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMerge(s rowScanner) (MergeRecord, error) {
	var rec MergeRecord
	var mergedAt string
	if err := s.Scan(
		&rec.RelPath, &rec.FileHash, &rec.FileSize,
		&rec.Entries, &mergedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scanning merge: %w", err)
	}
	t, err := timeutil.Parse(mergedAt)
	if err != nil {
		return rec, fmt.Errorf(
			"parsing merged_at for %s: %w", rec.RelPath, err,
		)
	}
	rec.MergedAt = t
	return rec, nil
}
