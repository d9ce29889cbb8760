package db

import (
	"fmt"
	"time"

	"github.com/wesm/chatmerge/internal/timeutil"
)

// Failure is a logical file whose last merge was refused.
type Failure struct {
	RelPath  string
	Message  string
	FailedAt time.Time
}

// RecordFailure stores the error that stopped a merge of relPath.
func (db *DB) RecordFailure(f Failure) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.Exec(`
		INSERT INTO failed_files (rel_path, message, failed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(rel_path) DO UPDATE SET
			message   = excluded.message,
			failed_at = excluded.failed_at`,
		f.RelPath, f.Message, timeutil.Format(f.FailedAt),
	)
	if err != nil {
		return fmt.Errorf("recording failure %s: %w", f.RelPath, err)
	}
	return nil
}

// ClearFailure removes a single failure entry.
func (db *DB) ClearFailure(relPath string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.Exec(
		"DELETE FROM failed_files WHERE rel_path = ?",
		relPath,
	)
	return err
}

// ListFailures returns all recorded failures ordered by path.
func (db *DB) ListFailures() ([]Failure, error) {
	rows, err := db.reader.Query(`
		SELECT rel_path, message, failed_at
		FROM failed_files ORDER BY rel_path`)
	if err != nil {
		return nil, fmt.Errorf("listing failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var failedAt string
		if err := rows.Scan(
			&f.RelPath, &f.Message, &failedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning failure: %w", err)
		}
		if f.FailedAt, err = timeutil.Parse(failedAt); err != nil {
			return nil, fmt.Errorf(
				"parsing failed_at for %s: %w", f.RelPath, err,
			)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
