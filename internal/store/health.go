package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/jsonbsync/internal/dualsync"
)

// UnsyncedCount is the number of rows of one field whose primary value is
// set but whose derived value is null.
type UnsyncedCount struct {
	Field SyncedField
	Count int64
}

// CountUnsynced returns one count per synced field, in schema order.
// Rows with a malformed primary in lenient mode are included.
func (s *Store) CountUnsynced(ctx context.Context) ([]UnsyncedCount, error) {
	out := make([]UnsyncedCount, 0, len(syncedFields))
	for _, f := range syncedFields {
		var n int64
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND %s IS NULL`,
			f.Table, f.Primary, f.Derived)
		if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return nil, fmt.Errorf("count unsynced %s: %w", f, err)
		}
		out = append(out, UnsyncedCount{Field: f, Count: n})
	}
	return out, nil
}

// DriftRecord is one row that is not Synced.
type DriftRecord struct {
	ID int64
	// State is Desynced, or Unset for a row with a primary value and no
	// derived value.
	State dualsync.State
}

// DriftReport summarizes a decode-and-compare pass over one field.
type DriftReport struct {
	Field    SyncedField
	Total    int
	Synced   int
	Unset    int
	Desynced int
	// Records lists Desynced rows and Unset rows with a primary value,
	// ordered by ID.
	Records []DriftRecord
}

// Err returns the Desynced records as *dualsync.DriftError values joined
// with errors.Join, or nil when nothing is Desynced.
func (r DriftReport) Err() error {
	var errs []error
	for _, rec := range r.Records {
		if rec.State != dualsync.Desynced {
			continue
		}
		errs = append(errs, &dualsync.DriftError{
			Table: r.Field.Table,
			Field: r.Field.Primary,
			ID:    rec.ID,
			State: rec.State,
		})
	}
	return errors.Join(errs...)
}

// ScanDrift classifies every row of f by decoding its derived value and
// comparing it with the primary value.
func (s *Store) ScanDrift(ctx context.Context, f SyncedField) (DriftReport, error) {
	if err := s.checkField(f); err != nil {
		return DriftReport{}, err
	}
	policy := s.rows[f]

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, %s, %s FROM %s ORDER BY id ASC`, f.Primary, f.Derived, f.Table))
	if err != nil {
		return DriftReport{}, fmt.Errorf("scan drift %s: %w", f, err)
	}
	defer rows.Close()

	report := DriftReport{Field: f, Records: []DriftRecord{}}
	for rows.Next() {
		r, err := scanPair(rows)
		if err != nil {
			return DriftReport{}, fmt.Errorf("scan drift %s: %w", f, err)
		}
		state, err := policy.Classify(ctx, r.Pair)
		if err != nil {
			return DriftReport{}, fmt.Errorf("scan drift %s id=%d: %w", f, r.ID, err)
		}

		report.Total++
		switch state {
		case dualsync.Synced:
			report.Synced++
		case dualsync.Unset:
			report.Unset++
			if r.Pair.Primary != nil {
				report.Records = append(report.Records, DriftRecord{ID: r.ID, State: state})
			}
		case dualsync.Desynced:
			report.Desynced++
			report.Records = append(report.Records, DriftRecord{ID: r.ID, State: state})
		}
	}
	if err := rows.Err(); err != nil {
		return DriftReport{}, fmt.Errorf("scan drift %s: %w", f, err)
	}
	return report, nil
}

// ReconcileResult summarizes a ReconcileField run.
type ReconcileResult struct {
	Field   SyncedField
	Scanned int
	// Changed counts rows whose derived value was (or, in a dry run, would
	// be) rewritten.
	Changed int
	// Failed lists rows rejected by a strict field, ordered by ID.
	Failed []int64
	DryRun bool
}

// ReconcileField runs Reconcile over every row of f, batchSize rows per
// transaction. Rows rejected as malformed are recorded in Failed and do
// not stop the run; any other error does. With dryRun set nothing is
// written. Running it twice changes nothing the second time.
func (s *Store) ReconcileField(ctx context.Context, f SyncedField, batchSize int, dryRun bool) (ReconcileResult, error) {
	if err := s.checkField(f); err != nil {
		return ReconcileResult{}, err
	}
	if batchSize <= 0 {
		return ReconcileResult{}, fmt.Errorf("reconcile %s: batch size must be positive, got %d", f, batchSize)
	}

	result := ReconcileResult{Field: f, Failed: []int64{}, DryRun: dryRun}
	var lastID int64
	for {
		n, next, err := s.reconcileBatch(ctx, f, lastID, batchSize, dryRun, &result)
		if err != nil {
			return result, err
		}
		if n < batchSize {
			break
		}
		lastID = next
	}

	s.logger.Info("reconciled field",
		"field", f.String(),
		"scanned", result.Scanned,
		"changed", result.Changed,
		"failed", len(result.Failed),
		"dry_run", dryRun,
	)
	return result, nil
}

// reconcileBatch handles the rows with id > afterID, up to limit of them.
// Returns how many rows were read and the last ID seen.
func (s *Store) reconcileBatch(ctx context.Context, f SyncedField, afterID int64, limit int, dryRun bool, result *ReconcileResult) (int, int64, error) {
	policy := s.rows[f]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, afterID, fmt.Errorf("reconcile %s: begin tx: %w", f, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, %s, %s FROM %s WHERE id > ? ORDER BY id ASC LIMIT ?`,
		f.Primary, f.Derived, f.Table), afterID, limit)
	if err != nil {
		return 0, afterID, fmt.Errorf("reconcile %s: %w", f, err)
	}
	var batch []fieldRow
	for rows.Next() {
		r, err := scanPair(rows)
		if err != nil {
			rows.Close()
			return 0, afterID, fmt.Errorf("reconcile %s: %w", f, err)
		}
		batch = append(batch, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, afterID, fmt.Errorf("reconcile %s: %w", f, err)
	}

	update := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE id = ?`, f.Table, f.Derived)
	lastID := afterID
	for i := range batch {
		r := &batch[i]
		lastID = r.ID
		result.Scanned++

		changed, err := policy.Reconcile(ctx, r)
		if dualsync.IsMalformed(err) {
			result.Failed = append(result.Failed, r.ID)
			continue
		}
		if err != nil {
			return len(batch), lastID, fmt.Errorf("reconcile %s id=%d: %w", f, r.ID, err)
		}
		if !changed {
			continue
		}
		result.Changed++
		if dryRun {
			continue
		}
		if _, err := tx.ExecContext(ctx, update, blob(r.Pair.Derived), r.ID); err != nil {
			return len(batch), lastID, fmt.Errorf("reconcile %s id=%d: %w", f, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return len(batch), lastID, fmt.Errorf("reconcile %s: commit: %w", f, err)
	}
	return len(batch), lastID, nil
}
