package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/jsonbsync/internal/canon"
	"github.com/roach88/jsonbsync/internal/codec"
	"github.com/roach88/jsonbsync/internal/dualsync"
)

// ErrNoDerived is returned by PatchDerived when the derived value is null.
var ErrNoDerived = errors.New("derived value is null")

func (s *Store) checkField(f SyncedField) error {
	if _, ok := s.rows[f]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	return nil
}

func selectPair(f SyncedField) string {
	return fmt.Sprintf(`SELECT id, %s, %s FROM %s WHERE id = ?`, f.Primary, f.Derived, f.Table)
}

// GetPair reads both representations of one field.
func (s *Store) GetPair(ctx context.Context, ref Ref) (dualsync.Pair, error) {
	if err := s.checkField(ref.Field); err != nil {
		return dualsync.Pair{}, err
	}
	r, err := scanPair(s.db.QueryRowContext(ctx, selectPair(ref.Field), ref.ID))
	if err != nil {
		return dualsync.Pair{}, fmt.Errorf("get %s: %w", ref, err)
	}
	return r.Pair, nil
}

// Classify reports the sync state of one field.
func (s *Store) Classify(ctx context.Context, ref Ref) (dualsync.State, error) {
	pair, err := s.GetPair(ctx, ref)
	if err != nil {
		return dualsync.Unset, err
	}
	return s.rows[ref.Field].Classify(ctx, pair)
}

// SetPrimary writes a new primary value through OnUpdate and returns the
// stored pair. A nil value stores NULL and leaves the derived value as is.
func (s *Store) SetPrimary(ctx context.Context, ref Ref, value *string) (dualsync.Pair, error) {
	if err := s.checkField(ref.Field); err != nil {
		return dualsync.Pair{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dualsync.Pair{}, fmt.Errorf("set %s: begin tx: %w", ref, err)
	}
	defer tx.Rollback()

	prev, err := scanPair(tx.QueryRowContext(ctx, selectPair(ref.Field), ref.ID))
	if err != nil {
		return dualsync.Pair{}, fmt.Errorf("set %s: %w", ref, err)
	}

	next := fieldRow{ID: prev.ID, Pair: dualsync.Pair{Primary: value, Derived: prev.Pair.Derived}}
	if err := s.rows[ref.Field].OnUpdate(ctx, &prev, &next); err != nil {
		return dualsync.Pair{}, fmt.Errorf("set %s: %w", ref, err)
	}

	touch := ""
	if ref.Field.Table == "docs" {
		touch = ", updated_at = datetime('now')"
	}
	stmt := fmt.Sprintf(`UPDATE %s SET %s = ?, %s = ?%s WHERE id = ?`,
		ref.Field.Table, ref.Field.Primary, ref.Field.Derived, touch)
	if _, err := tx.ExecContext(ctx, stmt, nullable(next.Pair.Primary), blob(next.Pair.Derived), ref.ID); err != nil {
		return dualsync.Pair{}, fmt.Errorf("set %s: %w", ref, err)
	}

	if err := tx.Commit(); err != nil {
		return dualsync.Pair{}, fmt.Errorf("set %s: commit: %w", ref, err)
	}
	return next.Pair, nil
}

// PatchDerived applies an RFC 7386 merge patch to the derived value only.
// The primary value is not touched, so the field reads as Desynced until
// the next primary write or reconcile.
func (s *Store) PatchDerived(ctx context.Context, ref Ref, patch string) (dualsync.Pair, error) {
	if err := s.checkField(ref.Field); err != nil {
		return dualsync.Pair{}, err
	}
	if !canon.Valid(patch) {
		return dualsync.Pair{}, fmt.Errorf("patch %s: %w", ref, codec.ErrMalformed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dualsync.Pair{}, fmt.Errorf("patch %s: begin tx: %w", ref, err)
	}
	defer tx.Rollback()

	r, err := scanPair(tx.QueryRowContext(ctx, selectPair(ref.Field), ref.ID))
	if err != nil {
		return dualsync.Pair{}, fmt.Errorf("patch %s: %w", ref, err)
	}
	if r.Pair.Derived == nil {
		return dualsync.Pair{}, fmt.Errorf("patch %s: %w", ref, ErrNoDerived)
	}

	text, err := s.codec.Decode(ctx, r.Pair.Derived)
	if err != nil {
		return dualsync.Pair{}, fmt.Errorf("patch %s: %w", ref, err)
	}
	var patched sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT json_patch(?, ?)`, text, patch).Scan(&patched); err != nil {
		return dualsync.Pair{}, fmt.Errorf("patch %s: %w", ref, err)
	}
	if !patched.Valid {
		return dualsync.Pair{}, fmt.Errorf("patch %s: patch produced null", ref)
	}
	derived, err := s.codec.Encode(ctx, patched.String)
	if err != nil {
		return dualsync.Pair{}, fmt.Errorf("patch %s: %w", ref, err)
	}

	stmt := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE id = ?`, ref.Field.Table, ref.Field.Derived)
	if _, err := tx.ExecContext(ctx, stmt, derived, ref.ID); err != nil {
		return dualsync.Pair{}, fmt.Errorf("patch %s: %w", ref, err)
	}
	if err := tx.Commit(); err != nil {
		return dualsync.Pair{}, fmt.Errorf("patch %s: commit: %w", ref, err)
	}

	r.Pair.Derived = derived
	return r.Pair, nil
}

// SetDerived overwrites the derived value with raw bytes. No validation
// is done; a nil value stores NULL.
func (s *Store) SetDerived(ctx context.Context, ref Ref, derived []byte) error {
	if err := s.checkField(ref.Field); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE id = ?`, ref.Field.Table, ref.Field.Derived)
	res, err := s.db.ExecContext(ctx, stmt, blob(derived), ref.ID)
	if err != nil {
		return fmt.Errorf("set derived %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set derived %s: %w", ref, err)
	}
	if n == 0 {
		return fmt.Errorf("set derived %s: %w", ref, ErrNotFound)
	}
	return nil
}
