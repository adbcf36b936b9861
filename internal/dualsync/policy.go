package dualsync

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/jsonbsync/internal/canon"
	"github.com/roach88/jsonbsync/internal/codec"
)

// Field describes one synced field of record type T.
type Field[T any] struct {
	// Name identifies the field in errors and logs (e.g. "docs.metadata").
	Name string

	// Mode decides what happens to malformed primary values.
	Mode Mode

	// Pair returns a pointer to the field's Pair inside rec.
	Pair func(rec *T) *Pair
}

// Option configures a Policy.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Policy applies the sync hooks to records of type T.
//
// Thread-safety: a Policy holds no mutable state and is safe for
// concurrent use as long as its codec is.
type Policy[T any] struct {
	codec  codec.Codec
	fields []Field[T]
	logger *slog.Logger
}

// NewPolicy creates a Policy for the given fields.
func NewPolicy[T any](c codec.Codec, fields []Field[T], opts ...Option) *Policy[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Policy[T]{codec: c, fields: fields, logger: o.logger}
}

// Fields returns the fields managed by the policy.
func (p *Policy[T]) Fields() []Field[T] {
	return p.fields
}

// OnInsert fills in the derived value of every field whose primary value
// is non-null and whose derived value is still null. rec is modified in
// place; the caller persists it in the same write.
func (p *Policy[T]) OnInsert(ctx context.Context, rec *T) error {
	for _, f := range p.fields {
		pair := f.Pair(rec)
		if pair.Primary == nil || pair.Derived != nil {
			continue
		}
		derived, err := p.encode(ctx, f, *pair.Primary)
		if err != nil {
			return err
		}
		pair.Derived = derived
	}
	return nil
}

// OnUpdate recomputes derived values on next for every field whose primary
// value changed between prev and next. next is the post-image of the
// update, so a field whose primary is unchanged keeps whatever derived
// value next already carries, byte for byte, and costs no encode call.
// A primary set to null is not acted upon.
func (p *Policy[T]) OnUpdate(ctx context.Context, prev, next *T) error {
	for _, f := range p.fields {
		before, after := f.Pair(prev), f.Pair(next)
		if !primaryChanged(before, after) {
			continue
		}
		derived, err := p.encode(ctx, f, *after.Primary)
		if err != nil {
			return err
		}
		after.Derived = derived
	}
	return nil
}

func primaryChanged(before, after *Pair) bool {
	if after.Primary == nil {
		return false
	}
	return before.Primary == nil || *before.Primary != *after.Primary
}

// Reconcile recomputes every derived value that does not decode to its
// primary value. A null primary clears the derived value. Returns whether
// rec was modified. Running Reconcile again on its result changes nothing.
func (p *Policy[T]) Reconcile(ctx context.Context, rec *T) (bool, error) {
	changed := false
	for _, f := range p.fields {
		pair := f.Pair(rec)
		if pair.Primary == nil {
			if pair.Derived != nil {
				pair.Derived = nil
				changed = true
			}
			continue
		}

		state, err := p.Classify(ctx, *pair)
		if err != nil {
			return changed, err
		}
		if state == Synced {
			continue
		}

		derived, err := p.encode(ctx, f, *pair.Primary)
		if err != nil {
			return changed, err
		}
		if !bytes.Equal(derived, pair.Derived) || (derived == nil) != (pair.Derived == nil) {
			pair.Derived = derived
			changed = true
		}
	}
	return changed, nil
}

// Classify reports the state of a single pair by decoding the derived
// value and comparing it canonically with the primary value. A derived
// value that cannot be decoded, or that exists next to a null or malformed
// primary, is Desynced.
func (p *Policy[T]) Classify(ctx context.Context, pair Pair) (State, error) {
	if pair.Derived == nil {
		return Unset, nil
	}
	if pair.Primary == nil {
		return Desynced, nil
	}
	decoded, err := p.codec.Decode(ctx, pair.Derived)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Unset, ctxErr
		}
		return Desynced, nil
	}
	same, err := canon.Equal(*pair.Primary, decoded)
	if err != nil || !same {
		return Desynced, nil
	}
	return Synced, nil
}

// encode runs the codec and applies the field's mode to malformed input.
// In Lenient mode a malformed value yields (nil, nil).
func (p *Policy[T]) encode(ctx context.Context, f Field[T], primary string) ([]byte, error) {
	derived, err := p.codec.Encode(ctx, primary)
	if err == nil {
		return derived, nil
	}
	if errors.Is(err, codec.ErrMalformed) {
		if f.Mode == Strict {
			return nil, &MalformedPrimaryError{Field: f.Name, Err: err}
		}
		p.logger.Warn("malformed primary value, derived left null",
			"field", f.Name,
			"bytes", len(primary),
		)
		return nil, nil
	}
	return nil, &EncodeError{Field: f.Name, Err: err}
}
