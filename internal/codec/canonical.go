package codec

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/jsonbsync/internal/canon"
)

// Canonical is a portable codec whose derived form is the canonical JSON
// serialization of the primary value. It needs no database and is useful
// where the storage engine has no binary JSON type.
type Canonical struct{}

// Encode returns the canonical serialization of primary.
func (Canonical) Encode(_ context.Context, primary string) ([]byte, error) {
	out, err := canon.Canonicalize(primary)
	if err != nil {
		if errors.Is(err, canon.ErrInvalid) {
			return nil, fmt.Errorf("encode: %w", ErrMalformed)
		}
		return nil, fmt.Errorf("encode: %w", err)
	}
	return out, nil
}

// Decode returns derived as text after checking it is valid JSON.
func (Canonical) Decode(_ context.Context, derived []byte) (string, error) {
	s := string(derived)
	if derived == nil || !canon.Valid(s) {
		return "", fmt.Errorf("decode: %w", ErrCorrupt)
	}
	return s, nil
}
