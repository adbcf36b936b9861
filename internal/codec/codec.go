// Package codec defines the encode/decode boundary between the primary
// (textual JSON) and derived (binary) representations of a synced field.
//
// Implementations must be pure: the same input always yields the same
// output and no external state is touched, so Encode can be re-run by
// reconciliation at any time.
package codec

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned by Encode when the primary value is not
	// well-formed JSON.
	ErrMalformed = errors.New("malformed JSON")

	// ErrUnsupported is returned by Encode when primary is well-formed
	// but the codec cannot represent it, such as nesting deeper than
	// SQLite's JSON depth limit. It is an encode failure, not malformed
	// input.
	ErrUnsupported = errors.New("well-formed JSON not supported by codec")

	// ErrCorrupt is returned by Decode when the derived value cannot be
	// decoded.
	ErrCorrupt = errors.New("corrupt derived value")
)

// Codec converts between the primary and derived representations.
type Codec interface {
	// Encode returns the derived form of primary. It returns an error
	// wrapping ErrMalformed when primary is not well-formed; any other
	// error is an encode failure unrelated to the input's shape.
	Encode(ctx context.Context, primary string) ([]byte, error)

	// Decode returns the textual JSON form of a derived value.
	Decode(ctx context.Context, derived []byte) (string, error)
}

// Names of the built-in codecs, as accepted by Open.
const (
	NameSQLite    = "sqlite"
	NameCanonical = "canonical"
)

// Open constructs a built-in codec by name. The returned close function
// releases any resources held by the codec and is never nil.
func Open(name string) (Codec, func() error, error) {
	switch name {
	case NameSQLite, "":
		c, err := OpenSQLite()
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case NameCanonical:
		return Canonical{}, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown codec %q: must be %q or %q", name, NameSQLite, NameCanonical)
	}
}
