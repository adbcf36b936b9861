package dualsync

import (
	"bytes"
	"fmt"

	"github.com/roach88/jsonbsync/internal/canon"
)

// Pair holds both representations of one synced field.
// A nil Primary or nil Derived is SQL NULL.
type Pair struct {
	Primary *string
	Derived []byte
}

// Text returns a Pair with the given primary value and no derived value.
func Text(primary string) Pair {
	return Pair{Primary: &primary}
}

// Equal reports whether both representations are identical.
func (p Pair) Equal(other Pair) bool {
	if (p.Primary == nil) != (other.Primary == nil) {
		return false
	}
	if p.Primary != nil && *p.Primary != *other.Primary {
		return false
	}
	return bytes.Equal(p.Derived, other.Derived) && (p.Derived == nil) == (other.Derived == nil)
}

// Clone returns a deep copy.
func (p Pair) Clone() Pair {
	var out Pair
	if p.Primary != nil {
		s := *p.Primary
		out.Primary = &s
	}
	if p.Derived != nil {
		out.Derived = bytes.Clone(p.Derived)
	}
	return out
}

// Validate reports whether primary is well-formed JSON. Ingestion
// pipelines that want strict rejection call this before writing.
func Validate(primary string) bool {
	return canon.Valid(primary)
}

// Mode selects how a field reacts to malformed primary values.
type Mode int

const (
	// Lenient leaves the derived value null and lets the write succeed.
	Lenient Mode = iota
	// Strict rejects the whole write.
	Strict
)

func (m Mode) String() string {
	switch m {
	case Lenient:
		return "lenient"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "lenient" or "strict". The empty string is Lenient.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "lenient", "":
		return Lenient, nil
	case "strict":
		return Strict, nil
	default:
		return Lenient, fmt.Errorf("invalid mode %q: must be lenient or strict", s)
	}
}

// State is the synchronization state of a single field.
type State int

const (
	// Unset means there is no derived value.
	Unset State = iota
	// Synced means the derived value decodes to the primary value.
	Synced
	// Desynced means the derived value exists but does not match.
	Desynced
)

func (s State) String() string {
	switch s {
	case Unset:
		return "unset"
	case Synced:
		return "synced"
	case Desynced:
		return "desynced"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
