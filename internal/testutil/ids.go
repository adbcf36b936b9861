package testutil

// FixedIDs returns the same ID on every call. Used in place of UUIDv7
// trace IDs so command output can be compared byte for byte.
//
// Thread-safety: FixedIDs is stateless and safe for concurrent use.
type FixedIDs struct {
	id string
}

// NewFixedIDs creates a fixed ID source. An empty id means
// "00000000-0000-7000-8000-000000000000".
func NewFixedIDs(id string) *FixedIDs {
	if id == "" {
		id = "00000000-0000-7000-8000-000000000000"
	}
	return &FixedIDs{id: id}
}

// NewID returns the fixed ID.
func (g *FixedIDs) NewID() string {
	return g.id
}
