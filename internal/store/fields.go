package store

import (
	"fmt"
	"strings"

	"github.com/roach88/jsonbsync/internal/dualsync"
)

// SyncedField names one primary/derived column pair.
type SyncedField struct {
	Table   string
	Primary string
	Derived string
}

// String returns "table.primary".
func (f SyncedField) String() string {
	return f.Table + "." + f.Primary
}

var (
	DocsMetadata      = SyncedField{Table: "docs", Primary: "metadata", Derived: "metadata_jsonb"}
	ChunksMetadata    = SyncedField{Table: "chunks", Primary: "metadata", Derived: "metadata_jsonb"}
	SessionsTelemetry = SyncedField{Table: "sessions", Primary: "telemetry", Derived: "telemetry_jsonb"}
	MessagesMetadata  = SyncedField{Table: "messages", Primary: "metadata", Derived: "metadata_jsonb"}
)

var syncedFields = []SyncedField{DocsMetadata, ChunksMetadata, SessionsTelemetry, MessagesMetadata}

// Fields returns every synced field in schema order.
func Fields() []SyncedField {
	out := make([]SyncedField, len(syncedFields))
	copy(out, syncedFields)
	return out
}

// LookupField resolves "table.field" or a bare table name (when the table
// has exactly one synced field, which is true for every table today).
func LookupField(name string) (SyncedField, error) {
	table, field, hasField := strings.Cut(name, ".")
	for _, f := range syncedFields {
		if f.Table != table {
			continue
		}
		if !hasField || f.Primary == field {
			return f, nil
		}
	}
	return SyncedField{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
}

// Ref addresses one synced field of one row.
type Ref struct {
	Field SyncedField
	ID    int64
}

func (r Ref) String() string {
	return fmt.Sprintf("%s id=%d", r.Field, r.ID)
}

// fieldRow is the single-field record used by the generic field
// operations (SetPrimary, ReconcileField).
type fieldRow struct {
	ID   int64
	Pair dualsync.Pair
}

// knownTable reports whether table is one of the knowledge-base tables.
func knownTable(table string) bool {
	switch table {
	case "topics", "docs", "chunks", "sessions", "messages":
		return true
	}
	return false
}
