package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/jsonbsync/internal/codec"
	"github.com/roach88/jsonbsync/internal/dualsync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createCountingStore creates a store whose codec counts calls.
func createCountingStore(t *testing.T, opts ...Option) (*Store, *codec.Counting) {
	t.Helper()
	inner, err := codec.OpenSQLite()
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { inner.Close() })
	counting := codec.NewCounting(inner)
	return createTestStore(t, append([]Option{WithCodec(counting)}, opts...)...), counting
}

func strictAll() Option {
	modes := map[string]dualsync.Mode{}
	for _, f := range Fields() {
		modes[f.String()] = dualsync.Strict
	}
	return WithModes(modes)
}

func strPtr(s string) *string { return &s }

// saveTestDoc saves a doc with the given slug and metadata.
func saveTestDoc(t *testing.T, s *Store, slug string, metadata *string) Doc {
	t.Helper()
	d, err := s.SaveDoc(context.Background(), Doc{
		Module:   "core",
		Slug:     slug,
		Title:    "Doc " + slug,
		DocType:  "official",
		Metadata: dualsync.Pair{Primary: metadata},
	})
	if err != nil {
		t.Fatalf("SaveDoc(%s) failed: %v", slug, err)
	}
	return d
}

// decodeText decodes a derived value with the store's codec.
func decodeText(t *testing.T, s *Store, derived []byte) string {
	t.Helper()
	text, err := s.Codec().Decode(context.Background(), derived)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	return text
}

// testContext returns a context canceled when the test ends
// (stand-in for testing.T.Context, which needs Go 1.24).
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
