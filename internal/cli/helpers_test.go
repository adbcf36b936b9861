package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/jsonbsync/internal/dualsync"
	"github.com/roach88/jsonbsync/internal/store"
	"github.com/roach88/jsonbsync/internal/testutil"
)

const testTraceID = "00000000-0000-7000-8000-000000000000"

// execute runs the root command with args and returns stdout. The working
// directory is a fresh temp dir so no stray jsonbsync.cue is picked up.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	opts := &RootOptions{
		IDs:    testutil.NewFixedIDs(""),
		Stderr: io.Discard,
	}
	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// testDB returns a database path in a fresh temp dir and makes that dir
// the working directory.
func testDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	return filepath.Join(dir, "kb.db")
}

// seed opens the store at path, runs fn and closes it again.
func seed(t *testing.T, path string, fn func(ctx context.Context, s *store.Store)) {
	t.Helper()
	s, err := store.Open(path, store.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer s.Close()
	fn(context.Background(), s)
}

// seedDoc saves a doc and returns its ID.
func seedDoc(t *testing.T, s *store.Store, slug string, metadata *string) int64 {
	t.Helper()
	d, err := s.SaveDoc(context.Background(), store.Doc{
		Module:   "core",
		Slug:     slug,
		Title:    slug,
		DocType:  "official",
		Metadata: dualsync.Pair{Primary: metadata},
	})
	require.NoError(t, err)
	return d.ID
}

func strPtr(s string) *string { return &s }

// jsonResponse is CLIResponse with raw data for decoding into result types.
type jsonResponse struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   *CLIError       `json:"error"`
	TraceID string          `json:"trace_id"`
}

func decodeResponse(t *testing.T, out string) jsonResponse {
	t.Helper()
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// chdir changes the working directory for the duration of the test
// (stand-in for testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
