package store

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/roach88/jsonbsync/internal/dualsync"
)

func TestSaveDoc_InsertDerivesMetadata(t *testing.T) {
	s := createTestStore(t)

	d := saveTestDoc(t, s, "intro", strPtr(`{"tags": ["a", "b"], "n": 1}`))

	if d.ID == 0 {
		t.Fatal("expected ID to be assigned")
	}
	if d.Metadata.Derived == nil {
		t.Fatal("expected derived metadata")
	}
	if got := decodeText(t, s, d.Metadata.Derived); got != `{"tags":["a","b"],"n":1}` {
		t.Errorf("decoded = %s", got)
	}
	if *d.Metadata.Primary != `{"tags": ["a", "b"], "n": 1}` {
		t.Errorf("primary was rewritten: %s", *d.Metadata.Primary)
	}
}

func TestSaveDoc_NullMetadataNoEncode(t *testing.T) {
	s, counting := createCountingStore(t)

	d := saveTestDoc(t, s, "bare", nil)

	if d.Metadata.Primary != nil || d.Metadata.Derived != nil {
		t.Errorf("expected both columns NULL, got %+v", d.Metadata)
	}
	if counting.Encodes() != 0 {
		t.Errorf("encodes = %d, want 0", counting.Encodes())
	}
}

func TestSaveDoc_IgnoresCallerDerived(t *testing.T) {
	s := createTestStore(t)

	d, err := s.SaveDoc(context.Background(), Doc{
		Module: "core", Slug: "x", Title: "x", DocType: "note",
		Metadata: dualsync.Pair{Primary: strPtr(`{"a":1}`), Derived: []byte("garbage")},
	})
	if err != nil {
		t.Fatalf("SaveDoc failed: %v", err)
	}
	if got := decodeText(t, s, d.Metadata.Derived); got != `{"a":1}` {
		t.Errorf("decoded = %s, want {\"a\":1}", got)
	}
}

func TestSaveDoc_UpsertByNaturalKey(t *testing.T) {
	s := createTestStore(t)

	first := saveTestDoc(t, s, "guide", strPtr(`{"v":1}`))
	second := saveTestDoc(t, s, "guide", strPtr(`{"v":2}`))

	if first.ID != second.ID {
		t.Fatalf("upsert created a new row: %d != %d", first.ID, second.ID)
	}
	if got := decodeText(t, s, second.Metadata.Derived); got != `{"v":2}` {
		t.Errorf("decoded = %s, want {\"v\":2}", got)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM docs").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("doc count = %d, want 1", count)
	}
}

func TestSaveDoc_VersionIsPartOfKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	base := Doc{Module: "m", Slug: "api", Title: "API", DocType: "official"}
	v1 := base
	v1.Version = strPtr("1")

	a, err := s.SaveDoc(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.SaveDoc(ctx, v1)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Error("docs with different versions should be distinct rows")
	}
}

func TestSaveDoc_SameValueUpdateKeepsDerivedBytes(t *testing.T) {
	s, counting := createCountingStore(t)

	first := saveTestDoc(t, s, "same", strPtr(`{"a":1}`))
	// Corrupt derived directly so a recompute would be visible.
	if err := s.SetDerived(context.Background(), Ref{Field: DocsMetadata, ID: first.ID}, []byte("stale")); err != nil {
		t.Fatal(err)
	}
	counting.Reset()

	second := saveTestDoc(t, s, "same", strPtr(`{"a":1}`))

	if counting.Encodes() != 0 {
		t.Errorf("encodes = %d, want 0", counting.Encodes())
	}
	if !bytes.Equal(second.Metadata.Derived, []byte("stale")) {
		t.Errorf("derived changed on same-value update: %q", second.Metadata.Derived)
	}
}

func TestSaveDoc_LenientMalformed(t *testing.T) {
	s := createTestStore(t)

	d := saveTestDoc(t, s, "broken", strPtr(`{"a":`))

	if d.Metadata.Primary == nil || *d.Metadata.Primary != `{"a":` {
		t.Errorf("primary not stored verbatim: %v", d.Metadata.Primary)
	}
	if d.Metadata.Derived != nil {
		t.Errorf("derived = %q, want NULL", d.Metadata.Derived)
	}
}

func TestSaveDoc_LenientMalformedUpdateClearsDerived(t *testing.T) {
	s := createTestStore(t)

	saveTestDoc(t, s, "doc", strPtr(`{"a":1}`))
	d := saveTestDoc(t, s, "doc", strPtr(`not json`))

	if d.Metadata.Derived != nil {
		t.Errorf("derived = %q, want NULL", d.Metadata.Derived)
	}
}

func TestSaveDoc_StrictMalformedRejected(t *testing.T) {
	s := createTestStore(t, strictAll())

	_, err := s.SaveDoc(context.Background(), Doc{
		Module: "m", Slug: "bad", Title: "bad", DocType: "note",
		Metadata: dualsync.Text(`{bad}`),
	})
	if !dualsync.IsMalformed(err) {
		t.Fatalf("expected MalformedPrimaryError, got %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM docs").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("rejected write persisted %d rows", count)
	}
}

func TestSaveDoc_StrictMalformedUpdateLeavesRow(t *testing.T) {
	s := createTestStore(t, strictAll())
	ctx := context.Background()

	orig := saveTestDoc(t, s, "keep", strPtr(`{"a":1}`))

	_, err := s.SaveDoc(ctx, Doc{
		Module: "m", Slug: "keep", Title: "changed", DocType: "official",
		Metadata: dualsync.Text(`[1,`),
	})
	if !dualsync.IsMalformed(err) {
		t.Fatalf("expected MalformedPrimaryError, got %v", err)
	}

	got, err := s.GetDoc(ctx, orig.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != orig.Title || *got.Metadata.Primary != `{"a":1}` {
		t.Errorf("row changed after rejected update: %+v", got)
	}
	if !bytes.Equal(got.Metadata.Derived, orig.Metadata.Derived) {
		t.Error("derived changed after rejected update")
	}
}

func TestInsertChunk_Defaults(t *testing.T) {
	s := createTestStore(t)
	doc := saveTestDoc(t, s, "d", nil)

	c, err := s.InsertChunk(context.Background(), Chunk{
		DocID:    doc.ID,
		Ord:      0,
		Text:     "one two three four five six seven eight nine ten",
		Metadata: dualsync.Text(`{"lang":"go"}`),
	})
	if err != nil {
		t.Fatalf("InsertChunk failed: %v", err)
	}

	if c.Kind != "doc" {
		t.Errorf("Kind = %q, want doc", c.Kind)
	}
	if c.TokenEst != 13 {
		t.Errorf("TokenEst = %d, want 13", c.TokenEst)
	}
	if len(c.Hash) != 64 {
		t.Errorf("Hash = %q, want 64 hex chars", c.Hash)
	}
	if got := decodeText(t, s, c.Metadata.Derived); got != `{"lang":"go"}` {
		t.Errorf("decoded = %s", got)
	}
}

func TestInsertChunk_DuplicateOrd(t *testing.T) {
	s := createTestStore(t)
	doc := saveTestDoc(t, s, "d", nil)
	ctx := context.Background()

	if _, err := s.InsertChunk(ctx, Chunk{DocID: doc.ID, Ord: 1, Text: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertChunk(ctx, Chunk{DocID: doc.ID, Ord: 1, Text: "b"}); err == nil {
		t.Error("expected unique violation on (doc_id, ord)")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"word", 1},
		{"two words", 2},
		{"  spaced\tout\nwords  ", 3},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestSession_Lifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sess, err := s.StartSession(ctx, Session{
		Model:     "model-a",
		StartedAt: "2026-01-01 00:00:00",
		Telemetry: dualsync.Text(`{"latency_ms": 10}`),
	})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if sess.StartedAt != "2026-01-01 00:00:00" {
		t.Errorf("StartedAt = %q", sess.StartedAt)
	}
	if sess.FinishedAt != nil {
		t.Error("new session should not be finished")
	}

	tokens := int64(42)
	ended, err := s.EndSession(ctx, sess.ID, SessionEnd{
		TotalTokens: &tokens,
		Telemetry:   strPtr(`{"latency_ms": 12}`),
	})
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if ended.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if ended.TotalTokens == nil || *ended.TotalTokens != 42 {
		t.Errorf("TotalTokens = %v", ended.TotalTokens)
	}
	if ended.Notes != nil {
		t.Errorf("Notes = %v, want nil", *ended.Notes)
	}
	if got := decodeText(t, s, ended.Telemetry.Derived); got != `{"latency_ms":12}` {
		t.Errorf("decoded telemetry = %s", got)
	}
}

func TestEndSession_KeepsUnsetFields(t *testing.T) {
	s, counting := createCountingStore(t)
	ctx := context.Background()

	sess, err := s.StartSession(ctx, Session{
		Model:     "m",
		Notes:     strPtr("first"),
		Telemetry: dualsync.Text(`{"a":1}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	counting.Reset()

	ended, err := s.EndSession(ctx, sess.ID, SessionEnd{})
	if err != nil {
		t.Fatal(err)
	}
	if ended.Notes == nil || *ended.Notes != "first" {
		t.Errorf("Notes = %v, want first", ended.Notes)
	}
	if !bytes.Equal(ended.Telemetry.Derived, sess.Telemetry.Derived) {
		t.Error("telemetry derived changed")
	}
	if counting.Encodes() != 0 {
		t.Errorf("encodes = %d, want 0", counting.Encodes())
	}
}

func TestEndSession_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.EndSession(context.Background(), 404, SessionEnd{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLogMessage_AssignsSteps(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sess, err := s.StartSession(ctx, Session{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}

	for i, role := range []string{"system", "user", "assistant"} {
		m, err := s.LogMessage(ctx, Message{
			SessionID: sess.ID,
			Role:      role,
			Content:   "hello",
			Step:      99,
			Metadata:  dualsync.Text(`{"i":` + string(rune('0'+i)) + `}`),
		})
		if err != nil {
			t.Fatalf("LogMessage(%s) failed: %v", role, err)
		}
		if m.Step != i+1 {
			t.Errorf("step = %d, want %d", m.Step, i+1)
		}
		if m.Metadata.Derived == nil {
			t.Errorf("message %d has no derived metadata", m.ID)
		}
	}

	msgs, err := s.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].Role != "system" || msgs[2].Role != "assistant" {
		t.Errorf("ListMessages = %+v", msgs)
	}
}

func TestLogMessage_UnknownSession(t *testing.T) {
	s := createTestStore(t)

	_, err := s.LogMessage(context.Background(), Message{SessionID: 7, Role: "user", Content: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLogMessage_StrictRejectsWithoutStep(t *testing.T) {
	s := createTestStore(t, strictAll())
	ctx := context.Background()

	sess, err := s.StartSession(ctx, Session{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.LogMessage(ctx, Message{SessionID: sess.ID, Role: "user", Content: "x", Metadata: dualsync.Text(`{`)})
	if !dualsync.IsMalformed(err) {
		t.Fatalf("expected MalformedPrimaryError, got %v", err)
	}

	msgs, err := s.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("rejected message persisted: %+v", msgs)
	}
}

func TestCreateTopic(t *testing.T) {
	s := createTestStore(t)

	topic, err := s.CreateTopic(context.Background(), "Sync", "")
	if err != nil {
		t.Fatal(err)
	}
	if topic.Status != "open" {
		t.Errorf("Status = %q, want open", topic.Status)
	}

	if _, err := s.CreateTopic(context.Background(), "Bad", "closed"); err == nil {
		t.Error("expected CHECK violation for unknown status")
	}
}

func TestDelete_CascadesPairs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := saveTestDoc(t, s, "gone", strPtr(`{}`))
	chunk, err := s.InsertChunk(ctx, Chunk{DocID: doc.ID, Text: "x", Metadata: dualsync.Text(`{}`)})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "docs", doc.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.GetChunk(ctx, chunk.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("chunk survived doc delete: %v", err)
	}
	if err := s.Delete(ctx, "docs", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "users", 1); !errors.Is(err, ErrUnknownField) {
		t.Errorf("unknown table: expected ErrUnknownField, got %v", err)
	}
}
