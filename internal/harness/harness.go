package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/jsonbsync/internal/codec"
	"github.com/roach88/jsonbsync/internal/dualsync"
	"github.com/roach88/jsonbsync/internal/store"
	"github.com/roach88/jsonbsync/internal/testutil"
)

// Epoch is the timestamp of step 0.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const defaultBatchSize = 500

// Harness executes one scenario.
type Harness struct {
	store  *store.Store
	codec  *codec.Counting
	clock  *testutil.StepClock
	logger *slog.Logger

	refs  map[string]store.Ref
	names map[string]map[int64]string // table -> id -> key

	parentDoc     int64
	parentSession int64
	nextOrd       int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. The
// returned error is reserved for failures of the harness itself; failed
// expectations are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	inner, closeCodec, err := codec.Open(scenario.Codec)
	if err != nil {
		return nil, err
	}
	defer closeCodec()
	counting := codec.NewCounting(inner)

	modes := make(map[string]dualsync.Mode, len(scenario.Modes))
	for field, name := range scenario.Modes {
		m, err := dualsync.ParseMode(name)
		if err != nil {
			return nil, err
		}
		modes[field] = m
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	st, err := store.Open(":memory:",
		store.WithCodec(counting),
		store.WithModes(modes),
		store.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		codec:  counting,
		clock:  testutil.NewStepClock(Epoch),
		logger: logger,
		refs:   map[string]store.Ref{},
		names:  map[string]map[int64]string{},
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		result.AddEvent(ev)
		for _, msg := range checkExpect(ev, step.Expect) {
			result.AddError(fmt.Sprintf("step %d (%s %s): %s", ev.Step, step.Op, step.Key, msg))
		}
	}
	return result, nil
}

// execute runs one step. Store errors are recorded in the event; only
// harness failures are returned.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Step: h.clock.Tick(), Op: step.Op, Key: step.Key}
	before := h.codec.Encodes()

	var opErr error
	switch step.Op {
	case OpInsert:
		opErr = h.insert(ctx, step)
	case OpSave:
		opErr = h.save(ctx, step)
	case OpUpdate:
		opErr = h.withRef(step.Key, func(ref store.Ref) error {
			_, err := h.store.SetPrimary(ctx, ref, step.Value)
			return err
		})
	case OpPatchDerived:
		opErr = h.withRef(step.Key, func(ref store.Ref) error {
			_, err := h.store.PatchDerived(ctx, ref, step.Patch)
			return err
		})
	case OpSetDerived:
		opErr = h.withRef(step.Key, func(ref store.Ref) error {
			var raw []byte
			if step.Value != nil {
				raw = []byte(*step.Value)
			}
			return h.store.SetDerived(ctx, ref, raw)
		})
	case OpDelete:
		opErr = h.withRef(step.Key, func(ref store.Ref) error {
			return h.store.Delete(ctx, ref.Field.Table, ref.ID)
		})
	case OpReconcile:
		ev.Field = step.Field
		opErr = h.reconcile(ctx, step, &ev)
	case OpDrift:
		ev.Field = step.Field
		opErr = h.drift(ctx, step, &ev)
	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}

	ev.Encodes = h.codec.Encodes() - before
	ev.Error = errorKind(opErr)
	if opErr != nil {
		h.logger.Info("step failed", "step", ev.Step, "op", step.Op, "error", opErr)
	}

	if ref, ok := h.refs[step.Key]; ok && step.Key != "" {
		ev.Field = ref.Field.String()
		row, err := h.rowState(ctx, ref)
		if err != nil {
			return ev, err
		}
		ev.Row = row
	}
	return ev, nil
}

func (h *Harness) withRef(key string, fn func(store.Ref) error) error {
	ref, ok := h.refs[key]
	if !ok {
		return fmt.Errorf("key %q: %w", key, store.ErrNotFound)
	}
	return fn(ref)
}

func (h *Harness) remember(key string, f store.SyncedField, id int64) {
	h.refs[key] = store.Ref{Field: f, ID: id}
	if h.names[f.Table] == nil {
		h.names[f.Table] = map[int64]string{}
	}
	h.names[f.Table][id] = key
}

func (h *Harness) insert(ctx context.Context, step Step) error {
	table := step.Table
	if table == "" {
		table = "docs"
	}
	f, err := store.LookupField(table)
	if err != nil {
		return err
	}
	metadata := dualsync.Pair{Primary: step.Value}

	var id int64
	switch f {
	case store.DocsMetadata:
		d, err := h.store.SaveDoc(ctx, scenarioDoc(step.Key, step.Value))
		if err != nil {
			return err
		}
		id = d.ID

	case store.ChunksMetadata:
		docID, err := h.parentDocID(ctx)
		if err != nil {
			return err
		}
		c, err := h.store.InsertChunk(ctx, store.Chunk{
			DocID:    docID,
			Ord:      h.nextOrd,
			Text:     step.Key,
			Metadata: metadata,
		})
		if err != nil {
			return err
		}
		h.nextOrd++
		id = c.ID

	case store.SessionsTelemetry:
		s, err := h.store.StartSession(ctx, store.Session{
			Model:     "scenario",
			StartedAt: h.clock.Now(),
			Telemetry: metadata,
		})
		if err != nil {
			return err
		}
		id = s.ID

	case store.MessagesMetadata:
		sessionID, err := h.parentSessionID(ctx)
		if err != nil {
			return err
		}
		m, err := h.store.LogMessage(ctx, store.Message{
			SessionID: sessionID,
			Role:      "user",
			Content:   step.Key,
			Metadata:  metadata,
		})
		if err != nil {
			return err
		}
		id = m.ID
	}

	h.remember(step.Key, f, id)
	return nil
}

func (h *Harness) save(ctx context.Context, step Step) error {
	d, err := h.store.SaveDoc(ctx, scenarioDoc(step.Key, step.Value))
	if err != nil {
		return err
	}
	h.remember(step.Key, store.DocsMetadata, d.ID)
	return nil
}

func scenarioDoc(key string, metadata *string) store.Doc {
	return store.Doc{
		Module:   "scenario",
		Slug:     key,
		Title:    key,
		DocType:  "note",
		Metadata: dualsync.Pair{Primary: metadata},
	}
}

// parentDocID returns the doc that owns scenario chunks, creating it on
// first use. It has no metadata, so creating it costs no encode.
func (h *Harness) parentDocID(ctx context.Context) (int64, error) {
	if h.parentDoc != 0 {
		return h.parentDoc, nil
	}
	d, err := h.store.SaveDoc(ctx, scenarioDoc("#chunks", nil))
	if err != nil {
		return 0, fmt.Errorf("create parent doc: %w", err)
	}
	h.parentDoc = d.ID
	return d.ID, nil
}

// parentSessionID returns the session that owns scenario messages.
func (h *Harness) parentSessionID(ctx context.Context) (int64, error) {
	if h.parentSession != 0 {
		return h.parentSession, nil
	}
	s, err := h.store.StartSession(ctx, store.Session{Model: "scenario", StartedAt: h.clock.Now()})
	if err != nil {
		return 0, fmt.Errorf("create parent session: %w", err)
	}
	h.parentSession = s.ID
	return s.ID, nil
}

func (h *Harness) reconcile(ctx context.Context, step Step, ev *TraceEvent) error {
	f, err := store.LookupField(step.Field)
	if err != nil {
		return err
	}
	ev.Field = f.String()
	batch := step.BatchSize
	if batch == 0 {
		batch = defaultBatchSize
	}
	res, err := h.store.ReconcileField(ctx, f, batch, step.DryRun)
	if err != nil {
		return err
	}
	failed := make([]string, 0, len(res.Failed))
	for _, id := range res.Failed {
		failed = append(failed, h.nameOf(f.Table, id))
	}
	ev.Reconcile = &ReconcileSummary{
		Scanned: res.Scanned,
		Changed: res.Changed,
		Failed:  failed,
		DryRun:  res.DryRun,
	}
	return nil
}

func (h *Harness) drift(ctx context.Context, step Step, ev *TraceEvent) error {
	f, err := store.LookupField(step.Field)
	if err != nil {
		return err
	}
	ev.Field = f.String()
	report, err := h.store.ScanDrift(ctx, f)
	if err != nil {
		return err
	}
	records := make([]string, 0, len(report.Records))
	for _, rec := range report.Records {
		records = append(records, h.nameOf(f.Table, rec.ID)+":"+rec.State.String())
	}
	ev.Drift = &DriftSummary{
		Total:    report.Total,
		Synced:   report.Synced,
		Unset:    report.Unset,
		Desynced: report.Desynced,
		Records:  records,
	}
	return nil
}

func (h *Harness) nameOf(table string, id int64) string {
	if key, ok := h.names[table][id]; ok {
		return key
	}
	return fmt.Sprintf("#%d", id)
}

// rowState reads key's row after a step. Returns nil for a missing row.
func (h *Harness) rowState(ctx context.Context, ref store.Ref) (*RowState, error) {
	pair, err := h.store.GetPair(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state, err := h.store.Classify(ctx, ref)
	if err != nil {
		return nil, err
	}

	row := &RowState{Primary: pair.Primary, State: state.String()}
	if pair.Derived != nil {
		text, err := h.store.Codec().Decode(ctx, pair.Derived)
		if err != nil {
			text = CorruptDerived
		}
		row.Derived = &text
	}
	return row, nil
}

// errorKind maps a store error onto the kinds recorded in traces.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case dualsync.IsMalformed(err), errors.Is(err, codec.ErrMalformed):
		return ErrKindMalformed
	case dualsync.IsEncodeFailure(err):
		return ErrKindEncode
	case errors.Is(err, store.ErrNotFound):
		return ErrKindNotFound
	case errors.Is(err, store.ErrNoDerived):
		return ErrKindNoDerived
	case errors.Is(err, store.ErrUnknownField):
		return ErrKindUnknownField
	default:
		return ErrKindOther
	}
}
