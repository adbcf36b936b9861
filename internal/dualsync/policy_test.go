package dualsync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsonbsync/internal/canon"
	"github.com/roach88/jsonbsync/internal/codec"
)

type record struct {
	ID        int
	Metadata  Pair
	Telemetry Pair
}

func metadataField(mode Mode) Field[record] {
	return Field[record]{
		Name: "records.metadata",
		Mode: mode,
		Pair: func(r *record) *Pair { return &r.Metadata },
	}
}

func telemetryField(mode Mode) Field[record] {
	return Field[record]{
		Name: "records.telemetry",
		Mode: mode,
		Pair: func(r *record) *Pair { return &r.Telemetry },
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPolicy(mode Mode) (*Policy[record], *codec.Counting) {
	counter := codec.NewCounting(codec.Canonical{})
	p := NewPolicy(counter, []Field[record]{metadataField(mode)}, WithLogger(quietLogger()))
	return p, counter
}

func openSQLiteCodec(t *testing.T) *codec.SQLite {
	t.Helper()
	c, err := codec.OpenSQLite()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func mustEncode(t *testing.T, primary string) []byte {
	t.Helper()
	out, err := codec.Canonical{}.Encode(context.Background(), primary)
	require.NoError(t, err)
	return out
}

// failingCodec fails every Encode with a non-malformed error.
type failingCodec struct{ codec.Canonical }

var errExhausted = errors.New("encoder resources exhausted")

func (failingCodec) Encode(context.Context, string) ([]byte, error) {
	return nil, errExhausted
}

func TestOnInsert_EncodesPrimary(t *testing.T) {
	p, counter := newTestPolicy(Lenient)
	rec := &record{Metadata: Text(`{"a": 1}`)}

	require.NoError(t, p.OnInsert(context.Background(), rec))

	assert.Equal(t, mustEncode(t, `{"a":1}`), rec.Metadata.Derived)
	assert.Equal(t, int64(1), counter.Encodes())
}

func TestOnInsert_NullPrimaryNoEncode(t *testing.T) {
	p, counter := newTestPolicy(Strict)
	rec := &record{}

	require.NoError(t, p.OnInsert(context.Background(), rec))

	assert.Nil(t, rec.Metadata.Derived)
	assert.Equal(t, int64(0), counter.Encodes())
}

func TestOnInsert_KeepsSuppliedDerived(t *testing.T) {
	p, counter := newTestPolicy(Lenient)
	supplied := mustEncode(t, `{"imported":true}`)
	rec := &record{Metadata: Pair{Primary: strPtr(`{"imported":true}`), Derived: supplied}}

	require.NoError(t, p.OnInsert(context.Background(), rec))

	assert.Equal(t, supplied, rec.Metadata.Derived)
	assert.Equal(t, int64(0), counter.Encodes())
}

func TestOnInsert_LenientMalformed(t *testing.T) {
	p, _ := newTestPolicy(Lenient)
	rec := &record{Metadata: Text(`{"a":`)}

	err := p.OnInsert(context.Background(), rec)

	require.NoError(t, err)
	assert.Nil(t, rec.Metadata.Derived)
	assert.Equal(t, `{"a":`, *rec.Metadata.Primary)
}

func TestOnInsert_StrictMalformed(t *testing.T) {
	p, _ := newTestPolicy(Strict)
	rec := &record{Metadata: Text(`{"a":`)}

	err := p.OnInsert(context.Background(), rec)

	require.Error(t, err)
	assert.True(t, IsMalformed(err))
	assert.ErrorIs(t, err, codec.ErrMalformed)
	assert.Contains(t, err.Error(), "records.metadata")
	assert.Nil(t, rec.Metadata.Derived)
}

func TestOnInsert_EncodeFailurePropagatesInBothModes(t *testing.T) {
	for _, mode := range []Mode{Lenient, Strict} {
		t.Run(mode.String(), func(t *testing.T) {
			p := NewPolicy[record](failingCodec{}, []Field[record]{metadataField(mode)}, WithLogger(quietLogger()))
			rec := &record{Metadata: Text(`{"a":1}`)}

			err := p.OnInsert(context.Background(), rec)

			require.Error(t, err)
			assert.True(t, IsEncodeFailure(err))
			assert.False(t, IsMalformed(err))
			assert.ErrorIs(t, err, errExhausted)
		})
	}
}

func TestOnInsert_DeepNestingIsEncodeFailure(t *testing.T) {
	deep := strings.Repeat("[", 1500) + strings.Repeat("]", 1500)
	require.True(t, Validate(deep))

	sqlite := openSQLiteCodec(t)
	for _, mode := range []Mode{Lenient, Strict} {
		t.Run(mode.String(), func(t *testing.T) {
			p := NewPolicy(codec.Codec(sqlite), []Field[record]{metadataField(mode)}, WithLogger(quietLogger()))
			rec := &record{Metadata: Text(deep)}

			err := p.OnInsert(context.Background(), rec)

			require.Error(t, err)
			assert.True(t, IsEncodeFailure(err))
			assert.False(t, IsMalformed(err))
			assert.ErrorIs(t, err, codec.ErrUnsupported)
			assert.Nil(t, rec.Metadata.Derived)
		})
	}
}

func TestOnInsert_MultipleFieldsIndependentModes(t *testing.T) {
	counter := codec.NewCounting(codec.Canonical{})
	p := NewPolicy(counter, []Field[record]{metadataField(Lenient), telemetryField(Strict)}, WithLogger(quietLogger()))

	rec := &record{Metadata: Text(`broken`), Telemetry: Text(`{"tokens":10}`)}
	require.NoError(t, p.OnInsert(context.Background(), rec))
	assert.Nil(t, rec.Metadata.Derived)
	assert.Equal(t, mustEncode(t, `{"tokens":10}`), rec.Telemetry.Derived)

	rec = &record{Metadata: Text(`{}`), Telemetry: Text(`broken`)}
	err := p.OnInsert(context.Background(), rec)
	require.Error(t, err)
	var me *MalformedPrimaryError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "records.telemetry", me.Field)
}

func TestOnUpdate_UnchangedPrimaryIsNoop(t *testing.T) {
	p, counter := newTestPolicy(Lenient)
	ctx := context.Background()

	prev := &record{Metadata: Text(`{"a":1}`)}
	require.NoError(t, p.OnInsert(ctx, prev))
	before := bytes.Clone(prev.Metadata.Derived)
	counter.Reset()

	next := &record{Metadata: prev.Metadata.Clone()}
	require.NoError(t, p.OnUpdate(ctx, prev, next))

	assert.Equal(t, int64(0), counter.Encodes())
	assert.Equal(t, before, next.Metadata.Derived)
}

func TestOnUpdate_UnchangedPrimaryKeepsForeignDerived(t *testing.T) {
	p, counter := newTestPolicy(Lenient)

	// Derived was patched directly; same-primary update must not repair it.
	patched := mustEncode(t, `{"v":2}`)
	prev := &record{Metadata: Pair{Primary: strPtr(`{"v":1}`), Derived: patched}}
	next := &record{Metadata: prev.Metadata.Clone()}

	require.NoError(t, p.OnUpdate(context.Background(), prev, next))

	assert.Equal(t, patched, next.Metadata.Derived)
	assert.Equal(t, int64(0), counter.Encodes())
}

func TestOnUpdate_ChangedPrimaryRecomputes(t *testing.T) {
	p, counter := newTestPolicy(Lenient)
	ctx := context.Background()

	prev := &record{Metadata: Text(`{"a":1}`)}
	require.NoError(t, p.OnInsert(ctx, prev))
	counter.Reset()

	next := &record{Metadata: prev.Metadata.Clone()}
	next.Metadata.Primary = strPtr(`{"a":2}`)
	require.NoError(t, p.OnUpdate(ctx, prev, next))

	assert.Equal(t, int64(1), counter.Encodes())
	assert.Equal(t, mustEncode(t, `{"a":2}`), next.Metadata.Derived)
}

func TestOnUpdate_FromNullPrimary(t *testing.T) {
	p, counter := newTestPolicy(Lenient)

	prev := &record{}
	next := &record{Metadata: Text(`{"first":true}`)}
	require.NoError(t, p.OnUpdate(context.Background(), prev, next))

	assert.Equal(t, int64(1), counter.Encodes())
	assert.Equal(t, mustEncode(t, `{"first":true}`), next.Metadata.Derived)
}

func TestOnUpdate_ToNullPrimaryNotActedUpon(t *testing.T) {
	p, counter := newTestPolicy(Strict)
	ctx := context.Background()

	prev := &record{Metadata: Text(`{"a":1}`)}
	require.NoError(t, p.OnInsert(ctx, prev))
	counter.Reset()

	next := &record{Metadata: Pair{Derived: bytes.Clone(prev.Metadata.Derived)}}
	require.NoError(t, p.OnUpdate(ctx, prev, next))

	assert.Equal(t, int64(0), counter.Encodes())
	assert.Equal(t, prev.Metadata.Derived, next.Metadata.Derived)
}

func TestOnUpdate_LenientMalformedClearsDerived(t *testing.T) {
	p, _ := newTestPolicy(Lenient)
	ctx := context.Background()

	prev := &record{Metadata: Text(`{"a":1}`)}
	require.NoError(t, p.OnInsert(ctx, prev))

	next := &record{Metadata: prev.Metadata.Clone()}
	next.Metadata.Primary = strPtr(`{"a":`)
	require.NoError(t, p.OnUpdate(ctx, prev, next))

	assert.Nil(t, next.Metadata.Derived)
}

func TestOnUpdate_StrictMalformedRejected(t *testing.T) {
	p, _ := newTestPolicy(Strict)
	ctx := context.Background()

	prev := &record{Metadata: Text(`{"a":1}`)}
	require.NoError(t, p.OnInsert(ctx, prev))

	next := &record{Metadata: prev.Metadata.Clone()}
	next.Metadata.Primary = strPtr(`nope`)
	err := p.OnUpdate(ctx, prev, next)

	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestOnUpdate_DerivedOnlyChangeLeavesPrimary(t *testing.T) {
	p, counter := newTestPolicy(Lenient)
	ctx := context.Background()

	prev := &record{Metadata: Text(`{"v":1}`)}
	require.NoError(t, p.OnInsert(ctx, prev))
	counter.Reset()

	next := &record{Metadata: Pair{Primary: strPtr(`{"v":1}`), Derived: mustEncode(t, `{"v":2}`)}}
	require.NoError(t, p.OnUpdate(ctx, prev, next))

	assert.Equal(t, `{"v":1}`, *next.Metadata.Primary)
	assert.Equal(t, mustEncode(t, `{"v":2}`), next.Metadata.Derived)
	assert.Equal(t, int64(0), counter.Encodes())
}

func TestReconcile_RepairsDesynced(t *testing.T) {
	p, _ := newTestPolicy(Lenient)
	rec := &record{Metadata: Pair{Primary: strPtr(`{"v":1}`), Derived: mustEncode(t, `{"v":2}`)}}

	changed, err := p.Reconcile(context.Background(), rec)

	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, mustEncode(t, `{"v":1}`), rec.Metadata.Derived)
}

func TestReconcile_FillsUnset(t *testing.T) {
	p, _ := newTestPolicy(Lenient)
	rec := &record{Metadata: Text(`{"bulk":"import"}`)}

	changed, err := p.Reconcile(context.Background(), rec)

	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, mustEncode(t, `{"bulk":"import"}`), rec.Metadata.Derived)
}

func TestReconcile_SyncedUnchanged(t *testing.T) {
	p, counter := newTestPolicy(Lenient)
	// Formatting differences do not count as drift.
	rec := &record{Metadata: Pair{Primary: strPtr(`{ "b": 2, "a": 1 }`), Derived: mustEncode(t, `{"a":1,"b":2}`)}}

	changed, err := p.Reconcile(context.Background(), rec)

	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int64(0), counter.Encodes())
	assert.Equal(t, int64(1), counter.Decodes())
}

func TestReconcile_NullPrimaryClearsDerived(t *testing.T) {
	p, counter := newTestPolicy(Lenient)
	rec := &record{Metadata: Pair{Derived: mustEncode(t, `{"orphan":true}`)}}

	changed, err := p.Reconcile(context.Background(), rec)

	require.NoError(t, err)
	assert.True(t, changed)
	assert.Nil(t, rec.Metadata.Derived)
	assert.Nil(t, rec.Metadata.Primary)
	assert.Equal(t, int64(0), counter.Encodes())
}

func TestReconcile_MalformedPrimary(t *testing.T) {
	t.Run("lenient clears derived", func(t *testing.T) {
		p, _ := newTestPolicy(Lenient)
		rec := &record{Metadata: Pair{Primary: strPtr(`{bad`), Derived: mustEncode(t, `{}`)}}

		changed, err := p.Reconcile(context.Background(), rec)

		require.NoError(t, err)
		assert.True(t, changed)
		assert.Nil(t, rec.Metadata.Derived)
	})

	t.Run("strict returns error", func(t *testing.T) {
		p, _ := newTestPolicy(Strict)
		rec := &record{Metadata: Text(`{bad`)}

		_, err := p.Reconcile(context.Background(), rec)

		require.Error(t, err)
		assert.True(t, IsMalformed(err))
	})
}

func TestReconcile_Idempotent(t *testing.T) {
	cases := map[string]record{
		"synced":          {Metadata: Pair{Primary: strPtr(`{"a":1}`), Derived: mustEncode(t, `{"a":1}`)}},
		"desynced":        {Metadata: Pair{Primary: strPtr(`{"a":1}`), Derived: mustEncode(t, `{"a":9}`)}},
		"unset":           {Metadata: Text(`[1,2,3]`)},
		"null primary":    {Metadata: Pair{Derived: mustEncode(t, `{}`)}},
		"malformed":       {Metadata: Pair{Primary: strPtr(`{`), Derived: mustEncode(t, `{}`)}},
		"corrupt derived": {Metadata: Pair{Primary: strPtr(`{"a":1}`), Derived: []byte("not json")}},
		"both null":       {},
	}

	p, _ := newTestPolicy(Lenient)
	ctx := context.Background()
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			once := rec
			once.Metadata = rec.Metadata.Clone()
			_, err := p.Reconcile(ctx, &once)
			require.NoError(t, err)

			twice := once
			twice.Metadata = once.Metadata.Clone()
			changed, err := p.Reconcile(ctx, &twice)
			require.NoError(t, err)

			assert.False(t, changed)
			assert.True(t, once.Metadata.Equal(twice.Metadata))
		})
	}
}

func TestClassify(t *testing.T) {
	p, _ := newTestPolicy(Lenient)
	tests := []struct {
		name string
		pair Pair
		want State
	}{
		{"both null", Pair{}, Unset},
		{"primary only", Text(`{"a":1}`), Unset},
		{"synced", Pair{Primary: strPtr(`{"a":1}`), Derived: mustEncode(t, `{"a":1}`)}, Synced},
		{"mismatch", Pair{Primary: strPtr(`{"a":1}`), Derived: mustEncode(t, `{"a":2}`)}, Desynced},
		{"orphan derived", Pair{Derived: mustEncode(t, `{}`)}, Desynced},
		{"corrupt derived", Pair{Primary: strPtr(`{}`), Derived: []byte("\x00\x01")}, Desynced},
		{"malformed primary", Pair{Primary: strPtr(`{`), Derived: mustEncode(t, `{}`)}, Desynced},
		{"other normalization", Pair{Primary: strPtr("{\"k\":\"e\u0301\"}"), Derived: mustEncode(t, "{\"k\":\"\u00e9\"}")}, Desynced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Classify(context.Background(), tt.pair)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_SQLiteCodec(t *testing.T) {
	ctx := context.Background()
	sqlite := openSQLiteCodec(t)
	p := NewPolicy(codec.Codec(sqlite), []Field[record]{metadataField(Lenient)}, WithLogger(quietLogger()))

	decomposed := "{\"k\":\"e\u0301\"}"
	precomposed := "{\"k\":\"\u00e9\"}"
	encoded, err := sqlite.Encode(ctx, precomposed)
	require.NoError(t, err)

	state, err := p.Classify(ctx, Pair{Primary: &decomposed, Derived: encoded})
	require.NoError(t, err)
	assert.Equal(t, Desynced, state)

	state, err = p.Classify(ctx, Pair{Primary: &precomposed, Derived: encoded})
	require.NoError(t, err)
	assert.Equal(t, Synced, state)

	rec := &record{Metadata: Pair{Primary: &decomposed, Derived: encoded}}
	changed, err := p.Reconcile(ctx, rec)
	require.NoError(t, err)
	assert.True(t, changed)
	text, err := sqlite.Decode(ctx, rec.Metadata.Derived)
	require.NoError(t, err)
	assert.Equal(t, decomposed, text)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	primaries := []string{
		`{"a":1}`,
		`{"tags":["x","y"],"n":null}`,
		`[]`,
		`"s"`,
		"{\"k\":\"e\u0301\"}",
		"{\"\u65e5\u672c\":\"\u00e9\"}",
		`{"esc":"\u00e9\ud83d\ude00"}`,
		`{"big":1e400,"f":1.0,"i":12345678901234567890}`,
		`{"dup":1,"dup":2}`,
	}
	codecs := map[string]codec.Codec{
		codec.NameSQLite:    openSQLiteCodec(t),
		codec.NameCanonical: codec.Canonical{},
	}

	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			p := NewPolicy(c, []Field[record]{metadataField(Strict)}, WithLogger(quietLogger()))
			for _, primary := range primaries {
				rec := &record{Metadata: Text(primary)}
				require.NoError(t, p.OnInsert(ctx, rec), primary)

				state, err := p.Classify(ctx, rec.Metadata)
				require.NoError(t, err)
				assert.Equal(t, Synced, state, primary)

				decoded, err := c.Decode(ctx, rec.Metadata.Derived)
				require.NoError(t, err)
				same, err := canon.Equal(primary, decoded)
				require.NoError(t, err)
				assert.True(t, same, "round trip of %s produced %s", primary, decoded)
			}
		})
	}
}

func TestEndToEndScenario(t *testing.T) {
	p, counter := newTestPolicy(Lenient)
	ctx := context.Background()

	// Insert {"a":1}.
	rec := &record{ID: 1, Metadata: Text(`{"a":1}`)}
	require.NoError(t, p.OnInsert(ctx, rec))
	assert.Equal(t, mustEncode(t, `{"a":1}`), rec.Metadata.Derived)
	decoded, err := codec.Canonical{}.Decode(ctx, rec.Metadata.Derived)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, decoded)
	assert.Equal(t, int64(1), counter.Encodes())

	// Same value again: no encode.
	next := &record{ID: 1, Metadata: rec.Metadata.Clone()}
	next.Metadata.Primary = strPtr(`{"a":1}`)
	require.NoError(t, p.OnUpdate(ctx, rec, next))
	assert.Equal(t, int64(1), counter.Encodes())
	rec = next

	// New value: exactly one encode.
	next = &record{ID: 1, Metadata: rec.Metadata.Clone()}
	next.Metadata.Primary = strPtr(`{"a":2}`)
	require.NoError(t, p.OnUpdate(ctx, rec, next))
	assert.Equal(t, int64(2), counter.Encodes())
	assert.Equal(t, mustEncode(t, `{"a":2}`), next.Metadata.Derived)
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(`{"ok":true}`))
	assert.False(t, Validate(`{"ok":`))
	assert.False(t, Validate(``))
}

func strPtr(s string) *string { return &s }
