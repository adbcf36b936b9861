package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/jsonbsync/internal/canon"
)

// toCanonicalMap converts an event to the value types canon.Marshal
// accepts. Optional sections are omitted when empty.
func (ev TraceEvent) toCanonicalMap() map[string]any {
	m := map[string]any{
		"step":    ev.Step,
		"op":      ev.Op,
		"encodes": ev.Encodes,
	}
	if ev.Key != "" {
		m["key"] = ev.Key
	}
	if ev.Field != "" {
		m["field"] = ev.Field
	}
	if ev.Error != "" {
		m["error"] = ev.Error
	}
	if ev.Row != nil {
		m["row"] = map[string]any{
			"primary": optString(ev.Row.Primary),
			"derived": optString(ev.Row.Derived),
			"state":   ev.Row.State,
		}
	}
	if ev.Reconcile != nil {
		m["reconcile"] = map[string]any{
			"scanned": ev.Reconcile.Scanned,
			"changed": ev.Reconcile.Changed,
			"failed":  stringList(ev.Reconcile.Failed),
			"dry_run": ev.Reconcile.DryRun,
		}
	}
	if ev.Drift != nil {
		m["drift"] = map[string]any{
			"total":    ev.Drift.Total,
			"synced":   ev.Drift.Synced,
			"unset":    ev.Drift.Unset,
			"desynced": ev.Drift.Desynced,
			"records":  stringList(ev.Drift.Records),
		}
	}
	return m
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// MarshalTrace serializes a trace as canonical JSON, one event per line.
func MarshalTrace(trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, ev := range trace {
		line, err := canon.Marshal(ev.toCanonicalMap())
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
