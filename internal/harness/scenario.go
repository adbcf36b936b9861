package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/jsonbsync/internal/codec"
	"github.com/roach88/jsonbsync/internal/dualsync"
	"github.com/roach88/jsonbsync/internal/store"
)

// Scenario is a sequence of store operations with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Codec is "sqlite" (default) or "canonical".
	Codec string `yaml:"codec,omitempty"`

	// Modes sets per-field sync modes, keyed "table.field".
	Modes map[string]string `yaml:"modes,omitempty"`

	// Steps run in order against a fresh store.
	Steps []Step `yaml:"steps"`
}

// Step is one operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Table is the table to insert into (insert only). Defaults to docs.
	Table string `yaml:"table,omitempty"`

	// Key names the row within the scenario. For docs it is also the slug.
	Key string `yaml:"key,omitempty"`

	// Value is the primary value (insert, save, update) or the raw derived
	// bytes (set_derived). Omitted or null means NULL.
	Value *string `yaml:"value,omitempty"`

	// Patch is the merge patch for patch_derived.
	Patch string `yaml:"patch,omitempty"`

	// Field is the synced field for reconcile and drift.
	Field string `yaml:"field,omitempty"`

	// BatchSize for reconcile. Defaults to 500.
	BatchSize int `yaml:"batch_size,omitempty"`

	// DryRun for reconcile.
	DryRun bool `yaml:"dry_run,omitempty"`

	// Expect is checked after the step. Nil means no check.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect lists the checks made after a step. Unset fields are not checked.
type Expect struct {
	// Error is the expected error kind, or "none".
	Error string `yaml:"error,omitempty"`

	// State is the expected sync state of key's row.
	State string `yaml:"state,omitempty"`

	// Derived is the expected decoded derived value of key's row.
	// "NULL" matches a null derived value.
	Derived *string `yaml:"derived,omitempty"`

	// Encodes is the expected number of encode calls made by the step.
	Encodes *int64 `yaml:"encodes,omitempty"`

	// Changed is the expected reconcile change count.
	Changed *int `yaml:"changed,omitempty"`

	// Desynced is the expected drift desynced count.
	Desynced *int `yaml:"desynced,omitempty"`
}

// Operation constants.
const (
	OpInsert       = "insert"
	OpSave         = "save"
	OpUpdate       = "update"
	OpPatchDerived = "patch_derived"
	OpSetDerived   = "set_derived"
	OpDelete       = "delete"
	OpReconcile    = "reconcile"
	OpDrift        = "drift"
)

// Error kinds recorded in traces.
const (
	ErrKindNone         = "none"
	ErrKindMalformed    = "malformed"
	ErrKindEncode       = "encode_failed"
	ErrKindNotFound     = "not_found"
	ErrKindNoDerived    = "no_derived"
	ErrKindUnknownField = "unknown_field"
	ErrKindOther        = "error"
)

var errorKinds = map[string]bool{
	ErrKindNone: true, ErrKindMalformed: true, ErrKindEncode: true, ErrKindNotFound: true,
	ErrKindNoDerived: true, ErrKindUnknownField: true, ErrKindOther: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "step:" vs "steps:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch s.Codec {
	case "", codec.NameSQLite, codec.NameCanonical:
	default:
		return fmt.Errorf("unknown codec %q", s.Codec)
	}

	for field, mode := range s.Modes {
		if _, err := store.LookupField(field); err != nil {
			return fmt.Errorf("modes: %w", err)
		}
		if _, err := dualsync.ParseMode(mode); err != nil {
			return fmt.Errorf("modes[%s]: %w", field, err)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its op.
func validateStep(index int, st *Step) error {
	switch st.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpInsert:
		if st.Table != "" {
			if _, err := store.LookupField(st.Table); err != nil {
				return fmt.Errorf("steps[%d]: %w", index, err)
			}
		}
		if st.Key == "" {
			return fmt.Errorf("steps[%d]: key is required for %s", index, st.Op)
		}
	case OpSave, OpUpdate, OpSetDerived, OpDelete:
		if st.Key == "" {
			return fmt.Errorf("steps[%d]: key is required for %s", index, st.Op)
		}
	case OpPatchDerived:
		if st.Key == "" {
			return fmt.Errorf("steps[%d]: key is required for %s", index, st.Op)
		}
		if st.Patch == "" {
			return fmt.Errorf("steps[%d]: patch is required for %s", index, st.Op)
		}
	case OpReconcile, OpDrift:
		if _, err := store.LookupField(st.Field); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
		if st.BatchSize < 0 {
			return fmt.Errorf("steps[%d]: batch_size must be positive", index)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}

	if st.Expect != nil {
		if st.Expect.Error != "" && !errorKinds[st.Expect.Error] {
			return fmt.Errorf("steps[%d].expect: unknown error kind %q", index, st.Expect.Error)
		}
		switch st.Expect.State {
		case "", "unset", "synced", "desynced":
		default:
			return fmt.Errorf("steps[%d].expect: unknown state %q", index, st.Expect.State)
		}
	}

	return nil
}
