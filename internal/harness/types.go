package harness

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Step  int64  `json:"step"`
	Op    string `json:"op"`
	Key   string `json:"key,omitempty"`
	Field string `json:"field,omitempty"`

	// Error is the error kind ("malformed", "not_found", ...), or "".
	Error string `json:"error,omitempty"`

	// Encodes is the number of codec Encode calls made by the step.
	Encodes int64 `json:"encodes"`

	// Row is the state of key's row after the step. Nil when the step
	// has no key or the row does not exist.
	Row *RowState `json:"row,omitempty"`

	// Reconcile is set for reconcile steps.
	Reconcile *ReconcileSummary `json:"reconcile,omitempty"`

	// Drift is set for drift steps.
	Drift *DriftSummary `json:"drift,omitempty"`
}

// RowState is one synced field of one row.
type RowState struct {
	Primary *string `json:"primary"`
	// Derived is the decoded derived value, nil for NULL, or
	// CorruptDerived when it cannot be decoded.
	Derived *string `json:"derived"`
	State   string  `json:"state"`
}

// CorruptDerived stands in for a derived value the codec cannot decode.
const CorruptDerived = "<corrupt>"

// ReconcileSummary mirrors store.ReconcileResult with row keys.
type ReconcileSummary struct {
	Scanned int      `json:"scanned"`
	Changed int      `json:"changed"`
	Failed  []string `json:"failed"`
	DryRun  bool     `json:"dry_run"`
}

// DriftSummary mirrors store.DriftReport with row keys.
type DriftSummary struct {
	Total    int      `json:"total"`
	Synced   int      `json:"synced"`
	Unset    int      `json:"unset"`
	Desynced int      `json:"desynced"`
	Records  []string `json:"records"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause matched.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends an event to the trace.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
