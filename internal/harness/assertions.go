package harness

import (
	"fmt"
	"strings"
)

// ExpectError describes one failed expectation.
type ExpectError struct {
	What     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *ExpectError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.What, e.Expected, e.Actual)
}

// checkExpect compares a trace event with its expect clause and returns
// one message per mismatch.
func checkExpect(ev TraceEvent, exp *Expect) []string {
	if exp == nil {
		return nil
	}
	var errs []error

	if exp.Error != "" {
		actual := ev.Error
		if actual == "" {
			actual = ErrKindNone
		}
		if actual != exp.Error {
			errs = append(errs, &ExpectError{What: "error", Expected: exp.Error, Actual: actual})
		}
	}

	if exp.Encodes != nil && *exp.Encodes != ev.Encodes {
		errs = append(errs, &ExpectError{
			What:     "encodes",
			Expected: fmt.Sprint(*exp.Encodes),
			Actual:   fmt.Sprint(ev.Encodes),
		})
	}

	if exp.State != "" || exp.Derived != nil {
		errs = append(errs, checkRow(ev.Row, exp)...)
	}

	if exp.Changed != nil {
		actual := "no reconcile"
		if ev.Reconcile != nil {
			actual = fmt.Sprint(ev.Reconcile.Changed)
		}
		if actual != fmt.Sprint(*exp.Changed) {
			errs = append(errs, &ExpectError{What: "changed", Expected: fmt.Sprint(*exp.Changed), Actual: actual})
		}
	}

	if exp.Desynced != nil {
		actual := "no drift scan"
		if ev.Drift != nil {
			actual = fmt.Sprint(ev.Drift.Desynced)
		}
		if actual != fmt.Sprint(*exp.Desynced) {
			errs = append(errs, &ExpectError{What: "desynced", Expected: fmt.Sprint(*exp.Desynced), Actual: actual})
		}
	}

	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return msgs
}

func checkRow(row *RowState, exp *Expect) []error {
	if row == nil {
		return []error{&ExpectError{What: "row", Expected: "a stored row", Actual: "no row"}}
	}
	var errs []error
	if exp.State != "" && exp.State != row.State {
		errs = append(errs, &ExpectError{What: "state", Expected: exp.State, Actual: row.State})
	}
	if exp.Derived != nil {
		actual := "NULL"
		if row.Derived != nil {
			actual = *row.Derived
		}
		if actual != *exp.Derived {
			errs = append(errs, &ExpectError{What: "derived", Expected: quote(*exp.Derived), Actual: quote(actual)})
		}
	}
	return errs
}

func quote(s string) string {
	if s == "NULL" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
