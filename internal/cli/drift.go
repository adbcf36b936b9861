package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/jsonbsync/internal/store"
)

// DriftRecordView is one row that is not synced.
type DriftRecordView struct {
	ID    int64  `json:"id"`
	State string `json:"state"`
}

// DriftView is the drift report of one field.
type DriftView struct {
	Field    string            `json:"field"`
	Total    int               `json:"total"`
	Synced   int               `json:"synced"`
	Unset    int               `json:"unset"`
	Desynced int               `json:"desynced"`
	Records  []DriftRecordView `json:"records"`
}

// DriftResult holds the drift reports of every scanned field.
type DriftResult struct {
	Fields   []DriftView `json:"fields"`
	Desynced int         `json:"desynced"`
}

func (r DriftResult) String() string {
	var b strings.Builder
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "%-20s %d rows: %d synced, %d unset, %d desynced\n",
			f.Field, f.Total, f.Synced, f.Unset, f.Desynced)
		for _, rec := range f.Records {
			fmt.Fprintf(&b, "  id=%d %s\n", rec.ID, rec.State)
		}
	}
	if r.Desynced == 0 {
		b.WriteString("✓ No drift")
	} else {
		fmt.Fprintf(&b, "✗ %d desynced row(s), run reconcile to repair", r.Desynced)
	}
	return b.String()
}

func driftView(report store.DriftReport) DriftView {
	v := DriftView{
		Field:    report.Field.String(),
		Total:    report.Total,
		Synced:   report.Synced,
		Unset:    report.Unset,
		Desynced: report.Desynced,
		Records:  make([]DriftRecordView, 0, len(report.Records)),
	}
	for _, rec := range report.Records {
		v.Records = append(v.Records, DriftRecordView{ID: rec.ID, State: rec.State.String()})
	}
	return v
}

// NewDriftCommand creates the drift command.
func NewDriftCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drift [field...]",
		Short: "Decode and compare every derived value",
		Long: `Decode every derived value and compare it with its primary value,
reporting rows that are desynced and rows with a primary value but no
derived value. Scans every synced field when none is given.

Exit codes:
  0 - No desynced rows
  1 - Desynced rows found
  2 - Command error

Examples:
  jsonbsync drift
  jsonbsync drift docs.metadata sessions --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrift(rootOpts, args, cmd)
		},
	}
}

func runDrift(opts *RootOptions, args []string, cmd *cobra.Command) error {
	fields, err := selectFields(args)
	if err != nil {
		return opts.formatter(cmd).Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}

	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	var result DriftResult
	for _, f := range fields {
		sess.out.VerboseLog("Scanning %s", f)
		report, err := sess.store.ScanDrift(cmd.Context(), f)
		if err != nil {
			return sess.fail(err)
		}
		if derr := report.Err(); derr != nil {
			sess.logger.Warn("drift detected", "field", f.String(), "desynced", report.Desynced, "error", derr)
		}
		result.Fields = append(result.Fields, driftView(report))
		result.Desynced += report.Desynced
	}

	if result.Desynced > 0 {
		return sess.out.Fail(ExitFailure, ErrCodeDrift,
			fmt.Sprintf("%d desynced row(s)", result.Desynced), result)
	}
	return sess.out.Success(result)
}
