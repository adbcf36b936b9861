package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ReconcileView is the outcome of reconciling one field.
type ReconcileView struct {
	Field   string  `json:"field"`
	Scanned int     `json:"scanned"`
	Changed int     `json:"changed"`
	Failed  []int64 `json:"failed"`
}

// ReconcileSummary holds the outcome of a reconcile run.
type ReconcileSummary struct {
	DryRun  bool            `json:"dry_run"`
	Fields  []ReconcileView `json:"fields"`
	Changed int             `json:"changed"`
	Failed  int             `json:"failed"`
}

func (r ReconcileSummary) String() string {
	var b strings.Builder
	verb := "repaired"
	if r.DryRun {
		verb = "would repair"
	}
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "%-20s scanned %d, %s %d", f.Field, f.Scanned, verb, f.Changed)
		if len(f.Failed) > 0 {
			fmt.Fprintf(&b, ", failed ids %v", f.Failed)
		}
		b.WriteString("\n")
	}
	if r.Failed == 0 {
		fmt.Fprintf(&b, "✓ %d row(s) %s", r.Changed, verb)
	} else {
		fmt.Fprintf(&b, "✗ %d row(s) could not be repaired (malformed primary in strict mode)", r.Failed)
	}
	return b.String()
}

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	BatchSize int
	DryRun    bool
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile [field...]",
		Short: "Rebuild derived values from primary values",
		Long: `Recompute every derived value that is not in step with its primary value.
Rows are processed in id order, one transaction per batch. Running it
again changes nothing. Reconciles every synced field when none is given.

Exit codes:
  0 - Every row reconciled
  1 - Some rows hold malformed JSON in a strict field
  2 - Command error

Examples:
  jsonbsync reconcile
  jsonbsync reconcile docs --dry-run
  jsonbsync reconcile sessions.telemetry --batch-size 100`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, args, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "rows per transaction (default from config)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would change without writing")

	return cmd
}

func runReconcile(opts *ReconcileOptions, args []string, cmd *cobra.Command) error {
	if opts.BatchSize < 0 {
		return opts.formatter(cmd).Fail(ExitCommandError, ErrCodeBadArgument, "--batch-size must be positive", nil)
	}
	fields, err := selectFields(args)
	if err != nil {
		return opts.formatter(cmd).Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}

	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	batch := opts.BatchSize
	if batch == 0 {
		batch = sess.cfg.Reconcile.BatchSize
	}

	summary := ReconcileSummary{DryRun: opts.DryRun}
	for _, f := range fields {
		sess.out.VerboseLog("Reconciling %s (batch size %d)", f, batch)
		res, err := sess.store.ReconcileField(cmd.Context(), f, batch, opts.DryRun)
		if err != nil {
			return sess.fail(err)
		}
		failed := res.Failed
		if failed == nil {
			failed = []int64{}
		}
		summary.Fields = append(summary.Fields, ReconcileView{
			Field:   f.String(),
			Scanned: res.Scanned,
			Changed: res.Changed,
			Failed:  failed,
		})
		summary.Changed += res.Changed
		summary.Failed += len(res.Failed)
	}

	if summary.Failed > 0 {
		return sess.out.Fail(ExitFailure, ErrCodeReconcile,
			fmt.Sprintf("%d row(s) could not be reconciled", summary.Failed), summary)
	}
	return sess.out.Success(summary)
}
