package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// UnsyncedView is the unsynced count of one field.
type UnsyncedView struct {
	Field    string `json:"field"`
	Mode     string `json:"mode"`
	Unsynced int64  `json:"unsynced"`
}

// HealthResult holds the health report.
type HealthResult struct {
	Database string         `json:"database"`
	Fields   []UnsyncedView `json:"fields"`
	Total    int64          `json:"total"`
}

func (r HealthResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.Database)
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "  %-20s %-8s %d unsynced\n", f.Field, f.Mode, f.Unsynced)
	}
	if r.Total == 0 {
		b.WriteString("✓ Every primary value has a derived value")
	} else {
		fmt.Fprintf(&b, "✗ %d row(s) with a primary value and no derived value", r.Total)
	}
	return b.String()
}

// HealthOptions holds flags for the health command.
type HealthOptions struct {
	*RootOptions
	Check bool
}

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HealthOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Count rows missing a derived value",
		Long: `Count, per synced field, the rows whose primary value is set but whose
derived value is null. Lenient fields holding malformed JSON are counted.
This is a cheap indexed query; use drift for a full decode-and-compare.

Exit codes:
  0 - Report printed (or nothing unsynced with --check)
  1 - Unsynced rows found with --check
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Check, "check", false, "exit 1 when any row is unsynced")

	return cmd
}

func runHealth(opts *HealthOptions, cmd *cobra.Command) error {
	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	counts, err := sess.store.CountUnsynced(cmd.Context())
	if err != nil {
		return sess.fail(err)
	}

	result := HealthResult{Database: sess.cfg.Database, Fields: make([]UnsyncedView, 0, len(counts))}
	for _, c := range counts {
		result.Fields = append(result.Fields, UnsyncedView{
			Field:    c.Field.String(),
			Mode:     sess.store.Mode(c.Field).String(),
			Unsynced: c.Count,
		})
		result.Total += c.Count
	}
	sess.logger.Debug("health checked", "unsynced", result.Total)

	if opts.Check && result.Total > 0 {
		return sess.out.Fail(ExitFailure, ErrCodeDrift,
			fmt.Sprintf("%d unsynced row(s)", result.Total), result)
	}
	return sess.out.Success(result)
}
