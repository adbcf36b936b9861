package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/jsonbsync/internal/store"
)

// FieldMode is one synced field and the mode the store runs it in.
type FieldMode struct {
	Field string `json:"field"`
	Mode  string `json:"mode"`
}

// InitResult describes an initialized database.
type InitResult struct {
	Database string      `json:"database"`
	Codec    string      `json:"codec"`
	Fields   []FieldMode `json:"fields"`
}

func (r InitResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Initialized %s (codec %s)\n", r.Database, r.Codec)
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "  %-20s %s\n", f.Field, f.Mode)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the database",
		Long: `Create the database if it does not exist, apply the schema and any
pending migrations, and list the synced fields with their modes.

Migrating an older database drops the triggers that used to maintain the
JSONB columns inside SQLite.

Example:
  jsonbsync init --db ./kb.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	result := InitResult{
		Database: sess.cfg.Database,
		Codec:    sess.cfg.Codec,
		Fields:   fieldModes(sess.store),
	}
	sess.logger.Info("database ready", "database", result.Database)
	return sess.out.Success(result)
}

func fieldModes(st *store.Store) []FieldMode {
	fields := store.Fields()
	out := make([]FieldMode, 0, len(fields))
	for _, f := range fields {
		out = append(out, FieldMode{Field: f.String(), Mode: st.Mode(f).String()})
	}
	return out
}
