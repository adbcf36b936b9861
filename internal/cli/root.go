package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/jsonbsync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string // --config; empty looks for config.DefaultFile
	Database   string // --db; overrides the configured database
	LogFile    string // --log-file; overrides the configured log file

	// IDs generates response trace IDs. Nil means UUIDv7Source.
	IDs IDSource

	// Stderr receives log output when no log file is configured. Nil
	// means os.Stderr.
	Stderr io.Writer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the jsonbsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jsonbsync",
		Short: "jsonbsync - keep JSON text and JSONB columns in step",
		Long: `Maintain derived JSONB columns alongside their authoritative JSON text
columns in a SQLite knowledge base, and detect and repair drift between them.`,
		SilenceErrors: true, // main reports errors the commands did not
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to CUE config (default ./"+config.DefaultFile+" if present)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "write logs to a rotating file instead of stderr")

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewPatchCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))
	cmd.AddCommand(NewDriftCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// formatter builds the output formatter for one invocation.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	ids := o.IDs
	if ids == nil {
		ids = UUIDv7Source{}
	}
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
		TraceID:   ids.NewID(),
	}
}

// loadConfig reads the configuration and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.LogFile != "" {
		cfg.Log.File = o.LogFile
	}
	return cfg, nil
}

// logger builds the invocation logger. The returned logger carries the
// trace ID so log lines can be matched with the JSON response.
func (o *RootOptions) logger(cfg config.Config, traceID string) (*slog.Logger, io.Closer, error) {
	l, closer, err := NewLogger(cfg.Log, o.Verbose, o.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return l.With("trace_id", traceID), closer, nil
}
