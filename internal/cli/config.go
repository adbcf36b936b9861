package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/jsonbsync/internal/config"
	"github.com/roach88/jsonbsync/internal/store"
)

// ConfigResult is the effective configuration after defaults and flag
// overrides, with the mode each synced field resolves to.
type ConfigResult struct {
	Source string        `json:"source"`
	Config config.Config `json:"config"`
	Modes  []FieldMode   `json:"modes"`
}

func (r ConfigResult) String() string {
	var b strings.Builder
	source := r.Source
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(&b, "source:     %s\n", source)
	fmt.Fprintf(&b, "database:   %s\n", r.Config.Database)
	fmt.Fprintf(&b, "codec:      %s\n", r.Config.Codec)
	fmt.Fprintf(&b, "batch size: %d\n", r.Config.Reconcile.BatchSize)
	logTo := r.Config.Log.File
	if logTo == "" {
		logTo = "stderr"
	}
	fmt.Fprintf(&b, "log:        %s (%s)\n", r.Config.Log.Level, logTo)
	b.WriteString("modes:")
	for _, m := range r.Modes {
		fmt.Fprintf(&b, "\n  %-20s %s", m.Field, m.Mode)
	}
	return b.String()
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Load the CUE configuration, apply defaults and flag overrides, and print
the result. Fails with the CUE source position when the file does not
match the schema. Does not open the database.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(rootOpts, cmd)
		},
	}
}

func runConfig(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}
	modes, err := storeModes(cfg)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}

	result := ConfigResult{Source: cfg.Source, Config: cfg}
	for _, f := range store.Fields() {
		result.Modes = append(result.Modes, FieldMode{Field: f.String(), Mode: modes[f.String()].String()})
	}
	return out.Success(result)
}
