package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/jsonbsync/internal/canon"
	"github.com/roach88/jsonbsync/internal/dualsync"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Canonical string `json:"canonical,omitempty"`

	// NFC is false when some string or key is not in Unicode NFC form.
	// Such values are stored as given and compare unequal to their
	// normalized spelling.
	NFC bool `json:"nfc"`
}

func (r ValidationResult) String() string {
	s := "✓ Valid JSON: " + r.Canonical
	if !r.NFC {
		s += "\n  warning: contains strings not in NFC form"
	}
	return s
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [json]",
		Short: "Check that text is well-formed JSON",
		Long: `Check that text is well-formed RFC 8259 JSON, the same check a strict
field applies before a write. Reads stdin when no argument or "-" is given.
Prints the canonical form of valid input and warns when strings are not
in Unicode NFC form.

Exit codes:
  0 - Valid
  1 - Malformed`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := "-"
			if len(args) == 1 {
				arg = args[0]
			}
			return runValidate(rootOpts, arg, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, arg string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	text, err := readArg(arg, cmd.InOrStdin())
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}

	if !dualsync.Validate(text) {
		return out.Fail(ExitFailure, ErrCodeMalformed, "malformed JSON", map[string]bool{"valid": false})
	}
	canonical, err := canon.Canonicalize(text)
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeMalformed, err.Error(), map[string]bool{"valid": false})
	}
	nfc, err := canon.IsNFC(text)
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeMalformed, err.Error(), map[string]bool{"valid": false})
	}
	out.VerboseLog("Validated %d bytes", len(text))
	return out.Success(ValidationResult{Valid: true, Canonical: string(canonical), NFC: nfc})
}
