package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/jsonbsync/internal/store"
)

// PairView is one synced field of one row as shown to the user. Derived
// is the decoded derived value.
type PairView struct {
	Field        string  `json:"field"`
	ID           int64   `json:"id"`
	Mode         string  `json:"mode"`
	State        string  `json:"state"`
	Primary      *string `json:"primary"`
	Derived      *string `json:"derived"`
	DerivedError string  `json:"derived_error,omitempty"`
}

func (v PairView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s id=%d (%s, %s)\n", v.Field, v.ID, v.Mode, v.State)
	fmt.Fprintf(&b, "  primary: %s\n", nullText(v.Primary))
	if v.DerivedError != "" {
		fmt.Fprintf(&b, "  derived: undecodable (%s)", v.DerivedError)
	} else {
		fmt.Fprintf(&b, "  derived: %s", nullText(v.Derived))
	}
	return b.String()
}

func nullText(s *string) string {
	if s == nil {
		return "NULL"
	}
	return *s
}

// viewPair reads ref back and decodes its derived value.
func viewPair(ctx context.Context, st *store.Store, ref store.Ref) (PairView, error) {
	pair, err := st.GetPair(ctx, ref)
	if err != nil {
		return PairView{}, err
	}
	state, err := st.Classify(ctx, ref)
	if err != nil {
		return PairView{}, err
	}

	view := PairView{
		Field:   ref.Field.String(),
		ID:      ref.ID,
		Mode:    st.Mode(ref.Field).String(),
		State:   state.String(),
		Primary: pair.Primary,
	}
	if pair.Derived != nil {
		text, err := st.Codec().Decode(ctx, pair.Derived)
		if err != nil {
			view.DerivedError = err.Error()
		} else {
			view.Derived = &text
		}
	}
	return view, nil
}

// SetOptions holds flags for the set command.
type SetOptions struct {
	*RootOptions
	Null bool
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <field> <id> [json]",
		Short: "Write a primary JSON value",
		Long: `Write the primary JSON text of one row and keep its JSONB column in step.

The derived value is re-encoded only when the text changes. Strict fields
reject malformed JSON and leave the row untouched; lenient fields store it
and clear the derived value. Pass "-" to read the value from stdin.

Examples:
  jsonbsync set docs.metadata 12 '{"tags":["go"]}'
  jsonbsync set sessions 3 --null
  cat telemetry.json | jsonbsync set sessions.telemetry 3 -`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Null, "null", false, "set the value to NULL")

	return cmd
}

func runSet(opts *SetOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	ref, err := parseRef(args[0], args[1])
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}

	var value *string
	switch {
	case opts.Null && len(args) == 3:
		return out.Fail(ExitCommandError, ErrCodeBadArgument, "a value and --null are mutually exclusive", nil)
	case opts.Null:
	case len(args) == 3:
		text, err := readArg(args[2], cmd.InOrStdin())
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
		}
		value = &text
	default:
		return out.Fail(ExitCommandError, ErrCodeBadArgument, "a value or --null is required", nil)
	}

	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()
	ctx := cmd.Context()

	if _, err := sess.store.SetPrimary(ctx, ref, value); err != nil {
		return sess.fail(err)
	}
	view, err := viewPair(ctx, sess.store, ref)
	if err != nil {
		return sess.fail(err)
	}
	sess.logger.Info("primary written", "ref", ref.String(), "state", view.State)
	return sess.out.Success(view)
}

// NewPatchCommand creates the patch command.
func NewPatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "patch <field> <id> <merge-patch>",
		Short: "Apply a JSON merge patch to a derived value only",
		Long: `Apply an RFC 7386 merge patch directly to the JSONB column of one row.

This is an escape hatch: the primary text is never touched, so the row is
reported as desynced until the next write or reconcile. The row must
already have a derived value.

Example:
  jsonbsync patch docs 12 '{"draft":null}'`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(rootOpts, args, cmd)
		},
	}
}

func runPatch(opts *RootOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	ref, err := parseRef(args[0], args[1])
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}
	patch, err := readArg(args[2], cmd.InOrStdin())
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}

	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()
	ctx := cmd.Context()

	if _, err := sess.store.PatchDerived(ctx, ref, patch); err != nil {
		return sess.fail(err)
	}
	view, err := viewPair(ctx, sess.store, ref)
	if err != nil {
		return sess.fail(err)
	}
	sess.logger.Warn("derived value patched", "ref", ref.String(), "state", view.State)
	return sess.out.Success(view)
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <field> <id>",
		Short: "Show both representations of a field",
		Long: `Show the primary text and decoded derived value of one row, with its
sync state (unset, synced or desynced).

Example:
  jsonbsync show messages.metadata 40`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args, cmd)
		},
	}
}

func runShow(opts *RootOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	ref, err := parseRef(args[0], args[1])
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}

	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	view, err := viewPair(cmd.Context(), sess.store, ref)
	if err != nil {
		return sess.fail(err)
	}
	return sess.out.Success(view)
}

// readArg returns arg, or all of stdin when arg is "-".
func readArg(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

