package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/jsonbsync/internal/codec"
	"github.com/roach88/jsonbsync/internal/config"
	"github.com/roach88/jsonbsync/internal/dualsync"
	"github.com/roach88/jsonbsync/internal/store"
)

// session bundles what a store-backed command needs for one invocation.
type session struct {
	cfg    config.Config
	out    *OutputFormatter
	logger *slog.Logger
	store  *store.Store

	closeCodec func() error
	logCloser  io.Closer
}

// openSession loads the configuration, sets up logging and opens the
// store. Failures are reported through the formatter before returning.
func (o *RootOptions) openSession(cmd *cobra.Command) (*session, error) {
	out := o.formatter(cmd)

	cfg, err := o.loadConfig()
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}
	logger, logCloser, err := o.logger(cfg, out.TraceID)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}

	modes, err := storeModes(cfg)
	if err != nil {
		logCloser.Close()
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}

	c, closeCodec, err := codec.Open(cfg.Codec)
	if err != nil {
		logCloser.Close()
		return nil, out.Fail(ExitCommandError, ErrCodeOpenFailed, err.Error(), nil)
	}

	out.VerboseLog("Opening %s (codec %s)", cfg.Database, cfg.Codec)
	st, err := store.Open(cfg.Database,
		store.WithCodec(c),
		store.WithModes(modes),
		store.WithLogger(logger),
	)
	if err != nil {
		closeCodec()
		logCloser.Close()
		return nil, out.Fail(ExitCommandError, ErrCodeOpenFailed, err.Error(), nil)
	}
	logger.Debug("store opened", "database", cfg.Database, "codec", cfg.Codec, "config", cfg.Source)

	return &session{
		cfg:        cfg,
		out:        out,
		logger:     logger,
		store:      st,
		closeCodec: closeCodec,
		logCloser:  logCloser,
	}, nil
}

// Close releases the store, then the codec it was using, then the log.
func (s *session) Close() error {
	err := s.store.Close()
	if cerr := s.closeCodec(); err == nil {
		err = cerr
	}
	if lerr := s.logCloser.Close(); err == nil {
		err = lerr
	}
	return err
}

// fail reports a store error with the exit and error codes it maps to.
func (s *session) fail(err error) error {
	exit, code := storeErrCode(err)
	s.logger.Error("command failed", "code", code, "error", err)
	return s.out.Fail(exit, code, err.Error(), nil)
}

// storeErrCode maps a store error onto an exit code and error code.
// Rejected input is a check failure; everything else is a command error.
func storeErrCode(err error) (int, string) {
	switch {
	case dualsync.IsMalformed(err), errors.Is(err, codec.ErrMalformed):
		return ExitFailure, ErrCodeMalformed
	case errors.Is(err, store.ErrNoDerived):
		return ExitFailure, ErrCodeNoDerived
	case errors.Is(err, store.ErrNotFound):
		return ExitCommandError, ErrCodeNotFound
	case errors.Is(err, store.ErrUnknownField):
		return ExitCommandError, ErrCodeBadArgument
	case dualsync.IsEncodeFailure(err):
		return ExitCommandError, ErrCodeEncodeFailed
	default:
		return ExitCommandError, ErrCodeGeneric
	}
}

// storeModes expands the configuration into one mode per synced field:
// the explicit entry when there is one, the default mode otherwise.
func storeModes(cfg config.Config) (map[string]dualsync.Mode, error) {
	def, err := cfg.DefaultMode()
	if err != nil {
		return nil, err
	}
	explicit, err := cfg.Modes()
	if err != nil {
		return nil, err
	}

	modes := make(map[string]dualsync.Mode, len(store.Fields()))
	for _, f := range store.Fields() {
		modes[f.String()] = def
	}
	for name, m := range explicit {
		f, err := store.LookupField(name)
		if err != nil {
			return nil, fmt.Errorf("fields: %w", err)
		}
		modes[f.String()] = m
	}
	return modes, nil
}

// parseRef resolves "<field> <id>" command arguments.
func parseRef(field, id string) (store.Ref, error) {
	f, err := store.LookupField(field)
	if err != nil {
		return store.Ref{}, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return store.Ref{}, fmt.Errorf("invalid row id %q: must be a positive integer", id)
	}
	return store.Ref{Field: f, ID: n}, nil
}

// selectFields resolves field arguments, defaulting to every synced field.
func selectFields(args []string) ([]store.SyncedField, error) {
	if len(args) == 0 {
		return store.Fields(), nil
	}
	fields := make([]store.SyncedField, 0, len(args))
	for _, name := range args {
		f, err := store.LookupField(name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}
