package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/jsonbsync/internal/codec"
	"github.com/roach88/jsonbsync/internal/dualsync"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema, or a database created with trigger-based sync
// 1 - Sync triggers dropped, unsynced-row partial indexes added
const currentSchemaVersion = 1

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownField is returned for a table or field that has no synced pair.
	ErrUnknownField = errors.New("unknown synced field")
)

// Store provides durable storage for the knowledge base.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	codec  codec.Codec
	logger *slog.Logger

	// closeCodec is set when the store opened its own codec.
	closeCodec func() error

	docs     *dualsync.Policy[Doc]
	chunks   *dualsync.Policy[Chunk]
	sessions *dualsync.Policy[Session]
	messages *dualsync.Policy[Message]
	rows     map[SyncedField]*dualsync.Policy[fieldRow]
	modes    map[SyncedField]dualsync.Mode
}

// Option configures Open.
type Option func(*config)

type config struct {
	codec  codec.Codec
	modes  map[string]dualsync.Mode
	logger *slog.Logger
}

// WithCodec sets the codec used to derive the JSONB columns. The caller
// keeps ownership. Defaults to a codec.SQLite owned by the store.
func WithCodec(c codec.Codec) Option {
	return func(cfg *config) { cfg.codec = c }
}

// WithModes sets the sync mode per field, keyed by field name
// ("docs.metadata", "sessions.telemetry", ...). Fields not listed are
// Lenient.
func WithModes(modes map[string]dualsync.Mode) Option {
	return func(cfg *config) { cfg.modes = modes }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	modes, err := resolveModes(cfg.modes)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, logger: cfg.logger, modes: modes}
	if cfg.codec != nil {
		s.codec = cfg.codec
	} else {
		c, err := codec.OpenSQLite()
		if err != nil {
			db.Close()
			return nil, err
		}
		s.codec = c
		s.closeCodec = c.Close
	}
	s.buildPolicies()

	return s, nil
}

// Close closes the database connection and any codec the store opened.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.closeCodec != nil {
		if cerr := s.closeCodec(); cerr != nil && err == nil {
			err = cerr
		}
		s.closeCodec = nil
	}
	return err
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - writes through it bypass the sync hooks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Codec returns the codec deriving the JSONB columns.
func (s *Store) Codec() codec.Codec {
	return s.codec
}

// Mode returns the sync mode configured for f.
func (s *Store) Mode(f SyncedField) dualsync.Mode {
	return s.modes[f]
}

func resolveModes(in map[string]dualsync.Mode) (map[SyncedField]dualsync.Mode, error) {
	modes := make(map[SyncedField]dualsync.Mode, len(syncedFields))
	for _, f := range syncedFields {
		modes[f] = dualsync.Lenient
	}
	for name, mode := range in {
		f, err := LookupField(name)
		if err != nil {
			return nil, err
		}
		modes[f] = mode
	}
	return modes, nil
}

func (s *Store) buildPolicies() {
	opt := dualsync.WithLogger(s.logger)

	s.docs = dualsync.NewPolicy(s.codec, []dualsync.Field[Doc]{{
		Name: DocsMetadata.String(),
		Mode: s.modes[DocsMetadata],
		Pair: func(d *Doc) *dualsync.Pair { return &d.Metadata },
	}}, opt)
	s.chunks = dualsync.NewPolicy(s.codec, []dualsync.Field[Chunk]{{
		Name: ChunksMetadata.String(),
		Mode: s.modes[ChunksMetadata],
		Pair: func(c *Chunk) *dualsync.Pair { return &c.Metadata },
	}}, opt)
	s.sessions = dualsync.NewPolicy(s.codec, []dualsync.Field[Session]{{
		Name: SessionsTelemetry.String(),
		Mode: s.modes[SessionsTelemetry],
		Pair: func(ss *Session) *dualsync.Pair { return &ss.Telemetry },
	}}, opt)
	s.messages = dualsync.NewPolicy(s.codec, []dualsync.Field[Message]{{
		Name: MessagesMetadata.String(),
		Mode: s.modes[MessagesMetadata],
		Pair: func(m *Message) *dualsync.Pair { return &m.Metadata },
	}}, opt)

	s.rows = make(map[SyncedField]*dualsync.Policy[fieldRow], len(syncedFields))
	for _, f := range syncedFields {
		s.rows[f] = dualsync.NewPolicy(s.codec, []dualsync.Field[fieldRow]{{
			Name: f.String(),
			Mode: s.modes[f],
			Pair: func(r *fieldRow) *dualsync.Pair { return &r.Pair },
		}}, opt)
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 drops trigger-based JSONB sync left by earlier tooling, so
// the service layer is the only writer of derived columns, and adds
// partial indexes that make the unsynced-row health check cheap.
func migrateToV1(db *sql.DB) error {
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate to v1: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'trigger'
		  AND tbl_name IN ('docs', 'chunks', 'sessions', 'messages')
		  AND sql LIKE '%jsonb%'
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: list triggers: %w", err)
	}
	var triggers []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("migrate to v1: scan trigger: %w", err)
		}
		triggers = append(triggers, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrate to v1: iterate triggers: %w", err)
	}

	for _, name := range triggers {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TRIGGER IF EXISTS %q", name)); err != nil {
			return fmt.Errorf("migrate to v1: drop trigger %s: %w", name, err)
		}
	}

	for _, f := range syncedFields {
		stmt := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_%s_unsynced ON %s(id) WHERE %s IS NOT NULL AND %s IS NULL",
			f.Table, f.Primary, f.Table, f.Primary, f.Derived,
		)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate to v1: unsynced index for %s: %w", f, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v1: commit: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
