// Package config loads jsonbsync configuration from CUE.
//
// A configuration file is unified with the embedded #Config schema, which
// supplies defaults and rejects unknown or out-of-range values:
//
//	database: "kb.db"
//	codec:    "sqlite"
//	mode:     "lenient"
//	fields: "sessions.telemetry": "strict"
//	reconcile: batch_size: 1000
//	log: file: "/var/log/jsonbsync.log"
package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/jsonbsync/internal/dualsync"
)

//go:embed schema.cue
var schemaCUE string

// DefaultFile is the configuration file looked up in the working
// directory when no path is given.
const DefaultFile = "jsonbsync.cue"

// Config is the resolved configuration.
type Config struct {
	Database  string            `json:"database"`
	Codec     string            `json:"codec"`
	Mode      string            `json:"mode"`
	Fields    map[string]string `json:"fields"`
	Reconcile Reconcile         `json:"reconcile"`
	Log       Log               `json:"log"`

	// Source is the file the configuration was read from, or "" for the
	// built-in defaults.
	Source string `json:"-"`
}

// Reconcile configures batch reconciliation.
type Reconcile struct {
	BatchSize int `json:"batch_size"`
}

// Log configures logging.
type Log struct {
	Level      string `json:"level"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Error is a configuration error with the CUE source position when one
// is available.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Default returns the configuration with every default applied.
func Default() (Config, error) {
	return resolve(nil, "")
}

// Load reads path and unifies it with the schema. An empty path loads
// DefaultFile when it exists and the defaults otherwise.
func Load(path string) (Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultFile); err != nil {
			return Default()
		}
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return resolve(data, path)
}

// Parse unifies CUE source with the schema. filename is used in error
// positions only.
func Parse(data []byte, filename string) (Config, error) {
	return resolve(data, filename)
}

func resolve(data []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if data != nil {
		file := ctx.CompileBytes(data, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return Config{}, formatCUEError(err)
		}
		v = v.Unify(file)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	if cfg.Fields == nil {
		cfg.Fields = map[string]string{}
	}
	cfg.Source = filename
	return cfg, nil
}

// Modes returns the per-field sync modes to pass to the store. Only the
// explicitly configured fields are listed; use DefaultMode for the rest.
func (c Config) Modes() (map[string]dualsync.Mode, error) {
	modes := make(map[string]dualsync.Mode, len(c.Fields))
	for _, name := range c.FieldNames() {
		m, err := dualsync.ParseMode(c.Fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		modes[name] = m
	}
	return modes, nil
}

// DefaultMode returns the mode for fields without an explicit entry.
func (c Config) DefaultMode() (dualsync.Mode, error) {
	return dualsync.ParseMode(c.Mode)
}

// FieldNames returns the configured field names, sorted.
func (c Config) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Message: first.Error()}
}
