package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// CreateTopic inserts a topic. An empty status is "open".
func (s *Store) CreateTopic(ctx context.Context, title, status string) (Topic, error) {
	if status == "" {
		status = "open"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO topics (title, status) VALUES (?, ?)
	`, title, status)
	if err != nil {
		return Topic{}, fmt.Errorf("create topic: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Topic{}, fmt.Errorf("create topic: %w", err)
	}
	return s.GetTopic(ctx, id)
}

// SaveDoc inserts a doc, or updates the doc with the same
// (Slug, DocType, Version). Returns the stored row.
//
// The insert path derives metadata_jsonb with OnInsert. The update path
// runs OnUpdate against the stored row, so saving an unchanged metadata
// value keeps the stored derived bytes and costs no encode. The caller's
// Metadata.Derived is ignored.
func (s *Store) SaveDoc(ctx context.Context, d Doc) (Doc, error) {
	d.Metadata.Derived = nil

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Doc{}, fmt.Errorf("save doc: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	prev, err := scanDoc(tx.QueryRowContext(ctx, `
		SELECT `+docColumns+`
		FROM docs
		WHERE slug = ? AND doc_type = ? AND IFNULL(version, '') = IFNULL(?, '')
	`, d.Slug, d.DocType, nullable(d.Version)))

	var id int64
	switch {
	case errors.Is(err, ErrNotFound):
		if err := s.docs.OnInsert(ctx, &d); err != nil {
			return Doc{}, fmt.Errorf("save doc %s: %w", d.Slug, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO docs
			(topic_id, module, slug, title, doc_type, source, version, summary, metadata, metadata_jsonb)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			nullable(d.TopicID),
			d.Module,
			d.Slug,
			d.Title,
			d.DocType,
			nullable(d.Source),
			nullable(d.Version),
			nullable(d.Summary),
			nullable(d.Metadata.Primary),
			blob(d.Metadata.Derived),
		)
		if err != nil {
			return Doc{}, fmt.Errorf("save doc %s: insert: %w", d.Slug, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return Doc{}, fmt.Errorf("save doc %s: %w", d.Slug, err)
		}

	case err != nil:
		return Doc{}, fmt.Errorf("save doc %s: %w", d.Slug, err)

	default:
		id = prev.ID
		d.ID = prev.ID
		d.Metadata.Derived = prev.Metadata.Derived
		if err := s.docs.OnUpdate(ctx, &prev, &d); err != nil {
			return Doc{}, fmt.Errorf("save doc %s: %w", d.Slug, err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE docs SET
				topic_id = ?, module = ?, title = ?, source = ?, summary = ?,
				metadata = ?, metadata_jsonb = ?, updated_at = datetime('now')
			WHERE id = ?
		`,
			nullable(d.TopicID),
			d.Module,
			d.Title,
			nullable(d.Source),
			nullable(d.Summary),
			nullable(d.Metadata.Primary),
			blob(d.Metadata.Derived),
			id,
		)
		if err != nil {
			return Doc{}, fmt.Errorf("save doc %s: update: %w", d.Slug, err)
		}
	}

	saved, err := scanDoc(tx.QueryRowContext(ctx, `SELECT `+docColumns+` FROM docs WHERE id = ?`, id))
	if err != nil {
		return Doc{}, fmt.Errorf("save doc %s: %w", d.Slug, err)
	}
	if err := tx.Commit(); err != nil {
		return Doc{}, fmt.Errorf("save doc %s: commit: %w", d.Slug, err)
	}
	return saved, nil
}

// InsertChunk inserts a chunk of an existing doc. Hash defaults to the
// SHA-256 of Text, TokenEst to EstimateTokens(Text), Kind to "doc".
func (s *Store) InsertChunk(ctx context.Context, c Chunk) (Chunk, error) {
	c.Metadata.Derived = nil
	if c.Hash == "" {
		sum := sha256.Sum256([]byte(c.Text))
		c.Hash = hex.EncodeToString(sum[:])
	}
	if c.TokenEst == 0 {
		c.TokenEst = EstimateTokens(c.Text)
	}
	if c.Kind == "" {
		c.Kind = "doc"
	}

	if err := s.chunks.OnInsert(ctx, &c); err != nil {
		return Chunk{}, fmt.Errorf("insert chunk: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks
		(doc_id, ord, heading, text, token_est, kind, hash, metadata, metadata_jsonb)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.DocID,
		c.Ord,
		nullable(c.Heading),
		c.Text,
		c.TokenEst,
		c.Kind,
		c.Hash,
		nullable(c.Metadata.Primary),
		blob(c.Metadata.Derived),
	)
	if err != nil {
		return Chunk{}, fmt.Errorf("insert chunk: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Chunk{}, fmt.Errorf("insert chunk: %w", err)
	}
	return s.GetChunk(ctx, id)
}

// EstimateTokens approximates the token count of text as 1.3 tokens per
// whitespace-separated word, truncated.
func EstimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.3)
}

// StartSession inserts a session. An empty StartedAt is the current time.
func (s *Store) StartSession(ctx context.Context, sess Session) (Session, error) {
	sess.Telemetry.Derived = nil
	if err := s.sessions.OnInsert(ctx, &sess); err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}

	var startedAt any
	if sess.StartedAt != "" {
		startedAt = sess.StartedAt
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(topic_id, model, started_at, notes, total_tokens, telemetry, telemetry_jsonb)
		VALUES (?, ?, COALESCE(?, datetime('now')), ?, ?, ?, ?)
	`,
		nullable(sess.TopicID),
		sess.Model,
		startedAt,
		nullable(sess.Notes),
		nullable(sess.TotalTokens),
		nullable(sess.Telemetry.Primary),
		blob(sess.Telemetry.Derived),
	)
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	return s.GetSession(ctx, id)
}

// EndSession marks a session finished. Notes and TotalTokens keep their
// stored values when nil; Telemetry, when set, goes through OnUpdate.
func (s *Store) EndSession(ctx context.Context, id int64, end SessionEnd) (Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("end session %d: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	prev, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return Session{}, fmt.Errorf("end session %d: %w", id, err)
	}

	next := prev
	if end.Notes != nil {
		next.Notes = end.Notes
	}
	if end.TotalTokens != nil {
		next.TotalTokens = end.TotalTokens
	}
	if end.Telemetry != nil {
		next.Telemetry.Primary = end.Telemetry
	}
	if err := s.sessions.OnUpdate(ctx, &prev, &next); err != nil {
		return Session{}, fmt.Errorf("end session %d: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET
			finished_at = datetime('now'), notes = ?, total_tokens = ?,
			telemetry = ?, telemetry_jsonb = ?
		WHERE id = ?
	`,
		nullable(next.Notes),
		nullable(next.TotalTokens),
		nullable(next.Telemetry.Primary),
		blob(next.Telemetry.Derived),
		id,
	)
	if err != nil {
		return Session{}, fmt.Errorf("end session %d: %w", id, err)
	}

	saved, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return Session{}, fmt.Errorf("end session %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("end session %d: commit: %w", id, err)
	}
	return saved, nil
}

// LogMessage appends a message to a session. Step is assigned as one past
// the session's highest step; the caller's Step is ignored.
func (s *Store) LogMessage(ctx context.Context, m Message) (Message, error) {
	m.Metadata.Derived = nil

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("log message: begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, m.SessionID).Scan(&exists)
	if err != nil {
		return Message{}, fmt.Errorf("log message: %w", err)
	}
	if exists == 0 {
		return Message{}, fmt.Errorf("log message: session %d: %w", m.SessionID, ErrNotFound)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(step), 0) + 1 FROM messages WHERE session_id = ?
	`, m.SessionID).Scan(&m.Step)
	if err != nil {
		return Message{}, fmt.Errorf("log message: next step: %w", err)
	}

	if err := s.messages.OnInsert(ctx, &m); err != nil {
		return Message{}, fmt.Errorf("log message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages
		(session_id, role, content, step, tokens, metadata, metadata_jsonb)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		m.SessionID,
		m.Role,
		m.Content,
		m.Step,
		nullable(m.Tokens),
		nullable(m.Metadata.Primary),
		blob(m.Metadata.Derived),
	)
	if err != nil {
		return Message{}, fmt.Errorf("log message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("log message: %w", err)
	}

	saved, err := scanMessage(tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		return Message{}, fmt.Errorf("log message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("log message: commit: %w", err)
	}
	return saved, nil
}

// Delete removes a row. Its synced pairs go with it; chunks and messages
// cascade from their doc or session.
func (s *Store) Delete(ctx context.Context, table string, id int64) error {
	if !knownTable(table) {
		return fmt.Errorf("delete: %w: table %q", ErrUnknownField, table)
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s %d: %w", table, id, ErrNotFound)
	}
	return nil
}
