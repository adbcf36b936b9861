package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	docColumns = `id, topic_id, module, slug, title, doc_type, source, version, summary,
		metadata, metadata_jsonb, created_at, updated_at`
	chunkColumns = `id, doc_id, ord, heading, text, token_est, kind, hash,
		metadata, metadata_jsonb`
	sessionColumns = `id, topic_id, model, started_at, finished_at, notes, total_tokens,
		telemetry, telemetry_jsonb`
	messageColumns = `id, session_id, role, content, step, tokens,
		metadata, metadata_jsonb, created_at`
)

// GetTopic retrieves a topic by ID. Returns ErrNotFound if absent.
func (s *Store) GetTopic(ctx context.Context, id int64) (Topic, error) {
	var t Topic
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, status, created_at FROM topics WHERE id = ?
	`, id).Scan(&t.ID, &t.Title, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Topic{}, fmt.Errorf("get topic %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Topic{}, fmt.Errorf("get topic %d: %w", id, err)
	}
	return t, nil
}

// GetDoc retrieves a doc by ID. Returns ErrNotFound if absent.
func (s *Store) GetDoc(ctx context.Context, id int64) (Doc, error) {
	d, err := scanDoc(s.db.QueryRowContext(ctx, `SELECT `+docColumns+` FROM docs WHERE id = ?`, id))
	if err != nil {
		return Doc{}, fmt.Errorf("get doc %d: %w", id, err)
	}
	return d, nil
}

// GetChunk retrieves a chunk by ID. Returns ErrNotFound if absent.
func (s *Store) GetChunk(ctx context.Context, id int64) (Chunk, error) {
	c, err := scanChunk(s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id))
	if err != nil {
		return Chunk{}, fmt.Errorf("get chunk %d: %w", id, err)
	}
	return c, nil
}

// GetSession retrieves a session by ID. Returns ErrNotFound if absent.
func (s *Store) GetSession(ctx context.Context, id int64) (Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return Session{}, fmt.Errorf("get session %d: %w", id, err)
	}
	return sess, nil
}

// GetMessage retrieves a message by ID. Returns ErrNotFound if absent.
func (s *Store) GetMessage(ctx context.Context, id int64) (Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		return Message{}, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

// ListMessages returns a session's messages ordered by step.
func (s *Store) ListMessages(ctx context.Context, sessionID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE session_id = ?
		ORDER BY step ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Return empty slice instead of nil
	if messages == nil {
		messages = []Message{}
	}
	return messages, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoc(row rowScanner) (Doc, error) {
	var (
		d                        Doc
		topicID                  sql.NullInt64
		source, version, summary sql.NullString
		metadata                 sql.NullString
	)
	err := row.Scan(
		&d.ID, &topicID, &d.Module, &d.Slug, &d.Title, &d.DocType,
		&source, &version, &summary,
		&metadata, &d.Metadata.Derived,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return Doc{}, scanErr("doc", err)
	}
	d.TopicID = int64Ptr(topicID)
	d.Source = stringPtr(source)
	d.Version = stringPtr(version)
	d.Summary = stringPtr(summary)
	d.Metadata.Primary = stringPtr(metadata)
	return d, nil
}

func scanChunk(row rowScanner) (Chunk, error) {
	var (
		c                 Chunk
		heading, metadata sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.DocID, &c.Ord, &heading, &c.Text, &c.TokenEst, &c.Kind, &c.Hash,
		&metadata, &c.Metadata.Derived,
	)
	if err != nil {
		return Chunk{}, scanErr("chunk", err)
	}
	c.Heading = stringPtr(heading)
	c.Metadata.Primary = stringPtr(metadata)
	return c, nil
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess                         Session
		topicID, totalTokens         sql.NullInt64
		finishedAt, notes, telemetry sql.NullString
	)
	err := row.Scan(
		&sess.ID, &topicID, &sess.Model, &sess.StartedAt, &finishedAt, &notes, &totalTokens,
		&telemetry, &sess.Telemetry.Derived,
	)
	if err != nil {
		return Session{}, scanErr("session", err)
	}
	sess.TopicID = int64Ptr(topicID)
	sess.FinishedAt = stringPtr(finishedAt)
	sess.Notes = stringPtr(notes)
	sess.TotalTokens = int64Ptr(totalTokens)
	sess.Telemetry.Primary = stringPtr(telemetry)
	return sess, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m        Message
		tokens   sql.NullInt64
		metadata sql.NullString
	)
	err := row.Scan(
		&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Step, &tokens,
		&metadata, &m.Metadata.Derived, &m.CreatedAt,
	)
	if err != nil {
		return Message{}, scanErr("message", err)
	}
	m.Tokens = int64Ptr(tokens)
	m.Metadata.Primary = stringPtr(metadata)
	return m, nil
}

// scanPair reads one synced field of one row.
func scanPair(row rowScanner) (fieldRow, error) {
	var (
		r       fieldRow
		primary sql.NullString
	)
	if err := row.Scan(&r.ID, &primary, &r.Pair.Derived); err != nil {
		return fieldRow{}, scanErr("pair", err)
	}
	r.Pair.Primary = stringPtr(primary)
	return r, nil
}

func scanErr(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("scan %s: %w", what, err)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	n := ni.Int64
	return &n
}

// nullable converts a nil pointer to SQL NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// blob binds a nil slice as SQL NULL.
func blob(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
