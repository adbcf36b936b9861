package store

import "github.com/roach88/jsonbsync/internal/dualsync"

// Topic groups docs and sessions.
type Topic struct {
	ID        int64
	Title     string
	Status    string
	CreatedAt string
}

// Doc is a knowledge-base document. Docs are unique on
// (Slug, DocType, Version).
type Doc struct {
	ID        int64
	TopicID   *int64
	Module    string
	Slug      string
	Title     string
	DocType   string
	Source    *string
	Version   *string
	Summary   *string
	Metadata  dualsync.Pair
	CreatedAt string
	UpdatedAt string
}

// Chunk is an ordered fragment of a doc.
type Chunk struct {
	ID       int64
	DocID    int64
	Ord      int
	Heading  *string
	Text     string
	TokenEst int
	Kind     string
	// Hash is the hex SHA-256 of Text. Computed on insert when empty.
	Hash     string
	Metadata dualsync.Pair
}

// Session records one model run.
type Session struct {
	ID          int64
	TopicID     *int64
	Model       string
	StartedAt   string
	FinishedAt  *string
	Notes       *string
	TotalTokens *int64
	Telemetry   dualsync.Pair
}

// Message is one turn within a session. Step is assigned on insert.
type Message struct {
	ID        int64
	SessionID int64
	Role      string
	Content   string
	Step      int
	Tokens    *int64
	Metadata  dualsync.Pair
	CreatedAt string
}

// SessionEnd carries the optional fields set when a session finishes.
// Nil fields keep their stored value; a nil Telemetry leaves the
// telemetry pair untouched.
type SessionEnd struct {
	Notes       *string
	TotalTokens *int64
	Telemetry   *string
}
