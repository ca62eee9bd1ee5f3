// Package journal appends every envelope the peer receives to Postgres.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pagewire/pages/internal/protocol"
)

const Schema = `
CREATE TABLE IF NOT EXISTS page_envelopes (
	seq         BIGSERIAL PRIMARY KEY,
	session_id  TEXT        NOT NULL,
	name        TEXT        NOT NULL,
	route       TEXT        NOT NULL,
	args        JSONB,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Record is one journaled envelope.
type Record struct {
	Seq        int64          `db:"seq" json:"seq"`
	SessionID  string         `db:"session_id" json:"id"`
	Name       string         `db:"name" json:"name"`
	Route      string         `db:"route" json:"route"`
	Args       sql.NullString `db:"args" json:"-"`
	ReceivedAt time.Time      `db:"received_at" json:"receivedAt"`
}

// RawArgs returns the stored args, or nil when the envelope carried none.
func (r Record) RawArgs() json.RawMessage {
	if !r.Args.Valid {
		return nil
	}
	return json.RawMessage(r.Args.String)
}

type Journal struct {
	db  *sqlx.DB
	now func() time.Time
}

func New(db *sqlx.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// Open connects to Postgres and creates the table if needed.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	j := New(db)
	if err := j.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create page_envelopes: %w", err)
	}
	return nil
}

// Append stores env. Args are re-encoded as JSON text so the jsonb column
// receives them unchanged.
func (j *Journal) Append(ctx context.Context, env protocol.Envelope) error {
	var args sql.NullString
	if env.Args != nil {
		data, err := json.Marshal(env.Args)
		if err != nil {
			return fmt.Errorf("encode args: %w", err)
		}
		args = sql.NullString{String: string(data), Valid: true}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO page_envelopes (session_id, name, route, args, received_at) VALUES ($1, $2, $3, $4, $5)`,
		env.ID, env.Name, env.Route, args, j.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append envelope: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. An empty sessionID
// matches every page.
func (j *Journal) Recent(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []Record
	err := j.db.SelectContext(ctx, &records,
		`SELECT seq, session_id, name, route, args, received_at FROM page_envelopes
		 WHERE ($1 = '' OR session_id = $1) ORDER BY seq DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query page_envelopes: %w", err)
	}
	return records, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
