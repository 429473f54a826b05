// Package archive persists call transcripts and recognitions to SQLite.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ai-call-presence-service/internal/models"
)

const schema = `
create table if not exists sessions (
	id text primary key,
	started_at integer not null,
	ended_at integer
);
create table if not exists transcript_items (
	session_id text not null references sessions(id),
	item_id text not null,
	ts integer not null,
	speaker text not null,
	content text not null,
	primary key (session_id, item_id)
);
create table if not exists recognitions (
	segment_id text primary key,
	session_id text not null references sessions(id),
	mode text not null,
	first_index integer not null,
	last_index integer not null,
	text text not null,
	ts integer not null
);
`

// SQLiteRepo stores sessions in a SQLite database.
type SQLiteRepo struct {
	db *sql.DB
}

// Open opens the database at path and creates the schema.
func Open(ctx context.Context, path string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteRepo{db: db}, nil
}

// NewSQLiteRepo wraps an open database. The schema must exist.
func NewSQLiteRepo(db *sql.DB) *SQLiteRepo {
	return &SQLiteRepo{db: db}
}

// StartSession records a session start. Starting an existing session is a no-op.
func (r *SQLiteRepo) StartSession(ctx context.Context, id string, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"insert into sessions (id, started_at) values ($1, $2) on conflict do nothing",
		id, startedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// EndSession stamps the session end.
func (r *SQLiteRepo) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, "update sessions set ended_at = $1 where id = $2", endedAt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// SaveTranscript upserts a transcript snapshot in one transaction.
func (r *SQLiteRepo) SaveTranscript(ctx context.Context, sessionID string, items []models.TranscriptItem) error {
	if len(items) == 0 {
		return nil
	}

	var q strings.Builder
	q.WriteString("insert into transcript_items (session_id, item_id, ts, speaker, content) values ")
	args := make([]any, 0, 5*len(items))
	for n, it := range items {
		if n > 0 {
			q.WriteString(", ")
		}
		b := n * 5
		fmt.Fprintf(&q, "($%d, $%d, $%d, $%d, $%d)", b+1, b+2, b+3, b+4, b+5)
		args = append(args, sessionID, it.ID, it.Timestamp.UnixMilli(), it.Speaker, it.Content)
	}
	q.WriteString(" on conflict (session_id, item_id) do update set speaker = excluded.speaker, content = excluded.content")

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save transcript: begin trx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q.String(), args...); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(fmt.Errorf("save transcript: %w", err), rbErr)
		}
		return fmt.Errorf("save transcript: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save transcript: committing: %w", err)
	}
	return nil
}

// SaveRecognition stores one recognition result.
func (r *SQLiteRepo) SaveRecognition(ctx context.Context, rec models.Recognition) error {
	_, err := r.db.ExecContext(ctx, `
		insert into recognitions (segment_id, session_id, mode, first_index, last_index, text, ts)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict do nothing`,
		rec.SegmentID, rec.SessionID, rec.Mode, rec.FirstIndex, rec.LastIndex, rec.Text, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("save recognition: %w", err)
	}
	return nil
}

// Transcript returns the archived items of a session ordered by timestamp.
func (r *SQLiteRepo) Transcript(ctx context.Context, sessionID string) ([]models.TranscriptItem, error) {
	rows, err := r.db.QueryContext(ctx,
		"select item_id, ts, speaker, content from transcript_items where session_id = $1 order by ts, rowid",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	defer rows.Close()

	var items []models.TranscriptItem
	for rows.Next() {
		var (
			it models.TranscriptItem
			ts int64
		)
		if err := rows.Scan(&it.ID, &ts, &it.Speaker, &it.Content); err != nil {
			return nil, fmt.Errorf("get transcript: scan: %w", err)
		}
		it.Timestamp = time.UnixMilli(ts)
		items = append(items, it)
	}
	return items, rows.Err()
}

// Recognitions returns the recognitions of a session in capture order.
func (r *SQLiteRepo) Recognitions(ctx context.Context, sessionID string) ([]models.Recognition, error) {
	rows, err := r.db.QueryContext(ctx, `
		select segment_id, mode, first_index, last_index, text, ts
		from recognitions where session_id = $1 order by first_index, last_index`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get recognitions: %w", err)
	}
	defer rows.Close()

	var out []models.Recognition
	for rows.Next() {
		rec := models.Recognition{EventType: models.EventRecognition, SessionID: sessionID}
		if err := rows.Scan(&rec.SegmentID, &rec.Mode, &rec.FirstIndex, &rec.LastIndex, &rec.Text, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("get recognitions: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}
