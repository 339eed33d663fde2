package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"convertd/internal/history"
)

// Sink writes conversion records to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	// Simple audit table, no primary key constraint enforcement beyond the id.
	stmt := `CREATE TABLE IF NOT EXISTS conversion_history(
		id TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		source_format TEXT NOT NULL,
		target_format TEXT NOT NULL,
		source_name TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error TEXT
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, r history.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversion_history(id, started_at, source_format, target_format, source_name, size_bytes, duration_ms, success, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		r.ID, r.StartedAt.UTC(), r.SourceFmt, r.TargetFmt, r.SourceName,
		r.SizeBytes, r.Duration.Milliseconds(), r.Success, r.Error)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
