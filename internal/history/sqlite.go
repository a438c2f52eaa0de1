package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const timeFormat = "2006-01-02T15:04:05.000Z"

// SQLiteStore persists history so a later process (or a view attached after
// a restart) can reconstruct what happened in a session.
type SQLiteStore struct {
	db       *sql.DB
	capacity int
}

// OpenSQLite opens (or creates) the history database at dbPath and runs any
// pending migrations.
func OpenSQLite(ctx context.Context, dbPath string, capacity int) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// modernc.org/sqlite serialises writes; limit to one connection.
	db.SetMaxOpenConns(1)

	if err := pragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SQLiteStore{db: db, capacity: capacity}, nil
}

func pragmas(ctx context.Context, db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("setting %s: %w", p, err)
		}
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO history_entries (session_id, direction, kind, level, text, raw, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, string(e.Direction), e.Kind, e.Level, e.Text, []byte(e.Raw),
		e.Timestamp.UTC().Format(timeFormat),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert history entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("reading history seq: %w", err)
	}
	e.Seq = seq

	// Drop everything older than the newest capacity entries.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM history_entries
		 WHERE session_id = ? AND seq <= (
			SELECT seq FROM history_entries WHERE session_id = ?
			ORDER BY seq DESC LIMIT 1 OFFSET ?
		 )`,
		e.SessionID, e.SessionID, s.capacity,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("trimming history for session %q: %w", e.SessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit append: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ReadAll(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, session_id, direction, kind, level, text, raw, created_at
		 FROM history_entries WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing history for session %q: %w", sessionID, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			direction string
			raw       []byte
			createdAt string
		)
		if err := rows.Scan(&e.Seq, &e.SessionID, &direction, &e.Kind, &e.Level, &e.Text, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		e.Direction = Direction(direction)
		if len(raw) > 0 {
			e.Raw = raw
		}
		if ts, err := time.Parse(timeFormat, createdAt); err == nil {
			e.Timestamp = ts
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history rows: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history_entries WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing history for session %q: %w", sessionID, err)
	}
	return nil
}
