package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTimeLayout = time.RFC3339Nano

// SQLite is the embedded Store used when no DATABASE_URL is configured.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	logger.Info("sqlite opened", slog.String("path", path))
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks that the database file is still usable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveTranscription inserts rec in its own transaction.
func (s *SQLite) SaveTranscription(ctx context.Context, rec Record) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rec.CreatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO transcriptions (user_id, file_name, uploaded_file, transcript_file, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.UserID, rec.FileName, nonNil(rec.UploadedFile), nonNil(rec.TranscriptFile),
		rec.CreatedAt.Format(sqliteTimeLayout),
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert transcription: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// GetTranscription loads one record with its blobs.
func (s *SQLite) GetTranscription(ctx context.Context, id int64) (Record, error) {
	var r Record
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, file_name, uploaded_file, transcript_file, created_at
		 FROM transcriptions WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &r.FileName, &r.UploadedFile, &r.TranscriptFile, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get transcription %d: %w", id, err)
	}
	r.CreatedAt = parseSQLiteTime(created)
	return r, nil
}

// ListTranscriptions returns the newest summaries for userID.
func (s *SQLite) ListTranscriptions(ctx context.Context, userID int64, limit int) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, file_name, length(uploaded_file), length(transcript_file), created_at
		 FROM transcriptions WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transcriptions: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var created string
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.FileName, &sum.UploadedSize, &sum.TranscriptSize, &created); err != nil {
			return nil, err
		}
		sum.CreatedAt = parseSQLiteTime(created)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLite) dialect() string { return "sqlite" }

func (s *SQLite) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	return err
}

func (s *SQLite) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *SQLite) applyMigration(ctx context.Context, m migration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version,
	).Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		m.version, time.Now().UTC().Format(sqliteTimeLayout),
	); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// nonNil keeps NOT NULL blob columns satisfied for empty payloads.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
