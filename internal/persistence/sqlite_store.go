package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/MimeLyc/transcription-service/internal/jobs"
	"github.com/MimeLyc/transcription-service/pkg/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

const selectColumns = `id, status, filename, created_at, completed_at, transcript, error, progress, current_text, language`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*jobs.Record, error) {
	var (
		rec         jobs.Record
		status      string
		completedAt sql.NullTime
		transcript  sql.NullString
		errMsg      sql.NullString
		currentText sql.NullString
		language    sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&status,
		&rec.Filename,
		&rec.CreatedAt,
		&completedAt,
		&transcript,
		&errMsg,
		&rec.Progress,
		&currentText,
		&language,
	); err != nil {
		return nil, err
	}
	rec.Status = jobs.Status(status)
	if !rec.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		rec.CompletedAt = &t
	}
	rec.Transcript = nullableString(transcript)
	rec.Error = nullableString(errMsg)
	rec.CurrentText = nullableString(currentText)
	rec.Language = nullableString(language)
	return &rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec *jobs.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	var completedAt any
	if rec.CompletedAt != nil {
		completedAt = rec.CompletedAt.UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO transcriptions (
			id, status, filename, created_at, completed_at, transcript, error, progress, current_text, language
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			filename=excluded.filename,
			created_at=excluded.created_at,
			completed_at=excluded.completed_at,
			transcript=excluded.transcript,
			error=excluded.error,
			progress=excluded.progress,
			current_text=excluded.current_text,
			language=excluded.language`,
		rec.ID,
		string(rec.Status),
		rec.Filename,
		rec.CreatedAt.UTC(),
		completedAt,
		stringOrNil(rec.Transcript),
		stringOrNil(rec.Error),
		rec.Progress,
		stringOrNil(rec.CurrentText),
		stringOrNil(rec.Language),
	)
	return err
}

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*jobs.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transcriptions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) FindAll(ctx context.Context) ([]*jobs.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM transcriptions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			log.Warn("Skipping undecodable transcription row: %v", err)
			continue
		}
		ret = append(ret, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE id = ?`, id)
	return err
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func stringOrNil(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
