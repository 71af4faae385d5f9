package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Record is one finished task.
type Record struct {
	ID         int64  `db:"id"`
	TaskID     string `db:"task_id"`
	URL        string `db:"url"`
	OutputPath string `db:"output_path"`
	Backend    string `db:"backend"`
	Status     string `db:"status"`
	Bytes      int64  `db:"bytes"`
	Fragments  int    `db:"fragments"`
	Error      string `db:"error"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
}

func (r Record) Duration() time.Duration {
	return time.Duration(r.FinishedAt-r.StartedAt) * time.Second
}

// Store keeps the download history in a SQLite file.
type Store struct {
	db *sqlx.DB
}

// Open creates or opens the history database at path and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	db := sqlx.NewDb(sqlDB, "sqlite3")
	// workers write concurrently; SQLite takes one writer at a time
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Add(ctx context.Context, rec Record) (int64, error) {
	query := `
		INSERT INTO downloads (task_id, url, output_path, backend, status, bytes, fragments, error, started_at, finished_at)
		VALUES (:task_id, :url, :output_path, :backend, :status, :bytes, :fragments, :error, :started_at, :finished_at)
	`
	result, err := s.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		return 0, fmt.Errorf("insert download: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// Recent returns the newest records first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	var rows []Record
	query := `SELECT * FROM downloads ORDER BY finished_at DESC, id DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("get recent downloads: %w", err)
	}
	return rows, nil
}

func (s *Store) ByStatus(ctx context.Context, status string) ([]Record, error) {
	var rows []Record
	query := `SELECT * FROM downloads WHERE status = ? ORDER BY finished_at ASC, id ASC`
	if err := s.db.SelectContext(ctx, &rows, query, status); err != nil {
		return nil, fmt.Errorf("get downloads by status: %w", err)
	}
	return rows, nil
}

// Prune deletes records finished before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE finished_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune downloads: %w", err)
	}
	return result.RowsAffected()
}
