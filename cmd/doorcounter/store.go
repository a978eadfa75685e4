package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

// ============================================================================
// Crossing log
// ============================================================================
// A SQLite history of completed crossings plus resets and periodic occupancy
// reports. It is a record of what happened, not a counter store: the daemon
// always starts counting from zero.
// ============================================================================

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenStore opens (or creates) the database at path and applies pending
// migrations.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// One writer; SQLite serializes writes anyway and this keeps :memory: usable.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{logger: s.logger}
	// m is not closed: closing it would close s.db.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion() (uint, error) {
	var v uint
	err := s.db.QueryRow(`SELECT version FROM schema_migrations LIMIT 1`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Name() string { return "store" }

// Report implements Sink.
func (s *Store) Report(ctx context.Context, c CountChange) error {
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}

	if c.Reason == ReasonCrossing {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO crossings (id, worker, direction, delta, applied, count_after, at_unix_nano)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Worker, string(c.Direction), c.Delta, c.Applied, int64(c.Count), at.UnixNano())
		if err != nil {
			return fmt.Errorf("insert crossing: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO occupancy_log (reason, count, at_unix_nano) VALUES (?, ?, ?)`,
		string(c.Reason), int64(c.Count), at.UnixNano())
	if err != nil {
		return fmt.Errorf("insert occupancy log: %w", err)
	}
	return nil
}

// CrossingRecord is one row of the crossing log.
type CrossingRecord struct {
	ID        string    `json:"id"`
	Worker    string    `json:"worker"`
	Direction Direction `json:"direction"`
	Delta     int       `json:"delta"`
	Applied   int       `json:"applied"`
	Count     uint64    `json:"count"`
	At        time.Time `json:"at"`
}

// RecentCrossings returns up to limit crossings, newest first.
func (s *Store) RecentCrossings(ctx context.Context, limit int) ([]CrossingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, worker, direction, delta, applied, count_after, at_unix_nano
		 FROM crossings ORDER BY at_unix_nano DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query crossings: %w", err)
	}
	defer rows.Close()

	out := make([]CrossingRecord, 0, limit)
	for rows.Next() {
		var (
			r         CrossingRecord
			direction string
			count     int64
			atNano    int64
		)
		if err := rows.Scan(&r.ID, &r.Worker, &direction, &r.Delta, &r.Applied, &count, &atNano); err != nil {
			return nil, fmt.Errorf("scan crossing: %w", err)
		}
		r.Direction = Direction(direction)
		r.Count = uint64(count)
		r.At = time.Unix(0, atNano).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// CrossingTotals summarizes crossings over a period.
type CrossingTotals struct {
	In      int `json:"in"`
	Out     int `json:"out"`
	Clamped int `json:"clamped"` // decrements that hit the floor
}

// TotalsSince sums crossings at or after since.
func (s *Store) TotalsSince(ctx context.Context, since time.Time) (CrossingTotals, error) {
	var t CrossingTotals
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN direction = 'in' THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN direction = 'out' THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN direction = 'out' AND applied = 0 THEN 1 ELSE 0 END), 0)
		 FROM crossings WHERE at_unix_nano >= ?`, since.UnixNano()).Scan(&t.In, &t.Out, &t.Clamped)
	if err != nil {
		return CrossingTotals{}, fmt.Errorf("query totals: %w", err)
	}
	return t, nil
}

// migrateLogger routes golang-migrate output through slog.
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf("[migrate] "+format, v...))
}

func (l migrateLogger) Verbose() bool { return false }
