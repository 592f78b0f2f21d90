package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/activity"
	"github.com/joshdurbin/strava-runstats/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite keeps the snapshot in a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	log := logging.Logger

	log.Debug().Str("path", path).Msg("opening snapshot database")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring SQLite: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	log := logging.Logger

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	for _, r := range results {
		log.Debug().Int64("version", r.Source.Version).Str("path", r.Source.Path).Msg("migration applied")
	}
	return nil
}

// configureSQLite enables WAL and a busy timeout, and pins the pool to one
// connection.
func configureSQLite(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("setting synchronous mode: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot in a single transaction.
func (s *SQLite) Save(ctx context.Context, table activity.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM runs"); err != nil {
		return fmt.Errorf("clearing runs: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO runs
		(position, distance, average_speed, average_heartrate, average_cadence, start_date)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range table {
		hr := sql.NullFloat64{Float64: r.AverageHeartrate, Valid: r.HasHeartrate()}
		if _, err := stmt.ExecContext(ctx, i, r.Distance, r.AverageSpeed, hr, r.AverageCadence, r.StartDate); err != nil {
			return fmt.Errorf("saving run %d (%s): %w", i, r.StartDate, err)
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO snapshot (id, fetched_at, run_count) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET fetched_at = excluded.fetched_at, run_count = excluded.run_count`,
		s.now().Unix(), len(table))
	if err != nil {
		return fmt.Errorf("recording snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	logging.Debug("snapshot saved", "store", "sqlite", "runs", len(table))
	return nil
}

// Load returns the stored runs in their saved order.
func (s *SQLite) Load(ctx context.Context) (activity.Table, error) {
	if _, err := s.FetchedAt(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT distance, average_speed, average_heartrate, average_cadence, start_date
		FROM runs ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var table activity.Table
	for rows.Next() {
		var r activity.Record
		var hr sql.NullFloat64
		if err := rows.Scan(&r.Distance, &r.AverageSpeed, &hr, &r.AverageCadence, &r.StartDate); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.AverageHeartrate = math.NaN()
		if hr.Valid {
			r.AverageHeartrate = hr.Float64
		}
		table = append(table, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return table, nil
}

// FetchedAt reports when the current snapshot was saved.
func (s *SQLite) FetchedAt(ctx context.Context) (time.Time, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, "SELECT fetched_at FROM snapshot WHERE id = 1").Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading snapshot metadata: %w", err)
	}
	return time.Unix(ts, 0).UTC(), nil
}
