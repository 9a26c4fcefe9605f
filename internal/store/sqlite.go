package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailprint/internal/model"
)

// SQLiteStore implements Journal using a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ Journal = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// StartRun inserts an open run record.
func (s *SQLiteStore) StartRun(ctx context.Context) (model.RunRecord, error) {
	run := model.RunRecord{
		ID:        uuid.New().String(),
		StartedAt: s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, started_at) VALUES (?, ?)",
		run.ID, run.StartedAt,
	)
	if err != nil {
		return model.RunRecord{}, fmt.Errorf("starting run: %w", err)
	}

	return run, nil
}

// FinishRun closes a run record with its final counters.
func (s *SQLiteStore) FinishRun(ctx context.Context, run model.RunRecord) error {
	finished := s.now().UTC()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?, messages = ?, printed = ?, failed = ?, fatal_error = ?
		WHERE id = ?`,
		finished, run.Messages, run.Printed, run.Failed, run.FatalError,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("finishing run %s: not found", run.ID)
	}
	return nil
}

// RecordConversion appends one attachment outcome.
func (s *SQLiteStore) RecordConversion(ctx context.Context, rec model.ConversionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversions (
			id, run_id, message_id, filename, digest,
			strategy, outcome, reason, output, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.MessageID, rec.Filename, rec.Digest,
		rec.Strategy, rec.Outcome, rec.Reason, rec.Output, rec.Duration,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording conversion of %s: %w", rec.Filename, err)
	}
	return nil
}

// RecordPrint appends one print outcome.
func (s *SQLiteStore) RecordPrint(ctx context.Context, rec model.PrintRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prints (id, run_id, path, printer, success, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Path, rec.Printer,
		boolToInt(rec.Success), rec.Reason, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording print of %s: %w", rec.Path, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, messages, printed, failed, fatal_error
		FROM runs ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var runs []model.RunRecord
	if err := s.db.SelectContext(ctx, &runs, query); err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	return runs, nil
}

// RunConversions returns the conversion outcomes of a run.
func (s *SQLiteStore) RunConversions(ctx context.Context, runID string) ([]model.ConversionRecord, error) {
	var recs []model.ConversionRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT id, run_id, message_id, filename, digest, strategy,
			outcome, reason, output, duration_ms, created_at
		FROM conversions WHERE run_id = ? ORDER BY rowid`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying conversions for run %s: %w", runID, err)
	}
	return recs, nil
}

// RunPrints returns the print outcomes of a run.
func (s *SQLiteStore) RunPrints(ctx context.Context, runID string) ([]model.PrintRecord, error) {
	var recs []model.PrintRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT id, run_id, path, printer, success, reason, created_at
		FROM prints WHERE run_id = ? ORDER BY rowid`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying prints for run %s: %w", runID, err)
	}
	return recs, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
