// Package store keeps a sqlite record of validation runs and the issues they
// raised, for reporting from the command line.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/unsquare/internal/monitoring"
	"github.com/banshee-data/unsquare/internal/timeutil"
	"github.com/banshee-data/unsquare/internal/validation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Applied values recorded alongside an issue.
const (
	AppliedNone   = ""
	AppliedSquare = "square"
	AppliedTag    = "tag"
)

// Store is an open findings database.
type Store struct {
	*sql.DB
	clock timeutil.Clock
}

// Run is a stored validation run.
type Run struct {
	RunID      string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time // zero until FinishRun
	Counts     RunCounts
}

// Duration returns how long the run took, or 0 if it has not finished.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunCounts summarises a finished run.
type RunCounts struct {
	Candidates int
	Flagged    int
	Squared    int
	Tagged     int
}

// IssueRecord is a stored issue.
type IssueRecord struct {
	IssueID          string
	RunID            string
	EntityID         string
	MaxOffsetDegrees float64
	Deviation        float64
	AutoApplicable   bool
	Hash             string
	Applied          string
}

// Open opens the database at path and migrates it to the latest schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{DB: db, clock: timeutil.RealClock{}}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the underlying connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version, or 0 when none is.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool {
	return false
}

// SetClock replaces the clock used to timestamp runs.
func (s *Store) SetClock(c timeutil.Clock) {
	s.clock = c
}

// StartRun records a new run over source and returns its id.
func (s *Store) StartRun(source string) (string, error) {
	runID := uuid.NewString()
	_, err := s.Exec(`INSERT INTO runs (run_id, source, started_at) VALUES (?, ?, ?)`,
		runID, source, s.clock.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return runID, nil
}

// FinishRun stamps runID as finished with its counts.
func (s *Store) FinishRun(runID string, c RunCounts) error {
	res, err := s.Exec(`
		UPDATE runs
		SET finished_at = ?, candidates = ?, flagged = ?, squared = ?, tagged = ?
		WHERE run_id = ?`,
		s.clock.Now().UTC().Format(time.RFC3339Nano), c.Candidates, c.Flagged, c.Squared, c.Tagged, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to finish run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// GetRun loads runID.
func (s *Store) GetRun(runID string) (Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
	)
	err := s.QueryRow(`
		SELECT run_id, source, started_at, finished_at, candidates, flagged, squared, tagged
		FROM runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.Source, &started, &finished,
		&r.Counts.Candidates, &r.Counts.Flagged, &r.Counts.Squared, &r.Counts.Tagged)
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("bad started_at for run %s: %w", runID, err)
	}
	if finished.Valid {
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
			return Run{}, fmt.Errorf("bad finished_at for run %s: %w", runID, err)
		}
	}
	return r, nil
}

// RecordIssue stores issue under runID. applied names the fix that was
// executed, if any.
func (s *Store) RecordIssue(runID string, issue *validation.Issue, applied string) error {
	if issue == nil {
		return errors.New("nil issue")
	}
	var entityID string
	if len(issue.EntityIDs) > 0 {
		entityID = issue.EntityIDs[0]
	}
	_, err := s.Exec(`
		INSERT INTO issues (
			issue_id, run_id, entity_id, max_offset_degrees, deviation,
			auto_applicable, hash, applied
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, runID, entityID, issue.Verdict.MaxOffsetDegrees, issue.Verdict.Deviation,
		issue.Offer.AutoApplicable, issue.Hash, applied,
	)
	if err != nil {
		return fmt.Errorf("failed to record issue %s: %w", issue.ID, err)
	}
	return nil
}

// ListIssues returns the issues of runID in the order they were recorded.
func (s *Store) ListIssues(runID string) ([]IssueRecord, error) {
	rows, err := s.Query(`
		SELECT issue_id, run_id, entity_id, max_offset_degrees, deviation,
		       auto_applicable, hash, applied
		FROM issues
		WHERE run_id = ?
		ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var out []IssueRecord
	for rows.Next() {
		var r IssueRecord
		if err := rows.Scan(&r.IssueID, &r.RunID, &r.EntityID, &r.MaxOffsetDegrees,
			&r.Deviation, &r.AutoApplicable, &r.Hash, &r.Applied); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
