package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/daimoniac/depgate/internal/errors"
	"github.com/daimoniac/depgate/internal/types"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements StateStore using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite state store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// _foreign_keys=1: Ensures CASCADE DELETE works properly
	// mode=rwc: Read/Write/Create mode
	// _journal_mode=WAL: Write-Ahead Logging allows concurrent readers and a single writer
	// _busy_timeout=3000: Wait up to 3 seconds when parallel CI jobs share a database
	connStr := dbPath + "?_foreign_keys=1&mode=rwc&_journal_mode=WAL&_busy_timeout=3000"

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.NewTransientf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	// Verify foreign keys are enabled
	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		db.Close()
		return nil, errors.NewTransientf("failed to check foreign keys status: %w", err)
	}
	if fkEnabled != 1 {
		db.Close()
		return nil, errors.NewTransientf("foreign keys are not enabled (got %d, expected 1)", fkEnabled)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewPermanentf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewTransientf("failed to ping sqlite database: %w", err)
	}
	return nil
}

// initSchema creates the database schema with all tables and indexes
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL DEFAULT (cast(strftime('%s', 'now') as integer))
	);

	CREATE TABLE IF NOT EXISTS gate_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		exceptions_file TEXT,
		report_path TEXT,
		duration_ms INTEGER,
		critical_count INTEGER NOT NULL,
		high_count INTEGER NOT NULL,
		other_count INTEGER NOT NULL,
		excepted_count INTEGER NOT NULL,
		expired_rules INTEGER NOT NULL,
		review_required_rules INTEGER NOT NULL,
		passed BOOLEAN NOT NULL,
		reason TEXT,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS actionable_findings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		cve_id TEXT NOT NULL,
		package_name TEXT NOT NULL,
		severity TEXT NOT NULL,
		score REAL NOT NULL,
		tier TEXT NOT NULL,
		description TEXT,
		FOREIGN KEY (run_id) REFERENCES gate_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS excepted_findings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		cve_id TEXT NOT NULL,
		package_name TEXT NOT NULL,
		severity TEXT NOT NULL,
		score REAL NOT NULL,
		justification TEXT,
		approved_by TEXT,
		expires_at INTEGER,
		FOREIGN KEY (run_id) REFERENCES gate_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_gate_runs_project ON gate_runs(project_id);
	CREATE INDEX IF NOT EXISTS idx_gate_runs_created ON gate_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_actionable_findings_run ON actionable_findings(run_id);
	CREATE INDEX IF NOT EXISTS idx_actionable_findings_cve ON actionable_findings(cve_id);
	CREATE INDEX IF NOT EXISTS idx_excepted_findings_run ON excepted_findings(run_id);
	CREATE INDEX IF NOT EXISTS idx_excepted_findings_cve ON excepted_findings(cve_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordRun saves a gate run with its findings in a transaction and sets record.ID
func (s *SQLiteStore) RecordRun(ctx context.Context, record *RunRecord) error {
	if record == nil {
		return errors.NewPermanentf("run record is required: %w", errors.ErrInvalidInput)
	}
	if record.Project == "" {
		return errors.NewPermanentf("run record has no project: %w", errors.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Create or get project by name
	var projectID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM projects WHERE name = ?
	`, record.Project).Scan(&projectID)
	if err == sql.ErrNoRows {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO projects (name) VALUES (?)
		`, record.Project)
		if err != nil {
			return errors.NewTransientf("failed to insert project: %w", err)
		}
		projectID, err = result.LastInsertId()
		if err != nil {
			return errors.NewTransientf("failed to get project ID: %w", err)
		}
	} else if err != nil {
		return errors.NewTransientf("failed to query project: %w", err)
	}

	runAt := record.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO gate_runs (
			project_id, exceptions_file, report_path, duration_ms,
			critical_count, high_count, other_count, excepted_count,
			expired_rules, review_required_rules,
			passed, reason, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		projectID, record.ExceptionsFile, record.ReportPath, record.DurationMs,
		record.CriticalCount, record.HighCount, record.OtherCount, record.ExceptedCount,
		record.ExpiredRules, record.ReviewRequiredRules,
		record.Passed, record.Reason, record.ErrorMessage, runAt.Unix(),
	)
	if err != nil {
		return errors.NewTransientf("failed to insert gate run: %w", err)
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return errors.NewTransientf("failed to get gate run ID: %w", err)
	}

	if len(record.Actionable) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO actionable_findings (
				run_id, cve_id, package_name, severity, score, tier, description
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return errors.NewTransientf("failed to prepare actionable finding statement: %w", err)
		}
		defer stmt.Close()

		for _, f := range record.Actionable {
			if _, err := stmt.ExecContext(ctx, runID, f.CVEID, f.Package, f.Severity, f.Score, f.Tier, f.Description); err != nil {
				return errors.NewTransientf("failed to insert actionable finding: %w", err)
			}
		}
	}

	if len(record.Excepted) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO excepted_findings (
				run_id, cve_id, package_name, severity, score, justification, approved_by, expires_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return errors.NewTransientf("failed to prepare excepted finding statement: %w", err)
		}
		defer stmt.Close()

		for _, f := range record.Excepted {
			var expiresAt sql.NullInt64
			if f.ExpiresAt != nil {
				expiresAt = sql.NullInt64{Int64: *f.ExpiresAt, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, runID, f.CVEID, f.Package, f.Severity, f.Score, f.Justification, f.ApprovedBy, expiresAt); err != nil {
				return errors.NewTransientf("failed to insert excepted finding: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransientf("failed to commit transaction: %w", err)
	}

	record.ID = runID
	return nil
}

const runColumns = `
	gr.id, p.name, gr.exceptions_file, gr.report_path, gr.duration_ms,
	gr.critical_count, gr.high_count, gr.other_count, gr.excepted_count,
	gr.expired_rules, gr.review_required_rules,
	gr.passed, gr.reason, gr.error_message, gr.created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var record RunRecord
	var exceptionsFile, reportPath, reason, errorMessage sql.NullString
	var durationMs sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&record.ID, &record.Project, &exceptionsFile, &reportPath, &durationMs,
		&record.CriticalCount, &record.HighCount, &record.OtherCount, &record.ExceptedCount,
		&record.ExpiredRules, &record.ReviewRequiredRules,
		&record.Passed, &reason, &errorMessage, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	record.ExceptionsFile = exceptionsFile.String
	record.ReportPath = reportPath.String
	record.DurationMs = durationMs.Int64
	record.Reason = reason.String
	record.ErrorMessage = errorMessage.String
	record.RunAt = time.Unix(createdAt, 0).UTC()
	return &record, nil
}

// GetLastRun retrieves the most recent run for a project with its findings
func (s *SQLiteStore) GetLastRun(ctx context.Context, project string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM gate_runs gr
		JOIN projects p ON gr.project_id = p.id
		WHERE p.name = ?
		ORDER BY gr.created_at DESC, gr.id DESC
		LIMIT 1
	`, project)

	record, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query gate run: %w", err)
	}

	if record.Actionable, err = s.loadActionableFindings(ctx, record); err != nil {
		return nil, err
	}
	if record.Excepted, err = s.loadExceptedFindings(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// ListRuns returns run records matching the filter, newest first. Findings are not loaded.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	query := `
		SELECT ` + runColumns + `
		FROM gate_runs gr
		JOIN projects p ON gr.project_id = p.id
		WHERE 1=1
	`
	var args []interface{}

	if filter.Project != "" {
		query += " AND p.name = ?"
		args = append(args, filter.Project)
	}
	if filter.Passed != nil {
		query += " AND gr.passed = ?"
		args = append(args, *filter.Passed)
	}

	query += " ORDER BY gr.created_at DESC, gr.id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to query gate runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, errors.NewTransientf("failed to scan gate run: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating rows: %w", err)
	}

	return records, nil
}

func (s *SQLiteStore) loadActionableFindings(ctx context.Context, run *RunRecord) ([]types.FindingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cve_id, package_name, severity, score, tier, description
		FROM actionable_findings
		WHERE run_id = ?
		ORDER BY id ASC
	`, run.ID)
	if err != nil {
		return nil, errors.NewTransientf("failed to query actionable findings: %w", err)
	}
	defer rows.Close()

	var findings []types.FindingRecord
	for rows.Next() {
		var f types.FindingRecord
		var description sql.NullString
		if err := rows.Scan(&f.CVEID, &f.Package, &f.Severity, &f.Score, &f.Tier, &description); err != nil {
			return nil, errors.NewTransientf("failed to scan actionable finding: %w", err)
		}
		f.Description = description.String
		f.RecordedAt = run.RunAt.Unix()
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating actionable findings: %w", err)
	}

	return findings, nil
}

func (s *SQLiteStore) loadExceptedFindings(ctx context.Context, run *RunRecord) ([]types.ExceptedFindingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cve_id, package_name, severity, score, justification, approved_by, expires_at
		FROM excepted_findings
		WHERE run_id = ?
		ORDER BY id ASC
	`, run.ID)
	if err != nil {
		return nil, errors.NewTransientf("failed to query excepted findings: %w", err)
	}
	defer rows.Close()

	var findings []types.ExceptedFindingRecord
	for rows.Next() {
		var f types.ExceptedFindingRecord
		var justification, approvedBy sql.NullString
		var expiresAt sql.NullInt64
		if err := rows.Scan(&f.CVEID, &f.Package, &f.Severity, &f.Score, &justification, &approvedBy, &expiresAt); err != nil {
			return nil, errors.NewTransientf("failed to scan excepted finding: %w", err)
		}
		f.Justification = justification.String
		f.ApprovedBy = approvedBy.String
		if expiresAt.Valid {
			v := expiresAt.Int64
			f.ExpiresAt = &v
		}
		f.ExceptedAt = run.RunAt.Unix()
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating excepted findings: %w", err)
	}

	return findings, nil
}

// executeCleanup runs operation inside a transaction
func (s *SQLiteStore) executeCleanup(ctx context.Context, operation func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientf("failed to begin cleanup transaction: %w", err)
	}
	defer tx.Rollback()

	if err := operation(tx); err != nil {
		return err // Error already classified by operation
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransientf("failed to commit cleanup transaction: %w", err)
	}

	return nil
}

// CleanupExcessRuns removes old runs for a project, keeping only the most recent N.
// Findings of removed runs are deleted by cascade.
func (s *SQLiteStore) CleanupExcessRuns(ctx context.Context, project string, maxRunsToKeep int) error {
	if maxRunsToKeep <= 0 {
		return errors.NewPermanentf("maxRunsToKeep must be positive, got %d", maxRunsToKeep)
	}

	return s.executeCleanup(ctx, func(tx *sql.Tx) error {
		var projectID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM projects WHERE name = ?`, project).Scan(&projectID)
		if err == sql.ErrNoRows {
			// Nothing recorded for this project yet
			return nil
		}
		if err != nil {
			return errors.NewTransientf("failed to query project for cleanup: %w", err)
		}

		// Get run IDs to keep (most recent N runs)
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM gate_runs
			WHERE project_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, projectID, maxRunsToKeep)
		if err != nil {
			return errors.NewTransientf("failed to query runs to keep: %w", err)
		}
		defer rows.Close()

		var keepRunIDs []int64
		for rows.Next() {
			var runID int64
			if err := rows.Scan(&runID); err != nil {
				return errors.NewTransientf("failed to scan keep run ID: %w", err)
			}
			keepRunIDs = append(keepRunIDs, runID)
		}
		if err := rows.Err(); err != nil {
			return errors.NewTransientf("error iterating keep run IDs: %w", err)
		}

		// If we have fewer runs than the limit, nothing to clean up
		if len(keepRunIDs) < maxRunsToKeep {
			return nil
		}

		placeholders := make([]string, len(keepRunIDs))
		args := make([]interface{}, len(keepRunIDs)+1)
		args[0] = projectID
		for i, runID := range keepRunIDs {
			placeholders[i] = "?"
			args[i+1] = runID
		}

		deleteQuery := fmt.Sprintf(`
			DELETE FROM gate_runs
			WHERE project_id = ? AND id NOT IN (%s)
		`, strings.Join(placeholders, ","))

		if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
			return errors.NewTransientf("failed to delete excess gate runs: %w", err)
		}

		return nil
	})
}
