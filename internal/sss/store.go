// Package sss implements the Shared State Store: durable persistence for
// regions, alerts, analysis runs and model-latest pointers, with
// per-item conditional updates and secondary-index queries. Backed by
// SQLite in WAL mode — single-writer, many-reader, crash-safe.
package sss

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/errs"
)

// Store wraps a SQLite connection holding the system-of-record tables.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/forestshield.db.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "forestshield.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }
func (s *Store) Ping() error  { return s.db.Ping() }

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS regions (
			region_id TEXT PRIMARY KEY,
			body      TEXT NOT NULL,
			status    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id    TEXT PRIMARY KEY,
			region_id   TEXT NOT NULL,
			dedupe_key  TEXT NOT NULL UNIQUE,
			timestamp   INTEGER NOT NULL,
			body        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_region ON alerts(region_id, timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS analysis_runs (
			run_id    TEXT PRIMARY KEY,
			region_id TEXT NOT NULL,
			status    TEXT NOT NULL,
			body      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_region ON analysis_runs(region_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON analysis_runs(status)`,
		// model_pointers is not in spec.md's table list but is required
		// by MLM.save_new_model's conditional "latest" flip — the
		// pointer itself is state, not an object-store artifact.
		`CREATE TABLE IF NOT EXISTS model_pointers (
			tile_id    TEXT NOT NULL,
			region_tag TEXT NOT NULL,
			version    TEXT NOT NULL,
			PRIMARY KEY (tile_id, region_tag)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Regions ─────────────────────────────────────────────────────────────

// PutRegion unconditionally upserts a region.
func (s *Store) PutRegion(ctx context.Context, r domain.Region) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO regions (region_id, body, status) VALUES (?, ?, ?)
		 ON CONFLICT(region_id) DO UPDATE SET body=excluded.body, status=excluded.status`,
		r.RegionID, body, string(r.Status))
	return err
}

// GetRegion returns domain.ErrRegionNotFound if absent.
func (s *Store) GetRegion(ctx context.Context, regionID string) (domain.Region, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM regions WHERE region_id = ?`, regionID).Scan(&body)
	if err == sql.ErrNoRows {
		return domain.Region{}, domain.ErrRegionNotFound
	}
	if err != nil {
		return domain.Region{}, err
	}
	var r domain.Region
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.Region{}, err
	}
	return r, nil
}

func (s *Store) DeleteRegion(ctx context.Context, regionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM regions WHERE region_id = ?`, regionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRegionNotFound
	}
	return nil
}

func (s *Store) ListRegions(ctx context.Context) ([]domain.Region, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM regions ORDER BY region_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Region
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r domain.Region
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRegion performs a read-mutate-write under a transaction so the
// caller's mutate function observes a consistent snapshot; writes
// within the same (single-writer) connection are linearizable per item.
func (s *Store) UpdateRegion(ctx context.Context, regionID string, mutate func(*domain.Region) error) (domain.Region, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Region{}, err
	}
	defer tx.Rollback()

	var body []byte
	err = tx.QueryRowContext(ctx, `SELECT body FROM regions WHERE region_id = ?`, regionID).Scan(&body)
	if err == sql.ErrNoRows {
		return domain.Region{}, domain.ErrRegionNotFound
	}
	if err != nil {
		return domain.Region{}, err
	}
	var r domain.Region
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.Region{}, err
	}
	if err := mutate(&r); err != nil {
		return domain.Region{}, err
	}
	newBody, err := json.Marshal(r)
	if err != nil {
		return domain.Region{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE regions SET body=?, status=? WHERE region_id=?`, newBody, string(r.Status), regionID); err != nil {
		return domain.Region{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Region{}, err
	}
	return r, nil
}

// ─── Alerts ──────────────────────────────────────────────────────────────

// PutAlertIfAbsent inserts the alert only if its dedupe key is unused.
// Returns created=false (no error) when a prior alert already holds the
// key, per the Results Consolidator's idempotence requirement.
func (s *Store) PutAlertIfAbsent(ctx context.Context, a domain.Alert) (created bool, err error) {
	body, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (alert_id, region_id, dedupe_key, timestamp, body)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(dedupe_key) DO NOTHING`,
		a.AlertID, a.RegionID, a.DedupeKey, a.Timestamp.Unix(), body)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM alerts WHERE alert_id = ?`, alertID).Scan(&body)
	if err == sql.ErrNoRows {
		return domain.Alert{}, domain.ErrAlertNotFound
	}
	if err != nil {
		return domain.Alert{}, err
	}
	var a domain.Alert
	if err := json.Unmarshal(body, &a); err != nil {
		return domain.Alert{}, err
	}
	return a, nil
}

func (s *Store) ListAlertsByRegion(ctx context.Context, regionID string, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM alerts WHERE region_id = ? ORDER BY timestamp DESC LIMIT ?`, regionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var a domain.Alert
		if err := json.Unmarshal(body, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AcknowledgeAlert(ctx context.Context, alertID string) error {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM alerts WHERE alert_id = ?`, alertID).Scan(&body)
	if err == sql.ErrNoRows {
		return domain.ErrAlertNotFound
	}
	if err != nil {
		return err
	}
	var a domain.Alert
	if err := json.Unmarshal(body, &a); err != nil {
		return err
	}
	a.Acknowledged = true
	newBody, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE alerts SET body=? WHERE alert_id=?`, newBody, alertID)
	return err
}

// ─── Analysis runs ──────────────────────────────────────────────────────

// PutRun unconditionally upserts a run record — the durable checkpoint
// written before every state transition.
func (s *Store) PutRun(ctx context.Context, r domain.AnalysisRun) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_runs (run_id, region_id, status, body) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET region_id=excluded.region_id, status=excluded.status, body=excluded.body`,
		r.RunID, r.RegionID, string(r.Status), body)
	return err
}

func (s *Store) GetRun(ctx context.Context, runID string) (domain.AnalysisRun, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM analysis_runs WHERE run_id = ?`, runID).Scan(&body)
	if err == sql.ErrNoRows {
		return domain.AnalysisRun{}, domain.ErrRunNotFound
	}
	if err != nil {
		return domain.AnalysisRun{}, err
	}
	var r domain.AnalysisRun
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.AnalysisRun{}, err
	}
	return r, nil
}

// ListRunsInProgress backs AO's crash-recovery scan on startup.
func (s *Store) ListRunsInProgress(ctx context.Context) ([]domain.AnalysisRun, error) {
	return s.listRunsByStatus(ctx, string(domain.RunInProgress))
}

func (s *Store) listRunsByStatus(ctx context.Context, status string) ([]domain.AnalysisRun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM analysis_runs WHERE status = ?`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AnalysisRun
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r domain.AnalysisRun
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListRunsByRegion(ctx context.Context, regionID string, limit int) ([]domain.AnalysisRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM analysis_runs WHERE region_id = ? ORDER BY run_id DESC LIMIT ?`, regionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AnalysisRun
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r domain.AnalysisRun
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HasInProgressRun backs RS's "in-progress skip" firing rule.
func (s *Store) HasInProgressRun(ctx context.Context, regionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM analysis_runs WHERE region_id = ? AND status = ?`,
		regionID, string(domain.RunInProgress)).Scan(&n)
	return n > 0, err
}

// ─── Model latest pointers ───────────────────────────────────────────────

// GetLatestPointer returns the current "latest" version string for a
// (tile_id, region_tag) pair, and whether one exists.
func (s *Store) GetLatestPointer(ctx context.Context, tileID, regionTag string) (string, bool, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM model_pointers WHERE tile_id=? AND region_tag=?`, tileID, regionTag).Scan(&version)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return version, true, nil
}

// CASLatestPointer atomically flips the latest pointer, guarded on the
// previous version matching expectedPrev (empty string means "no prior
// pointer expected"). Returns errs.ErrConditionFailed on mismatch.
func (s *Store) CASLatestPointer(ctx context.Context, tileID, regionTag, expectedPrev, newVersion string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM model_pointers WHERE tile_id=? AND region_tag=?`, tileID, regionTag).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		if expectedPrev != "" {
			return errs.ErrConditionFailed
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO model_pointers (tile_id, region_tag, version) VALUES (?, ?, ?)`,
			tileID, regionTag, newVersion); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if current != expectedPrev {
			return errs.ErrConditionFailed
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE model_pointers SET version=? WHERE tile_id=? AND region_tag=?`,
			newVersion, tileID, regionTag); err != nil {
			return err
		}
	}
	return tx.Commit()
}
