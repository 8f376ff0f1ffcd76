// Package store persists prediction runs in a SQLite database
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/thanadol-git/deep-mrm-KTH/internal/report"
)

// Run describes one prediction run
type Run struct {
	ID            string
	InputPath     string
	Experiment    string
	ModelDir      string
	ScoreThresh   float64
	NMSThresh     float64
	QualityThresh float64
	CreatedAt     time.Time
}

// Store writes runs to a SQLite database file
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		input_path TEXT NOT NULL,
		experiment TEXT NOT NULL,
		model_dir TEXT,
		score_thresh DOUBLE,
		nms_thresh DOUBLE,
		quality_thresh DOUBLE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS candidates (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		peptide_id TEXT NOT NULL,
		candidate_rank INTEGER NOT NULL,
		rt_start_in_seconds DOUBLE,
		rt_end_in_seconds DOUBLE,
		boundary_score DOUBLE,
		quantification_score DOUBLE,
		selected_transitions TEXT,
		light_area DOUBLE,
		light_background DOUBLE,
		heavy_area DOUBLE,
		heavy_background DOUBLE,
		PRIMARY KEY (run_id, peptide_id, candidate_rank)
	);

	CREATE TABLE IF NOT EXISTS top1 (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		peptide_id TEXT NOT NULL,
		rt_start_in_seconds DOUBLE,
		rt_end_in_seconds DOUBLE,
		light_area DOUBLE,
		heavy_area DOUBLE,
		boundary_score DOUBLE,
		quantification_score DOUBLE,
		PRIMARY KEY (run_id, peptide_id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// SaveRun stores a run with all its results in one transaction. A run
// without ID gets a new random one; the ID is returned.
func (s *Store) SaveRun(run Run, results []report.PeptideResult) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	if err := saveRun(tx, run, results); err != nil {
		tx.Rollback()
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return run.ID, nil
}

func saveRun(tx *sql.Tx, run Run, results []report.PeptideResult) error {
	if _, err := tx.Exec(`
		INSERT INTO runs (run_id, input_path, experiment, model_dir,
			score_thresh, nms_thresh, quality_thresh, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.InputPath, run.Experiment, run.ModelDir,
		run.ScoreThresh, run.NMSThresh, run.QualityThresh,
		run.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	candStmt, err := tx.Prepare(`
		INSERT INTO candidates (run_id, peptide_id, candidate_rank, rt_start_in_seconds,
			rt_end_in_seconds, boundary_score, quantification_score,
			selected_transitions, light_area, light_background, heavy_area,
			heavy_background)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare candidate statement: %w", err)
	}
	defer candStmt.Close()
	for _, r := range results {
		for rank, c := range r.Candidates {
			sel := make([]string, len(c.Selected))
			for i, x := range c.Selected {
				sel[i] = fmt.Sprint(x)
			}
			if _, err := candStmt.Exec(run.ID, r.PeptideID, rank, c.RTStart, c.RTEnd,
				c.Score, c.QuantificationScore, strings.Join(sel, ";"),
				c.LightArea, c.LightBackground, c.HeavyArea, c.HeavyBackground); err != nil {
				return fmt.Errorf("failed to insert candidate %s/%d: %w", r.PeptideID, rank, err)
			}
		}
	}

	topStmt, err := tx.Prepare(`
		INSERT INTO top1 (run_id, peptide_id, rt_start_in_seconds,
			rt_end_in_seconds, light_area, heavy_area, boundary_score,
			quantification_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare top1 statement: %w", err)
	}
	defer topStmt.Close()
	for _, t := range report.Top1Rows(results) {
		if _, err := topStmt.Exec(run.ID, t.PeptideID, t.RTStart, t.RTEnd,
			t.LightArea, t.HeavyArea, t.BoundaryScore, t.QuantificationScore); err != nil {
			return fmt.Errorf("failed to insert top1 row %s: %w", t.PeptideID, err)
		}
	}
	return nil
}

// Top1 returns the top-1 rows of a run ordered by peptide id
func (s *Store) Top1(runID string) ([]report.Top1, error) {
	rows, err := s.db.Query(`
		SELECT peptide_id, rt_start_in_seconds, rt_end_in_seconds, light_area,
			heavy_area, boundary_score, quantification_score
		FROM top1 WHERE run_id = ? ORDER BY peptide_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []report.Top1
	for rows.Next() {
		var t report.Top1
		if err := rows.Scan(&t.PeptideID, &t.RTStart, &t.RTEnd, &t.LightArea,
			&t.HeavyArea, &t.BoundaryScore, &t.QuantificationScore); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// Runs returns all stored runs, oldest first
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, input_path, experiment, model_dir, score_thresh,
			nms_thresh, quality_thresh, created_at
		FROM runs ORDER BY created_at, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var r Run
		var created string
		if err := rows.Scan(&r.ID, &r.InputPath, &r.Experiment, &r.ModelDir,
			&r.ScoreThresh, &r.NMSThresh, &r.QualityThresh, &created); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CountCandidates returns the number of candidate rows of a run
func (s *Store) CountCandidates(runID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM candidates WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}
