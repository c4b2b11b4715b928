// Package store persists analysis reports in a SQLite database.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"spotpairs/pkg/analysis"
)

// ErrRunNotFound is returned when no run has the requested ID
var ErrRunNotFound = errors.New("store: run not found")

// schema.sql holds the tables for runs, datasets, pairs, tracks, fits and
// advisories.
//
//go:embed schema.sql
var schemaSQL string

// ResultStore provides persistence for analysis reports.
type ResultStore struct {
	db *sql.DB
}

// Run is a stored analysis run
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Params     analysis.Params
	Datasets   int
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*ResultStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	// One connection keeps ":memory:" databases and foreign keys consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Printf("[store] opened result store %s", path)
	return &ResultStore{db: db}, nil
}

// Close closes the database.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

func nullable(v float64, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

// SaveReport stores a report in a single transaction. A report with the
// same run ID replaces the earlier one.
func (s *ResultStore) SaveReport(ctx context.Context, r *analysis.Report) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	runID := r.RunID.String()
	for _, table := range []string{"advisories", "fits", "tracks", "pairs", "datasets", "analysis_runs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("replace run: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO analysis_runs (run_id, started_at, finished_at, params_json)
		VALUES (?, ?, ?, ?)`,
		runID, r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(), string(params))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, row := range r.Rows {
		if err := saveRow(ctx, tx, runID, row); err != nil {
			return fmt.Errorf("dataset %d: %w", row.DatasetID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func saveRow(ctx context.Context, tx *sql.Tx, runID string, row analysis.RowReport) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO datasets (run_id, dataset_id, name, analyzed, nr_pairs, nr_tracks)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, row.DatasetID, row.DatasetName, row.Analyzed.Name, row.NrPairs, row.NrTracks)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}

	for i, p := range row.Pairs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pairs (
				run_id, dataset_id, seq, frame, slice, channel_1, channel_2, position,
				x_pix_1, y_pix_1, x_1, y_1, x_2, y_2, sigma_1, sigma_2, distance, orientation
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, row.DatasetID, i, p.Frame, p.Slice, p.Channel1, p.Channel2, p.Position,
			p.XPix1, p.YPix1, p.X1, p.Y1, p.X2, p.Y2,
			nullable(p.Sigma1, p.HasSigma), nullable(p.Sigma2, p.HasSigma), p.Distance, p.Orientation)
		if err != nil {
			return fmt.Errorf("insert pair %d: %w", i, err)
		}
	}

	for _, t := range row.Tracks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tracks (
				run_id, row_id, track_id, frame, slice, channel_1, channel_2, position,
				x_pix, y_pix, n, distance_avg, distance_stddev, distance_uncertainty, vector_distance
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, t.RowID, t.TrackID, t.Frame, t.Slice, t.Channel1, t.Channel2, t.Position,
			t.XPix, t.YPix, t.N, t.DistanceAvg, t.DistanceStdDev,
			nullable(t.DistanceUncertainty, t.HasUncertainty), t.VectorDistance)
		if err != nil {
			return fmt.Errorf("insert track %d: %w", t.TrackID, err)
		}
	}

	for _, f := range row.Fits {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fits (
				run_id, dataset_id, dataset_name, channel_1, channel_2, max_distance,
				vector_distances, fit_sigma, sigma_from_data, registration_error,
				n, frames, positions, mu, sigma, stddev, gaussian_mean,
				bootstrap_mu, bootstrap_stddev
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, row.DatasetID, f.DatasetName, f.Channel1, f.Channel2, f.MaxDistance,
			f.VectorDistances, f.FitSigma, f.SigmaFromData, f.RegistrationError,
			f.N, f.Frames, f.Positions, f.Mu, f.Sigma, nullable(f.StdDev, f.HasStdDev), f.GaussianMean,
			nullable(f.BootstrapMu, f.Bootstrapped), nullable(f.BootstrapStdDev, f.Bootstrapped))
		if err != nil {
			return fmt.Errorf("insert fit %d/%d: %w", f.Channel1, f.Channel2, err)
		}
	}

	for _, a := range row.Advisories {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO advisories (run_id, dataset_id, kind, position, frame, channel, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, a.DatasetID, a.Kind.String(), a.Position, a.Frame, a.Channel, a.Message)
		if err != nil {
			return fmt.Errorf("insert advisory: %w", err)
		}
	}
	return nil
}

// ListRuns returns all stored runs, most recent first.
func (s *ResultStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.started_at, r.finished_at, r.params_json,
		       (SELECT COUNT(*) FROM datasets d WHERE d.run_id = r.run_id)
		FROM analysis_runs r
		ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run            Run
			id             string
			started, ended int64
			params         sql.NullString
		)
		if err := rows.Scan(&id, &started, &ended, &params, &run.Datasets); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse run id %q: %w", id, err)
		}
		run.StartedAt = time.Unix(0, started)
		run.FinishedAt = time.Unix(0, ended)
		if params.Valid {
			if err := json.Unmarshal([]byte(params.String), &run.Params); err != nil {
				return nil, fmt.Errorf("decode params of run %s: %w", id, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListPairs returns the pairs stored for one dataset of a run, in the order
// they were reported.
func (s *ResultStore) ListPairs(ctx context.Context, runID uuid.UUID, datasetID int) ([]analysis.PairRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame, slice, channel_1, channel_2, position, x_pix_1, y_pix_1,
		       x_1, y_1, x_2, y_2, sigma_1, sigma_2, distance, orientation
		FROM pairs
		WHERE run_id = ? AND dataset_id = ?
		ORDER BY seq`, runID.String(), datasetID)
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	var pairs []analysis.PairRow
	for rows.Next() {
		var (
			p              analysis.PairRow
			sigma1, sigma2 sql.NullFloat64
		)
		err := rows.Scan(
			&p.Frame, &p.Slice, &p.Channel1, &p.Channel2, &p.Position, &p.XPix1, &p.YPix1,
			&p.X1, &p.Y1, &p.X2, &p.Y2, &sigma1, &sigma2, &p.Distance, &p.Orientation,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		p.Sigma1, p.Sigma2 = sigma1.Float64, sigma2.Float64
		p.HasSigma = sigma1.Valid && sigma2.Valid
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// ListFits returns the fits of one run ordered by dataset and channel pair.
// Distances are not stored and come back empty.
func (s *ResultStore) ListFits(ctx context.Context, runID uuid.UUID) ([]analysis.FitRow, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_runs WHERE run_id = ?`, runID.String()).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset_name, channel_1, channel_2, max_distance,
		       vector_distances, fit_sigma, sigma_from_data, registration_error,
		       n, frames, positions, mu, sigma, stddev, gaussian_mean,
		       bootstrap_mu, bootstrap_stddev
		FROM fits
		WHERE run_id = ?
		ORDER BY dataset_id, channel_1, channel_2`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("query fits: %w", err)
	}
	defer rows.Close()

	var fits []analysis.FitRow
	for rows.Next() {
		var (
			f                   analysis.FitRow
			stdDev, bsMu, bsStd sql.NullFloat64
		)
		err := rows.Scan(
			&f.DatasetName, &f.Channel1, &f.Channel2, &f.MaxDistance,
			&f.VectorDistances, &f.FitSigma, &f.SigmaFromData, &f.RegistrationError,
			&f.N, &f.Frames, &f.Positions, &f.Mu, &f.Sigma, &stdDev, &f.GaussianMean,
			&bsMu, &bsStd,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fit: %w", err)
		}
		f.StdDev, f.HasStdDev = stdDev.Float64, stdDev.Valid
		f.BootstrapMu, f.Bootstrapped = bsMu.Float64, bsMu.Valid
		f.BootstrapStdDev = bsStd.Float64
		fits = append(fits, f)
	}
	return fits, rows.Err()
}

// CountAdvisories returns the number of stored advisories of a run per kind.
func (s *ResultStore) CountAdvisories(ctx context.Context, runID uuid.UUID) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM advisories WHERE run_id = ? GROUP BY kind`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("query advisories: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan advisory count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
