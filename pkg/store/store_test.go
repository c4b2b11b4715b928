package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotpairs/internal/models"
	"spotpairs/pkg/analysis"
	"spotpairs/pkg/pairing"
)

func openTestStore(t *testing.T) *ResultStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testReport(started time.Time) *analysis.Report {
	params := analysis.DefaultParams()
	params.Bootstrap = true
	return &analysis.Report{
		RunID:      uuid.New(),
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Params:     params,
		Rows: []analysis.RowReport{
			{
				DatasetID:   1,
				DatasetName: "cells",
				Analyzed:    models.Dataset{Name: "cells-Pair-Corrected"},
				NrPairs:     3,
				NrTracks:    1,
				Pairs: []analysis.PairRow{
					{Frame: 1, Slice: 1, Channel1: 1, Channel2: 2, XPix1: 10, YPix1: 20,
						X1: 1000.5, Y1: 2000.25, X2: 1005.5, Y2: 2000.25, Distance: 5},
					{Frame: 2, Channel1: 1, Channel2: 2, X1: 1000, Y1: 2000, X2: 1000, Y2: 2005,
						Sigma1: 3, Sigma2: 4, HasSigma: true, Distance: 5, Orientation: 1},
				},
				Tracks: []pairing.TrackSummary{
					{RowID: 1, TrackID: 1, Frame: 1, Channel1: 1, Channel2: 2, N: 3, DistanceAvg: 5, VectorDistance: 5},
				},
				Fits: []analysis.FitRow{
					{MaxDistance: 100, DatasetName: "cells", Channel1: 1, Channel2: 2, VectorDistances: true,
						FitSigma: true, N: 1, Frames: 3, Positions: 1, Mu: 5, Sigma: 0.5, GaussianMean: 5,
						BootstrapMu: 5.1, BootstrapStdDev: 0.2, Bootstrapped: true,
						Distances: []float64{5}},
				},
				Advisories: []models.Advisory{
					{Kind: models.DataSparsity, DatasetID: 1, Frame: 2, Channel: 2, Message: "no spots"},
				},
			},
			{
				DatasetID:   2,
				DatasetName: "empty",
				Fits: []analysis.FitRow{
					{DatasetName: "empty", Channel1: 1, Channel2: 3, SigmaFromData: true, Mu: 40,
						Sigma: 5, StdDev: 0.8, HasStdDev: true},
					{DatasetName: "empty", Channel1: 1, Channel2: 2, SigmaFromData: true, Mu: 50,
						Sigma: 5},
				},
				Advisories: []models.Advisory{
					{Kind: models.NoPairs, DatasetID: 2, Message: "no pairs"},
					{Kind: models.FitFailure, DatasetID: 2, Message: "fit failed"},
					{Kind: models.FitFailure, DatasetID: 2, Message: "fit failed"},
				},
			},
		},
	}
}

func TestSaveReportAndListFits(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	r := testReport(time.Unix(1700000000, 0))
	require.NoError(t, s.SaveReport(ctx, r))

	fits, err := s.ListFits(ctx, r.RunID)
	require.NoError(t, err)

	want := []analysis.FitRow{
		{MaxDistance: 100, DatasetName: "cells", Channel1: 1, Channel2: 2, VectorDistances: true,
			FitSigma: true, N: 1, Frames: 3, Positions: 1, Mu: 5, Sigma: 0.5, GaussianMean: 5,
			BootstrapMu: 5.1, BootstrapStdDev: 0.2, Bootstrapped: true},
		{DatasetName: "empty", Channel1: 1, Channel2: 2, SigmaFromData: true, Mu: 50, Sigma: 5},
		{DatasetName: "empty", Channel1: 1, Channel2: 3, SigmaFromData: true, Mu: 40, Sigma: 5,
			StdDev: 0.8, HasStdDev: true},
	}
	if diff := cmp.Diff(want, fits); diff != "" {
		t.Errorf("ListFits() mismatch (-want +got):\n%s", diff)
	}

	counts, err := s.CountAdvisories(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"data-sparsity": 1, "no-pairs": 1, "fit-failure": 2}, counts)

	pairs, err := s.ListPairs(ctx, r.RunID, 1)
	require.NoError(t, err)
	if diff := cmp.Diff(r.Rows[0].Pairs, pairs); diff != "" {
		t.Errorf("ListPairs() mismatch (-want +got):\n%s", diff)
	}
	pairs, err = s.ListPairs(ctx, r.RunID, 2)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	older := testReport(time.Unix(1700000000, 0))
	newer := testReport(time.Unix(1700000500, 0))
	require.NoError(t, s.SaveReport(ctx, older))
	require.NoError(t, s.SaveReport(ctx, newer))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, newer.RunID, runs[0].ID)
	assert.Equal(t, older.RunID, runs[1].ID)
	assert.True(t, runs[1].StartedAt.Equal(older.StartedAt))
	assert.True(t, runs[1].FinishedAt.Equal(older.FinishedAt))
	assert.Equal(t, 2, runs[0].Datasets)
	assert.Equal(t, older.Params, runs[1].Params)
}

func TestSaveReportReplacesRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	r := testReport(time.Unix(1700000000, 0))
	require.NoError(t, s.SaveReport(ctx, r))

	r.Rows = r.Rows[:1]
	require.NoError(t, s.SaveReport(ctx, r))

	fits, err := s.ListFits(ctx, r.RunID)
	require.NoError(t, err)
	assert.Len(t, fits, 1)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Datasets)

	counts, err := s.CountAdvisories(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"data-sparsity": 1}, counts)

	r.Rows[0].Pairs = r.Rows[0].Pairs[:1]
	require.NoError(t, s.SaveReport(ctx, r))
	pairs, err := s.ListPairs(ctx, r.RunID, 1)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestListFitsUnknownRun(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ListFits(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")

	s, err := Open(path)
	require.NoError(t, err)
	r := testReport(time.Unix(1700000000, 0))
	require.NoError(t, s.SaveReport(ctx, r))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	fits, err := s.ListFits(ctx, r.RunID)
	require.NoError(t, err)
	assert.Len(t, fits, 3)
}

func TestSaveReportCancelledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := testReport(time.Unix(1700000000, 0))
	assert.Error(t, s.SaveReport(ctx, r))

	runs, err := s.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}
