package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotpairs/internal/models"
	"spotpairs/pkg/analysis"
	"spotpairs/pkg/config"
)

func testDataset() models.Dataset {
	return models.Dataset{
		ID: 1, Name: "cells", NrChannels: 2, NrFrames: 1, NrPositions: 1, Width: 1000, Height: 1000,
		Spots: []models.LocalizedSpot{
			{Frame: 1, Channel: 1, XCenter: 100, YCenter: 100},
			{Frame: 1, Channel: 2, XCenter: 105, YCenter: 100},
		},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Output.Directory = dir
	cfg.Output.MetricsFile = filepath.Join(dir, "spotpairs.prom")
	cfg.Output.Database = ""
	cfg.Output.Histograms = false
	return cfg
}

func TestExecuteWritesMetricsWhenFilterFails(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	analyzer := analysis.NewAnalyzer(cfg.AnalysisParams(), nil)
	err := execute(ctx, analyzer, []models.Dataset{testDataset()}, cfg, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filter failed")

	data, err := os.ReadFile(cfg.Output.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "spotpairs_")
}

func TestExecuteFilterWritesCorrectedSpots(t *testing.T) {
	cfg := testConfig(t)

	analyzer := analysis.NewAnalyzer(cfg.AnalysisParams(), nil)
	require.NoError(t, execute(context.Background(), analyzer, []models.Dataset{testDataset()}, cfg, true))

	assert.FileExists(t, filepath.Join(cfg.Output.Directory, "cells-Pair-Corrected.csv"))
	assert.FileExists(t, cfg.Output.MetricsFile)
}
