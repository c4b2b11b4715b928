package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotpairs/pkg/analysis"
	"spotpairs/pkg/filter"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestDefaultConfigMatchesAnalysisDefaults(t *testing.T) {
	want := analysis.DefaultParams()
	want.Seed = 1
	if diff := cmp.Diff(want, DefaultConfig().AnalysisParams()); diff != "" {
		t.Errorf("AnalysisParams() mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "spotpairs.yaml")

	cfg := DefaultConfig()
	cfg.Pairing.MaxDistance = 250
	cfg.Tracking.BridgeGaps = true
	cfg.Filter.Enabled = true
	cfg.Filter.NrQuadrants = 9
	cfg.Fitting.SingleFrames = true
	cfg.Fitting.RegistrationError = 12.5
	cfg.Output.Database = "results.db"

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	data := "pairing:\n  maxDistance: 42\nfitting:\n  bootstrap: true\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	p := cfg.AnalysisParams()
	assert.Equal(t, 42.0, p.MaxDistance)
	assert.True(t, p.Bootstrap)
	assert.True(t, p.P2D)
	assert.Equal(t, 1000, p.BootstrapRuns)
	assert.Equal(t, 1, p.Filter.NrQuadrants)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"quadrants", "filter:\n  enabled: true\n  nrQuadrants: 5\n", filter.ErrInvalidQuadrants},
		{"distance", "pairing:\n  maxDistance: 0\n", analysis.ErrInvalidParams},
		{"bootstrap", "fitting:\n  bootstrapRuns: -1\n", ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			cfg, err := LoadConfig(path)
			assert.Nil(t, cfg)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pairing: [1, 2"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "error parsing config file")
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "maxDistance: 100")
	assert.Contains(t, string(data), "nrQuadrants: 1")
}
