package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotpairs/internal/models"
	"spotpairs/pkg/analysis"
	"spotpairs/pkg/pairing"
)

const spotsCSV = `Position,Frame,Channel,Slice,X,Y,X_Center,Y_Center,Sigma,Intensity
0,1,1,1,10,20,1000.5,2000.25,12,340
0,1,2,1,10,20,1005.5,2000.25,,
1,2,2,3,4,5,400,500,8.5,12.5
`

func TestReadSpotsCSV(t *testing.T) {
	ds, err := ReadSpotsCSV(strings.NewReader(spotsCSV), 7, "cells")
	require.NoError(t, err)

	want := models.Dataset{
		ID:          7,
		Name:        "cells",
		NrChannels:  2,
		NrFrames:    2,
		NrPositions: 2,
		Spots: []models.LocalizedSpot{
			{Position: 0, Frame: 1, Channel: 1, Slice: 1, X: 10, Y: 20, XCenter: 1000.5, YCenter: 2000.25,
				Sigma: 12, HasSigma: true, Extra: map[string]float64{"intensity": 340}},
			{Position: 0, Frame: 1, Channel: 2, Slice: 1, X: 10, Y: 20, XCenter: 1005.5, YCenter: 2000.25},
			{Position: 1, Frame: 2, Channel: 2, Slice: 3, X: 4, Y: 5, XCenter: 400, YCenter: 500,
				Sigma: 8.5, HasSigma: true, Extra: map[string]float64{"intensity": 12.5}},
		},
	}
	if diff := cmp.Diff(want, ds); diff != "" {
		t.Errorf("ReadSpotsCSV() mismatch (-want +got):\n%s", diff)
	}
}

func TestReadSpotsCSVOptionalColumns(t *testing.T) {
	in := "frame,channel,x_center,y_center\n3,1,1.5,2.5\n"
	ds, err := ReadSpotsCSV(strings.NewReader(in), 1, "minimal")
	require.NoError(t, err)
	require.Len(t, ds.Spots, 1)

	s := ds.Spots[0]
	assert.Equal(t, 0, s.Position)
	assert.Equal(t, 3, s.Frame)
	assert.False(t, s.HasSigma)
	assert.Equal(t, 1, ds.NrPositions)
	assert.Equal(t, 3, ds.NrFrames)
}

func TestReadSpotsCSVErrors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		missing bool
		msg     string
	}{
		{"no header", "", false, "error reading header"},
		{"missing column", "frame,channel,x_center\n1,1,2\n", true, `"y_center"`},
		{"empty required cell", "frame,channel,x_center,y_center\n1,,2,3\n", true, "line 2"},
		{"bad number", "frame,channel,x_center,y_center\n1,1,abc,3\n", false, `line 2: column "x_center"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSpotsCSV(strings.NewReader(tt.in), 1, "bad")
			require.Error(t, err)
			assert.Equal(t, tt.missing, errors.Is(err, ErrMissingColumn))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestReadSpotsFileNamesDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment-3.csv")
	require.NoError(t, os.WriteFile(path, []byte(spotsCSV), 0644))

	ds, err := ReadSpotsFile(path, 4)
	require.NoError(t, err)
	assert.Equal(t, "experiment-3", ds.Name)
	assert.Equal(t, 4, ds.ID)
	assert.Len(t, ds.Spots, 3)

	_, err = ReadSpotsFile(filepath.Join(t.TempDir(), "none.csv"), 1)
	assert.ErrorContains(t, err, "error opening spot file")
}

func readAll(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	records, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWritePairsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WritePairsCSV(&buf, []analysis.PairRow{
		{Frame: 1, Slice: 2, Channel1: 1, Channel2: 2, Position: 0, XPix1: 3, YPix1: 4,
			X1: 1, Y1: 2, X2: 4, Y2: 6, Distance: 5, Orientation: 0.5},
		{Frame: 2, Channel1: 1, Channel2: 2, Sigma1: 3, Sigma2: 4, HasSigma: true, Distance: 1},
	})
	require.NoError(t, err)

	records := readAll(t, &buf)
	require.Len(t, records, 3)
	assert.Equal(t, "distance", records[0][13])
	assert.Equal(t, "5.0000", records[1][13])
	assert.Equal(t, "", records[1][11])
	assert.Equal(t, "3.0000", records[2][11])
	assert.Equal(t, "4.0000", records[2][12])
}

func TestWriteTracksCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTracksCSV(&buf, []pairing.TrackSummary{
		{RowID: 1, TrackID: 2, Frame: 1, Channel1: 1, Channel2: 2, N: 3,
			DistanceAvg: 5, DistanceUncertainty: 7, HasUncertainty: true, VectorDistance: 5},
		{RowID: 1, TrackID: 3, N: 1},
	})
	require.NoError(t, err)

	records := readAll(t, &buf)
	require.Len(t, records, 3)
	assert.Len(t, records[0], 14)
	assert.Equal(t, []string{"1", "2", "1", "0", "1", "2", "0", "0", "0", "3",
		"5.0000", "0.0000", "7.0000", "5.0000"}, records[1])
	assert.Equal(t, "", records[2][12])
}

func TestWriteFitsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFitsCSV(&buf, []analysis.FitRow{
		{MaxDistance: 100, DatasetName: "a", Channel1: 1, Channel2: 2, VectorDistances: true,
			FitSigma: true, N: 10, Mu: 50, Sigma: 5, BootstrapMu: 49.5, BootstrapStdDev: 0.5, Bootstrapped: true},
		{DatasetName: "b", Channel1: 1, Channel2: 3, SigmaFromData: true, StdDev: 0.25, HasStdDev: true},
	})
	require.NoError(t, err)

	records := readAll(t, &buf)
	require.Len(t, records, 3)
	assert.Equal(t, "multi-frame", records[1][4])
	assert.Equal(t, "fit", records[1][5])
	assert.Equal(t, "", records[1][12])
	assert.Equal(t, "49.5000", records[1][14])
	assert.Equal(t, "single-frame", records[2][4])
	assert.Equal(t, "data", records[2][5])
	assert.Equal(t, "0.2500", records[2][12])
	assert.Equal(t, "", records[2][14])
}

func TestWriteRegistrationsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRegistrationsCSV(&buf, []analysis.RegistrationRow{
		{Channel1: 1, Channel2: 2, N: 5, XError: -3, YError: 4, CombinedError: 5},
	})
	require.NoError(t, err)

	records := readAll(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"1", "2", "5", "-3.0000", "0.0000", "4.0000", "0.0000", "5.0000"}, records[1])
}

func TestWriteSpotsCSVRoundTrip(t *testing.T) {
	in, err := ReadSpotsCSV(strings.NewReader(spotsCSV), 7, "cells")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSpotsCSV(&buf, in.Spots))

	out, err := ReadSpotsCSV(&buf, 7, "cells")
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
