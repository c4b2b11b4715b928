// Package dataset reads localized spot lists from CSV and writes the
// analysis tables back out as CSV.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"spotpairs/internal/models"
)

// ErrMissingColumn is returned when a required spot column is absent
var ErrMissingColumn = errors.New("dataset: missing column")

// Column names understood by ReadSpotsCSV. Matching is case insensitive.
// Columns not listed here are kept in LocalizedSpot.Extra when numeric.
const (
	ColPosition = "position"
	ColFrame    = "frame"
	ColChannel  = "channel"
	ColSlice    = "slice"
	ColX        = "x"
	ColY        = "y"
	ColXCenter  = "x_center"
	ColYCenter  = "y_center"
	ColSigma    = "sigma"
)

var requiredColumns = []string{ColFrame, ColChannel, ColXCenter, ColYCenter}

// ReadSpotsFile reads a spot CSV file. The dataset is named after the file.
func ReadSpotsFile(path string, id int) (models.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Dataset{}, fmt.Errorf("error opening spot file: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ReadSpotsCSV(f, id, name)
}

// ReadSpotsCSV reads one spot per record. The first record is the header.
// NrChannels, NrFrames and NrPositions are taken from the largest values
// seen; the field of view is left at zero so consumers derive it from
// the spots.
func ReadSpotsCSV(r io.Reader, id int, name string) (models.Dataset, error) {
	ds := models.Dataset{ID: id, Name: name}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return ds, fmt.Errorf("error reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.ToLower(strings.TrimSpace(h))
		cols[names[i]] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return ds, fmt.Errorf("%w: %q", ErrMissingColumn, c)
		}
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ds, fmt.Errorf("error reading record: %w", err)
		}

		spot, err := parseSpot(rec, cols, names)
		if err != nil {
			return ds, fmt.Errorf("line %d: %w", line, err)
		}
		ds.Spots = append(ds.Spots, spot)

		ds.NrChannels = max(ds.NrChannels, spot.Channel)
		ds.NrFrames = max(ds.NrFrames, spot.Frame)
		ds.NrPositions = max(ds.NrPositions, spot.Position+1)
	}

	return ds, nil
}

func parseSpot(rec []string, cols map[string]int, names []string) (models.LocalizedSpot, error) {
	var s models.LocalizedSpot
	var err error

	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return "", false
		}
		v := strings.TrimSpace(rec[i])
		return v, v != ""
	}
	intField := func(name string, dst *int) {
		v, ok := field(name)
		if !ok || err != nil {
			return
		}
		var n int
		if n, err = strconv.Atoi(v); err != nil {
			err = fmt.Errorf("column %q: %w", name, err)
			return
		}
		*dst = n
	}
	floatField := func(name string, dst *float64) bool {
		v, ok := field(name)
		if !ok || err != nil {
			return false
		}
		var f float64
		if f, err = strconv.ParseFloat(v, 64); err != nil {
			err = fmt.Errorf("column %q: %w", name, err)
			return false
		}
		*dst = f
		return true
	}

	for _, c := range requiredColumns {
		if _, ok := field(c); !ok {
			return s, fmt.Errorf("%w: empty %q", ErrMissingColumn, c)
		}
	}

	intField(ColPosition, &s.Position)
	intField(ColFrame, &s.Frame)
	intField(ColChannel, &s.Channel)
	intField(ColSlice, &s.Slice)
	intField(ColX, &s.X)
	intField(ColY, &s.Y)
	floatField(ColXCenter, &s.XCenter)
	floatField(ColYCenter, &s.YCenter)
	s.HasSigma = floatField(ColSigma, &s.Sigma)
	if err != nil {
		return s, err
	}

	for i, name := range names {
		if known(name) || i >= len(rec) {
			continue
		}
		f, perr := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if perr != nil {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]float64)
		}
		s.Extra[name] = f
	}

	return s, nil
}

func known(name string) bool {
	switch name {
	case ColPosition, ColFrame, ColChannel, ColSlice, ColX, ColY, ColXCenter, ColYCenter, ColSigma:
		return true
	}
	return false
}

// WriteSpotsCSV writes spots in the layout ReadSpotsCSV reads. Extra
// attributes become trailing columns in name order; spots lacking one get
// an empty cell.
func WriteSpotsCSV(w io.Writer, spots []models.LocalizedSpot) error {
	extraSet := make(map[string]struct{})
	for _, s := range spots {
		for k := range s.Extra {
			extraSet[k] = struct{}{}
		}
	}
	extras := make([]string, 0, len(extraSet))
	for k := range extraSet {
		extras = append(extras, k)
	}
	sort.Strings(extras)

	header := []string{ColPosition, ColFrame, ColChannel, ColSlice, ColX, ColY, ColXCenter, ColYCenter, ColSigma}
	header = append(header, extras...)

	return writeTable(w, header, func(cw *csv.Writer) error {
		for _, s := range spots {
			rec := []string{
				strconv.Itoa(s.Position),
				strconv.Itoa(s.Frame),
				strconv.Itoa(s.Channel),
				strconv.Itoa(s.Slice),
				strconv.Itoa(s.X),
				strconv.Itoa(s.Y),
				strconv.FormatFloat(s.XCenter, 'g', -1, 64),
				strconv.FormatFloat(s.YCenter, 'g', -1, 64),
				"",
			}
			if s.HasSigma {
				rec[8] = strconv.FormatFloat(s.Sigma, 'g', -1, 64)
			}
			for _, k := range extras {
				v, ok := s.Extra[k]
				if !ok {
					rec = append(rec, "")
					continue
				}
				rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}
