package filter

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"spotpairs/internal/models"
	"spotpairs/pkg/spatial"
)

// OutputSuffix is appended to the name of the filtered dataset
const OutputSuffix = "-Pair-Corrected"

var (
	// ErrInvalidQuadrants is returned when the quadrant count is not the
	// square of a positive integer
	ErrInvalidQuadrants = errors.New("filter: number of quadrants must be a square of an integer")

	// ErrInvalidParams is returned for a non-positive distance cutoff or a
	// negative deviation threshold
	ErrInvalidParams = errors.New("filter: invalid parameters")
)

// ProgressCallback is called once per processed frame
type ProgressCallback func(completed, total int, message string)

// Params holds the filter configuration
type Params struct {
	// MaxDistance is the largest separation (nm) at which a spot in another
	// channel is considered the partner of a last channel spot
	MaxDistance float64

	// DeviationMax is the accepted deviation from the quadrant mean distance,
	// in standard deviations
	DeviationMax float64

	// NrQuadrants is the number of equal cells the field of view is split
	// into. Valid values are 1, 4, 9, 16 and so on.
	NrQuadrants int

	// Progress receives per-frame progress, may be nil
	Progress ProgressCallback
}

// Validate checks the parameters without looking at any data
func (p Params) Validate() error {
	if _, ok := quadrantsPerSide(p.NrQuadrants); !ok {
		return fmt.Errorf("%w: got %d", ErrInvalidQuadrants, p.NrQuadrants)
	}
	if !(p.MaxDistance > 0) {
		return fmt.Errorf("%w: max distance %v must be positive", ErrInvalidParams, p.MaxDistance)
	}
	if p.DeviationMax < 0 || math.IsNaN(p.DeviationMax) {
		return fmt.Errorf("%w: deviation %v must not be negative", ErrInvalidParams, p.DeviationMax)
	}
	return nil
}

func quadrantsPerSide(n int) (int, bool) {
	if n < 1 {
		return 0, false
	}
	side := int(math.Round(math.Sqrt(float64(n))))
	return side, side*side == n
}

// ChannelStats describes the matches of one channel against the last
// channel within one quadrant and frame
type ChannelStats struct {
	Channel           int
	Matches           int
	DistanceAvg       float64
	DistanceStdDev    float64
	OrientationAvg    float64
	OrientationStdDev float64
}

// QuadrantStats collects the per-channel statistics of one quadrant
type QuadrantStats struct {
	Frame    int
	Quadrant int
	Channels []ChannelStats
}

// Result is the outcome of a filter run
type Result struct {
	// Dataset is the derived dataset holding the spots that were kept
	Dataset models.Dataset

	// Advisories lists frames with missing channels
	Advisories []models.Advisory

	// Stats holds the statistics of every quadrant that had last channel
	// spots, ordered by frame and quadrant
	Stats []QuadrantStats
}

// grid maps physical coordinates to quadrant numbers
type grid struct {
	side         int
	cellW, cellH float64
}

// newGrid splits the field of view into side x side cells. A missing width
// or height is taken from the spots along that axis.
func newGrid(ds models.Dataset, side int) grid {
	w, h := ds.Width, ds.Height
	if w <= 0 {
		w = spotExtent(ds.Spots, func(s models.LocalizedSpot) float64 { return s.XCenter })
	}
	if h <= 0 {
		h = spotExtent(ds.Spots, func(s models.LocalizedSpot) float64 { return s.YCenter })
	}
	return grid{side: side, cellW: w / float64(side), cellH: h / float64(side)}
}

// spotExtent returns the smallest extent, at least 1, that holds every
// coordinate of the spots strictly inside it
func spotExtent(spots []models.LocalizedSpot, coord func(models.LocalizedSpot) float64) float64 {
	extent := 1.0
	for _, s := range spots {
		extent = math.Max(extent, math.Nextafter(coord(s), math.Inf(1)))
	}
	return extent
}

// quadrant returns the cell holding p, numbered row by row from the origin
func (g grid) quadrant(p models.Point) (int, bool) {
	qx := int(math.Floor(p.X / g.cellW))
	qy := int(math.Floor(p.Y / g.cellH))
	if qx < 0 || qy < 0 || qx >= g.side || qy >= g.side {
		return 0, false
	}
	return qy*g.side + qx, true
}

// frameData holds the spots of one frame. Partner channels are kept per
// position since partners must share the position of the last channel spot.
type frameData struct {
	lastByQuadrant [][]int
	partners       []map[int][]int
	matchers       []map[int]*spatial.Matcher
}

// Filter keeps the spot groups whose inter-channel distances are typical
// for their part of the field of view.
//
// Spots of the last channel are sorted into quadrants. Each one is matched
// with the nearest spot of every other channel at the same position and
// frame. Per quadrant and channel the mean and standard deviation of the
// match distance are computed. A last channel spot is kept, together with
// its partners, when it has a partner in every channel and every partner
// distance d satisfies |d - mean| <= DeviationMax * stddev. Everything else
// is dropped.
//
// The source dataset is not modified. Kept spots appear once each, in their
// input order, in a new dataset named with OutputSuffix.
func Filter(ctx context.Context, ds models.Dataset, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	side, _ := quadrantsPerSide(p.NrQuadrants)
	g := newGrid(ds, side)
	last := ds.NrChannels

	res := &Result{}
	keep := make([]bool, len(ds.Spots))

	for frame := 1; frame <= ds.NrFrames; frame++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if last >= 2 {
			fd := collectFrame(ds, g, frame, p)
			res.Advisories = append(res.Advisories, missingChannels(ds, fd, frame)...)
			stats, err := filterQuadrants(ds, fd, frame, p, keep)
			if err != nil {
				return nil, err
			}
			res.Stats = append(res.Stats, stats...)
		}
		if p.Progress != nil {
			p.Progress(frame, ds.NrFrames, fmt.Sprintf("filtered frame %d", frame))
		}
	}

	kept := make([]models.LocalizedSpot, 0)
	for i, k := range keep {
		if k {
			kept = append(kept, ds.Spots[i])
		}
	}
	res.Dataset = ds.Derive(OutputSuffix, kept)
	return res, nil
}

func collectFrame(ds models.Dataset, g grid, frame int, p Params) *frameData {
	last := ds.NrChannels
	fd := &frameData{
		lastByQuadrant: make([][]int, g.side*g.side),
		partners:       make([]map[int][]int, last),
		matchers:       make([]map[int]*spatial.Matcher, last),
	}
	for c := 1; c < last; c++ {
		fd.partners[c] = make(map[int][]int)
		fd.matchers[c] = make(map[int]*spatial.Matcher)
	}

	for i, s := range ds.Spots {
		if s.Frame != frame {
			continue
		}
		switch {
		case s.Channel == last:
			if q, ok := g.quadrant(s.Center()); ok {
				fd.lastByQuadrant[q] = append(fd.lastByQuadrant[q], i)
			}
		case s.Channel >= 1 && s.Channel < last:
			fd.partners[s.Channel][s.Position] = append(fd.partners[s.Channel][s.Position], i)
		}
	}

	for c := 1; c < last; c++ {
		for pos, indices := range fd.partners[c] {
			points := make([]models.Point, len(indices))
			for k, i := range indices {
				points[k] = ds.Spots[i].Center()
			}
			fd.matchers[c][pos] = spatial.NewMatcher(points, p.MaxDistance)
		}
	}
	return fd
}

func missingChannels(ds models.Dataset, fd *frameData, frame int) []models.Advisory {
	hasLast := false
	for _, q := range fd.lastByQuadrant {
		if len(q) > 0 {
			hasLast = true
			break
		}
	}
	if !hasLast {
		return nil
	}
	var out []models.Advisory
	for c := 1; c < ds.NrChannels; c++ {
		if len(fd.partners[c]) == 0 {
			out = append(out, models.Advisory{
				Kind:      models.DataSparsity,
				DatasetID: ds.ID,
				Frame:     frame,
				Channel:   c,
				Message:   fmt.Sprintf("no spots in channel %d in frame %d", c, frame),
			})
		}
	}
	return out
}

// partner returns the spot index of the nearest channel c spot to the last
// channel spot s
func (fd *frameData) partner(c int, s models.LocalizedSpot) (int, bool) {
	m := fd.matchers[c][s.Position]
	if m == nil {
		return 0, false
	}
	j, ok := m.FindNearest(s.Center())
	if !ok {
		return 0, false
	}
	return fd.partners[c][s.Position][j], true
}

type quadrantResult struct {
	stats QuadrantStats
	keep  []int
	err   error
}

// quadrantFilter evaluates one quadrant; tests replace it
var quadrantFilter = filterQuadrant

// filterQuadrants evaluates all quadrants of one frame in parallel and
// marks the spots to keep. A panic in one quadrant is returned as an error
// once every quadrant has reported.
func filterQuadrants(ds models.Dataset, fd *frameData, frame int, p Params, keep []bool) ([]QuadrantStats, error) {
	resultChan := make(chan quadrantResult)
	tasks := 0
	for q, spots := range fd.lastByQuadrant {
		if len(spots) == 0 {
			continue
		}
		tasks++
		go func(q int, spots []int) {
			defer func() {
				if r := recover(); r != nil {
					resultChan <- quadrantResult{err: fmt.Errorf("quadrant %d of frame %d panicked: %v", q, frame, r)}
				}
			}()
			resultChan <- quadrantFilter(ds, fd, frame, q, spots, p.DeviationMax)
		}(q, spots)
	}

	var firstErr error
	results := make([]*QuadrantStats, len(fd.lastByQuadrant))
	for completed := 0; completed < tasks; completed++ {
		res := <-resultChan
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		for _, i := range res.keep {
			keep[i] = true
		}
		stats := res.stats
		results[stats.Quadrant] = &stats
	}
	if firstErr != nil {
		return nil, firstErr
	}

	var out []QuadrantStats
	for _, s := range results {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func filterQuadrant(ds models.Dataset, fd *frameData, frame, q int, spots []int, deviationMax float64) quadrantResult {
	last := ds.NrChannels
	res := quadrantResult{stats: QuadrantStats{Frame: frame, Quadrant: q}}

	// matched[k][c] is the partner of spots[k] in channel c, or -1
	matched := make([][]int, len(spots))
	distances := make([][]float64, last)
	orientations := make([][]float64, last)
	for k, i := range spots {
		s := ds.Spots[i]
		matched[k] = make([]int, last)
		for c := 1; c < last; c++ {
			j, ok := fd.partner(c, s)
			if !ok {
				matched[k][c] = -1
				continue
			}
			matched[k][c] = j
			a, b := s.Center(), ds.Spots[j].Center()
			distances[c] = append(distances[c], spatial.Distance(a, b))
			orientations[c] = append(orientations[c], spatial.Orientation(a, b))
		}
	}

	avg := make([]float64, last)
	tol := make([]float64, last)
	for c := 1; c < last; c++ {
		cs := ChannelStats{Channel: c, Matches: len(distances[c])}
		if cs.Matches > 0 {
			cs.DistanceAvg = stat.Mean(distances[c], nil)
			cs.OrientationAvg = stat.Mean(orientations[c], nil)
		}
		if cs.Matches > 1 {
			cs.DistanceStdDev = stat.StdDev(distances[c], nil)
			cs.OrientationStdDev = stat.StdDev(orientations[c], nil)
		}
		res.stats.Channels = append(res.stats.Channels, cs)

		avg[c] = cs.DistanceAvg
		tol[c] = deviationMax*cs.DistanceStdDev + 1e-9*math.Max(1, math.Abs(cs.DistanceAvg))
	}

	for k, i := range spots {
		qualifies := true
		for c := 1; c < last && qualifies; c++ {
			j := matched[k][c]
			if j < 0 {
				qualifies = false
				break
			}
			d := spatial.Distance(ds.Spots[i].Center(), ds.Spots[j].Center())
			if math.Abs(d-avg[c]) > tol[c] {
				qualifies = false
			}
		}
		if !qualifies {
			continue
		}
		res.keep = append(res.keep, i)
		for c := 1; c < last; c++ {
			res.keep = append(res.keep, matched[k][c])
		}
	}
	return res
}
