package pairing

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"spotpairs/internal/models"
	"spotpairs/pkg/spatial"
)

// TrackSummary describes one track by its first pair and the statistics of
// the distances along the track
type TrackSummary struct {
	RowID   int
	TrackID int

	// Identification of the first pair
	Frame    int
	Slice    int
	Channel1 int
	Channel2 int
	Position int
	XPix     int
	YPix     int

	N              int
	DistanceAvg    float64
	DistanceStdDev float64

	// DistanceUncertainty is the mean combined sigma over the pairs where
	// both spots carry an uncertainty. HasUncertainty is false when none do.
	DistanceUncertainty float64
	HasUncertainty      bool

	// VectorDistance is the length of the mean offset vector of the track
	VectorDistance float64
}

// TrackStats pools per-pair measurements over all tracks of one channel
// combination
type TrackStats struct {
	Distances        []float64
	Sigmas           []float64
	SigmasFirstSpot  []float64
	SigmasSecondSpot []float64
	VectorDistances  []float64
}

// PairSigma combines the uncertainties of both spots of a pair with the
// registration error. The second result is false unless both spots carry
// an uncertainty.
func PairSigma(first, second models.LocalizedSpot, registrationError float64) (float64, bool) {
	if !first.HasSigma || !second.HasSigma {
		return 0, false
	}
	return math.Sqrt(first.Sigma*first.Sigma + second.Sigma*second.Sigma +
		registrationError*registrationError), true
}

// PairDistance returns the euclidean distance between the two points of p
func PairDistance(p models.SpotPair) float64 {
	return spatial.Distance(p.FirstPoint, p.SecondPoint)
}

// meanStdDev returns the mean and sample standard deviation. The standard
// deviation of fewer than two values is 0.
func meanStdDev(x []float64) (float64, float64) {
	if len(x) == 0 {
		return 0, 0
	}
	if len(x) < 2 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

type trackMeasurements struct {
	distances    []float64
	sigmas       []float64
	firstSigmas  []float64
	secondSigmas []float64
	vector       float64
}

func measureTrack(t models.Track, pairs *PairSet, idx *SpotsByPosition, registrationError float64) trackMeasurements {
	var m trackMeasurements
	var sumDX, sumDY float64
	for _, pi := range t.Pairs {
		p := pairs.Pairs[pi]
		m.distances = append(m.distances, PairDistance(p))
		sumDX += p.FirstPoint.X - p.SecondPoint.X
		sumDY += p.FirstPoint.Y - p.SecondPoint.Y

		first, second := idx.Spots[p.First], idx.Spots[p.Second]
		if s, ok := PairSigma(first, second, registrationError); ok {
			m.sigmas = append(m.sigmas, s)
			m.firstSigmas = append(m.firstSigmas, first.Sigma)
			m.secondSigmas = append(m.secondSigmas, second.Sigma)
		}
	}
	if n := float64(len(t.Pairs)); n > 0 {
		m.vector = math.Hypot(sumDX/n, sumDY/n)
	}
	return m
}

// SummarizeTracks builds one summary row per track. Track IDs are assigned
// in track order starting at 0.
func SummarizeTracks(rowID int, tracks []models.Track, pairs *PairSet, idx *SpotsByPosition,
	registrationError float64) []TrackSummary {

	out := make([]TrackSummary, 0, len(tracks))
	for id, t := range tracks {
		if t.Len() == 0 {
			continue
		}
		m := measureTrack(t, pairs, idx, registrationError)
		first := pairs.Pairs[t.Pairs[0]]
		spot := idx.Spots[first.First]
		avg, std := meanStdDev(m.distances)

		s := TrackSummary{
			RowID:          rowID,
			TrackID:        id,
			Frame:          spot.Frame,
			Slice:          spot.Slice,
			Channel1:       first.Channel1,
			Channel2:       first.Channel2,
			Position:       first.Position,
			XPix:           spot.X,
			YPix:           spot.Y,
			N:              t.Len(),
			DistanceAvg:    avg,
			DistanceStdDev: std,
			VectorDistance: m.vector,
		}
		if len(m.sigmas) > 0 {
			s.DistanceUncertainty = stat.Mean(m.sigmas, nil)
			s.HasUncertainty = true
		}
		out = append(out, s)
	}
	return out
}

// CollectTrackStats pools distances and uncertainties of all tracks by
// channel combination. Every combination of 1..nrChannels gets an entry,
// empty when it has no tracks.
func CollectTrackStats(tracks []models.Track, pairs *PairSet, idx *SpotsByPosition,
	nrChannels int, registrationError float64) map[ChannelPair]*TrackStats {

	out := make(map[ChannelPair]*TrackStats)
	for _, cp := range ChannelPairs(nrChannels) {
		out[cp] = &TrackStats{}
	}
	for _, t := range tracks {
		cp := ChannelPair{Channel1: t.Channel1, Channel2: t.Channel2}
		ts, ok := out[cp]
		if !ok {
			ts = &TrackStats{}
			out[cp] = ts
		}
		m := measureTrack(t, pairs, idx, registrationError)
		ts.Distances = append(ts.Distances, m.distances...)
		ts.Sigmas = append(ts.Sigmas, m.sigmas...)
		ts.SigmasFirstSpot = append(ts.SigmasFirstSpot, m.firstSigmas...)
		ts.SigmasSecondSpot = append(ts.SigmasSecondSpot, m.secondSigmas...)
		if t.Len() > 0 {
			ts.VectorDistances = append(ts.VectorDistances, m.vector)
		}
	}
	return out
}

// PopulationSigma estimates the sigma of the distance distribution from the
// per-spot uncertainties: sqrt(s1Avg² + s2Avg² + s1Std² + s2Std² + reg²).
func (ts *TrackStats) PopulationSigma(registrationError float64) float64 {
	a1, s1 := meanStdDev(ts.SigmasFirstSpot)
	a2, s2 := meanStdDev(ts.SigmasSecondSpot)
	return math.Sqrt(a1*a1 + a2*a2 + s1*s1 + s2*s2 + registrationError*registrationError)
}
