package pairing

import (
	"sort"

	"spotpairs/internal/models"
)

// SpotsByPosition groups spot indices by acquisition position
type SpotsByPosition struct {
	// Spots is the list the indices refer to. It is borrowed, not copied.
	Spots []models.LocalizedSpot

	// ByPosition maps a position to the indices of its spots, in input order
	ByPosition map[int][]int

	// Positions lists the positions present, in ascending order
	Positions []int
}

// IndexByPosition groups spots by their position index
func IndexByPosition(spots []models.LocalizedSpot) *SpotsByPosition {
	idx := &SpotsByPosition{
		Spots:      spots,
		ByPosition: make(map[int][]int),
		Positions:  make([]int, 0),
	}
	for i, spot := range spots {
		if _, ok := idx.ByPosition[spot.Position]; !ok {
			idx.Positions = append(idx.Positions, spot.Position)
		}
		idx.ByPosition[spot.Position] = append(idx.ByPosition[spot.Position], i)
	}
	sort.Ints(idx.Positions)
	return idx
}

// Spot returns the spot stored under index i
func (s *SpotsByPosition) Spot(i int) models.LocalizedSpot {
	return s.Spots[i]
}

// frameBuckets splits the spots of one position by frame and channel.
// The result is indexed [frame][channel] with frames 1..nrFrames and
// channels 1..nrChannels; index 0 of both is unused. Spots outside those
// ranges are returned separately.
func (s *SpotsByPosition) frameBuckets(position, nrChannels, nrFrames int) (buckets [][][]int, ignored []int) {
	buckets = make([][][]int, nrFrames+1)
	for f := 1; f <= nrFrames; f++ {
		buckets[f] = make([][]int, nrChannels+1)
	}
	for _, i := range s.ByPosition[position] {
		spot := s.Spots[i]
		if spot.Frame < 1 || spot.Frame > nrFrames || spot.Channel < 1 || spot.Channel > nrChannels {
			ignored = append(ignored, i)
			continue
		}
		buckets[spot.Frame][spot.Channel] = append(buckets[spot.Frame][spot.Channel], i)
	}
	return buckets, ignored
}
