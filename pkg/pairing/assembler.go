package pairing

import (
	"fmt"
	"sort"

	"spotpairs/internal/models"
	"spotpairs/pkg/spatial"
)

// ChannelPair names two channels with Channel1 < Channel2
type ChannelPair struct {
	Channel1 int
	Channel2 int
}

// ChannelPairs lists all combinations c1 < c2 of channels 1..nrChannels in
// processing order
func ChannelPairs(nrChannels int) []ChannelPair {
	var out []ChannelPair
	for c1 := 1; c1 < nrChannels; c1++ {
		for c2 := c1 + 1; c2 <= nrChannels; c2++ {
			out = append(out, ChannelPair{Channel1: c1, Channel2: c2})
		}
	}
	return out
}

// PairSet is the arena of all pairs found in one analysis run. Pairs are
// immutable and addressed by their index in Pairs.
type PairSet struct {
	Pairs []models.SpotPair

	byKey map[models.PairKey][]int
}

func newPairSet() *PairSet {
	return &PairSet{byKey: make(map[models.PairKey][]int)}
}

func (s *PairSet) add(p models.SpotPair) {
	s.byKey[p.PairKey] = append(s.byKey[p.PairKey], len(s.Pairs))
	s.Pairs = append(s.Pairs, p)
}

// Len returns the number of pairs in the set
func (s *PairSet) Len() int { return len(s.Pairs) }

// Pair returns the pair stored under index i
func (s *PairSet) Pair(i int) models.SpotPair { return s.Pairs[i] }

// Bucket returns the indices of the pairs found for one position, channel
// pair and frame, in the order they were assembled
func (s *PairSet) Bucket(key models.PairKey) []int {
	return s.byKey[key]
}

// Keys returns all non-empty bucket keys ordered by position, channel
// pair, then frame
func (s *PairSet) Keys() []models.PairKey {
	keys := make([]models.PairKey, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if a.Channel1 != b.Channel1 {
			return a.Channel1 < b.Channel1
		}
		if a.Channel2 != b.Channel2 {
			return a.Channel2 < b.Channel2
		}
		return a.Frame < b.Frame
	})
	return keys
}

// ByChannelPair groups the indices of all pairs by channel combination,
// across positions and frames
func (s *PairSet) ByChannelPair() map[ChannelPair][]int {
	out := make(map[ChannelPair][]int)
	for i, p := range s.Pairs {
		cp := ChannelPair{Channel1: p.Channel1, Channel2: p.Channel2}
		out[cp] = append(out[cp], i)
	}
	return out
}

// Assemble matches, for every position and frame, each spot of channel c1
// with the nearest spot of channel c2 (c1 < c2) lying within maxDistance.
//
// A channel c2 spot may be the partner of several c1 spots. When several c2
// spots are equally near, the one listed first in the input wins.
//
// Conditions that do not stop the assembly are returned as advisories: a
// frame where c1 has spots but c2 has none, and spots whose frame or
// channel lies outside 1..nrFrames or 1..nrChannels.
func Assemble(idx *SpotsByPosition, nrChannels, nrFrames int, maxDistance float64) (*PairSet, []models.Advisory) {
	set := newPairSet()
	var advisories []models.Advisory
	channelPairs := ChannelPairs(nrChannels)

	for _, pos := range idx.Positions {
		buckets, ignored := idx.frameBuckets(pos, nrChannels, nrFrames)
		if len(ignored) > 0 {
			adv := models.Advisory{
				Kind:     models.IgnoredSpot,
				Position: pos,
				Message: fmt.Sprintf("position %d: %d spots outside %d channels / %d frames were ignored",
					pos, len(ignored), nrChannels, nrFrames),
			}
			advisories = append(advisories, adv)
		}

		for frame := 1; frame <= nrFrames; frame++ {
			byChannel := buckets[frame]
			matchers := make([]*spatial.Matcher, nrChannels+1)

			for _, cp := range channelPairs {
				first := byChannel[cp.Channel1]
				second := byChannel[cp.Channel2]
				if len(first) == 0 {
					continue
				}
				if len(second) == 0 {
					adv := models.Advisory{
						Kind:     models.DataSparsity,
						Position: pos,
						Frame:    frame,
						Channel:  cp.Channel2,
						Message: fmt.Sprintf("no spots in channel %d at position %d, frame %d",
							cp.Channel2, pos, frame),
					}
					advisories = append(advisories, adv)
					continue
				}

				if matchers[cp.Channel2] == nil {
					points := make([]models.Point, len(second))
					for i, si := range second {
						points[i] = idx.Spots[si].Center()
					}
					matchers[cp.Channel2] = spatial.NewMatcher(points, maxDistance)
				}
				m := matchers[cp.Channel2]

				key := models.PairKey{Position: pos, Channel1: cp.Channel1, Channel2: cp.Channel2, Frame: frame}
				for _, fi := range first {
					p := idx.Spots[fi].Center()
					j, ok := m.FindNearest(p)
					if !ok {
						continue
					}
					set.add(models.SpotPair{
						PairKey:     key,
						First:       fi,
						Second:      second[j],
						FirstPoint:  p,
						SecondPoint: m.Point(j),
					})
				}
			}
		}
	}

	return set, advisories
}

// AllPossiblePairs returns every pair of every channel combination,
// pooled over positions and frames. It feeds the registration offset
// estimate.
func AllPossiblePairs(idx *SpotsByPosition, nrChannels, nrFrames int, maxDistance float64) map[ChannelPair][]models.SpotPair {
	set, _ := Assemble(idx, nrChannels, nrFrames, maxDistance)
	out := make(map[ChannelPair][]models.SpotPair)
	for _, cp := range ChannelPairs(nrChannels) {
		out[cp] = []models.SpotPair{}
	}
	for cp, indices := range set.ByChannelPair() {
		for _, i := range indices {
			out[cp] = append(out[cp], set.Pairs[i])
		}
	}
	return out
}

// Offsets returns the x and y components of first minus second point for
// each pair
func Offsets(pairs []models.SpotPair) (dx, dy []float64) {
	dx = make([]float64, len(pairs))
	dy = make([]float64, len(pairs))
	for i, p := range pairs {
		dx[i] = p.FirstPoint.X - p.SecondPoint.X
		dy[i] = p.FirstPoint.Y - p.SecondPoint.Y
	}
	return dx, dy
}
