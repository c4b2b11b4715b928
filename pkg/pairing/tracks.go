package pairing

import (
	"spotpairs/internal/models"
	"spotpairs/pkg/spatial"
)

// TrackOptions tunes track assembly
type TrackOptions struct {
	// BridgeGaps keeps searching later frames when no continuation is found
	// in the next frame. When false a miss ends the track.
	BridgeGaps bool
}

// BuildTracks chains pairs of consecutive frames into tracks.
//
// For each position and channel pair, every unclaimed pair starts a new
// track in the earliest frame it appears in. The track is extended frame by
// frame with the unclaimed pair whose first-channel point lies nearest to
// the first-channel point of the last pair, within maxDistance. Every pair
// ends up in exactly one track; tracks of length 1 are kept.
//
// Processing order is position, channel pair, frame, then pair order within
// the frame. That order decides which track wins a contested pair.
func BuildTracks(pairs *PairSet, idx *SpotsByPosition, nrChannels, nrFrames int,
	maxDistance float64, opts TrackOptions) []models.Track {

	var tracks []models.Track
	claimed := make([]bool, pairs.Len())

	for _, pos := range idx.Positions {
		for _, cp := range ChannelPairs(nrChannels) {
			buckets := make([][]int, nrFrames+1)
			matchers := make([]*spatial.Matcher, nrFrames+1)
			for frame := 1; frame <= nrFrames; frame++ {
				bucket := pairs.Bucket(models.PairKey{
					Position: pos, Channel1: cp.Channel1, Channel2: cp.Channel2, Frame: frame,
				})
				if len(bucket) == 0 {
					continue
				}
				points := make([]models.Point, len(bucket))
				for i, pi := range bucket {
					points[i] = pairs.Pairs[pi].FirstPoint
				}
				buckets[frame] = bucket
				matchers[frame] = spatial.NewMatcher(points, maxDistance)
			}

			key := models.TrackKey{Position: pos, Channel1: cp.Channel1, Channel2: cp.Channel2}
			for firstFrame := 1; firstFrame <= nrFrames; firstFrame++ {
				for _, start := range buckets[firstFrame] {
					if claimed[start] {
						continue
					}
					claimed[start] = true
					track := models.Track{TrackKey: key, Pairs: []int{start}}
					current := start

					for frame := firstFrame + 1; frame <= nrFrames; frame++ {
						next, ok := nearestUnclaimed(matchers[frame], buckets[frame], claimed,
							pairs.Pairs[current].FirstPoint)
						if !ok {
							if opts.BridgeGaps {
								continue
							}
							break
						}
						claimed[next] = true
						track.Pairs = append(track.Pairs, next)
						current = next
					}
					tracks = append(tracks, track)
				}
			}
		}
	}
	return tracks
}

func nearestUnclaimed(m *spatial.Matcher, bucket []int, claimed []bool, q models.Point) (int, bool) {
	if m == nil {
		return 0, false
	}
	j, ok := m.FindNearestFunc(q, func(k int) bool { return !claimed[bucket[k]] })
	if !ok {
		return 0, false
	}
	return bucket[j], true
}
