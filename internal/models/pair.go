package models

// PairKey indexes a bucket of spot pairs
type PairKey struct {
	Position int
	Channel1 int
	Channel2 int
	Frame    int
}

// SpotPair is a spot in Channel1 matched to the nearest spot in Channel2
// of the same position and frame. First and Second are indices into the
// spot list the pair was assembled from.
type SpotPair struct {
	PairKey

	First  int
	Second int

	FirstPoint  Point
	SecondPoint Point
}

// TrackKey identifies the channel combination a track belongs to
type TrackKey struct {
	Position int
	Channel1 int
	Channel2 int
}

// Track is a temporal chain of pairs with strictly increasing frames.
// Pairs holds indices into the PairSet the track was built from.
type Track struct {
	TrackKey
	Pairs []int
}

// Len returns the number of pairs in the track
func (t Track) Len() int { return len(t.Pairs) }
