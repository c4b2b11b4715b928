package models

// Point is a sub-pixel position in physical units (nm).
type Point struct {
	X, Y float64
}

// LocalizedSpot represents one detected fluorescent spot with metadata
type LocalizedSpot struct {
	// Position is the acquisition (stage) position index, starting at 0
	Position int

	// Frame is the time point, starting at 1
	Frame int

	// Channel is the detection channel, starting at 1
	Channel int

	// Slice is the z-slice index
	Slice int

	// X and Y are the integer pixel coordinates of the spot
	X, Y int

	// XCenter and YCenter are the fitted sub-pixel center in physical units
	XCenter, YCenter float64

	// Sigma is the integral aperture sigma (localization uncertainty).
	// Only meaningful when HasSigma is true.
	Sigma    float64
	HasSigma bool

	// Extra carries attributes the analysis does not interpret
	Extra map[string]float64
}

// Center returns the sub-pixel center of the spot
func (s LocalizedSpot) Center() Point {
	return Point{X: s.XCenter, Y: s.YCenter}
}

// Dataset is a named collection of spots together with the acquisition
// dimensions needed to interpret them
type Dataset struct {
	// ID identifies the dataset within a batch
	ID int

	// Name is a human readable name, derived datasets append a suffix
	Name string

	Spots []LocalizedSpot

	NrChannels  int
	NrFrames    int
	NrPositions int

	// Width and Height are the field of view in physical units (nm)
	Width  float64
	Height float64
}

// Derive returns a copy of the dataset metadata with a new name and spot list
func (d Dataset) Derive(suffix string, spots []LocalizedSpot) Dataset {
	out := d
	out.Name = d.Name + suffix
	out.Spots = spots
	return out
}
