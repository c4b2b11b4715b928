// Package spatial provides nearest-neighbour matching of 2-D points with a
// maximum-distance cutoff.
package spatial

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"spotpairs/internal/models"
)

// indexedPoint is a 2-D point that remembers its position in the input slice.
// The index is the handle returned to callers, so matches never have to be
// resolved back to their owner by coordinate comparison.
type indexedPoint struct {
	X, Y  float64
	Index int
}

// Compare implements the kdtree.Comparable interface
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p indexedPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// indexedPoints is a collection of indexedPoint that satisfies kdtree.Interface
type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{indexedPoints: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{indexedPoints: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for indexedPoints
type pointPlane struct {
	indexedPoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.indexedPoints[i].X < p.indexedPoints[j].X
	case 1:
		return p.indexedPoints[i].Y < p.indexedPoints[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{indexedPoints: p.indexedPoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// Matcher answers nearest-neighbour queries against a fixed point set.
// Only points within maxDist of the query are considered a match.
//
// When several points are at exactly the same minimal distance the one that
// came first in the input wins. That tie-break is an implementation choice
// that keeps results deterministic for a fixed input order; nothing in the
// measurement requires it.
type Matcher struct {
	tree     *kdtree.Tree
	points   []models.Point
	maxDist2 float64
}

// NewMatcher builds a matcher over points with the given distance cutoff.
// The points slice is not modified; returned indices refer to it.
func NewMatcher(points []models.Point, maxDist float64) *Matcher {
	data := make(indexedPoints, len(points))
	for i, p := range points {
		data[i] = indexedPoint{X: p.X, Y: p.Y, Index: i}
	}
	maxDist2 := maxDist * maxDist
	if maxDist < 0 {
		maxDist2 = -1
	}
	return &Matcher{
		tree:     kdtree.New(data, false),
		points:   points,
		maxDist2: maxDist2,
	}
}

// Len returns the number of points in the matcher
func (m *Matcher) Len() int { return len(m.points) }

// Point returns the point stored under index i
func (m *Matcher) Point(i int) models.Point { return m.points[i] }

// FindNearest returns the index of the point closest to q, or false when no
// point lies within the cutoff.
func (m *Matcher) FindNearest(q models.Point) (int, bool) {
	return m.FindNearestFunc(q, nil)
}

// FindNearestFunc is FindNearest restricted to points for which accept
// returns true. A nil accept admits every point.
func (m *Matcher) FindNearestFunc(q models.Point, accept func(index int) bool) (int, bool) {
	if m.tree.Root == nil || math.IsNaN(m.maxDist2) {
		return -1, false
	}

	// Collect every candidate inside the cutoff. The keeper is bounded by
	// the cutoff, so the search never visits subtrees beyond it.
	keeper := kdtree.NewDistKeeper(m.maxDist2)
	m.tree.NearestSet(keeper, indexedPoint{X: q.X, Y: q.Y, Index: -1})

	best := -1
	bestDist := math.Inf(1)
	for _, item := range keeper.Heap {
		if item.Comparable == nil {
			continue
		}
		p := item.Comparable.(indexedPoint)
		if accept != nil && !accept(p.Index) {
			continue
		}
		if item.Dist < bestDist || (item.Dist == bestDist && p.Index < best) {
			best = p.Index
			bestDist = item.Dist
		}
	}
	if best < 0 {
		return -1, false
	}
	return best, true
}

// Distance2 returns the squared Euclidean distance between a and b
func Distance2(a, b models.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}

// Distance returns the Euclidean distance between a and b
func Distance(a, b models.Point) float64 {
	return math.Sqrt(Distance2(a, b))
}

// Orientation returns the sine of the angle of the vector from a to b with
// the x axis. It is 0 for coincident points.
func Orientation(a, b models.Point) float64 {
	d := Distance(a, b)
	if d == 0 {
		return 0
	}
	return (b.Y - a.Y) / d
}
