package spatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"spotpairs/internal/models"
)

// linearNearest is the reference scan the kd-tree must agree with
func linearNearest(points []models.Point, q models.Point, maxDist float64) (int, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, p := range points {
		d := Distance2(p, q)
		if d > maxDist*maxDist {
			continue
		}
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, best >= 0
}

func TestFindNearestEmpty(t *testing.T) {
	m := NewMatcher(nil, 10)
	_, ok := m.FindNearest(models.Point{X: 1, Y: 1})
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestFindNearestCutoff(t *testing.T) {
	points := []models.Point{{X: 0, Y: 0}, {X: 10, Y: 0}}
	m := NewMatcher(points, 3)

	idx, ok := m.FindNearest(models.Point{X: 2, Y: 0})
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	idx, ok = m.FindNearest(models.Point{X: 8.5, Y: 0})
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = m.FindNearest(models.Point{X: 5, Y: 0})
	assert.False(t, ok, "nearest point is 5 away, beyond the cutoff of 3")

	// exactly on the cutoff is still a match
	idx, ok = m.FindNearest(models.Point{X: 3, Y: 0})
	require.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestFindNearestNegativeCutoff(t *testing.T) {
	m := NewMatcher([]models.Point{{X: 0, Y: 0}}, -1)
	_, ok := m.FindNearest(models.Point{X: 0, Y: 0})
	assert.False(t, ok)
}

func TestFindNearestTieBreak(t *testing.T) {
	// Two points equidistant from the query and two duplicates
	points := []models.Point{
		{X: 5, Y: 5},
		{X: -1, Y: 0},
		{X: 1, Y: 0},
		{X: 1, Y: 0},
	}
	m := NewMatcher(points, 2)
	idx, ok := m.FindNearest(models.Point{X: 0, Y: 0})
	require.True(t, ok)
	assert.Equal(t, 1, idx, "first encountered point wins a tie")

	idx, ok = m.FindNearest(models.Point{X: 1, Y: 0.1})
	require.True(t, ok)
	assert.Equal(t, 2, idx, "duplicate coordinates resolve to the first instance")
}

func TestFindNearestFunc(t *testing.T) {
	points := []models.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}}
	m := NewMatcher(points, 5)

	used := map[int]bool{0: true}
	idx, ok := m.FindNearestFunc(models.Point{X: 0, Y: 0}, func(i int) bool { return !used[i] })
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = m.FindNearestFunc(models.Point{X: 0, Y: 0}, func(int) bool { return false })
	assert.False(t, ok)
}

func TestFindNearestMatchesLinearScan(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		n := 1 + rnd.Intn(200)
		points := make([]models.Point, n)
		for i := range points {
			// coarse grid so duplicates and ties actually occur
			points[i] = models.Point{X: float64(rnd.Intn(50)), Y: float64(rnd.Intn(50))}
		}
		maxDist := 1 + rnd.Float64()*10
		m := NewMatcher(points, maxDist)

		for q := 0; q < 100; q++ {
			query := models.Point{X: rnd.Float64() * 50, Y: rnd.Float64() * 50}
			if q%4 == 0 {
				query = models.Point{X: float64(rnd.Intn(50)), Y: float64(rnd.Intn(50))}
			}
			wantIdx, wantOK := linearNearest(points, query, maxDist)
			gotIdx, gotOK := m.FindNearest(query)
			require.Equal(t, wantOK, gotOK, "trial %d query %v", trial, query)
			if wantOK {
				assert.Equal(t, wantIdx, gotIdx, "trial %d query %v", trial, query)
			}
		}
	}
}

func TestMatcherDoesNotReorderInput(t *testing.T) {
	points := []models.Point{{X: 3, Y: 1}, {X: 1, Y: 3}, {X: 2, Y: 2}, {X: 0, Y: 0}}
	orig := append([]models.Point(nil), points...)
	m := NewMatcher(points, 10)
	assert.Equal(t, orig, points)
	assert.Equal(t, models.Point{X: 2, Y: 2}, m.Point(2))
}

func TestDistanceHelpers(t *testing.T) {
	a := models.Point{X: 1, Y: 2}
	b := models.Point{X: 4, Y: 6}

	assert.Equal(t, Distance(a, b), Distance(b, a))
	assert.InDelta(t, 5.0, Distance(a, b), 1e-12)
	assert.InDelta(t, Distance(a, b)*Distance(a, b), Distance2(a, b), 1e-12)

	assert.InDelta(t, 0.8, Orientation(a, b), 1e-12)
	assert.InDelta(t, -0.8, Orientation(b, a), 1e-12)
	assert.Equal(t, 0.0, Orientation(a, a))
}
