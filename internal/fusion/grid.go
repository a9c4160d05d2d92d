package fusion

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// BinCount is the number of angular bins in every Scan.
const BinCount = 360

// BinWidth is the angular width of one bin in radians.
const BinWidth = 2 * math.Pi / BinCount

// Grid is the fixed reference grid of bin angles, evenly spaced over
// [−π, π). It is read-only after NewGrid.
type Grid struct {
	angles []float64
}

// NewGrid builds the 360-entry reference grid. The grid is the first 360
// points of a 361-point span from −π to π, so π itself is not a grid entry.
func NewGrid() *Grid {
	span := floats.Span(make([]float64, BinCount+1), -math.Pi, math.Pi)
	return &Grid{angles: span[:BinCount]}
}

// Len returns the number of bins.
func (g *Grid) Len() int { return len(g.angles) }

// Angle returns the reference angle of bin i.
func (g *Grid) Angle(i int) float64 { return g.angles[i] }

// Angles returns a copy of the reference angles.
func (g *Grid) Angles() []float64 {
	out := make([]float64, len(g.angles))
	copy(out, g.angles)
	return out
}

// Index returns the bin for angle using lower-bound semantics: the leftmost
// i with grid[i] >= angle. Angles past the last grid entry, π included,
// clamp to the last bin. A NaN angle also lands in the last bin.
func (g *Grid) Index(angle float64) int {
	i := sort.SearchFloat64s(g.angles, angle)
	if i >= len(g.angles) {
		return len(g.angles) - 1
	}
	return i
}

// Binner groups polar observations by bin. Points that share a bin are all
// kept; nothing is overwritten.
type Binner struct {
	grid   *Grid
	groups [][]float64
}

// NewBinner returns an empty Binner on grid.
func NewBinner(grid *Grid) *Binner {
	return &Binner{grid: grid, groups: make([][]float64, grid.Len())}
}

// Add assigns p to its bin and returns the bin index.
func (b *Binner) Add(p PolarPoint) int {
	i := b.grid.Index(p.Angle)
	b.groups[i] = append(b.groups[i], p.Distance)
	return i
}

// Groups returns the per-bin distance groups, indexed by bin. Empty bins
// have a nil group. The slices are owned by the Binner.
func (b *Binner) Groups() [][]float64 { return b.groups }
