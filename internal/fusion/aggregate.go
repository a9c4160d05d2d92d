package fusion

import (
	"math"
	"sort"
)

// BinValue is a bin's resolved distance before gap filling.
type BinValue struct {
	MM  int32
	Set bool
}

// Median returns the median of values: the middle element for an odd count
// and the mean of the two middle elements for an even count. The input is
// not modified. An empty slice yields NaN.
func Median(values []float64) float64 {
	n := len(values)
	switch n {
	case 0:
		return math.NaN()
	case 1:
		return values[0]
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Aggregate resolves each bin group to the median of its distances, in
// millimetres. Bins without points stay unset for FillGaps.
func Aggregate(groups [][]float64) []BinValue {
	out := make([]BinValue, len(groups))
	for i, g := range groups {
		if len(g) == 0 {
			continue
		}
		out[i] = BinValue{MM: MetresToMM(Median(g)), Set: true}
	}
	return out
}

// MetresToMM truncates a metre distance to whole millimetres, clamped to
// [0, MaxInt32].
func MetresToMM(m float64) int32 {
	mm := math.Trunc(m * 1000)
	switch {
	case math.IsNaN(mm) || mm <= 0:
		return 0
	case mm >= math.MaxInt32:
		return math.MaxInt32
	}
	return int32(mm)
}
