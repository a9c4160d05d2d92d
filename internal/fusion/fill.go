package fusion

// DefaultFallbackMM is the bin-0 fallback: half the robot width.
const DefaultFallbackMM int32 = 200

// FillGaps assigns a distance to every unset bin in one forward pass.
// An unset bin 0 takes fallbackMM; any other unset bin copies the
// distance of its predecessor. Propagation never wraps from the last bin
// back to bin 0.
func FillGaps(bins []BinValue, fallbackMM int32) []int32 {
	out := make([]int32, len(bins))
	for i, b := range bins {
		switch {
		case b.Set:
			out[i] = b.MM
		case i == 0:
			out[i] = fallbackMM
		default:
			out[i] = out[i-1]
		}
	}
	return out
}
