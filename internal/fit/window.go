package fit

import (
	"fmt"
	"math"
)

// Window is an inclusive-exclusive pixel range [Min, Max) into a profile.
type Window struct {
	Min int
	Max int
}

// NewWindow normalizes an unordered interval (a, b) into a Window with
// Min = floor(min(a, b)) and Max = ceil(max(a, b)).
func NewWindow(a, b float64) Window {
	return Window{
		Min: int(math.Floor(math.Min(a, b))),
		Max: int(math.Ceil(math.Max(a, b))),
	}
}

// Len returns the number of samples covered by the window.
func (w Window) Len() int {
	return w.Max - w.Min
}

func (w Window) String() string {
	return fmt.Sprintf("[%d,%d)", w.Min, w.Max)
}

// Slice returns the pixel positions and samples of profile inside the
// window. The window must lie entirely within the profile.
func (w Window) Slice(profile []float64) (xs, ys []float64, err error) {
	if w.Min < 0 || w.Max > len(profile) || w.Min >= w.Max {
		return nil, nil, fmt.Errorf("%w: window %s on profile of length %d", ErrWindowOutOfRange, w, len(profile))
	}
	ys = profile[w.Min:w.Max]
	xs = make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(w.Min + i)
	}
	return xs, ys, nil
}
