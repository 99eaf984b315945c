package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

// minTemplateLen is the shortest template a spline can be built from.
const minTemplateLen = 4

// NewScaledSpline returns a model whose reference shape is a natural cubic
// spline through template, sampled at pixel positions 0..len(template)-1.
// When sigma > 0 the template is smoothed with a Gaussian filter first.
// Outside the template the shape holds its edge values.
func NewScaledSpline(name string, template []float64, sigma float64) (Model, error) {
	if len(template) < minTemplateLen {
		return nil, fmt.Errorf("%w: spline template needs at least %d samples, got %d", ErrInvalidFunction, minTemplateLen, len(template))
	}
	if sigma < 0 || !isFinite(sigma) || sigma > float64(len(template)) {
		return nil, fmt.Errorf("%w: invalid smoothing sigma %v for %d samples", ErrInvalidFunction, sigma, len(template))
	}
	for i, v := range template {
		if !isFinite(v) {
			return nil, fmt.Errorf("%w: template sample %d is %v", ErrInvalidFunction, i, v)
		}
	}

	ys := append([]float64(nil), template...)
	if sigma > 0 {
		ys = GaussianFilter(ys, sigma)
	}
	xs := floats.Span(make([]float64, len(ys)), 0, float64(len(ys)-1))

	var spline interp.NaturalCubic
	if err := spline.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFunction, err)
	}

	lo, hi := xs[0], xs[len(xs)-1]
	first, last := ys[0], ys[len(ys)-1]
	return &shiftModel{
		name: name,
		shape: func(u float64) float64 {
			switch {
			case math.IsNaN(u):
				return u
			case u <= lo:
				return first
			case u >= hi:
				return last
			}
			return spline.Predict(u)
		},
	}, nil
}

// GaussianFilter convolves samples with a normalized Gaussian kernel of
// standard deviation sigma, truncated at four sigma or the signal length,
// reflecting the signal at both ends.
func GaussianFilter(samples []float64, sigma float64) []float64 {
	out := make([]float64, len(samples))
	if len(samples) == 0 || sigma <= 0 {
		copy(out, samples)
		return out
	}

	n := len(samples)
	radius := n
	if r := 4*sigma + 0.5; r < float64(n) {
		radius = int(r)
	}
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-0.5 * d * d / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)

	for i := range out {
		var acc float64
		for k, w := range kernel {
			acc += w * samples[reflect(i+k-radius, n)]
		}
		out[i] = acc
	}
	return out
}

// reflect maps an out-of-range index back into [0, n) using the
// "d c b a | a b c d | d c b a" convention.
func reflect(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i - 1
	}
	return i
}
