package fit

import (
	"fmt"
	"math"
)

// Model is a named parametric peak model f(x; p) together with the rule that
// extracts the physical displacement from fitted parameters.
type Model interface {
	Name() string
	NumParams() int
	Eval(x float64, p []float64) float64
	Displacement(p []float64) float64
}

// Supported FunctionSpec kinds.
const (
	KindScaledSpline = "scaledSpline"
	KindGaussian     = "gaussian"
)

// FunctionSpec describes a model on the wire. Only the fields relevant to
// Kind are read.
//
// Every kind is parameterised as p = [displacement, scale, offset] around a
// fixed reference shape, so DefaultEstimate reproduces the shape itself.
type FunctionSpec struct {
	Kind string `msgpack:"kind" json:"kind"`
	// Name overrides the identifier reported in results.
	Name string `msgpack:"name,omitempty" json:"name,omitempty"`

	// scaledSpline: reference profile sampled at pixels 0..len-1 and the
	// optional Gaussian smoothing applied before building the spline.
	Template []float64 `msgpack:"template,omitempty" json:"template,omitempty"`
	Sigma    float64   `msgpack:"sigma,omitempty" json:"sigma,omitempty"`

	// gaussian: reference peak shape.
	Center    float64 `msgpack:"center,omitempty" json:"center,omitempty"`
	Width     float64 `msgpack:"width,omitempty" json:"width,omitempty"`
	Amplitude float64 `msgpack:"amplitude,omitempty" json:"amplitude,omitempty"`
}

// NewModel builds the Model described by spec.
func NewModel(spec FunctionSpec) (Model, error) {
	name := spec.Name
	if name == "" {
		name = spec.Kind
	}
	switch spec.Kind {
	case KindScaledSpline:
		return NewScaledSpline(name, spec.Template, spec.Sigma)
	case KindGaussian:
		return NewGaussian(name, spec.Center, spec.Width, spec.Amplitude)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
}

// shiftModel is the [displacement, scale, offset] parameterisation shared by
// all built-in models.
type shiftModel struct {
	name  string
	shape func(u float64) float64
}

func (m *shiftModel) Name() string   { return m.name }
func (m *shiftModel) NumParams() int { return 3 }

func (m *shiftModel) Eval(x float64, p []float64) float64 {
	return p[1]*m.shape(x-p[0]) + p[2]
}

func (m *shiftModel) Displacement(p []float64) float64 {
	return p[0]
}

// NewGaussian returns a model of a Gaussian reference peak with the given
// centre, width (standard deviation) and amplitude, shifted by the fitted
// displacement.
func NewGaussian(name string, center, width, amplitude float64) (Model, error) {
	if !(width > 0) || math.IsInf(width, 0) {
		return nil, fmt.Errorf("%w: gaussian width must be positive, got %v", ErrInvalidFunction, width)
	}
	if amplitude == 0 || !isFinite(amplitude) || !isFinite(center) {
		return nil, fmt.Errorf("%w: gaussian needs a finite centre and non-zero amplitude", ErrInvalidFunction)
	}
	twoVar := 2 * width * width
	return &shiftModel{
		name: name,
		shape: func(u float64) float64 {
			d := u - center
			return amplitude * math.Exp(-d*d/twoVar)
		},
	}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
