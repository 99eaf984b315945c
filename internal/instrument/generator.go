// Package instrument simulates the optical measurement instrument: it
// synthesizes two-peak intensity profiles and publishes them on the live
// data channel.
package instrument

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Profile defaults of the stationary and measurement mocks.
const (
	DefaultSamples         = 200
	DefaultAxisMax         = 100.0
	DefaultMovingCenter    = 30.0
	DefaultReferenceCenter = 60.0
	DefaultSigma           = 5.0
	DefaultScale           = 10000.0

	// DefaultSteps and DefaultAmplitude shape the sinusoidal displacement
	// sweep of the measurement mock.
	DefaultSteps     = 1000
	DefaultAmplitude = 3.0
)

// ActuatorVoltageKey is the metadata key carrying the simulated actuator
// voltage.
const ActuatorVoltageKey = "Actuator Voltage"

// Generator synthesizes profiles with a moving and a reference Gaussian
// peak. Peak positions are in axis units, the axis spans [0, AxisMax] over
// Samples pixels.
type Generator struct {
	Samples         int
	AxisMax         float64
	MovingCenter    float64
	ReferenceCenter float64
	Sigma           float64
	Scale           float64

	// Sweep enables the sinusoidal displacement of the moving peak.
	Sweep     bool
	Steps     int
	Amplitude float64

	// Noise draws every sample from a Poisson distribution around the
	// clean value.
	Noise bool
	Seed  uint64

	axis []float64
	src  rand.Source
	step int
}

// NewGenerator returns a Generator with the mock defaults. With sweep the
// moving peak follows the measurement mock's sine sweep.
func NewGenerator(sweep, noise bool, seed uint64) *Generator {
	return &Generator{
		Samples:         DefaultSamples,
		AxisMax:         DefaultAxisMax,
		MovingCenter:    DefaultMovingCenter,
		ReferenceCenter: DefaultReferenceCenter,
		Sigma:           DefaultSigma,
		Scale:           DefaultScale,
		Sweep:           sweep,
		Steps:           DefaultSteps,
		Amplitude:       DefaultAmplitude,
		Noise:           noise,
		Seed:            seed,
	}
}

// Frame is one generated profile with its simulation state.
type Frame struct {
	Profile         []float64
	Displacement    float64
	ActuatorVoltage float64
}

// PixelsPerUnit converts axis displacements to pixels.
func (g *Generator) PixelsPerUnit() float64 {
	return float64(g.Samples-1) / g.AxisMax
}

// Next generates the next profile and advances the sweep.
func (g *Generator) Next() Frame {
	if g.axis == nil {
		g.axis = floats.Span(make([]float64, g.Samples), 0, g.AxisMax)
		g.src = rand.NewPCG(g.Seed, g.Seed^0x9e3779b97f4a7c15)
	}

	var f Frame
	if g.Sweep && g.Steps > 1 {
		i := g.step % g.Steps
		f.ActuatorVoltage = 100 * float64(i) / float64(g.Steps-1)
		f.Displacement = math.Sin(f.ActuatorVoltage/100*2*math.Pi) * g.Amplitude
	}
	g.step++

	f.Profile = make([]float64, g.Samples)
	for i, x := range g.axis {
		clean := gauss(x, g.MovingCenter+f.Displacement, g.Sigma) + gauss(x, g.ReferenceCenter, g.Sigma)
		v := clean * g.Scale
		if g.Noise && v > 0 {
			v = distuv.Poisson{Lambda: v, Src: g.src}.Rand()
		}
		f.Profile[i] = v
	}
	return f
}

func gauss(x, mu, sigma float64) float64 {
	d := x - mu
	return math.Exp(-d * d / (2 * sigma * sigma))
}
