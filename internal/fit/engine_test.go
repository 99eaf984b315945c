package fit

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	movingCenter    = 60.0
	referenceCenter = 120.0
	peakWidth       = 8.0
	peakHeight      = 10000.0
)

// twoPeakProfile returns a noise-free profile with Gaussian peaks displaced
// from their reference centres by dMoving and dReference pixels.
func twoPeakProfile(n int, dMoving, dReference float64) []float64 {
	profile := make([]float64, n)
	for i := range profile {
		x := float64(i)
		profile[i] = gauss(x, movingCenter+dMoving) + gauss(x, referenceCenter+dReference)
	}
	return profile
}

func gauss(x, mu float64) float64 {
	d := x - mu
	return peakHeight * math.Exp(-d*d/(2*peakWidth*peakWidth))
}

func mustGaussian(t *testing.T, name string, center float64) Model {
	t.Helper()
	m, err := NewGaussian(name, center, peakWidth, peakHeight)
	require.NoError(t, err)
	return m
}

func readyEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine()
	e.SetFitFunction(MovingPeak, mustGaussian(t, "mp-gauss", movingCenter))
	e.SetFitFunction(ReferencePeak, mustGaussian(t, "ref-gauss", referenceCenter))
	e.SetWindow(MovingPeak, 80, 40)
	e.SetWindow(ReferencePeak, 100, 140)
	return e
}

// recordingModel remembers the parameters of the first evaluation after
// each reset, which is the initial guess handed to the solver.
type recordingModel struct {
	Model
	first []float64
}

func (m *recordingModel) Eval(x float64, p []float64) float64 {
	if m.first == nil {
		m.first = append([]float64(nil), p...)
	}
	return m.Model.Eval(x, p)
}

type panickingModel struct{ Model }

func (panickingModel) Eval(float64, []float64) float64 { panic("boom") }

func TestNewWindow(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want Window
	}{
		{"ordered", 80, 120, Window{Min: 80, Max: 120}},
		{"reversed", 120, 80, Window{Min: 80, Max: 120}},
		{"fractional", 120.2, 79.6, Window{Min: 79, Max: 121}},
		{"negative", -3.5, 2.1, Window{Min: -4, Max: 3}},
		{"degenerate", 5, 5, Window{Min: 5, Max: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewWindow(tt.a, tt.b))
		})
	}
}

func TestWindowSlice(t *testing.T) {
	profile := []float64{0, 1, 2, 3, 4, 5}

	xs, ys, err := Window{Min: 2, Max: 5}.Slice(profile)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, xs)
	assert.Equal(t, []float64{2, 3, 4}, ys)

	for _, w := range []Window{{Min: -1, Max: 3}, {Min: 2, Max: 7}, {Min: 3, Max: 3}} {
		_, _, err := w.Slice(profile)
		assert.ErrorIs(t, err, ErrWindowOutOfRange, "window %s", w)
	}
}

func TestEngineNotReady(t *testing.T) {
	profile := twoPeakProfile(200, 0, 0)

	e := NewEngine()
	assert.False(t, e.IsReady())
	assert.True(t, e.Fit(profile).Empty())

	e.SetFitFunction(MovingPeak, mustGaussian(t, "mp", movingCenter))
	e.SetWindow(MovingPeak, 40, 80)
	assert.False(t, e.IsReady(), "reference peak still unconfigured")
	assert.True(t, e.Fit(profile).Empty())

	e.SetWindow(ReferencePeak, 100, 140)
	assert.False(t, e.IsReady(), "reference peak has no fit function")
	res := e.Fit(profile)
	assert.True(t, res.Empty())
	assert.Empty(t, res.Failures)
	assert.Equal(t, DefaultEstimate, e.Estimate(MovingPeak), "estimate must not move while not ready")

	e.SetFitFunction(ReferencePeak, mustGaussian(t, "ref", referenceCenter))
	assert.True(t, e.IsReady())
}

func TestEngineFitTwoPeaks(t *testing.T) {
	e := readyEngine(t)

	res := e.Fit(twoPeakProfile(200, 2.5, -1.0))
	require.Equal(t, 2, res.Peaks(), "failures: %v", res.Failures)

	assert.InDelta(t, 2.5, res.Moving.Displacement, 1e-4)
	assert.InDelta(t, -1.0, res.Reference.Displacement, 1e-4)
	assert.InDelta(t, 1.0, res.Moving.Params[1], 1e-4)
	assert.Equal(t, "mp-gauss", res.Moving.FitFunction)
	assert.Equal(t, "ref-gauss", res.Reference.FitFunction)

	assert.Equal(t, res.Moving.Params, e.Estimate(MovingPeak))
	assert.Equal(t, res.Reference.Params, e.Estimate(ReferencePeak))
}

func TestEngineTracksDrift(t *testing.T) {
	e := readyEngine(t)
	for _, d := range []float64{0.5, 1.5, 3, 4.5, 6, 7.5} {
		res := e.Fit(twoPeakProfile(200, d, 0))
		require.NotNil(t, res.Moving, "drift %v: %v", d, res.Failures)
		assert.InDelta(t, d, res.Moving.Displacement, 1e-3)
	}
}

func TestEngineShortProfileOmitsPeak(t *testing.T) {
	e := readyEngine(t)
	require.Equal(t, 2, e.Fit(twoPeakProfile(200, 1, 1)).Peaks())
	refBefore := e.Estimate(ReferencePeak)

	res := e.Fit(twoPeakProfile(90, 2, 2))
	require.NotNil(t, res.Moving)
	assert.Nil(t, res.Reference)
	assert.InDelta(t, 2, res.Moving.Displacement, 1e-4)
	assert.Equal(t, refBefore, e.Estimate(ReferencePeak))

	require.Len(t, res.Failures, 1)
	assert.Equal(t, ReferencePeak, res.Failures[0].Peak)
	assert.ErrorIs(t, res.Failures[0].Err, ErrWindowOutOfRange)
}

func TestEngineFailureKeepsEstimate(t *testing.T) {
	e := readyEngine(t)
	require.Equal(t, 2, e.Fit(twoPeakProfile(200, 1, 1)).Peaks())
	before := e.Estimate(MovingPeak)

	profile := twoPeakProfile(200, 1, 1)
	profile[55] = math.NaN()
	res := e.Fit(profile)

	assert.Nil(t, res.Moving)
	assert.NotNil(t, res.Reference, "reference peak is fitted independently")
	assert.Equal(t, before, e.Estimate(MovingPeak))
}

func TestEngineWarmStartAndReset(t *testing.T) {
	mp := &recordingModel{Model: mustGaussian(t, "mp", movingCenter)}
	ref := &recordingModel{Model: mustGaussian(t, "ref", referenceCenter)}
	e := NewEngine()
	e.SetFitFunction(MovingPeak, mp)
	e.SetFitFunction(ReferencePeak, ref)
	e.SetWindow(MovingPeak, 40, 80)
	e.SetWindow(ReferencePeak, 100, 140)

	first := e.Fit(twoPeakProfile(200, 3, -2))
	require.Equal(t, 2, first.Peaks())
	assert.Equal(t, DefaultEstimate, mp.first)

	mp.first, ref.first = nil, nil
	e.Fit(twoPeakProfile(200, 3.2, -2))
	assert.Equal(t, first.Moving.Params, mp.first, "second fit warm-starts from the first")
	assert.Equal(t, first.Reference.Params, ref.first)

	e.ResetEstimates()
	assert.Equal(t, DefaultEstimate, e.Estimate(MovingPeak))
	assert.Equal(t, DefaultEstimate, e.Estimate(ReferencePeak))

	mp.first, ref.first = nil, nil
	e.Fit(twoPeakProfile(200, 3.4, -2))
	assert.Equal(t, []float64{0, 1, 0}, mp.first)
	assert.Equal(t, []float64{0, 1, 0}, ref.first)
}

func TestEnginePanicIsContained(t *testing.T) {
	e := readyEngine(t)
	e.SetFitFunction(MovingPeak, panickingModel{mustGaussian(t, "bad", movingCenter)})

	var res Result
	require.NotPanics(t, func() { res = e.Fit(twoPeakProfile(200, 0, 1)) })
	assert.Nil(t, res.Moving)
	require.NotNil(t, res.Reference)
	assert.InDelta(t, 1, res.Reference.Displacement, 1e-4)
	require.Len(t, res.Failures, 1)
	assert.True(t, errors.Is(res.Failures[0].Err, ErrModelPanic))
	assert.Equal(t, DefaultEstimate, e.Estimate(MovingPeak))
}

func TestEngineOverwriteConfiguration(t *testing.T) {
	e := readyEngine(t)
	e.SetWindow(MovingPeak, 30, 90)
	w, ok := e.Window(MovingPeak)
	require.True(t, ok)
	assert.Equal(t, Window{Min: 30, Max: 90}, w)

	e.SetFitFunction(MovingPeak, mustGaussian(t, "replacement", movingCenter))
	m, ok := e.FitFunction(MovingPeak)
	require.True(t, ok)
	assert.Equal(t, "replacement", m.Name())
}

func TestPeakString(t *testing.T) {
	assert.Equal(t, "mp", MovingPeak.String())
	assert.Equal(t, "ref", ReferencePeak.String())
}
