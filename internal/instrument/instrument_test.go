package instrument

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/liveodm/internal/fit"
	"github.com/banshee-data/liveodm/internal/monitoring"
	"github.com/banshee-data/liveodm/internal/protocol"
	"github.com/banshee-data/liveodm/internal/timeutil"
	"github.com/banshee-data/liveodm/internal/transport"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestStationaryProfile(t *testing.T) {
	g := NewGenerator(false, false, 1)
	f := g.Next()

	require.Len(t, f.Profile, DefaultSamples)
	assert.Zero(t, f.Displacement)

	// Peaks sit at pixel 30*199/100 and 60*199/100.
	mp := floats.MaxIdx(f.Profile[:90])
	ref := 90 + floats.MaxIdx(f.Profile[90:])
	assert.InDelta(t, DefaultMovingCenter*g.PixelsPerUnit(), float64(mp), 1)
	assert.InDelta(t, DefaultReferenceCenter*g.PixelsPerUnit(), float64(ref), 1)
	assert.InDelta(t, DefaultScale, floats.Max(f.Profile), 200)
}

func TestSweep(t *testing.T) {
	g := NewGenerator(true, false, 1)
	g.Steps = 5
	var got []float64
	for i := 0; i < 6; i++ {
		got = append(got, g.Next().Displacement)
	}
	assert.InDelta(t, 0, got[0], 1e-12)
	assert.InDelta(t, DefaultAmplitude, got[1], 1e-12)
	assert.InDelta(t, 0, got[2], 1e-9)
	assert.InDelta(t, -DefaultAmplitude, got[3], 1e-12)
	assert.InDelta(t, got[0], got[5], 1e-12, "sweep must wrap")
}

func TestNoiseIsSeeded(t *testing.T) {
	a := NewGenerator(false, true, 42).Next().Profile
	b := NewGenerator(false, true, 42).Next().Profile
	c := NewGenerator(false, false, 42).Next().Profile
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	for i, v := range a {
		assert.Equal(t, float64(int64(v)), v, "sample %d is not a count", i)
	}
}

func TestGeneratedProfileFits(t *testing.T) {
	g := NewGenerator(true, true, 7)
	g.Steps = 4
	g.Next()
	f := g.Next()
	require.NotZero(t, f.Displacement)

	ppu := g.PixelsPerUnit()
	e := fit.NewEngine()
	mp, err := fit.NewGaussian("mp", DefaultMovingCenter*ppu, DefaultSigma*ppu, DefaultScale)
	require.NoError(t, err)
	ref, err := fit.NewGaussian("ref", DefaultReferenceCenter*ppu, DefaultSigma*ppu, DefaultScale)
	require.NoError(t, err)
	e.SetFitFunction(fit.MovingPeak, mp)
	e.SetFitFunction(fit.ReferencePeak, ref)
	e.SetWindow(fit.MovingPeak, 45, 85)
	e.SetWindow(fit.ReferencePeak, 100, 140)

	res := e.Fit(f.Profile)
	require.NotNil(t, res.Moving, "%v", res.Failures)
	require.NotNil(t, res.Reference, "%v", res.Failures)
	assert.InDelta(t, f.Displacement*ppu, res.Moving.Displacement, 0.2)
	assert.InDelta(t, 0, res.Reference.Displacement, 0.2)
}

func TestPublisher(t *testing.T) {
	p := transport.NewPipe(8)
	pub := &Publisher{
		Sender:    p,
		Generator: NewGenerator(true, false, 1),
		Period:    time.Millisecond,
		Status:    MeasurementStatus,
		Limit:     3,
	}
	require.NoError(t, pub.Run(context.Background()))
	assert.Equal(t, 3, pub.Sent())
	assert.Equal(t, 3, p.Len())

	b, err := p.Recv()
	require.NoError(t, err)
	data, err := protocol.DecodeLiveData(b, "")
	require.NoError(t, err)
	assert.Len(t, data.Profile, DefaultSamples)
	assert.Equal(t, MeasurementStatus, data.Status)
	assert.Contains(t, data.Metadata, ActuatorVoltageKey)
}

func TestPublisherStops(t *testing.T) {
	p := transport.NewPipe(1024)
	pub := &Publisher{Sender: p, Generator: NewGenerator(false, false, 1), Period: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, pub.Run(ctx))
	assert.Positive(t, pub.Sent())

	p.Close()
	pub.Limit = 0
	assert.ErrorIs(t, pub.Run(context.Background()), transport.ErrClosed)
}

func TestPublisherFollowsClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := transport.NewPipe(8)
	pub := &Publisher{
		Sender:    p,
		Generator: NewGenerator(false, false, 1),
		Period:    MeasurementPeriod,
		Limit:     3,
		Clock:     clock,
	}

	done := make(chan error, 1)
	go func() { done <- pub.Run(context.Background()) }()

	// One frame goes out immediately, the rest wait for ticks.
	require.Eventually(t, func() bool { return pub.Sent() == 1 }, time.Second, time.Millisecond)
	clock.Advance(MeasurementPeriod)
	require.Eventually(t, func() bool { return pub.Sent() == 2 }, time.Second, time.Millisecond)
	clock.Advance(MeasurementPeriod)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop at its limit")
	}
	assert.Equal(t, 3, pub.Sent())
	assert.Equal(t, 3, p.Len())
}

func TestPublisherReturnsAtLimitWithoutTick(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := transport.NewPipe(4)
	pub := &Publisher{
		Sender:    p,
		Generator: NewGenerator(false, false, 1),
		Period:    time.Hour,
		Limit:     1,
		Clock:     clock,
	}

	done := make(chan error, 1)
	go func() { done <- pub.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher waited for a tick after its last frame")
	}
	assert.Equal(t, 1, pub.Sent())

	// A publisher already at its limit sends nothing more.
	require.NoError(t, pub.Run(context.Background()))
	assert.Equal(t, 1, p.Len())
}
