package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/liveodm/internal/fit"
	"github.com/banshee-data/liveodm/internal/protocol"
	"github.com/banshee-data/liveodm/internal/timeutil"
)

func result(mp, ref *float64) protocol.ResultMessage {
	return protocol.ResultMessage{DisplacementMP: mp, DisplacementRef: ref}
}

func f64(v float64) *float64 { return &v }

func TestRecorderAdd(t *testing.T) {
	r := NewRecorder(0)
	p := r.Add(result(f64(1.5), f64(0.5)))
	assert.True(t, p.HasMP && p.HasRef && p.HasRel)
	assert.Equal(t, 1.0, p.Relative)

	p = r.Add(result(f64(2), nil))
	assert.True(t, p.HasMP)
	assert.False(t, p.HasRef)
	assert.False(t, p.HasRel)
	assert.Equal(t, 1, p.Index)
	assert.Equal(t, 2, r.Len())
}

func TestRecorderTimestamps(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	r := NewRecorder(0)
	r.SetClock(clock)

	a := r.Add(result(f64(1), nil))
	clock.Advance(8 * time.Millisecond)
	b := r.Add(result(f64(2), nil))

	assert.Equal(t, start, a.Time)
	assert.Equal(t, 8*time.Millisecond, b.Time.Sub(a.Time))
}

func TestRecorderLimit(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Add(result(f64(float64(i)), nil))
	}
	pts := r.Points()
	require.Len(t, pts, 3)
	assert.Equal(t, 2, pts[0].Index)
	assert.Equal(t, 4.0, pts[2].Moving)
}

func TestRecorderCharts(t *testing.T) {
	r := NewRecorder(0)
	for i := 0; i < 20; i++ {
		v := float64(i) / 10
		if i%5 == 0 {
			r.Add(result(f64(v), nil))
			continue
		}
		r.Add(result(f64(v), f64(-v)))
	}

	var buf bytes.Buffer
	require.NoError(t, r.WriteHTML(&buf, "fitwatch"))
	html := buf.String()
	assert.True(t, strings.Contains(html, "displacement_mp"))
	assert.True(t, strings.Contains(html, "mp - ref"))

	file := filepath.Join(t.TempDir(), "displacement.png")
	require.NoError(t, r.SavePNG(file))
	st, err := os.Stat(file)
	require.NoError(t, err)
	assert.Positive(t, st.Size())
}

func TestMeanRecorder(t *testing.T) {
	var m MeanRecorder
	assert.Nil(t, m.Mean())
	_, err := m.Template("mp", 0)
	assert.ErrorIs(t, err, ErrNoProfiles)

	m.Add([]float64{1, 2, 3, 4, 5, 6})
	m.Add([]float64{3, 4, 5, 6, 7, 8})
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, []float64{2, 3, 4, 5, 6, 7}, m.Mean())

	spec, err := m.Template("mp-spline", 1.5)
	require.NoError(t, err)
	assert.Equal(t, fit.KindScaledSpline, spec.Kind)
	assert.Equal(t, "mp-spline", spec.Name)
	assert.Equal(t, 1.5, spec.Sigma)
	assert.Equal(t, []float64{2, 3, 4, 5, 6, 7}, spec.Template)

	// A profile of another length restarts the mean.
	m.Add([]float64{1, 1})
	assert.Equal(t, 1, m.Count())
	_, err = m.Template("short", 0)
	assert.ErrorIs(t, err, fit.ErrInvalidFunction)
	m.Reset()
	assert.Zero(t, m.Count())
}
