package report

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/liveodm/internal/fit"
)

// ErrNoProfiles is returned when a template is requested before any profile
// was recorded.
var ErrNoProfiles = errors.New("no profiles recorded")

// MeanRecorder keeps the running mean of the live profiles it is given.
// Profiles whose length differs from the first one restart the mean.
type MeanRecorder struct {
	mu    sync.Mutex
	sum   []float64
	count int
}

// Add folds profile into the running mean.
func (m *MeanRecorder) Add(profile []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(profile) != len(m.sum) {
		m.sum = make([]float64, len(profile))
		m.count = 0
	}
	floats.Add(m.sum, profile)
	m.count++
}

// Count returns the number of profiles in the mean.
func (m *MeanRecorder) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Reset drops every recorded profile.
func (m *MeanRecorder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sum, m.count = nil, 0
}

// Mean returns the mean profile, or nil when nothing was recorded.
func (m *MeanRecorder) Mean() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return nil
	}
	mean := append([]float64(nil), m.sum...)
	floats.Scale(1/float64(m.count), mean)
	return mean
}

// Template returns the mean profile as a scaled spline function. The
// spline spans the whole profile, the peak window restricts the fit.
func (m *MeanRecorder) Template(name string, sigma float64) (fit.FunctionSpec, error) {
	mean := m.Mean()
	if mean == nil {
		return fit.FunctionSpec{}, ErrNoProfiles
	}
	spec := fit.FunctionSpec{
		Kind:     fit.KindScaledSpline,
		Name:     name,
		Template: mean,
		Sigma:    sigma,
	}
	// Validate before the function goes on the wire.
	if _, err := fit.NewModel(spec); err != nil {
		return fit.FunctionSpec{}, fmt.Errorf("template %s: %w", name, err)
	}
	return spec, nil
}
