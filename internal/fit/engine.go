package fit

import (
	"fmt"
)

// Peak names one of the two logical peaks fitted per profile.
type Peak int

const (
	MovingPeak Peak = iota
	ReferencePeak
)

// Peaks lists both peaks in result order.
var Peaks = [...]Peak{MovingPeak, ReferencePeak}

// String returns the suffix used for the peak on the wire.
func (p Peak) String() string {
	switch p {
	case MovingPeak:
		return "mp"
	case ReferencePeak:
		return "ref"
	default:
		return fmt.Sprintf("peak(%d)", int(p))
	}
}

// DefaultEstimate is the initial guess used until a fit converges and after
// ResetEstimates.
var DefaultEstimate = []float64{0.0, 1.0, 0.0}

// PeakConfig is the configuration and warm-start state of one peak.
type PeakConfig struct {
	model     Model
	window    Window
	hasWindow bool
	estimate  []float64
}

func newPeakConfig() PeakConfig {
	return PeakConfig{estimate: defaultEstimate()}
}

func defaultEstimate() []float64 {
	return append([]float64(nil), DefaultEstimate...)
}

// Ready reports whether both the model and the window are set.
func (c *PeakConfig) Ready() bool {
	return c.model != nil && c.hasWindow
}

// PeakResult is the outcome of a converged fit for one peak.
type PeakResult struct {
	Displacement float64
	Params       []float64
	FitFunction  string
}

// PeakFailure records why a peak was left out of a Result.
type PeakFailure struct {
	Peak Peak
	Err  error
}

// Result holds the converged peaks of one profile. A nil peak failed or was
// not attempted.
type Result struct {
	Moving    *PeakResult
	Reference *PeakResult
	// Failures is diagnostic only and never serialized.
	Failures []PeakFailure
}

// Get returns the result for peak, or nil.
func (r Result) Get(p Peak) *PeakResult {
	if p == ReferencePeak {
		return r.Reference
	}
	return r.Moving
}

// Peaks returns the number of peaks present.
func (r Result) Peaks() int {
	n := 0
	if r.Moving != nil {
		n++
	}
	if r.Reference != nil {
		n++
	}
	return n
}

// Empty reports whether the result references no peak at all.
func (r Result) Empty() bool {
	return r.Peaks() == 0
}

func (r *Result) set(p Peak, pr *PeakResult) {
	if p == ReferencePeak {
		r.Reference = pr
		return
	}
	r.Moving = pr
}

// Engine fits the moving and reference peaks of intensity profiles.
type Engine struct {
	peaks  [2]PeakConfig
	solver Solver
}

// Option configures an Engine.
type Option func(*Engine)

// WithSolver replaces the default least-squares solver.
func WithSolver(s Solver) Option {
	return func(e *Engine) { e.solver = s }
}

// NewEngine returns an Engine with both peaks unconfigured.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		peaks:  [2]PeakConfig{newPeakConfig(), newPeakConfig()},
		solver: DefaultSolver(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) peak(p Peak) *PeakConfig {
	if p == ReferencePeak {
		return &e.peaks[1]
	}
	return &e.peaks[0]
}

// SetFitFunction sets the model used for peak.
func (e *Engine) SetFitFunction(p Peak, m Model) {
	e.peak(p).model = m
}

// SetWindow sets the window of peak from the unordered interval (a, b).
func (e *Engine) SetWindow(p Peak, a, b float64) {
	c := e.peak(p)
	c.window = NewWindow(a, b)
	c.hasWindow = true
}

// IsReady reports whether both peaks are fit-ready.
func (e *Engine) IsReady() bool {
	return e.peaks[0].Ready() && e.peaks[1].Ready()
}

// ResetEstimates reverts both warm-start estimates to DefaultEstimate.
func (e *Engine) ResetEstimates() {
	for i := range e.peaks {
		e.peaks[i].estimate = defaultEstimate()
	}
}

// Estimate returns a copy of the current warm-start estimate of peak.
func (e *Engine) Estimate(p Peak) []float64 {
	return append([]float64(nil), e.peak(p).estimate...)
}

// Window returns the window of peak and whether it has been set.
func (e *Engine) Window(p Peak) (Window, bool) {
	c := e.peak(p)
	return c.window, c.hasWindow
}

// FitFunction returns the model of peak and whether it has been set.
func (e *Engine) FitFunction(p Peak) (Model, bool) {
	c := e.peak(p)
	return c.model, c.model != nil
}

// Fit fits both peaks of profile. It returns an empty Result when the engine
// is not ready. Peaks are fitted independently: a failed peak is omitted and
// keeps its previous estimate.
func (e *Engine) Fit(profile []float64) Result {
	var res Result
	if !e.IsReady() {
		return res
	}
	for _, p := range Peaks {
		pr, err := e.fitPeak(e.peak(p), profile)
		if err != nil {
			res.Failures = append(res.Failures, PeakFailure{Peak: p, Err: err})
			continue
		}
		res.set(p, pr)
	}
	return res
}

func (e *Engine) fitPeak(c *PeakConfig, profile []float64) (pr *PeakResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			pr, err = nil, fmt.Errorf("%w: %v", ErrModelPanic, r)
		}
	}()

	xs, ys, err := c.window.Slice(profile)
	if err != nil {
		return nil, err
	}
	params, err := e.solver.Solve(c.model, xs, ys, c.estimate)
	if err != nil {
		return nil, err
	}
	d := c.model.Displacement(params)
	if !isFinite(d) {
		return nil, fmt.Errorf("%w: displacement %v", ErrNonFinite, d)
	}

	c.estimate = params
	return &PeakResult{
		Displacement: d,
		Params:       append([]float64(nil), params...),
		FitFunction:  c.model.Name(),
	}, nil
}
