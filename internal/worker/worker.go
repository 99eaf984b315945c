// Package worker runs the fitting worker: a single loop that multiplexes the
// live instrument feed with the control channel under an explicit run state
// and emits one result per fitted profile.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/liveodm/internal/config"
	"github.com/banshee-data/liveodm/internal/fit"
	"github.com/banshee-data/liveodm/internal/monitoring"
	"github.com/banshee-data/liveodm/internal/protocol"
	"github.com/banshee-data/liveodm/internal/transport"
)

// Defaults used when a Config field is zero.
const (
	DefaultPollInterval = time.Millisecond
	DefaultResultQueue  = 64
)

// Config holds the tuning of one worker.
type Config struct {
	// ID tags log lines. Empty means untagged.
	ID string
	// ProfileKey is the live message key holding the samples. Empty tries
	// the instrument defaults.
	ProfileKey string
	// PollInterval bounds each wait of the loop.
	PollInterval time.Duration
	// ResultQueue is the number of encoded results buffered for sending.
	ResultQueue int
	// MaxIterations overrides the solver iteration limit when positive.
	MaxIterations int
}

// ConfigFrom builds a Config from the on-disk worker configuration.
func ConfigFrom(c *config.WorkerConfig) Config {
	return Config{
		ProfileKey:    c.GetProfileKey(),
		PollInterval:  c.GetPollInterval(),
		ResultQueue:   c.GetResultQueue(),
		MaxIterations: c.GetMaxIterations(),
	}
}

// Channels are the three message channels of a worker. The worker owns them
// and closes all of them on teardown.
type Channels struct {
	Live    transport.Receiver
	Control transport.Receiver
	Results transport.Sender
}

// Option configures a Worker.
type Option func(*Worker)

// WithEngine replaces the engine the worker fits with.
func WithEngine(e *fit.Engine) Option {
	return func(w *Worker) { w.engine = e }
}

// WithLogger replaces the worker's log function.
func WithLogger(logf func(format string, v ...interface{})) Option {
	return func(w *Worker) { w.logf = logf }
}

// Worker owns one fit engine and drives it from the live and control
// channels.
type Worker struct {
	cfg    Config
	ch     Channels
	outbox *transport.Outbox
	logf   func(format string, v ...interface{})

	// mu guards engine so debug readers get a consistent view. The loop is
	// the only writer.
	mu     sync.Mutex
	engine *fit.Engine

	state     atomic.Int32
	stats     counters
	recvOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

type counters struct {
	received    atomic.Uint64
	discarded   atomic.Uint64
	malformed   atomic.Uint64
	fitted      atomic.Uint64
	empty       atomic.Uint64
	emitted     atomic.Uint64
	failedPeaks atomic.Uint64
	panics      atomic.Uint64
	commands    atomic.Uint64
	ignored     atomic.Uint64
}

// New returns an Idle worker. It starts the result sender, so the worker
// must be released with Run or Close.
func New(cfg Config, ch Channels, opts ...Option) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ResultQueue <= 0 {
		cfg.ResultQueue = DefaultResultQueue
	}
	w := &Worker{
		cfg:  cfg,
		ch:   ch,
		logf: monitoring.Tagged(cfg.ID),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.engine == nil {
		var engineOpts []fit.Option
		if cfg.MaxIterations > 0 {
			s := fit.DefaultSolver()
			s.MaxIterations = cfg.MaxIterations
			engineOpts = append(engineOpts, fit.WithSolver(s))
		}
		w.engine = fit.NewEngine(engineOpts...)
	}
	w.outbox = transport.NewOutbox(ch.Results, cfg.ResultQueue)
	return w
}

// State returns the current run state. It is safe to call concurrently.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	old := State(w.state.Swap(int32(s)))
	if old != s {
		w.logf("state %s -> %s", old, s)
	}
}

// Apply executes one control command against the state machine.
// Configuration commands apply in Idle and Fitting. Nothing applies once
// the worker is Aborted.
func (w *Worker) Apply(cmd protocol.Command) {
	w.stats.commands.Add(1)
	state := w.State()
	if state == Aborted {
		w.stats.ignored.Add(1)
		return
	}

	switch c := cmd.(type) {
	case protocol.SetFitFunction:
		m, err := fit.NewModel(c.Function)
		if err != nil {
			w.stats.ignored.Add(1)
			w.logf("ignoring %s: %v", c.Method(), err)
			return
		}
		w.mu.Lock()
		w.engine.SetFitFunction(c.Peak, m)
		w.mu.Unlock()
	case protocol.SetInterval:
		w.mu.Lock()
		w.engine.SetWindow(c.Peak, c.Interval[0], c.Interval[1])
		w.mu.Unlock()
	case protocol.ResetEstimates:
		w.mu.Lock()
		w.engine.ResetEstimates()
		w.mu.Unlock()
	case protocol.StartFitting:
		if state != Idle {
			return
		}
		w.mu.Lock()
		ready := w.engine.IsReady()
		w.mu.Unlock()
		if !ready {
			w.logf("startFitting ignored: fit functions and intervals must be set for both peaks")
			return
		}
		w.setState(Fitting)
	case protocol.StopFitting:
		if state == Fitting {
			w.setState(Idle)
		}
	case protocol.Abort:
		w.setState(Aborted)
	case protocol.PrintState:
		w.printState()
	case protocol.Unknown:
		w.stats.ignored.Add(1)
		w.logf("ignoring unknown method %q", c.Name)
	default:
		w.stats.ignored.Add(1)
	}
}

// HandleControl decodes and applies one control frame. Malformed frames
// are logged and ignored.
func (w *Worker) HandleControl(b []byte) {
	defer func() {
		if r := recover(); r != nil {
			w.stats.panics.Add(1)
			w.stats.ignored.Add(1)
			w.logf("control message panicked: %v", r)
		}
	}()
	cmd, err := protocol.DecodeCommand(b)
	if err != nil {
		w.stats.commands.Add(1)
		w.stats.ignored.Add(1)
		w.logf("ignoring control message: %v", err)
		return
	}
	w.Apply(cmd)
}

// HandleLive processes one live data frame. Outside Fitting the frame is
// discarded. Decode errors, fit failures and panics are contained: they
// only show up as a missing result.
func (w *Worker) HandleLive(b []byte) {
	w.stats.received.Add(1)
	if w.State() != Fitting {
		w.stats.discarded.Add(1)
		return
	}

	data, err := protocol.DecodeLiveData(b, w.cfg.ProfileKey)
	if err != nil {
		if n := w.stats.malformed.Add(1); n == 1 || n%1000 == 0 {
			w.logf("dropping live message (%d so far): %v", n, err)
		}
		return
	}

	res, ok := w.fit(data.Profile)
	if !ok {
		return
	}
	w.stats.fitted.Add(1)
	w.stats.failedPeaks.Add(uint64(len(res.Failures)))
	if res.Empty() {
		w.stats.empty.Add(1)
		return
	}

	out, err := protocol.EncodeResult(protocol.NewResultMessage(res))
	if err != nil {
		w.logf("dropping result: %v", err)
		return
	}
	if w.outbox.Offer(out) {
		w.stats.emitted.Add(1)
	}
}

func (w *Worker) fit(profile []float64) (res fit.Result, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			w.stats.panics.Add(1)
			w.logf("fit panicked: %v", r)
			res, ok = fit.Result{}, false
		}
	}()
	return w.engine.Fit(profile), true
}

// Run drives the worker until it is aborted or ctx is done, then closes
// every channel. Cancelling ctx is treated as an abort. Run returns an
// error only when a channel fails underneath the worker.
func (w *Worker) Run(ctx context.Context) error {
	defer w.Close()

	pumpCtx, cancel := context.WithCancel(ctx)

	control := make(chan []byte, 16)
	live := make(chan []byte, 1)
	errc := make(chan error, 2)

	var wg sync.WaitGroup
	pump := func(name string, r transport.Receiver, out chan<- []byte) {
		defer wg.Done()
		if err := transport.Pump(pumpCtx, r, out); err != nil && pumpCtx.Err() == nil {
			errc <- fmt.Errorf("%s channel: %w", name, err)
		}
	}
	wg.Add(2)
	go pump("control", w.ch.Control, control)
	go pump("live", w.ch.Live, live)
	defer func() {
		// Cancelling releases a pump blocked on delivery, closing the
		// receivers releases one blocked in Recv.
		cancel()
		w.closeReceivers()
		wg.Wait()
	}()

	w.logf("worker running, poll interval %s", w.cfg.PollInterval)
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		if w.State() == Aborted {
			w.logf("aborted, shutting down")
			return nil
		}
		timer.Reset(w.cfg.PollInterval)

		select {
		case <-ctx.Done():
			w.setState(Aborted)
			w.logf("context done, shutting down")
			return nil
		case err := <-errc:
			w.setState(Aborted)
			w.logf("shutting down: %v", err)
			return err
		case b := <-control:
			w.HandleControl(b)
		case b := <-live:
			// Configuration sent before this frame must be visible to its fit.
			w.drainControl(control)
			if w.State() == Aborted {
				continue
			}
			w.HandleLive(b)
		case <-timer.C:
		}
	}
}

func (w *Worker) drainControl(control <-chan []byte) {
	for {
		select {
		case b := <-control:
			w.HandleControl(b)
			if w.State() == Aborted {
				return
			}
		default:
			return
		}
	}
}

func (w *Worker) closeReceivers() {
	w.recvOnce.Do(w.doCloseReceivers)
}

func (w *Worker) doCloseReceivers() {
	for _, r := range []transport.Receiver{w.ch.Control, w.ch.Live} {
		if err := r.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			w.logf("closing receiver: %v", err)
		}
	}
}

// Close releases every channel of the worker. Queued results are flushed
// for a short while first. Close must not race with HandleLive.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.setState(Aborted)
		w.closeReceivers()
		w.closeErr = w.outbox.Close()
		s := w.Stats()
		w.logf("closed: received=%d fitted=%d emitted=%d dropped=%d",
			s.Received, s.Fitted, s.Emitted, s.DroppedResults)
	})
	return w.closeErr
}
