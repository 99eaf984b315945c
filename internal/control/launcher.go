package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/liveodm/internal/monitoring"
	"github.com/banshee-data/liveodm/internal/transport"
	"github.com/banshee-data/liveodm/internal/worker"
)

// Mode selects how a Launcher isolates a worker.
type Mode int

const (
	// ModeProcess runs the fitworker binary as a child process.
	ModeProcess Mode = iota
	// ModeInProcess runs the worker loop on its own goroutine and sockets.
	ModeInProcess
)

func (m Mode) String() string {
	switch m {
	case ModeProcess:
		return "process"
	case ModeInProcess:
		return "in-process"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// DefaultBinary is the worker executable looked up in PATH.
const DefaultBinary = "fitworker"

// Addresses are the three channel endpoints handed to a worker.
type Addresses struct {
	Live    string
	Control string
	Results string
}

// Launcher starts workers. The zero value launches the fitworker binary.
type Launcher struct {
	Mode Mode

	// Binary and Args configure ModeProcess. Args go before the channel
	// flags. Env is appended to the current environment.
	Binary string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer

	// Config and Dial configure ModeInProcess. Dial defaults to
	// DialChannels.
	Config worker.Config
	Dial   func(ctx context.Context, a Addresses) (worker.Channels, error)
}

// Handle tracks one launched worker.
type Handle struct {
	ID   string
	Mode Mode

	cmd    *exec.Cmd
	w      *worker.Worker
	cancel context.CancelFunc

	done chan struct{}
	err  error
	stop sync.Once
}

// Launch starts a worker on addrs. The worker outlives ctx only in
// ModeProcess; in ModeInProcess cancelling ctx aborts it.
func (l *Launcher) Launch(ctx context.Context, addrs Addresses) (*Handle, error) {
	h := &Handle{
		ID:   uuid.NewString(),
		Mode: l.Mode,
		done: make(chan struct{}),
	}
	var err error
	switch l.Mode {
	case ModeProcess:
		err = l.startProcess(h, addrs)
	case ModeInProcess:
		err = l.startInProcess(ctx, h, addrs)
	default:
		err = fmt.Errorf("unknown launch mode %v", l.Mode)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (l *Launcher) startProcess(h *Handle, addrs Addresses) error {
	bin := l.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	args := append([]string(nil), l.Args...)
	args = append(args,
		"-live", addrs.Live,
		"-control", addrs.Control,
		"-results", addrs.Results,
		"-id", h.ID,
	)
	cmd := exec.Command(bin, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker %s: %w", h.ID, err)
	}
	h.cmd = cmd
	monitoring.Logf("launched worker %s as pid %d", h.ID, cmd.Process.Pid)

	go func() {
		defer close(h.done)
		h.err = cmd.Wait()
		monitoring.Logf("worker %s exited: %v", h.ID, h.err)
	}()
	return nil
}

func (l *Launcher) startInProcess(ctx context.Context, h *Handle, addrs Addresses) error {
	dial := l.Dial
	if dial == nil {
		dial = DialChannels
	}
	ctx, cancel := context.WithCancel(ctx)
	ch, err := dial(ctx, addrs)
	if err != nil {
		cancel()
		return fmt.Errorf("worker %s: %w", h.ID, err)
	}
	cfg := l.Config
	cfg.ID = h.ID
	h.w = worker.New(cfg, ch)
	h.cancel = cancel
	monitoring.Logf("launched worker %s in-process", h.ID)

	go func() {
		defer close(h.done)
		defer cancel()
		h.err = h.w.Run(ctx)
	}()
	return nil
}

// DialChannels connects the three worker sockets: SUB on the live feed,
// PULL on control and PUSH on results.
func DialChannels(ctx context.Context, a Addresses) (worker.Channels, error) {
	live, err := transport.DialSubscriber(ctx, a.Live)
	if err != nil {
		return worker.Channels{}, err
	}
	ctrl, err := transport.DialPuller(ctx, a.Control)
	if err != nil {
		live.Close()
		return worker.Channels{}, err
	}
	results, err := transport.DialPusher(ctx, a.Results)
	if err != nil {
		live.Close()
		ctrl.Close()
		return worker.Channels{}, err
	}
	return worker.Channels{Live: live, Control: ctrl, Results: results}, nil
}

// Worker returns the in-process worker, or nil in ModeProcess.
func (h *Handle) Worker() *worker.Worker {
	return h.w
}

// Done is closed when the worker has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the worker exits or ctx is done and returns the exit
// error of the worker.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the worker to shut down. A child process is sent an interrupt,
// which the worker treats as abort. Stop does not wait, use Wait.
func (h *Handle) Stop() error {
	var err error
	h.stop.Do(func() {
		switch {
		case h.cancel != nil:
			h.cancel()
		case h.cmd != nil && h.cmd.Process != nil:
			err = h.cmd.Process.Signal(os.Interrupt)
			if errors.Is(err, os.ErrProcessDone) {
				err = nil
			}
		}
	})
	return err
}
