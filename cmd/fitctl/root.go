package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/liveodm/internal/config"
	"github.com/banshee-data/liveodm/internal/control"
	"github.com/banshee-data/liveodm/internal/fit"
	"github.com/banshee-data/liveodm/internal/transport"
	"github.com/banshee-data/liveodm/internal/version"
)

// env holds the connections a command opens. Tests replace them with
// in-memory pipes.
type env struct {
	openControl func(ctx context.Context, addr string) (*control.Client, error)
	openLive    func(ctx context.Context, addr string) (transport.Receiver, error)
}

func defaultEnv() *env {
	return &env{
		openControl: control.Listen,
		openLive: func(ctx context.Context, addr string) (transport.Receiver, error) {
			return transport.DialSubscriber(ctx, addr)
		},
	}
}

// rootOptions holds the global flags.
type rootOptions struct {
	env     *env
	control string
	linger  time.Duration
}

func newRootCommand(e *env) *cobra.Command {
	opts := &rootOptions{env: e}

	cmd := &cobra.Command{
		Use:   "fitctl",
		Short: "Control a fitting worker",
		Long: `fitctl binds the control endpoint and sends one-way commands to the
fitting workers dialed into it. Commands are not acknowledged: use
"fitctl state" and the worker log to confirm.`,
		Version:      version.String(),
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.control, "control", config.DefaultControlAddress, "control endpoint to bind")
	cmd.PersistentFlags().DurationVar(&opts.linger, "linger", 500*time.Millisecond, "time to keep the endpoint open after sending")

	cmd.AddCommand(
		newSimpleCommand(opts, "start", "Start fitting (requires both peaks configured)", (*control.Client).StartFitting),
		newSimpleCommand(opts, "stop", "Stop fitting and return to Idle", (*control.Client).StopFitting),
		newSimpleCommand(opts, "abort", "Shut the worker down", (*control.Client).Abort),
		newSimpleCommand(opts, "state", "Make the worker log its state", (*control.Client).PrintState),
		newSimpleCommand(opts, "reset", "Reset both warm-start estimates", (*control.Client).ResetEstimates),
		newIntervalCommand(opts),
		newFunctionCommand(opts),
		newTemplateCommand(opts),
		newShellCommand(opts),
		newLaunchCommand(opts),
	)
	return cmd
}

// withClient opens the control endpoint, runs fn and keeps the endpoint
// open for the linger period so dialed workers can drain it.
func (o *rootOptions) withClient(ctx context.Context, fn func(*control.Client) error) error {
	c, err := o.env.openControl(ctx, o.control)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := fn(c); err != nil {
		return err
	}
	if o.linger > 0 {
		t := time.NewTimer(o.linger)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return nil
}

func newSimpleCommand(opts *rootOptions, use, short string, send func(*control.Client) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd.Context(), send)
		},
	}
}

func parsePeak(s string) (fit.Peak, error) {
	switch s {
	case "mp", "moving":
		return fit.MovingPeak, nil
	case "ref", "reference":
		return fit.ReferencePeak, nil
	default:
		return 0, fmt.Errorf("unknown peak %q: want mp or ref", s)
	}
}
