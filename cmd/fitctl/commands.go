package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/liveodm/internal/config"
	"github.com/banshee-data/liveodm/internal/control"
	"github.com/banshee-data/liveodm/internal/fit"
	"github.com/banshee-data/liveodm/internal/protocol"
	"github.com/banshee-data/liveodm/internal/report"
	"github.com/banshee-data/liveodm/internal/transport"
)

func newIntervalCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "interval <mp|ref> <a> <b>",
		Short:   "Set the pixel window of a peak",
		Example: "  fitctl interval mp 40 80",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			peak, err := parsePeak(args[0])
			if err != nil {
				return err
			}
			var bounds [2]float64
			for i, s := range args[1:] {
				if bounds[i], err = strconv.ParseFloat(s, 64); err != nil {
					return fmt.Errorf("invalid interval bound %q: %w", s, err)
				}
			}
			return opts.withClient(cmd.Context(), func(c *control.Client) error {
				return c.Send(protocol.SetInterval{Peak: peak, Interval: bounds})
			})
		},
	}
}

// functionOptions holds the flags of the function command.
type functionOptions struct {
	*rootOptions
	spec         fit.FunctionSpec
	templateFile string
}

func newFunctionCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &functionOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "function <mp|ref>",
		Short: "Set the fit function of a peak",
		Long: `Set the fit function of a peak.

A gaussian is described by its reference centre, width and amplitude. A
scaledSpline is built from a template profile read from a JSON array file.
Every function is fitted as [displacement, scale, offset] around that shape.`,
		Example: `  fitctl function mp --kind gaussian --center 60 --width 10 --amplitude 10000
  fitctl function ref --kind scaledSpline --template mean.json --sigma 1.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peak, err := parsePeak(args[0])
			if err != nil {
				return err
			}
			spec, err := opts.buildSpec()
			if err != nil {
				return err
			}
			return opts.withClient(cmd.Context(), func(c *control.Client) error {
				return c.Send(protocol.SetFitFunction{Peak: peak, Function: spec})
			})
		},
	}

	cmd.Flags().StringVar(&opts.spec.Kind, "kind", fit.KindGaussian, "function kind (gaussian|scaledSpline)")
	cmd.Flags().StringVar(&opts.spec.Name, "name", "", "identifier reported in results")
	cmd.Flags().Float64Var(&opts.spec.Center, "center", 0, "gaussian centre (px)")
	cmd.Flags().Float64Var(&opts.spec.Width, "width", 0, "gaussian width (px)")
	cmd.Flags().Float64Var(&opts.spec.Amplitude, "amplitude", 1, "gaussian amplitude")
	cmd.Flags().StringVar(&opts.templateFile, "template", "", "JSON file holding the spline template samples")
	cmd.Flags().Float64Var(&opts.spec.Sigma, "sigma", 0, "Gaussian smoothing of the spline template (px)")

	return cmd
}

func (o *functionOptions) buildSpec() (fit.FunctionSpec, error) {
	spec := o.spec
	if o.templateFile != "" {
		data, err := os.ReadFile(o.templateFile)
		if err != nil {
			return spec, fmt.Errorf("read template: %w", err)
		}
		if err := json.Unmarshal(data, &spec.Template); err != nil {
			return spec, fmt.Errorf("parse template %s: %w", o.templateFile, err)
		}
	}
	if _, err := fit.NewModel(spec); err != nil {
		return spec, err
	}
	return spec, nil
}

// templateOptions holds the flags of the template command.
type templateOptions struct {
	*rootOptions
	live    string
	key     string
	name    string
	frames  int
	sigma   float64
	timeout time.Duration
}

func newTemplateCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &templateOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "template <mp|ref>",
		Short: "Record a mean live profile and send it as a spline fit function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peak, err := parsePeak(args[0])
			if err != nil {
				return err
			}
			if opts.frames <= 0 {
				return fmt.Errorf("--frames must be positive")
			}
			spec, n, err := opts.record(cmd.Context(), peak)
			if err != nil {
				return err
			}
			if err := opts.withClient(cmd.Context(), func(c *control.Client) error {
				return c.Send(protocol.SetFitFunction{Peak: peak, Function: spec})
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s template %q averaged over %d profiles\n", peak, spec.Name, n)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.live, "live", config.DefaultLiveAddress, "live data endpoint to subscribe to")
	cmd.Flags().StringVar(&opts.key, "profile-key", "", "live message key holding the profile")
	cmd.Flags().StringVar(&opts.name, "name", "", "identifier reported in results (default <peak>-spline)")
	cmd.Flags().IntVar(&opts.frames, "frames", 50, "number of profiles to average")
	cmd.Flags().Float64Var(&opts.sigma, "sigma", 0, "Gaussian smoothing of the template (px)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "give up when the profiles do not arrive in time")

	return cmd
}

func (o *templateOptions) record(ctx context.Context, peak fit.Peak) (fit.FunctionSpec, int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	live, err := o.env.openLive(ctx, o.live)
	if err != nil {
		return fit.FunctionSpec{}, 0, err
	}
	defer live.Close()

	frames := make(chan []byte)
	go transport.Pump(ctx, live, frames)

	var mean report.MeanRecorder
	for mean.Count() < o.frames {
		select {
		case <-ctx.Done():
			return fit.FunctionSpec{}, 0, fmt.Errorf("recorded %d of %d profiles: %w", mean.Count(), o.frames, ctx.Err())
		case b := <-frames:
			data, err := protocol.DecodeLiveData(b, o.key)
			if err != nil {
				continue
			}
			mean.Add(data.Profile)
		}
	}

	name := o.name
	if name == "" {
		name = peak.String() + "-spline"
	}
	spec, err := mean.Template(name, o.sigma)
	return spec, mean.Count(), err
}

func newShellCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Read commands from stdin, one per line",
		Long: `Read commands from stdin, one per line, and send each as it is read.

A line is a wire method name followed by its arguments, for example
"setMovingPeakInterval 40 80" or "startFitting". Other method names are
sent as they are. "quit" ends the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd.Context(), func(c *control.Client) error {
				return runShell(cmd, c)
			})
		},
	}
}

func runShell(cmd *cobra.Command, c *control.Client) error {
	out := cmd.OutOrStdout()
	scan := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "method: ")
		if !scan.Scan() {
			fmt.Fprintln(out)
			return scan.Err()
		}
		line := strings.TrimSpace(scan.Text())
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		}
		command, err := parseShellLine(line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := c.Send(command); err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %s\n", command.Method())
	}
}

func parseShellLine(line string) (protocol.Command, error) {
	fields := strings.Fields(line)
	method, args := fields[0], fields[1:]

	switch method {
	case protocol.MethodSetMovingPeakInterval, protocol.MethodSetReferencePeakInterval:
		if len(args) != 2 {
			return nil, fmt.Errorf("%s needs two bounds", method)
		}
		var bounds [2]float64
		for i, s := range args {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid bound %q", s)
			}
			bounds[i] = v
		}
		peak := fit.MovingPeak
		if method == protocol.MethodSetReferencePeakInterval {
			peak = fit.ReferencePeak
		}
		return protocol.SetInterval{Peak: peak, Interval: bounds}, nil
	case protocol.MethodSetMovingPeakFitFunction, protocol.MethodSetReferencePeakFitFunction:
		// Takes the function as JSON, e.g. {"kind":"gaussian","center":60,...}
		var spec fit.FunctionSpec
		if err := json.Unmarshal([]byte(strings.Join(args, " ")), &spec); err != nil {
			return nil, fmt.Errorf("%s needs a JSON function: %w", method, err)
		}
		peak := fit.MovingPeak
		if method == protocol.MethodSetReferencePeakFitFunction {
			peak = fit.ReferencePeak
		}
		return protocol.SetFitFunction{Peak: peak, Function: spec}, nil
	case protocol.MethodStartFitting:
		return protocol.StartFitting{}, nil
	case protocol.MethodStopFitting:
		return protocol.StopFitting{}, nil
	case protocol.MethodAbort:
		return protocol.Abort{}, nil
	case protocol.MethodPrintState:
		return protocol.PrintState{}, nil
	case protocol.MethodResetEstimates:
		return protocol.ResetEstimates{}, nil
	default:
		return protocol.Unknown{Name: method}, nil
	}
}

// launchOptions holds the flags of the launch command.
type launchOptions struct {
	*rootOptions
	mode    string
	live    string
	results string
	binary  string
}

func newLaunchCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &launchOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Start a worker wired to the three endpoints and wait for it",
		Long: `Start a worker wired to the live, control and result endpoints and wait
until it exits. An interrupt stops the worker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l := &control.Launcher{
				Binary: opts.binary,
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
			}
			switch opts.mode {
			case "process":
				l.Mode = control.ModeProcess
			case "inprocess", "in-process":
				l.Mode = control.ModeInProcess
			default:
				return fmt.Errorf("unknown mode %q: want process or inprocess", opts.mode)
			}
			return runLaunch(cmd.Context(), cmd, l, control.Addresses{
				Live:    opts.live,
				Control: opts.control,
				Results: opts.results,
			})
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", "process", "isolation of the worker (process|inprocess)")
	cmd.Flags().StringVar(&opts.live, "live", config.DefaultLiveAddress, "live data endpoint")
	cmd.Flags().StringVar(&opts.results, "results", config.DefaultResultAddress, "result endpoint")
	cmd.Flags().StringVar(&opts.binary, "binary", control.DefaultBinary, "worker executable for process mode")

	return cmd
}

func runLaunch(ctx context.Context, cmd *cobra.Command, l *control.Launcher, addrs control.Addresses) error {
	h, err := l.Launch(ctx, addrs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "worker %s running (%s)\n", h.ID, h.Mode)

	select {
	case <-h.Done():
	case <-ctx.Done():
		if err := h.Stop(); err != nil {
			return err
		}
	}
	return h.Wait(context.Background())
}
