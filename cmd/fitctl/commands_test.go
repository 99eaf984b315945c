package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/liveodm/internal/control"
	"github.com/banshee-data/liveodm/internal/fit"
	"github.com/banshee-data/liveodm/internal/instrument"
	"github.com/banshee-data/liveodm/internal/monitoring"
	"github.com/banshee-data/liveodm/internal/protocol"
	"github.com/banshee-data/liveodm/internal/transport"
	"github.com/banshee-data/liveodm/internal/version"
)

func init() {
	monitoring.SetLogger(nil)
}

type testEnv struct {
	control *transport.Pipe
	live    *transport.Pipe
	addr    string
}

func newTestEnv() (*testEnv, *env) {
	te := &testEnv{control: transport.NewPipe(64), live: transport.NewPipe(256)}
	return te, &env{
		openControl: func(_ context.Context, addr string) (*control.Client, error) {
			te.addr = addr
			return control.New(keepOpen{te.control}), nil
		},
		openLive: func(context.Context, string) (transport.Receiver, error) {
			return te.live, nil
		},
	}
}

// keepOpen leaves the pipe open when the client closes, so the test can
// read what was sent afterwards.
type keepOpen struct{ *transport.Pipe }

func (keepOpen) Close() error { return nil }

// sent returns every command written to the control pipe.
func (te *testEnv) sent(t *testing.T) []protocol.Command {
	t.Helper()
	var cmds []protocol.Command
	for {
		b, err := te.control.RecvTimeout(10 * time.Millisecond)
		if err != nil {
			return cmds
		}
		cmd, err := protocol.DecodeCommand(b)
		require.NoError(t, err)
		cmds = append(cmds, cmd)
	}
}

func run(t *testing.T, e *env, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(e)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--linger", "0"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	_, e := newTestEnv()
	cmd := newRootCommand(e)
	for _, name := range []string{"start", "stop", "abort", "state", "reset", "interval", "function", "template", "shell", "launch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	flag := cmd.PersistentFlags().Lookup("control")
	require.NotNil(t, flag)
	assert.Equal(t, "tcp://localhost:4568", flag.DefValue)
}

func TestVersionFlag(t *testing.T) {
	_, e := newTestEnv()
	out, err := run(t, e, "", "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "fitctl version "+version.String())
}

func TestSimpleCommands(t *testing.T) {
	tests := []struct {
		args []string
		want protocol.Command
	}{
		{[]string{"start"}, protocol.StartFitting{}},
		{[]string{"stop"}, protocol.StopFitting{}},
		{[]string{"abort"}, protocol.Abort{}},
		{[]string{"state"}, protocol.PrintState{}},
		{[]string{"reset"}, protocol.ResetEstimates{}},
		{[]string{"interval", "ref", "140", "100.5"}, protocol.SetInterval{Peak: fit.ReferencePeak, Interval: [2]float64{140, 100.5}}},
		{[]string{"interval", "moving", "40", "80"}, protocol.SetInterval{Peak: fit.MovingPeak, Interval: [2]float64{40, 80}}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			te, e := newTestEnv()
			_, err := run(t, e, "", append([]string{"--control", "tcp://*:9999"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, "tcp://*:9999", te.addr)
			assert.Equal(t, []protocol.Command{tt.want}, te.sent(t))
		})
	}
}

func TestIntervalErrors(t *testing.T) {
	_, e := newTestEnv()
	_, err := run(t, e, "", "interval", "left", "1", "2")
	assert.Error(t, err)
	_, err = run(t, e, "", "interval", "mp", "one", "2")
	assert.Error(t, err)
	_, err = run(t, e, "", "interval", "mp", "1")
	assert.Error(t, err)
}

func TestFunctionGaussian(t *testing.T) {
	te, e := newTestEnv()
	_, err := run(t, e, "", "function", "mp", "--center", "60", "--width", "10", "--amplitude", "1e4", "--name", "g")
	require.NoError(t, err)
	want := protocol.SetFitFunction{Peak: fit.MovingPeak, Function: fit.FunctionSpec{
		Kind: fit.KindGaussian, Name: "g", Center: 60, Width: 10, Amplitude: 1e4,
	}}
	assert.Equal(t, []protocol.Command{want}, te.sent(t))
}

func TestFunctionSplineFromFile(t *testing.T) {
	te, e := newTestEnv()
	file := filepath.Join(t.TempDir(), "template.json")
	require.NoError(t, os.WriteFile(file, []byte("[0, 1, 4, 9, 4, 1, 0]"), 0644))

	_, err := run(t, e, "", "function", "ref", "--kind", "scaledSpline", "--template", file, "--sigma", "1")
	require.NoError(t, err)
	cmds := te.sent(t)
	require.Len(t, cmds, 1)
	got := cmds[0].(protocol.SetFitFunction)
	assert.Equal(t, fit.ReferencePeak, got.Peak)
	assert.Equal(t, []float64{0, 1, 4, 9, 4, 1, 0}, got.Function.Template)
	assert.Equal(t, 1.0, got.Function.Sigma)
}

func TestFunctionRejectsInvalidSpec(t *testing.T) {
	te, e := newTestEnv()
	_, err := run(t, e, "", "function", "mp", "--width", "0")
	assert.ErrorIs(t, err, fit.ErrInvalidFunction)
	assert.Empty(t, te.sent(t))
}

func TestTemplate(t *testing.T) {
	te, e := newTestEnv()
	pub := &instrument.Publisher{
		Sender:    te.live,
		Generator: instrument.NewGenerator(false, false, 1),
		Period:    time.Millisecond,
		Limit:     5,
	}
	require.NoError(t, pub.Run(context.Background()))

	out, err := run(t, e, "", "template", "mp", "--frames", "5", "--sigma", "0.5")
	require.NoError(t, err)
	assert.Contains(t, out, `"mp-spline" averaged over 5 profiles`)

	cmds := te.sent(t)
	require.Len(t, cmds, 1)
	got := cmds[0].(protocol.SetFitFunction)
	assert.Equal(t, fit.KindScaledSpline, got.Function.Kind)
	assert.Len(t, got.Function.Template, instrument.DefaultSamples)
}

func TestTemplateTimesOut(t *testing.T) {
	_, e := newTestEnv()
	_, err := run(t, e, "", "template", "ref", "--frames", "3", "--timeout", "20ms")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShell(t *testing.T) {
	te, e := newTestEnv()
	stdin := strings.Join([]string{
		"setMovingPeakInterval 80 40",
		"",
		`setReferencePeakFitFunction {"kind":"gaussian","center":120,"width":8,"amplitude":1}`,
		"setReferencePeakInterval 100",
		"startFitting",
		"calibrate",
		"quit",
		"abort",
	}, "\n")
	out, err := run(t, e, stdin, "shell")
	require.NoError(t, err)
	assert.Contains(t, out, "error: setReferencePeakInterval needs two bounds")

	want := []protocol.Command{
		protocol.SetInterval{Peak: fit.MovingPeak, Interval: [2]float64{80, 40}},
		protocol.SetFitFunction{Peak: fit.ReferencePeak, Function: fit.FunctionSpec{Kind: fit.KindGaussian, Center: 120, Width: 8, Amplitude: 1}},
		protocol.StartFitting{},
		protocol.Unknown{Name: "calibrate"},
	}
	assert.Equal(t, want, te.sent(t))
}

func TestLaunchRejectsUnknownMode(t *testing.T) {
	_, e := newTestEnv()
	_, err := run(t, e, "", "launch", "--mode", "thread")
	assert.Error(t, err)
}
