// Package protocol defines the msgpack messages exchanged with the fitting
// worker: control commands, live instrument data and fit results.
package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/banshee-data/liveodm/internal/fit"
)

// Control method names as they appear on the wire.
const (
	MethodSetMovingPeakFitFunction    = "setMovingPeakFitFunction"
	MethodSetReferencePeakFitFunction = "setReferencePeakFitFunction"
	MethodSetMovingPeakInterval       = "setMovingPeakInterval"
	MethodSetReferencePeakInterval    = "setReferencePeakInterval"
	MethodStartFitting                = "startFitting"
	MethodStopFitting                 = "stopFitting"
	MethodAbort                       = "abort"
	MethodPrintState                  = "printState"
	MethodResetEstimates              = "resetEstimates"
)

var (
	// ErrMissingParams is returned when a command that takes parameters
	// arrives without them.
	ErrMissingParams = errors.New("missing command params")
	// ErrInvalidParams is returned when command parameters do not have the
	// expected shape.
	ErrInvalidParams = errors.New("invalid command params")
)

// Command is one control message. The set of implementations is closed:
// SetFitFunction, SetInterval, StartFitting, StopFitting, Abort, PrintState,
// ResetEstimates and Unknown.
type Command interface {
	Method() string
	isCommand()
}

// SetFitFunction sets the model of one peak.
type SetFitFunction struct {
	Peak     fit.Peak
	Function fit.FunctionSpec
}

// SetInterval sets the window of one peak from an unordered pixel interval.
type SetInterval struct {
	Peak     fit.Peak
	Interval [2]float64
}

type (
	StartFitting   struct{}
	StopFitting    struct{}
	Abort          struct{}
	PrintState     struct{}
	ResetEstimates struct{}
)

// Unknown carries a method this worker does not understand. It is ignored.
type Unknown struct {
	Name string
}

func (c SetFitFunction) Method() string {
	if c.Peak == fit.ReferencePeak {
		return MethodSetReferencePeakFitFunction
	}
	return MethodSetMovingPeakFitFunction
}

func (c SetInterval) Method() string {
	if c.Peak == fit.ReferencePeak {
		return MethodSetReferencePeakInterval
	}
	return MethodSetMovingPeakInterval
}

func (StartFitting) Method() string   { return MethodStartFitting }
func (StopFitting) Method() string    { return MethodStopFitting }
func (Abort) Method() string          { return MethodAbort }
func (PrintState) Method() string     { return MethodPrintState }
func (ResetEstimates) Method() string { return MethodResetEstimates }
func (c Unknown) Method() string      { return c.Name }

func (SetFitFunction) isCommand() {}
func (SetInterval) isCommand()    {}
func (StartFitting) isCommand()   {}
func (StopFitting) isCommand()    {}
func (Abort) isCommand()          {}
func (PrintState) isCommand()     {}
func (ResetEstimates) isCommand() {}
func (Unknown) isCommand()        {}

type envelope struct {
	Method string             `msgpack:"method"`
	Params msgpack.RawMessage `msgpack:"params,omitempty"`
}

type fitFunctionParams struct {
	FitFunction *fit.FunctionSpec `msgpack:"fitFunction"`
}

type intervalParams struct {
	Interval []float64 `msgpack:"interval"`
}

// EncodeCommand serializes cmd as {method, params}.
func EncodeCommand(cmd Command) ([]byte, error) {
	env := envelope{Method: cmd.Method()}

	var params interface{}
	switch c := cmd.(type) {
	case SetFitFunction:
		fn := c.Function
		params = fitFunctionParams{FitFunction: &fn}
	case SetInterval:
		params = intervalParams{Interval: c.Interval[:]}
	}
	if params != nil {
		raw, err := msgpack.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", env.Method, err)
		}
		env.Params = raw
	}

	b, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Method, err)
	}
	return b, nil
}

// DecodeCommand parses a control message. Methods this package does not
// know decode to Unknown without error.
func DecodeCommand(b []byte) (Command, error) {
	var env envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch env.Method {
	case MethodSetMovingPeakFitFunction:
		return decodeSetFitFunction(env, fit.MovingPeak)
	case MethodSetReferencePeakFitFunction:
		return decodeSetFitFunction(env, fit.ReferencePeak)
	case MethodSetMovingPeakInterval:
		return decodeSetInterval(env, fit.MovingPeak)
	case MethodSetReferencePeakInterval:
		return decodeSetInterval(env, fit.ReferencePeak)
	case MethodStartFitting:
		return StartFitting{}, nil
	case MethodStopFitting:
		return StopFitting{}, nil
	case MethodAbort:
		return Abort{}, nil
	case MethodPrintState:
		return PrintState{}, nil
	case MethodResetEstimates:
		return ResetEstimates{}, nil
	default:
		return Unknown{Name: env.Method}, nil
	}
}

func decodeParams(env envelope, v interface{}) error {
	if len(env.Params) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingParams, env.Method)
	}
	if err := msgpack.Unmarshal(env.Params, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidParams, env.Method, err)
	}
	return nil
}

func decodeSetFitFunction(env envelope, peak fit.Peak) (Command, error) {
	var p fitFunctionParams
	if err := decodeParams(env, &p); err != nil {
		return nil, err
	}
	if p.FitFunction == nil {
		return nil, fmt.Errorf("%w: %s needs fitFunction", ErrMissingParams, env.Method)
	}
	return SetFitFunction{Peak: peak, Function: *p.FitFunction}, nil
}

func decodeSetInterval(env envelope, peak fit.Peak) (Command, error) {
	var p intervalParams
	if err := decodeParams(env, &p); err != nil {
		return nil, err
	}
	if len(p.Interval) != 2 {
		return nil, fmt.Errorf("%w: %s needs a two-element interval, got %d", ErrInvalidParams, env.Method, len(p.Interval))
	}
	return SetInterval{Peak: peak, Interval: [2]float64{p.Interval[0], p.Interval[1]}}, nil
}
