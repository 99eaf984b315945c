package fit

import "errors"

var (
	// ErrWindowOutOfRange is returned when a peak window does not fit inside
	// the profile being fitted.
	ErrWindowOutOfRange = errors.New("window out of range")
	// ErrInsufficientData is returned when a window holds fewer samples than
	// the model has parameters.
	ErrInsufficientData = errors.New("insufficient data for fit")
	// ErrParamCount is returned when the initial guess does not match the
	// model's parameter count.
	ErrParamCount = errors.New("parameter count mismatch")
	// ErrNoConvergence is returned when the optimizer gives up.
	ErrNoConvergence = errors.New("fit did not converge")
	// ErrNonFinite is returned when the cost or the parameters become NaN or
	// infinite.
	ErrNonFinite = errors.New("non-finite fit value")
	// ErrModelPanic wraps a panic raised while evaluating a model.
	ErrModelPanic = errors.New("model evaluation panicked")
	// ErrUnknownKind is returned by NewModel for an unrecognised model kind.
	ErrUnknownKind = errors.New("unknown fit function kind")
	// ErrInvalidFunction is returned by NewModel for a malformed descriptor.
	ErrInvalidFunction = errors.New("invalid fit function")
)
