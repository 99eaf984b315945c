package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Damping limits for the Levenberg-Marquardt iteration.
const (
	initialDamping = 1e-3
	minDamping     = 1e-12
	maxDamping     = 1e16
)

// Solver is a Levenberg-Marquardt least-squares optimizer. It minimizes the
// sum of squared residuals between a model and windowed samples without
// parameter bounds. Solve is deterministic for identical inputs.
type Solver struct {
	// MaxIterations bounds the number of Jacobian evaluations.
	MaxIterations int
	// FTol is the relative reduction in cost below which an accepted step
	// counts as converged.
	FTol float64
	// XTol is the relative step size below which the fit counts as
	// converged.
	XTol float64
	// GTol is the gradient max-norm below which the fit counts as
	// converged. Zero disables the test.
	GTol float64
}

// DefaultSolver returns a Solver with MINPACK-style tolerances.
func DefaultSolver() Solver {
	return Solver{
		MaxIterations: 200,
		FTol:          1.49012e-8,
		XTol:          1.49012e-8,
		GTol:          0,
	}
}

// Solve fits model to the samples (xs, ys) starting from p0 and returns the
// optimal parameters. p0 is not modified.
func (s Solver) Solve(model Model, xs, ys, p0 []float64) ([]float64, error) {
	k := model.NumParams()
	n := len(xs)
	if len(p0) != k {
		return nil, fmt.Errorf("%w: %d initial values for %d parameters", ErrParamCount, len(p0), k)
	}
	if len(ys) != n {
		return nil, fmt.Errorf("%w: %d positions for %d samples", ErrInsufficientData, n, len(ys))
	}
	if n < k {
		return nil, fmt.Errorf("%w: %d samples for %d parameters", ErrInsufficientData, n, k)
	}
	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultSolver().MaxIterations
	}

	residuals := func(dst, p []float64) {
		for i, x := range xs {
			dst[i] = model.Eval(x, p) - ys[i]
		}
	}

	p := append([]float64(nil), p0...)
	r := make([]float64, n)
	residuals(r, p)
	cost := floats.Dot(r, r)
	if !isFinite(cost) {
		return nil, fmt.Errorf("%w: initial cost %v", ErrNonFinite, cost)
	}

	jac := mat.NewDense(n, k, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	grad := mat.NewVecDense(k, nil)
	trial := make([]float64, k)
	rTrial := make([]float64, n)
	damping := initialDamping

	for iter := 0; iter < maxIter; iter++ {
		fd.Jacobian(jac, residuals, p, settings)
		if !allFinite(jac.RawMatrix().Data) {
			return nil, fmt.Errorf("%w: jacobian at iteration %d", ErrNonFinite, iter)
		}

		normal := mat.NewSymDense(k, nil)
		normal.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(n, r))

		gmax := mat.Norm(grad, math.Inf(1))
		if gmax == 0 || (s.GTol > 0 && gmax <= s.GTol) {
			return p, nil
		}

		for {
			if damping > maxDamping {
				return nil, fmt.Errorf("%w: damping exceeded %g after %d iterations", ErrNoConvergence, maxDamping, iter)
			}

			step, ok := dampedStep(normal, grad, damping)
			if !ok {
				damping *= 10
				continue
			}

			for i := range trial {
				trial[i] = p[i] - step.AtVec(i)
			}
			residuals(rTrial, trial)
			trialCost := floats.Dot(rTrial, rTrial)

			stepNorm := mat.Norm(step, 2)
			small := stepNorm <= s.XTol*(floats.Norm(p, 2)+s.XTol)

			if isFinite(trialCost) && trialCost < cost && allFinite(trial) {
				reduction := (cost - trialCost) / cost
				copy(p, trial)
				copy(r, rTrial)
				cost = trialCost
				damping = math.Max(damping/10, minDamping)
				if cost == 0 || reduction <= s.FTol || small {
					return p, nil
				}
				break
			}
			if small {
				// No representable improvement is left around p.
				return p, nil
			}
			damping *= 10
		}
	}
	return nil, fmt.Errorf("%w: %d iterations exhausted", ErrNoConvergence, maxIter)
}

// dampedStep solves (JᵀJ + λ·diag(JᵀJ)) δ = Jᵀr. Columns with zero
// curvature are damped with unit scale.
func dampedStep(normal *mat.SymDense, grad *mat.VecDense, damping float64) (*mat.VecDense, bool) {
	k := normal.SymmetricDim()
	a := mat.NewSymDense(k, nil)
	a.CopySym(normal)
	for i := 0; i < k; i++ {
		d := normal.At(i, i)
		if d <= 0 {
			d = 1
		}
		a.SetSym(i, i, normal.At(i, i)+damping*d)
	}

	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return nil, false
	}
	step := mat.NewVecDense(k, nil)
	if err := chol.SolveVecTo(step, grad); err != nil {
		return nil, false
	}
	if !allFinite(step.RawVector().Data) {
		return nil, false
	}
	return step, true
}

func allFinite(vs []float64) bool {
	for _, v := range vs {
		if !isFinite(v) {
			return false
		}
	}
	return true
}
