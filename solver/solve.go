package solver

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/photogrammetry/logging"
)

// Termination says why Solve stopped.
type Termination int

const (
	// NoConvergence means the iteration cap was reached.
	NoConvergence Termination = iota
	// FunctionTolerance means the relative cost decrease fell under the tolerance.
	FunctionTolerance
	// ParameterTolerance means the step was small relative to the parameters.
	ParameterTolerance
	// GradientTolerance means the gradient vanished.
	GradientTolerance
	// NoImprovement means no damping made the cost decrease.
	NoImprovement
)

func (t Termination) String() string {
	switch t {
	case NoConvergence:
		return "no convergence"
	case FunctionTolerance:
		return "function tolerance"
	case ParameterTolerance:
		return "parameter tolerance"
	case GradientTolerance:
		return "gradient tolerance"
	case NoImprovement:
		return "no improvement"
	}
	return "unknown"
}

// Bounds on the diagonal of the normal equations used to scale the damping.
const (
	minDiagonal = 1e-6
	maxDiagonal = 1e32
)

// Options control Solve.
type Options struct {
	MaxIterations      int
	FunctionTolerance  float64
	ParameterTolerance float64
	GradientTolerance  float64
	// InitialDamping is the starting Levenberg-Marquardt lambda.
	InitialDamping float64
	// RelativeStep sizes the central differences: h = RelativeStep*max(|x|, 1).
	RelativeStep float64
	NumThreads   int
}

// DefaultOptions returns the usual settings.
func DefaultOptions() Options {
	return Options{
		MaxIterations:      100,
		FunctionTolerance:  1e-6,
		ParameterTolerance: 1e-8,
		GradientTolerance:  1e-10,
		InitialDamping:     1e-4,
		RelativeStep:       1e-6,
		NumThreads:         4,
	}
}

// Summary reports a finished solve. Costs are 0.5*sum(rho).
type Summary struct {
	InitialCost float64
	FinalCost   float64
	Iterations  int
	Termination Termination
}

func (s Summary) String() string {
	return fmt.Sprintf("iterations: %d, initial cost: %.6g, final cost: %.6g, termination: %v",
		s.Iterations, s.InitialCost, s.FinalCost, s.Termination)
}

// Evaluate returns the cost and the raw residuals at the current parameter values.
func (p *Problem) Evaluate(ctx context.Context, numThreads int) (float64, []float64, error) {
	residuals := make([]float64, p.numResidual)
	if err := p.forEachBlock(ctx, numThreads, func(rb *ResidualBlock) error {
		return rb.Cost.Evaluate(rb.Params, residuals[rb.rowStart:rb.rowStart+rb.Cost.NumResiduals()])
	}); err != nil {
		return 0, nil, err
	}
	return p.cost(residuals), residuals, nil
}

// RMS is the root mean square of the raw residuals.
func RMS(residuals []float64) float64 {
	if len(residuals) == 0 {
		return 0
	}
	return floats.Norm(residuals, 2) / math.Sqrt(float64(len(residuals)))
}

func (p *Problem) cost(residuals []float64) float64 {
	var total float64
	for _, rb := range p.blocks {
		r := residuals[rb.rowStart : rb.rowStart+rb.Cost.NumResiduals()]
		s := floats.Dot(r, r)
		if rb.Loss != nil {
			s, _ = rb.Loss.Evaluate(s)
		}
		total += s
	}
	return 0.5 * total
}

func (p *Problem) forEachBlock(ctx context.Context, numThreads int, fn func(rb *ResidualBlock) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if numThreads > 0 {
		g.SetLimit(numThreads)
	}
	for _, rb := range p.blocks {
		rb := rb
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error { return fn(rb) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// linearize fills the robustified residuals and the jacobian by central differences. Each block
// perturbs private copies of its parameters so blocks can run concurrently.
func (p *Problem) linearize(ctx context.Context, opts Options, r []float64, jac *mat.Dense) error {
	return p.forEachBlock(ctx, opts.NumThreads, func(rb *ResidualBlock) error {
		m := rb.Cost.NumResiduals()
		local := make([][]float64, len(rb.Params))
		for i, block := range rb.Params {
			local[i] = append([]float64{}, block...)
		}
		res := r[rb.rowStart : rb.rowStart+m]
		if err := rb.Cost.Evaluate(local, res); err != nil {
			return err
		}
		weight := 1.0
		if rb.Loss != nil {
			_, drho := rb.Loss.Evaluate(floats.Dot(res, res))
			weight = math.Sqrt(drho)
		}

		plus := make([]float64, m)
		minus := make([]float64, m)
		for i, idx := range rb.paramIdx {
			pb := p.params[idx]
			if pb.offset < 0 {
				continue
			}
			for j := range local[i] {
				orig := local[i][j]
				h := opts.RelativeStep * math.Max(math.Abs(orig), 1)
				local[i][j] = orig + h
				if err := rb.Cost.Evaluate(local, plus); err != nil {
					return err
				}
				local[i][j] = orig - h
				if err := rb.Cost.Evaluate(local, minus); err != nil {
					return err
				}
				local[i][j] = orig
				for k := 0; k < m; k++ {
					jac.Set(rb.rowStart+k, pb.offset+j, weight*(plus[k]-minus[k])/(2*h))
				}
			}
		}
		floats.Scale(weight, res)
		return nil
	})
}

// Solve minimizes the cost with Levenberg-Marquardt and leaves the solution in the parameter
// blocks.
func (p *Problem) Solve(ctx context.Context, opts Options, logger logging.Logger) (Summary, error) {
	n := p.numFree()
	m := p.numResidual
	initial, _, err := p.Evaluate(ctx, opts.NumThreads)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{InitialCost: initial, FinalCost: initial, Termination: NoConvergence}
	if n == 0 || m == 0 {
		summary.Termination = GradientTolerance
		return summary, nil
	}

	x := make([]float64, n)
	p.gather(x)
	r := make([]float64, m)
	jac := mat.NewDense(m, n, nil)
	var jtj mat.SymDense
	grad := mat.NewVecDense(n, nil)
	lambda := opts.InitialDamping
	if lambda <= 0 {
		lambda = 1e-4
	}
	cost := initial

	for summary.Iterations < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Iterations++
		jac.Zero()
		if err := p.linearize(ctx, opts, r, jac); err != nil {
			return summary, err
		}
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))
		if mat.Norm(grad, math.Inf(1)) <= opts.GradientTolerance {
			summary.Termination = GradientTolerance
			break
		}

		accepted := false
		step := mat.NewVecDense(n, nil)
		xNew := make([]float64, n)
		for !accepted {
			if lambda > 1e32 {
				summary.Termination = NoImprovement
				break
			}
			damped := mat.NewSymDense(n, nil)
			damped.CopySym(&jtj)
			for i := 0; i < n; i++ {
				d := jtj.At(i, i)
				damped.SetSym(i, i, d+lambda*math.Min(math.Max(d, minDiagonal), maxDiagonal))
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				continue
			}
			// an ill-conditioned system still yields a usable step
			var cond mat.Condition
			if err := chol.SolveVecTo(step, grad); err != nil && !errors.As(err, &cond) {
				lambda *= 10
				continue
			}
			for i := range x {
				xNew[i] = x[i] - step.AtVec(i)
			}
			p.scatter(xNew)
			p.project()
			p.gather(xNew)
			newCost, _, err := p.Evaluate(ctx, opts.NumThreads)
			if err != nil {
				p.scatter(x)
				return summary, err
			}
			if newCost < cost {
				accepted = true
				decrease := cost - newCost
				stepNorm := floats.Distance(xNew, x, 2)
				xNorm := floats.Norm(x, 2)
				copy(x, xNew)
				cost = newCost
				lambda = math.Max(lambda/3, 1e-16)
				if logger != nil {
					logger.Debugw("solver iteration", "iteration", summary.Iterations, "cost", cost, "lambda", lambda)
				}
				switch {
				case decrease <= opts.FunctionTolerance*(cost+decrease):
					summary.Termination = FunctionTolerance
				case stepNorm <= opts.ParameterTolerance*(xNorm+opts.ParameterTolerance):
					summary.Termination = ParameterTolerance
				}
			} else {
				p.scatter(x)
				lambda *= 2
			}
		}
		if summary.Termination != NoConvergence {
			break
		}
	}
	p.scatter(x)
	summary.FinalCost = cost
	if logger != nil {
		logger.Debugw("solver finished", "summary", summary.String())
	}
	if math.IsNaN(cost) {
		return summary, errors.New("solver produced a NaN cost")
	}
	return summary, nil
}
