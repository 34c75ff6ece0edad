// Package solver is a small nonlinear least squares engine. Residual blocks are registered
// over caller-owned parameter blocks, which the solver reads during evaluation and writes only
// between iterations.
package solver

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// CostFunction computes the residuals of one block. Implementations must not modify params and
// must be safe to call from several goroutines at once.
type CostFunction interface {
	NumResiduals() int
	Evaluate(params [][]float64, residuals []float64) error
}

// CostFunc adapts a function to a CostFunction.
type CostFunc struct {
	Residuals int
	Fn        func(params [][]float64, residuals []float64) error
}

// NumResiduals returns the residual dimension.
func (cf CostFunc) NumResiduals() int { return cf.Residuals }

// Evaluate calls the wrapped function.
func (cf CostFunc) Evaluate(params [][]float64, residuals []float64) error {
	return cf.Fn(params, residuals)
}

// ResidualBlock ties a cost to the parameter blocks it reads.
type ResidualBlock struct {
	Cost   CostFunction
	Loss   LossFunction
	Params [][]float64

	paramIdx []int
	rowStart int
}

// Manifold keeps a parameter block on a constraint surface. Project is applied to the block
// after every trial update.
type Manifold interface {
	Project(x []float64)
}

// UnitNorm keeps a block at unit length. Quaternion blocks use it.
type UnitNorm struct{}

// Project scales x to unit length. A zero block is left alone.
func (UnitNorm) Project(x []float64) {
	n := floats.Norm(x, 2)
	if n == 0 {
		return
	}
	floats.Scale(1/n, x)
}

type parameterBlock struct {
	data     []float64
	constant bool
	manifold Manifold
	// offset into the free parameter vector, -1 when constant
	offset int
}

// Problem is a set of residual blocks over shared parameter blocks. Parameter blocks are
// identified by the address of their first element, so slices of one packed buffer can be
// registered independently.
type Problem struct {
	blocks      []*ResidualBlock
	params      []*parameterBlock
	byAddr      map[*float64]int
	numResidual int
}

// NewProblem returns an empty problem.
func NewProblem() *Problem {
	return &Problem{byAddr: map[*float64]int{}}
}

func (p *Problem) paramIndex(block []float64) (int, error) {
	if len(block) == 0 {
		return 0, errors.New("parameter block is empty")
	}
	if idx, ok := p.byAddr[&block[0]]; ok {
		if len(p.params[idx].data) != len(block) {
			return 0, errors.Errorf("parameter block registered with size %d, now %d",
				len(p.params[idx].data), len(block))
		}
		return idx, nil
	}
	p.params = append(p.params, &parameterBlock{data: block, offset: -1})
	p.byAddr[&block[0]] = len(p.params) - 1
	return len(p.params) - 1, nil
}

// AddResidualBlock registers a cost over the given parameter blocks. A nil loss is the plain
// squared norm.
func (p *Problem) AddResidualBlock(cost CostFunction, loss LossFunction, params ...[]float64) error {
	if cost.NumResiduals() <= 0 {
		return errors.Errorf("cost has %d residuals", cost.NumResiduals())
	}
	rb := &ResidualBlock{Cost: cost, Loss: loss, Params: params, rowStart: p.numResidual}
	for _, block := range params {
		idx, err := p.paramIndex(block)
		if err != nil {
			return err
		}
		rb.paramIdx = append(rb.paramIdx, idx)
	}
	p.blocks = append(p.blocks, rb)
	p.numResidual += cost.NumResiduals()
	return nil
}

// SetParameterBlockConstant keeps the block fixed during Solve.
func (p *Problem) SetParameterBlockConstant(block []float64) error {
	idx, err := p.paramIndex(block)
	if err != nil {
		return err
	}
	p.params[idx].constant = true
	return nil
}

// SetParameterBlockVariable lets the block move during Solve.
func (p *Problem) SetParameterBlockVariable(block []float64) error {
	idx, err := p.paramIndex(block)
	if err != nil {
		return err
	}
	p.params[idx].constant = false
	return nil
}

// HasParameterBlock reports whether the block was registered.
func (p *Problem) HasParameterBlock(block []float64) bool {
	if len(block) == 0 {
		return false
	}
	_, ok := p.byAddr[&block[0]]
	return ok
}

// SetManifold constrains a registered block to m.
func (p *Problem) SetManifold(block []float64, m Manifold) error {
	if !p.HasParameterBlock(block) {
		return errors.New("unknown parameter block")
	}
	p.params[p.byAddr[&block[0]]].manifold = m
	return nil
}

// IsParameterBlockConstant reports whether the block is held fixed. Unknown blocks are not.
func (p *Problem) IsParameterBlockConstant(block []float64) bool {
	if len(block) == 0 {
		return false
	}
	idx, ok := p.byAddr[&block[0]]
	return ok && p.params[idx].constant
}

// NumResidualBlocks returns the number of registered blocks.
func (p *Problem) NumResidualBlocks() int { return len(p.blocks) }

// NumResiduals returns the total residual dimension.
func (p *Problem) NumResiduals() int { return p.numResidual }

// NumParameterBlocks returns the number of distinct parameter blocks.
func (p *Problem) NumParameterBlocks() int { return len(p.params) }

// numFree assigns offsets to the variable blocks and returns the free dimension.
func (p *Problem) numFree() int {
	n := 0
	for _, pb := range p.params {
		if pb.constant {
			pb.offset = -1
			continue
		}
		pb.offset = n
		n += len(pb.data)
	}
	return n
}

func (p *Problem) gather(x []float64) {
	for _, pb := range p.params {
		if pb.offset >= 0 {
			copy(x[pb.offset:], pb.data)
		}
	}
}

func (p *Problem) scatter(x []float64) {
	for _, pb := range p.params {
		if pb.offset >= 0 {
			copy(pb.data, x[pb.offset:pb.offset+len(pb.data)])
		}
	}
}

// project applies the manifolds of the variable blocks.
func (p *Problem) project() {
	for _, pb := range p.params {
		if pb.offset >= 0 && pb.manifold != nil {
			pb.manifold.Project(pb.data)
		}
	}
}
