package solver

import "math"

// LossFunction reduces the influence of large residuals. Evaluate takes the squared norm s of
// a block's residuals and returns rho(s) and rho'(s).
type LossFunction interface {
	Evaluate(s float64) (rho, drho float64)
}

// CauchyLoss is rho(s) = b*log(1 + s/b) with b = Scale^2.
type CauchyLoss struct {
	Scale float64
}

// NewCauchyLoss returns a Cauchy loss with the given scale.
func NewCauchyLoss(scale float64) *CauchyLoss {
	return &CauchyLoss{Scale: scale}
}

// Evaluate implements LossFunction.
func (c *CauchyLoss) Evaluate(s float64) (float64, float64) {
	b := c.Scale * c.Scale
	if b == 0 {
		return s, 1
	}
	return b * math.Log1p(s/b), 1 / (1 + s/b)
}

// HuberLoss is quadratic up to Scale and linear beyond.
type HuberLoss struct {
	Scale float64
}

// Evaluate implements LossFunction.
func (h *HuberLoss) Evaluate(s float64) (float64, float64) {
	b := h.Scale * h.Scale
	if s <= b {
		return s, 1
	}
	r := math.Sqrt(s)
	return 2*h.Scale*r - b, h.Scale / r
}
