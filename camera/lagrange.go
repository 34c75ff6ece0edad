package camera

import (
	"github.com/pkg/errors"
)

// MaxInterpOrder is the largest Lagrange interpolation order used on sample arrays. An
// interpolation at fractional index k+tau touches samples k-3 through k+4.
const MaxInterpOrder = 8

// LagrangeInterp interpolates a uniformly sampled series of vectors of length dim, stored
// contiguously in values, at the given time. The order drops near the ends of the series
// so that no sample outside [index-3, index+4] is ever read.
func LagrangeInterp(values []float64, dim int, t0, dt, t float64, out []float64) error {
	numTimes := len(values) / dim
	if numTimes < 2 {
		return errors.Errorf("need at least 2 samples to interpolate, got %d", numTimes)
	}
	if dt == 0 {
		return errors.New("zero sample spacing")
	}
	fndex := (t - t0) / dt
	index := int(fndex)
	if fndex < 0 {
		index = 0
	}
	if index > numTimes-2 {
		index = numTimes - 2
	}

	order := 2
	switch {
	case index >= 3 && index <= numTimes-5:
		order = 8
	case index == 2 || index == numTimes-4:
		order = 6
	case index == 1 || index == numTimes-3:
		order = 4
	}
	first := index - order/2 + 1
	for order > 2 && (first < 0 || first+order > numTimes) {
		order -= 2
		first = index - order/2 + 1
	}
	var weights [MaxInterpOrder]float64
	for j := 0; j < order; j++ {
		w := 1.0
		xj := float64(first + j)
		for m := 0; m < order; m++ {
			if m == j {
				continue
			}
			xm := float64(first + m)
			w *= (fndex - xm) / (xj - xm)
		}
		weights[j] = w
	}

	for i := 0; i < dim; i++ {
		var sum float64
		for j := 0; j < order; j++ {
			sum += weights[j] * values[(first+j)*dim+i]
		}
		out[i] = sum
	}
	return nil
}
