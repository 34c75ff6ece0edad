package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Similarity maps p to Scale * R * p + T.
type Similarity struct {
	R     RotationMatrix
	T     r3.Vector
	Scale float64
}

// NewIdentitySimilarity returns the transform that leaves every point in place.
func NewIdentitySimilarity() Similarity {
	return Similarity{R: NewIdentityRotation(), Scale: 1}
}

// Apply transforms a point.
func (s Similarity) Apply(p r3.Vector) r3.Vector {
	return s.R.Apply(p).Mul(s.Scale).Add(s.T)
}

// Compose returns the transform equal to applying other first, then s.
func (s Similarity) Compose(other Similarity) Similarity {
	return Similarity{
		R:     s.R.Mul(other.R),
		T:     s.R.Apply(other.T).Mul(s.Scale).Add(s.T),
		Scale: s.Scale * other.Scale,
	}
}

// Inverse returns the transform undoing s.
func (s Similarity) Inverse() Similarity {
	rt := s.R.Transpose()
	return Similarity{
		R:     rt,
		T:     rt.Apply(s.T).Mul(-1 / s.Scale),
		Scale: 1 / s.Scale,
	}
}

// Matrix returns the 4x4 homogeneous form [sR t; 0 1].
func (s Similarity) Matrix() *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, s.Scale*s.R.At(i, j))
		}
	}
	out.Set(0, 3, s.T.X)
	out.Set(1, 3, s.T.Y)
	out.Set(2, 3, s.T.Z)
	out.Set(3, 3, 1)
	return out
}

func (s Similarity) String() string {
	return fmt.Sprintf("rotation: %v, translation: %v, scale: %.17g", s.R.Values(), s.T, s.Scale)
}

// SimilarityFromMatrix splits a 4x4 (or 3x4) matrix into rotation, translation and the uniform
// scale det(L)^(1/3) of its linear part L.
func SimilarityFromMatrix(m mat.Matrix) (Similarity, error) {
	rows, cols := m.Dims()
	if rows < 3 || cols != 4 {
		return Similarity{}, errors.Errorf("expected a 4x4 or 3x4 matrix, got %dx%d", rows, cols)
	}
	linear := RotationMatrixFromDense(m)
	det := linear.Det()
	if det <= 0 {
		return Similarity{}, errors.Errorf("linear part has non-positive determinant %g", det)
	}
	scale := math.Cbrt(det)
	return Similarity{
		R:     linear.Scale(1 / scale),
		T:     r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)},
		Scale: scale,
	}, nil
}

// Find3DTransform returns the similarity minimizing the sum of |S(in_i) - out_i|^2 using the
// closed form of Umeyama.
func Find3DTransform(in, out []r3.Vector) (Similarity, error) {
	if len(in) != len(out) {
		return Similarity{}, errors.Errorf("point counts differ: %d vs %d", len(in), len(out))
	}
	n := len(in)
	if n < 3 {
		return Similarity{}, errors.Errorf("need at least 3 points to find a 3D transform, got %d", n)
	}

	var muIn, muOut r3.Vector
	for i := range in {
		muIn = muIn.Add(in[i])
		muOut = muOut.Add(out[i])
	}
	muIn = muIn.Mul(1 / float64(n))
	muOut = muOut.Mul(1 / float64(n))

	cov := mat.NewDense(3, 3, nil)
	var varIn float64
	for i := range in {
		a := in[i].Sub(muIn)
		b := out[i].Sub(muOut)
		varIn += a.Norm2()
		av := []float64{a.X, a.Y, a.Z}
		bv := []float64{b.X, b.Y, b.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				cov.Set(r, c, cov.At(r, c)+bv[r]*av[c])
			}
		}
	}
	cov.Scale(1/float64(n), cov)
	varIn /= float64(n)
	if varIn == 0 {
		return Similarity{}, errors.New("input points are all identical")
	}

	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return Similarity{}, errors.New("failed to factorize covariance")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)
	if values[1] < 1e-12*values[0] {
		return Similarity{}, errors.New("points are collinear, transform is not unique")
	}

	sign := 1.0
	if mat.Det(&u)*mat.Det(&v) < 0 {
		sign = -1
	}
	d := mat.NewDiagDense(3, []float64{1, 1, sign})
	var ud, r mat.Dense
	ud.Mul(&u, d)
	r.Mul(&ud, v.T())

	rot := RotationMatrixFromDense(&r)
	scale := (values[0] + values[1] + sign*values[2]) / varIn
	return Similarity{
		R:     rot,
		T:     muOut.Sub(rot.Apply(muIn).Mul(scale)),
		Scale: scale,
	}, nil
}
