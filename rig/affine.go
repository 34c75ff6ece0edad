package rig

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/photogrammetry/spatialmath"
)

// NumAffineValues is the length of a flattened Affine: the row-major 3x3 linear part followed
// by the translation.
const NumAffineValues = 12

// Affine is a 3-D affine map x -> Linear*x + Translation.
type Affine struct {
	Linear      [9]float64
	Translation r3.Vector
}

// IdentityAffine returns the identity map.
func IdentityAffine() Affine {
	return Affine{Linear: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// AffineFromValues builds an Affine from 12 values.
func AffineFromValues(vals []float64) (Affine, error) {
	if len(vals) != NumAffineValues {
		return Affine{}, errors.Errorf("an affine transform must have %d parameters, got %d", NumAffineValues, len(vals))
	}
	var a Affine
	copy(a.Linear[:], vals[:9])
	a.Translation = r3.Vector{X: vals[9], Y: vals[10], Z: vals[11]}
	return a, nil
}

// AffineFromPose builds the rigid map with the given rotation and translation.
func AffineFromPose(rot spatialmath.RotationMatrix, t r3.Vector) Affine {
	var a Affine
	copy(a.Linear[:], rot.Values())
	a.Translation = t
	return a
}

// Values flattens a into 12 values.
func (a Affine) Values() []float64 {
	out := make([]float64, 0, NumAffineValues)
	out = append(out, a.Linear[:]...)
	return append(out, a.Translation.X, a.Translation.Y, a.Translation.Z)
}

// Apply maps p.
func (a Affine) Apply(p r3.Vector) r3.Vector {
	l := a.Linear
	return r3.Vector{
		X: l[0]*p.X + l[1]*p.Y + l[2]*p.Z,
		Y: l[3]*p.X + l[4]*p.Y + l[5]*p.Z,
		Z: l[6]*p.X + l[7]*p.Y + l[8]*p.Z,
	}.Add(a.Translation)
}

// Compose returns the map applying other first, then a.
func (a Affine) Compose(other Affine) Affine {
	var out Affine
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			for k := 0; k < 3; k++ {
				out.Linear[3*r+c] += a.Linear[3*r+k] * other.Linear[3*k+c]
			}
		}
	}
	out.Translation = a.Apply(other.Translation)
	return out
}

// Inverse returns the map undoing a. It fails when the linear part is singular.
func (a Affine) Inverse() (Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, a.Linear[:])); err != nil {
		return Affine{}, errors.Wrap(err, "cannot invert affine transform")
	}
	var out Affine
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.Linear[3*r+c] = inv.At(r, c)
		}
	}
	out.Translation = out.Apply(a.Translation).Mul(-1)
	return out, nil
}

// Rotation returns the linear part as a rotation matrix, orthonormalized.
func (a Affine) Rotation() (spatialmath.RotationMatrix, error) {
	rm, err := spatialmath.NewRotationMatrix(a.Linear[:])
	if err != nil {
		return spatialmath.RotationMatrix{}, err
	}
	return rm.Orthonormalize()
}

// IsIdentity reports whether a is exactly the identity.
func (a Affine) IsIdentity() bool {
	return a == IdentityAffine()
}

// IsZero reports whether every value is zero.
func (a Affine) IsZero() bool {
	return a == Affine{}
}
