package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Quaternions here are (w, x, y, z) in the gonum layout: Real, Imag, Jmag, Kmag.

// NormalizeQuat scales q to unit length. A zero quaternion becomes the identity.
func NormalizeQuat(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/norm, q)
}

// QuatToRotationMatrix converts q, which need not be normalized, to a rotation matrix.
func QuatToRotationMatrix(q quat.Number) RotationMatrix {
	q = NormalizeQuat(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return RotationMatrix{[9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}}
}

// RotateByQuat rotates v by the unit quaternion q.
func RotateByQuat(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	out := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: out.Imag, Y: out.Jmag, Z: out.Kmag}
}

// QuatFromSlice reads (w, x, y, z) from the first four entries of s.
func QuatFromSlice(s []float64) quat.Number {
	return quat.Number{Real: s[0], Imag: s[1], Jmag: s[2], Kmag: s[3]}
}

// QuatToSlice writes q as (w, x, y, z) into the first four entries of s.
func QuatToSlice(q quat.Number, s []float64) {
	s[0], s[1], s[2], s[3] = q.Real, q.Imag, q.Jmag, q.Kmag
}

// QuatFromXYZW reads the (x, y, z, w) ordering used by CSM state vectors.
func QuatFromXYZW(s []float64) quat.Number {
	return quat.Number{Real: s[3], Imag: s[0], Jmag: s[1], Kmag: s[2]}
}

// QuatToXYZW writes q in the (x, y, z, w) ordering used by CSM state vectors.
func QuatToXYZW(q quat.Number, s []float64) {
	s[0], s[1], s[2], s[3] = q.Imag, q.Jmag, q.Kmag, q.Real
}

// R3ToRotationMatrix converts a rotation vector (axis scaled by angle in radians) via Rodrigues' formula.
func R3ToRotationMatrix(v r3.Vector) RotationMatrix {
	theta := v.Norm()
	if theta < 1e-15 {
		// First order expansion.
		return RotationMatrix{[9]float64{1, -v.Z, v.Y, v.Z, 1, -v.X, -v.Y, v.X, 1}}
	}
	axis := v.Mul(1 / theta)
	sinA, cosA := math.Sin(theta/2), math.Cos(theta/2)
	return QuatToRotationMatrix(quat.Number{Real: cosA, Imag: axis.X * sinA, Jmag: axis.Y * sinA, Kmag: axis.Z * sinA})
}

// RotationMatrixToR3 is the inverse of R3ToRotationMatrix.
func RotationMatrixToR3(rm RotationMatrix) r3.Vector {
	q := rm.Quaternion()
	imag := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	sinHalf := imag.Norm()
	if sinHalf < 1e-15 {
		return imag.Mul(2)
	}
	theta := 2 * math.Atan2(sinHalf, q.Real)
	return imag.Mul(theta / sinHalf)
}
