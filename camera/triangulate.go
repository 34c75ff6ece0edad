package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateRays is returned when rays are parallel and do not define a point.
var ErrDegenerateRays = errors.New("rays are parallel, cannot triangulate")

// TriangulateRays returns the point minimizing the summed squared distance to the rays
// center[i] + t*dir[i]. Directions need not be normalized.
func TriangulateRays(centers, dirs []r3.Vector) (r3.Vector, error) {
	if len(centers) != len(dirs) {
		return r3.Vector{}, errors.Errorf("got %d centers and %d directions", len(centers), len(dirs))
	}
	if len(centers) < 2 {
		return r3.Vector{}, errors.Errorf("need at least 2 rays, got %d", len(centers))
	}
	// sum (I - d d^T) x = sum (I - d d^T) c
	a := mat.NewSymDense(3, nil)
	b := mat.NewVecDense(3, nil)
	for i := range centers {
		d := dirs[i].Normalize()
		dv := []float64{d.X, d.Y, d.Z}
		cv := []float64{centers[i].X, centers[i].Y, centers[i].Z}
		dc := d.Dot(centers[i])
		for r := 0; r < 3; r++ {
			for c := r; c < 3; c++ {
				v := -dv[r] * dv[c]
				if r == c {
					v++
				}
				a.SetSym(r, c, a.At(r, c)+v)
			}
			b.SetVec(r, b.AtVec(r)+cv[r]-dv[r]*dc)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return r3.Vector{}, ErrDegenerateRays
	}
	if chol.Cond() > 1e14 {
		return r3.Vector{}, ErrDegenerateRays
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil {
		return r3.Vector{}, errors.Wrap(ErrDegenerateRays, err.Error())
	}
	return r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}, nil
}

// RayDistance is the distance from p to the ray center + t*dir.
func RayDistance(center, dir, p r3.Vector) float64 {
	d := dir.Normalize()
	v := p.Sub(center)
	return v.Sub(d.Mul(v.Dot(d))).Norm()
}

// ClosestPointOnRay projects p onto the ray center + t*dir.
func ClosestPointOnRay(center, dir, p r3.Vector) r3.Vector {
	d := dir.Normalize()
	return center.Add(d.Mul(p.Sub(center).Dot(d)))
}

// TriangulatePixels intersects the rays through the given pixels of each model. The returned
// error value is the mean distance from the point to the rays.
func TriangulatePixels(models []Model, pixels []r2.Point) (r3.Vector, float64, error) {
	if len(models) != len(pixels) {
		return r3.Vector{}, 0, errors.Errorf("got %d cameras and %d pixels", len(models), len(pixels))
	}
	centers := make([]r3.Vector, len(models))
	dirs := make([]r3.Vector, len(models))
	for i, m := range models {
		centers[i] = m.CameraCenter(pixels[i])
		dirs[i] = m.PixelToVector(pixels[i])
	}
	p, err := TriangulateRays(centers, dirs)
	if err != nil {
		return r3.Vector{}, 0, err
	}
	var sum float64
	for i := range centers {
		sum += RayDistance(centers[i], dirs[i], p)
	}
	return p, sum / float64(len(centers)), nil
}
