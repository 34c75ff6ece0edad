package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/photogrammetry/spatialmath"
)

// Adjusted wraps another model with a similarity about a rotation center:
// world = Scale*R*(x - RotationCenter) + RotationCenter + Translation, where x is in the
// wrapped model's frame.
type Adjusted struct {
	Base           Model
	Translation    r3.Vector
	Rotation       quat.Number
	RotationCenter r3.Vector
	Scale          float64
}

// NewAdjusted wraps base with an identity adjustment rotating about its center.
func NewAdjusted(base Model) *Adjusted {
	return &Adjusted{
		Base:           base,
		Rotation:       quat.Number{Real: 1},
		RotationCenter: base.CameraCenter(r2.Point{}),
		Scale:          1,
	}
}

// Kind returns KindAdjusted.
func (cam *Adjusted) Kind() Kind { return KindAdjusted }

func (cam *Adjusted) scale() float64 {
	if cam.Scale == 0 {
		return 1
	}
	return cam.Scale
}

// CameraCenter returns the adjusted center.
func (cam *Adjusted) CameraCenter(pix r2.Point) r3.Vector {
	c := cam.Base.CameraCenter(pix).Sub(cam.RotationCenter)
	return spatialmath.RotateByQuat(spatialmath.NormalizeQuat(cam.Rotation), c).Mul(cam.scale()).
		Add(cam.RotationCenter).Add(cam.Translation)
}

// PixelToVector returns the adjusted ray.
func (cam *Adjusted) PixelToVector(pix r2.Point) r3.Vector {
	return spatialmath.RotateByQuat(spatialmath.NormalizeQuat(cam.Rotation), cam.Base.PixelToVector(pix))
}

// PointToPixel maps p back into the wrapped model's frame and projects it there.
func (cam *Adjusted) PointToPixel(p r3.Vector) (r2.Point, error) {
	inv := quat.Conj(spatialmath.NormalizeQuat(cam.Rotation))
	local := spatialmath.RotateByQuat(inv, p.Sub(cam.RotationCenter).Sub(cam.Translation)).
		Mul(1 / cam.scale()).Add(cam.RotationCenter)
	return cam.Base.PointToPixel(local)
}

// ApplyTransform composes the similarity onto the adjustment. The wrapped model is untouched.
func (cam *Adjusted) ApplyTransform(sim spatialmath.Similarity) error {
	rc := cam.RotationCenter
	cam.Translation = sim.R.Apply(rc.Add(cam.Translation)).Mul(sim.Scale).Add(sim.T).Sub(rc)
	cam.Rotation = spatialmath.NormalizeQuat(quat.Mul(sim.R.Quaternion(), spatialmath.NormalizeQuat(cam.Rotation)))
	cam.Scale = cam.scale() * sim.Scale
	return nil
}

// Intrinsics are not exposed through an adjustment.
func (cam *Adjusted) Intrinsics() Intrinsics { return Intrinsics{} }

// SetIntrinsics is a no-op for the empty set.
func (cam *Adjusted) SetIntrinsics(in Intrinsics) error { return nil }

// Clone returns a deep copy, including the wrapped model.
func (cam *Adjusted) Clone() Model {
	c := *cam
	c.Base = cam.Base.Clone()
	return &c
}
