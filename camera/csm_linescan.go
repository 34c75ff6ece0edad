package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/photogrammetry/spatialmath"
)

const (
	// NumPositionComponents is the stride of the position sample array.
	NumPositionComponents = 3
	// NumQuatComponents is the stride of the quaternion sample array, stored x, y, z, w.
	NumQuatComponents = 4

	maxGroundToImageIterations = 100
)

// CSMLinescan is a pushbroom sensor. Line l is exposed at time T0Image + l*DtLine. The pose at
// any time is interpolated from uniformly spaced position and quaternion samples.
type CSMLinescan struct {
	CSMIntrinsics
	T0Image float64 `json:"t0_image"`
	DtLine  float64 `json:"dt_line"`

	T0Ephem   float64   `json:"t0_ephem"`
	DtEphem   float64   `json:"dt_ephem"`
	Positions []float64 `json:"positions"`

	T0Quat      float64   `json:"t0_quat"`
	DtQuat      float64   `json:"dt_quat"`
	Quaternions []float64 `json:"quaternions"`
}

// Kind returns KindCSMLinescan.
func (cam *CSMLinescan) Kind() Kind { return KindCSMLinescan }

// NumPositions returns the number of position samples.
func (cam *CSMLinescan) NumPositions() int { return len(cam.Positions) / NumPositionComponents }

// NumQuaternions returns the number of quaternion samples.
func (cam *CSMLinescan) NumQuaternions() int { return len(cam.Quaternions) / NumQuatComponents }

// ImageTime returns the exposure time of the pixel's line.
func (cam *CSMLinescan) ImageTime(pix r2.Point) float64 {
	return cam.T0Image + pix.Y*cam.DtLine
}

// Pose returns the interpolated camera center and camera-to-world rotation at time t.
func (cam *CSMLinescan) Pose(t float64) (r3.Vector, spatialmath.RotationMatrix, error) {
	var pos [NumPositionComponents]float64
	if err := LagrangeInterp(cam.Positions, NumPositionComponents, cam.T0Ephem, cam.DtEphem, t, pos[:]); err != nil {
		return r3.Vector{}, spatialmath.RotationMatrix{}, errors.Wrap(err, "positions")
	}
	var q [NumQuatComponents]float64
	if err := LagrangeInterp(cam.Quaternions, NumQuatComponents, cam.T0Quat, cam.DtQuat, t, q[:]); err != nil {
		return r3.Vector{}, spatialmath.RotationMatrix{}, errors.Wrap(err, "quaternions")
	}
	rot := spatialmath.QuatToRotationMatrix(spatialmath.QuatFromXYZW(q[:]))
	return r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}, rot, nil
}

// CameraCenter returns the interpolated position at the pixel's line time.
func (cam *CSMLinescan) CameraCenter(pix r2.Point) r3.Vector {
	center, _, err := cam.Pose(cam.ImageTime(pix))
	if err != nil {
		return r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
	}
	return center
}

// PixelToVector returns the world ray through the pixel. The detector line sits at focal plane
// offset OpticalCenter.Y.
func (cam *CSMLinescan) PixelToVector(pix r2.Point) r3.Vector {
	_, rot, err := cam.Pose(cam.ImageTime(pix))
	if err != nil {
		return r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
	}
	xu, yu := cam.undistort((pix.X-cam.OpticalCenter.X)/cam.FocalLength, cam.OpticalCenter.Y/cam.FocalLength)
	return rot.Apply(r3.Vector{X: xu, Y: yu, Z: 1}).Normalize()
}

// PointToPixel projects with DefaultDesiredPrecision, starting the line search mid-image.
func (cam *CSMLinescan) PointToPixel(p r3.Vector) (r2.Point, error) {
	return cam.GroundToImage(p, float64(cam.NumLines)/2, DefaultDesiredPrecision)
}

// lineOffset is the signed distance in pixels between the point's focal plane row at line l
// and the detector row. The correct line is its root.
func (cam *CSMLinescan) lineOffset(p r3.Vector, line float64) (float64, float64, error) {
	center, rot, err := cam.Pose(cam.ImageTime(r2.Point{Y: line}))
	if err != nil {
		return 0, 0, err
	}
	x, y, err := cam.focalPlane(rot.Transpose().Apply(p.Sub(center)))
	if err != nil {
		return 0, 0, err
	}
	return y - cam.OpticalCenter.Y, x + cam.OpticalCenter.X, nil
}

// GroundToImage finds the line whose exposure sees p by secant iterations starting at
// startLine, stopping when the line update is below precision. Samples are only read near the
// lines visited, so a start close to the answer keeps the search local.
func (cam *CSMLinescan) GroundToImage(p r3.Vector, startLine, precision float64) (r2.Point, error) {
	line := startLine
	for i := 0; i < maxGroundToImageIterations; i++ {
		offset, sample, err := cam.lineOffset(p, line)
		if err != nil {
			return r2.Point{}, err
		}
		const step = 0.5
		offset2, _, err := cam.lineOffset(p, line+step)
		if err != nil {
			return r2.Point{}, err
		}
		deriv := (offset2 - offset) / step
		if deriv == 0 || math.IsNaN(deriv) {
			return r2.Point{}, ErrNoConvergence
		}
		update := offset / deriv
		if math.Abs(update) < precision {
			return r2.Point{X: sample, Y: line}, nil
		}
		line -= update
	}
	return r2.Point{}, ErrNoConvergence
}

// ApplyTransform maps every position sample and rotates every quaternion sample. Scales
// other than 1 are rejected.
func (cam *CSMLinescan) ApplyTransform(sim spatialmath.Similarity) error {
	if math.Abs(sim.Scale-1) > CSMScaleTolerance {
		return errors.Wrapf(ErrCSMScale, "scale is %.17g", sim.Scale)
	}
	for i := 0; i < cam.NumPositions(); i++ {
		p := cam.Positions[i*NumPositionComponents : (i+1)*NumPositionComponents]
		out := sim.Apply(r3.Vector{X: p[0], Y: p[1], Z: p[2]})
		p[0], p[1], p[2] = out.X, out.Y, out.Z
	}
	// Multiplying quaternions directly keeps the sign continuity that interpolation relies on.
	qr := sim.R.Quaternion()
	for i := 0; i < cam.NumQuaternions(); i++ {
		q := cam.Quaternions[i*NumQuatComponents : (i+1)*NumQuatComponents]
		spatialmath.QuatToXYZW(quat.Mul(qr, spatialmath.QuatFromXYZW(q)), q)
	}
	return nil
}

// Intrinsics returns the nominal lens values.
func (cam *CSMLinescan) Intrinsics() Intrinsics { return cam.intrinsics() }

// SetIntrinsics replaces the lens values.
func (cam *CSMLinescan) SetIntrinsics(in Intrinsics) error { return cam.setIntrinsics(in) }

// Clone returns a deep copy.
func (cam *CSMLinescan) Clone() Model {
	c := cam.ShallowClone()
	c.Positions = append([]float64{}, cam.Positions...)
	c.Quaternions = append([]float64{}, cam.Quaternions...)
	return c
}

// ShallowClone copies the scalar state and shares the sample arrays and distortion. Callers
// that perturb samples must replace the arrays they write.
func (cam *CSMLinescan) ShallowClone() *CSMLinescan {
	c := *cam
	return &c
}
