package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/photogrammetry/spatialmath"
)

// CSMScaleTolerance bounds |s-1| for similarities applied to CSM models. The sample arrays
// carry no scale degree of freedom, so larger scales are rejected.
const CSMScaleTolerance = 1e-6

// DefaultDesiredPrecision is the ground-to-image convergence tolerance, in pixels.
const DefaultDesiredPrecision = 1e-8

// ErrCSMScale is returned when a similarity with non-unit scale is applied to a CSM model.
var ErrCSMScale = errors.New("cannot apply a similarity with non-unit scale to a CSM camera")

// CSMIntrinsics are the focal plane parameters shared by CSM frame and linescan sensors, all in
// pixels. Distortion holds radial coefficients applied in normalized coordinates.
type CSMIntrinsics struct {
	FocalLength   float64   `json:"focal_length"`
	OpticalCenter r2.Point  `json:"optical_center"`
	Distortion    []float64 `json:"distortion"`
	NumLines      int       `json:"num_lines"`
	NumSamples    int       `json:"num_samples"`
}

func (ci *CSMIntrinsics) intrinsics() Intrinsics {
	return Intrinsics{
		FocalLength:   ci.FocalLength,
		OpticalCenter: ci.OpticalCenter,
		Distortion:    append([]float64{}, ci.Distortion...),
	}
}

func (ci *CSMIntrinsics) setIntrinsics(in Intrinsics) error {
	if in.FocalLength <= 0 {
		return errors.Errorf("invalid focal length %v", in.FocalLength)
	}
	if len(in.Distortion) != len(ci.Distortion) {
		return errors.Errorf("expected %d distortion values, got %d", len(ci.Distortion), len(in.Distortion))
	}
	ci.FocalLength = in.FocalLength
	ci.OpticalCenter = in.OpticalCenter
	ci.Distortion = append(ci.Distortion[:0], in.Distortion...)
	return nil
}

func (ci *CSMIntrinsics) radial(r2 float64) float64 {
	factor, pow := 1.0, r2
	for _, k := range ci.Distortion {
		factor += k * pow
		pow *= r2
	}
	return factor
}

func (ci *CSMIntrinsics) distort(x, y float64) (float64, float64) {
	f := ci.radial(x*x + y*y)
	return x * f, y * f
}

func (ci *CSMIntrinsics) undistort(xd, yd float64) (float64, float64) {
	x, y := xd, yd
	for i := 0; i < 50; i++ {
		f := ci.radial(x*x + y*y)
		nx, ny := xd/f, yd/f
		if math.Abs(nx-x) < 1e-15 && math.Abs(ny-y) < 1e-15 {
			return nx, ny
		}
		x, y = nx, ny
	}
	return x, y
}

// focalPlane projects a camera-frame point to distorted pixel offsets from the optical center.
func (ci *CSMIntrinsics) focalPlane(pc r3.Vector) (float64, float64, error) {
	if pc.Z <= 0 {
		return 0, 0, ErrPointBehindCamera
	}
	xd, yd := ci.distort(pc.X/pc.Z, pc.Y/pc.Z)
	return ci.FocalLength * xd, ci.FocalLength * yd, nil
}

// CSMFrame is a CSM frame sensor with a single pose.
type CSMFrame struct {
	CSMIntrinsics
	Position r3.Vector
	// Quaternion rotates camera coordinates into world coordinates.
	Quaternion [4]float64 // x, y, z, w
}

// Kind returns KindCSMFrame.
func (cam *CSMFrame) Kind() Kind { return KindCSMFrame }

// CameraCenter is the same for all pixels.
func (cam *CSMFrame) CameraCenter(pix r2.Point) r3.Vector { return cam.Position }

// Rotation returns the camera-to-world rotation.
func (cam *CSMFrame) Rotation() spatialmath.RotationMatrix {
	return spatialmath.QuatToRotationMatrix(spatialmath.QuatFromXYZW(cam.Quaternion[:]))
}

// PixelToVector returns the world ray through the pixel.
func (cam *CSMFrame) PixelToVector(pix r2.Point) r3.Vector {
	xu, yu := cam.undistort((pix.X-cam.OpticalCenter.X)/cam.FocalLength, (pix.Y-cam.OpticalCenter.Y)/cam.FocalLength)
	return cam.Rotation().Apply(r3.Vector{X: xu, Y: yu, Z: 1}).Normalize()
}

// PointToPixel projects a world point.
func (cam *CSMFrame) PointToPixel(p r3.Vector) (r2.Point, error) {
	pc := cam.Rotation().Transpose().Apply(p.Sub(cam.Position))
	x, y, err := cam.focalPlane(pc)
	if err != nil {
		return r2.Point{}, err
	}
	return r2.Point{X: x + cam.OpticalCenter.X, Y: y + cam.OpticalCenter.Y}, nil
}

// ApplyTransform moves the sensor. Scales other than 1 are rejected.
func (cam *CSMFrame) ApplyTransform(sim spatialmath.Similarity) error {
	if math.Abs(sim.Scale-1) > CSMScaleTolerance {
		return errors.Wrapf(ErrCSMScale, "scale is %.17g", sim.Scale)
	}
	cam.Position = sim.Apply(cam.Position)
	q := quat.Mul(sim.R.Quaternion(), spatialmath.QuatFromXYZW(cam.Quaternion[:]))
	spatialmath.QuatToXYZW(q, cam.Quaternion[:])
	return nil
}

// Intrinsics returns the nominal lens values.
func (cam *CSMFrame) Intrinsics() Intrinsics { return cam.intrinsics() }

// SetIntrinsics replaces the lens values.
func (cam *CSMFrame) SetIntrinsics(in Intrinsics) error { return cam.setIntrinsics(in) }

// Clone returns a deep copy.
func (cam *CSMFrame) Clone() Model {
	c := *cam
	c.Distortion = append([]float64{}, cam.Distortion...)
	return &c
}
