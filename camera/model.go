// Package camera holds the sensor models used by bundle adjustment, jitter solving and
// triangulation. Each model is one arm of a tagged variant; Visit dispatches on the arm.
package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/photogrammetry/spatialmath"
)

// Kind names a sensor model arm.
type Kind int

// The supported sensor models.
const (
	KindPinhole Kind = iota
	KindOpticalBar
	KindCSMFrame
	KindCSMLinescan
	KindAdjusted
)

func (k Kind) String() string {
	switch k {
	case KindPinhole:
		return "pinhole"
	case KindOpticalBar:
		return "optical_bar"
	case KindCSMFrame:
		return "csm_frame"
	case KindCSMLinescan:
		return "csm_linescan"
	case KindAdjusted:
		return "adjusted"
	}
	return "unknown"
}

var (
	// ErrPointBehindCamera is returned when a point projects from behind the image plane.
	ErrPointBehindCamera = errors.New("point is behind the camera")
	// ErrNoConvergence is returned when an iterative projection does not converge.
	ErrNoConvergence = errors.New("point to pixel did not converge")
)

// Intrinsics are the nominal lens values of a model. The meaning of Distortion depends on the
// model: lens coefficients for pinhole and CSM, (speed, motion compensation, scan time) for
// optical bar.
type Intrinsics struct {
	FocalLength   float64
	OpticalCenter r2.Point
	Distortion    []float64
}

// Model is the capability set shared by every sensor.
type Model interface {
	Kind() Kind
	// CameraCenter returns the center of projection for the given pixel.
	CameraCenter(pix r2.Point) r3.Vector
	// PixelToVector returns the unit ray direction in world coordinates.
	PixelToVector(pix r2.Point) r3.Vector
	PointToPixel(p r3.Vector) (r2.Point, error)
	// ApplyTransform moves the sensor so that center' = s*R*center + t and orientation' = R*orientation.
	ApplyTransform(sim spatialmath.Similarity) error
	Intrinsics() Intrinsics
	SetIntrinsics(in Intrinsics) error
	// Clone returns a deep copy.
	Clone() Model
}

// Visitor handles each arm of the variant.
type Visitor interface {
	VisitPinhole(cam *Pinhole) error
	VisitOpticalBar(cam *OpticalBar) error
	VisitCSMFrame(cam *CSMFrame) error
	VisitCSMLinescan(cam *CSMLinescan) error
	VisitAdjusted(cam *Adjusted) error
}

// Visit dispatches m to the matching Visitor method.
func Visit(m Model, v Visitor) error {
	switch cam := m.(type) {
	case *Pinhole:
		return v.VisitPinhole(cam)
	case *OpticalBar:
		return v.VisitOpticalBar(cam)
	case *CSMFrame:
		return v.VisitCSMFrame(cam)
	case *CSMLinescan:
		return v.VisitCSMLinescan(cam)
	case *Adjusted:
		return v.VisitAdjusted(cam)
	default:
		return errors.Errorf("unsupported camera model %T", m)
	}
}

// MultiplyIntrinsics returns nominal scaled entry-wise by the multipliers. Nil multipliers leave
// the corresponding values untouched.
func MultiplyIntrinsics(nominal Intrinsics, center, focus, distortion []float64) (Intrinsics, error) {
	out := Intrinsics{
		FocalLength:   nominal.FocalLength,
		OpticalCenter: nominal.OpticalCenter,
		Distortion:    append([]float64{}, nominal.Distortion...),
	}
	if center != nil {
		if len(center) != 2 {
			return Intrinsics{}, errors.Errorf("optical center multiplier needs 2 values, got %d", len(center))
		}
		out.OpticalCenter = r2.Point{X: out.OpticalCenter.X * center[0], Y: out.OpticalCenter.Y * center[1]}
	}
	if focus != nil {
		if len(focus) != 1 {
			return Intrinsics{}, errors.Errorf("focal length multiplier needs 1 value, got %d", len(focus))
		}
		out.FocalLength *= focus[0]
	}
	if distortion != nil {
		if len(distortion) != len(out.Distortion) {
			return Intrinsics{}, errors.Errorf("distortion multiplier has %d values, camera has %d",
				len(distortion), len(out.Distortion))
		}
		for i := range out.Distortion {
			out.Distortion[i] *= distortion[i]
		}
	}
	return out, nil
}
