package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/photogrammetry/spatialmath"
)

// OpticalBar is a panoramic camera whose lens sweeps across track while the vehicle moves
// along track. Column c is exposed at time ScanTime*(c-Cx)/Width relative to the central column.
type OpticalBar struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	// PixelSize converts pixels to focal plane units.
	PixelSize     float64  `json:"pixel_size"`
	FocalLength   float64  `json:"focal_length"`
	OpticalCenter r2.Point `json:"optical_center"`

	Center r3.Vector `json:"center"`
	// Rotation takes camera coordinates to world coordinates at the central column. Camera x is
	// the scan direction and camera y the flight direction.
	Rotation spatialmath.RotationMatrix `json:"-"`

	Speed              float64 `json:"speed"`
	MotionCompensation float64 `json:"motion_compensation_factor"`
	ScanTime           float64 `json:"scan_time"`
	// GroundDistance is the nominal range to the terrain used for motion compensation. It is a
	// property of the scene and is not changed by ApplyTransform.
	GroundDistance float64 `json:"ground_distance"`
}

// Kind returns KindOpticalBar.
func (cam *OpticalBar) Kind() Kind { return KindOpticalBar }

func (cam *OpticalBar) columnTime(col float64) float64 {
	return cam.ScanTime * (col - cam.OpticalCenter.X) / float64(cam.Width)
}

// compensationAngle tilts the ray about the scan axis to follow the ground during the scan.
func (cam *OpticalBar) compensationAngle(t float64) float64 {
	if cam.GroundDistance == 0 {
		return 0
	}
	return cam.MotionCompensation * cam.Speed * t / cam.GroundDistance
}

// CameraCenter returns the center at the pixel's exposure time.
func (cam *OpticalBar) CameraCenter(pix r2.Point) r3.Vector {
	t := cam.columnTime(pix.X)
	return cam.Center.Add(cam.Rotation.Col(1).Mul(cam.Speed * t))
}

func rotateAboutX(v r3.Vector, angle float64) r3.Vector {
	c, s := math.Cos(angle), math.Sin(angle)
	return r3.Vector{X: v.X, Y: c*v.Y - s*v.Z, Z: s*v.Y + c*v.Z}
}

// PixelToVector returns the world ray through the pixel.
func (cam *OpticalBar) PixelToVector(pix r2.Point) r3.Vector {
	alpha := (pix.X - cam.OpticalCenter.X) * cam.PixelSize / cam.FocalLength
	yf := (pix.Y - cam.OpticalCenter.Y) * cam.PixelSize / cam.FocalLength
	ray := r3.Vector{X: math.Sin(alpha), Y: yf, Z: math.Cos(alpha)}
	ray = rotateAboutX(ray, cam.compensationAngle(cam.columnTime(pix.X)))
	return cam.Rotation.Apply(ray).Normalize()
}

// PointToPixel projects a world point by fixed point iteration on the column, since the
// center depends on the exposure time of the column.
func (cam *OpticalBar) PointToPixel(p r3.Vector) (r2.Point, error) {
	col := cam.OpticalCenter.X
	rt := cam.Rotation.Transpose()
	for i := 0; i < 50; i++ {
		t := cam.columnTime(col)
		pc := rt.Apply(p.Sub(cam.CameraCenter(r2.Point{X: col})))
		pc = rotateAboutX(pc, -cam.compensationAngle(t))
		if pc.Z <= 0 {
			return r2.Point{}, ErrPointBehindCamera
		}
		alpha := math.Atan2(pc.X, pc.Z)
		next := alpha*cam.FocalLength/cam.PixelSize + cam.OpticalCenter.X
		if math.Abs(next-col) < 1e-10 {
			yf := pc.Y / math.Hypot(pc.X, pc.Z)
			return r2.Point{X: next, Y: yf*cam.FocalLength/cam.PixelSize + cam.OpticalCenter.Y}, nil
		}
		col = next
	}
	return r2.Point{}, ErrNoConvergence
}

// ApplyTransform moves the camera by the similarity. Speed is in world units so it scales too.
func (cam *OpticalBar) ApplyTransform(sim spatialmath.Similarity) error {
	cam.Center = sim.Apply(cam.Center)
	cam.Rotation = sim.R.Mul(cam.Rotation)
	cam.Speed *= sim.Scale
	return nil
}

// Intrinsics returns the nominal values. The distortion slots are speed, motion compensation
// factor and scan time.
func (cam *OpticalBar) Intrinsics() Intrinsics {
	return Intrinsics{
		FocalLength:   cam.FocalLength,
		OpticalCenter: cam.OpticalCenter,
		Distortion:    []float64{cam.Speed, cam.MotionCompensation, cam.ScanTime},
	}
}

// SetIntrinsics replaces the nominal values.
func (cam *OpticalBar) SetIntrinsics(in Intrinsics) error {
	if in.FocalLength <= 0 {
		return errors.Errorf("invalid focal length %v", in.FocalLength)
	}
	if len(in.Distortion) != 3 {
		return errors.Errorf("optical bar needs 3 distortion values, got %d", len(in.Distortion))
	}
	cam.FocalLength = in.FocalLength
	cam.OpticalCenter = in.OpticalCenter
	cam.Speed, cam.MotionCompensation, cam.ScanTime = in.Distortion[0], in.Distortion[1], in.Distortion[2]
	return nil
}

// Clone returns a copy.
func (cam *OpticalBar) Clone() Model {
	c := *cam
	return &c
}
