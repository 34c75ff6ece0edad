package camera

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/photogrammetry/spatialmath"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// PinholeCameraIntrinsics holds the lens parameters of a frame camera. Focal length and
// optical center are in the same units as PixelPitch.
type PinholeCameraIntrinsics struct {
	Width       int     `json:"width_px"`
	Height      int     `json:"height_px"`
	FocalLength float64 `json:"focal_length"`
	Cx          float64 `json:"cx"`
	Cy          float64 `json:"cy"`
	PixelPitch  float64 `json:"pixel_pitch"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return ErrNoIntrinsics
	}
	if params.Width < 0 || params.Height < 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid size (%#v, %#v)", params.Width, params.Height)
	}
	if params.FocalLength <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal length %#v", params.FocalLength)
	}
	if params.PixelPitch <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid pixel pitch %#v", params.PixelPitch)
	}
	return nil
}

// Pinhole is a frame camera with a single center and a lens distortion model.
type Pinhole struct {
	PinholeCameraIntrinsics
	Center r3.Vector
	// Rotation takes camera coordinates to world coordinates.
	Rotation   spatialmath.RotationMatrix
	Distortion Distorter
}

// NewPinhole returns an undistorted pinhole camera at the given pose.
func NewPinhole(intr PinholeCameraIntrinsics, center r3.Vector, rot spatialmath.RotationMatrix) (*Pinhole, error) {
	if err := intr.CheckValid(); err != nil {
		return nil, err
	}
	return &Pinhole{PinholeCameraIntrinsics: intr, Center: center, Rotation: rot, Distortion: &NoDistortion{}}, nil
}

// Kind returns KindPinhole.
func (cam *Pinhole) Kind() Kind { return KindPinhole }

// CameraCenter is the same for all pixels.
func (cam *Pinhole) CameraCenter(pix r2.Point) r3.Vector { return cam.Center }

// PixelToVector returns the world ray through the pixel.
func (cam *Pinhole) PixelToVector(pix r2.Point) r3.Vector {
	xd := (pix.X*cam.PixelPitch - cam.Cx) / cam.FocalLength
	yd := (pix.Y*cam.PixelPitch - cam.Cy) / cam.FocalLength
	xu, yu := cam.distorter().Undistort(xd, yd)
	return cam.Rotation.Apply(r3.Vector{X: xu, Y: yu, Z: 1}).Normalize()
}

// PointToPixel projects a world point.
func (cam *Pinhole) PointToPixel(p r3.Vector) (r2.Point, error) {
	pc := cam.Rotation.Transpose().Apply(p.Sub(cam.Center))
	if pc.Z <= 0 {
		return r2.Point{}, ErrPointBehindCamera
	}
	xd, yd := cam.distorter().Transform(pc.X/pc.Z, pc.Y/pc.Z)
	return r2.Point{
		X: (cam.FocalLength*xd + cam.Cx) / cam.PixelPitch,
		Y: (cam.FocalLength*yd + cam.Cy) / cam.PixelPitch,
	}, nil
}

// ApplyTransform moves the camera by the similarity.
func (cam *Pinhole) ApplyTransform(sim spatialmath.Similarity) error {
	cam.Center = sim.Apply(cam.Center)
	cam.Rotation = sim.R.Mul(cam.Rotation)
	return nil
}

// Intrinsics returns the nominal lens values.
func (cam *Pinhole) Intrinsics() Intrinsics {
	return Intrinsics{
		FocalLength:   cam.FocalLength,
		OpticalCenter: r2.Point{X: cam.Cx, Y: cam.Cy},
		Distortion:    cam.distorter().Parameters(),
	}
}

// SetIntrinsics replaces the lens values. The distortion length must not change.
func (cam *Pinhole) SetIntrinsics(in Intrinsics) error {
	if in.FocalLength <= 0 {
		return errors.Errorf("invalid focal length %v", in.FocalLength)
	}
	if err := cam.distorter().SetParameters(in.Distortion); err != nil {
		return err
	}
	cam.FocalLength = in.FocalLength
	cam.Cx, cam.Cy = in.OpticalCenter.X, in.OpticalCenter.Y
	return nil
}

// Clone returns a deep copy, including the distortion model.
func (cam *Pinhole) Clone() Model {
	c := *cam
	c.Distortion = cam.distorter().Clone()
	return &c
}

func (cam *Pinhole) distorter() Distorter {
	if cam.Distortion == nil {
		cam.Distortion = &NoDistortion{}
	}
	return cam.Distortion
}

type pinholeFile struct {
	PinholeCameraIntrinsics
	Center               [3]float64     `json:"center"`
	Rotation             [9]float64     `json:"rotation"`
	DistortionType       DistortionType `json:"distortion_type"`
	DistortionParameters []float64      `json:"distortion_parameters"`
}

// ReadPinholeJSON reads a camera written by WritePinholeJSON.
func ReadPinholeJSON(path string) (*Pinhole, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open pinhole camera %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var pf pinholeFile
	if err := json.NewDecoder(f).Decode(&pf); err != nil {
		return nil, errors.Wrapf(err, "cannot parse pinhole camera %q", path)
	}
	rot, err := spatialmath.NewRotationMatrix(pf.Rotation[:])
	if err != nil {
		return nil, err
	}
	cam, err := NewPinhole(pf.PinholeCameraIntrinsics, r3.Vector{X: pf.Center[0], Y: pf.Center[1], Z: pf.Center[2]}, rot)
	if err != nil {
		return nil, errors.Wrapf(err, "in %q", path)
	}
	dist, err := NewDistorter(pf.DistortionType, pf.DistortionParameters)
	if err != nil {
		return nil, errors.Wrapf(err, "in %q", path)
	}
	cam.Distortion = dist
	return cam, nil
}

// WritePinholeJSON saves the camera as JSON.
func WritePinholeJSON(path string, cam *Pinhole) error {
	pf := pinholeFile{
		PinholeCameraIntrinsics: cam.PinholeCameraIntrinsics,
		Center:                  [3]float64{cam.Center.X, cam.Center.Y, cam.Center.Z},
		DistortionType:          cam.distorter().ModelType(),
		DistortionParameters:    cam.distorter().Parameters(),
	}
	copy(pf.Rotation[:], cam.Rotation.Values())
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
