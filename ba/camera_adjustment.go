package ba

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/spatialmath"
)

// CameraAdjustment is the unpacked form of a camera record. For pinhole and optical bar
// cameras it is the absolute pose; for other cameras it is a correction about the camera's
// rotation center.
type CameraAdjustment struct {
	Position r3.Vector
	// Pose is kept normalized.
	Pose quat.Number
}

// IdentityAdjustment is the adjustment that changes nothing.
func IdentityAdjustment() CameraAdjustment {
	return CameraAdjustment{Pose: quat.Number{Real: 1}}
}

// NewCameraAdjustment reads a 7 value record.
func NewCameraAdjustment(record []float64) CameraAdjustment {
	var ca CameraAdjustment
	ca.ReadFromArray(record)
	return ca
}

// ReadFromArray loads position then quaternion w, x, y, z and renormalizes the quaternion.
func (ca *CameraAdjustment) ReadFromArray(record []float64) {
	ca.Position = r3.Vector{X: record[0], Y: record[1], Z: record[2]}
	ca.Pose = spatialmath.NormalizeQuat(spatialmath.QuatFromSlice(record[3:7]))
}

// PackToArray writes the record, renormalizing the quaternion first.
func (ca *CameraAdjustment) PackToArray(record []float64) {
	ca.Pose = spatialmath.NormalizeQuat(ca.Pose)
	record[0], record[1], record[2] = ca.Position.X, ca.Position.Y, ca.Position.Z
	spatialmath.QuatToSlice(ca.Pose, record[3:7])
}

// Rotation returns the pose as a matrix.
func (ca *CameraAdjustment) Rotation() spatialmath.RotationMatrix {
	return spatialmath.QuatToRotationMatrix(ca.Pose)
}

// CopyFromPinhole takes the center and camera-to-world rotation.
func (ca *CameraAdjustment) CopyFromPinhole(cam *camera.Pinhole) {
	ca.Position = cam.Center
	ca.Pose = cam.Rotation.Quaternion()
}

// CopyFromOpticalBar takes the center and camera-to-world rotation.
func (ca *CameraAdjustment) CopyFromOpticalBar(cam *camera.OpticalBar) {
	ca.Position = cam.Center
	ca.Pose = cam.Rotation.Quaternion()
}

// CopyFromAdjusted takes the translation and rotation. The adjustment scale is not kept; it
// has no effect on cameras whose center does not depend on the pixel.
func (ca *CameraAdjustment) CopyFromAdjusted(cam *camera.Adjusted) {
	ca.Position = cam.Translation
	ca.Pose = spatialmath.NormalizeQuat(cam.Rotation)
}

// Similarity returns the world transform applied by the adjustment about rotationCenter:
// x -> R*(x - rc) + rc + t.
func (ca *CameraAdjustment) Similarity(rotationCenter r3.Vector) spatialmath.Similarity {
	r := ca.Rotation()
	return spatialmath.Similarity{
		R:     r,
		T:     rotationCenter.Add(ca.Position).Sub(r.Apply(rotationCenter)),
		Scale: 1,
	}
}

// Adjusted wraps base with this adjustment about base's rotation center.
func (ca *CameraAdjustment) Adjusted(base camera.Model) *camera.Adjusted {
	return &camera.Adjusted{
		Base:           base,
		Translation:    ca.Position,
		Rotation:       ca.Pose,
		RotationCenter: base.CameraCenter(r2.Point{}),
		Scale:          1,
	}
}

// WriteAdjustFile saves the adjustment as two lines: translation, then quaternion w x y z.
func (ca *CameraAdjustment) WriteAdjustFile(path string) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot write adjustment %q", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	q := spatialmath.NormalizeQuat(ca.Pose)
	_, err = fmt.Fprintf(f, "%.17g %.17g %.17g\n%.17g %.17g %.17g %.17g\n",
		ca.Position.X, ca.Position.Y, ca.Position.Z, q.Real, q.Imag, q.Jmag, q.Kmag)
	return err
}

// ReadAdjustFile loads an adjustment written by WriteAdjustFile.
func ReadAdjustFile(path string) (CameraAdjustment, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return CameraAdjustment{}, errors.Wrapf(err, "cannot read adjustment %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var vals []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		for _, tok := range strings.Fields(scanner.Text()) {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return CameraAdjustment{}, errors.Wrapf(err, "bad value in %q", path)
			}
			vals = append(vals, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return CameraAdjustment{}, err
	}
	if len(vals) != NumCameraParams {
		return CameraAdjustment{}, errors.Errorf("%q has %d values, expected %d", path, len(vals), NumCameraParams)
	}
	return NewCameraAdjustment(vals), nil
}
