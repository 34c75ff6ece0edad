// Package ba holds the bundle adjustment state shared by the solvers: packed camera and point
// parameters, the conversions between cameras and packed records, similarity application and
// the initial alignment of cameras to ground.
package ba

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/photogrammetry/camera"
)

// Sizes of the fixed-length parameter blocks.
const (
	NumCameraParams = 7
	NumCenterParams = 2
	NumFocusParams  = 1
	NumPointParams  = 3
)

type intrinsicsOffsets struct {
	center, focus, distortion, numDistortion int
}

// ParamStorage packs every optimized value into one buffer. Block accessors return slices
// into that buffer which stay valid for the lifetime of the store and can be handed to the
// solver as parameter blocks. Intrinsics are stored as multipliers of the nominal values.
type ParamStorage struct {
	buffer     []float64
	numCameras int
	numPoints  int
	pointStart int

	// cameraGroup maps a camera to the intrinsics block it uses.
	cameraGroup []int
	intrinsics  []intrinsicsOffsets
	outliers    []bool
}

// NewParamStorage creates a store with one intrinsics block per camera, where camera i has
// numDistortion[i] distortion values.
func NewParamStorage(numPoints int, numDistortion []int) (*ParamStorage, error) {
	groups := make([]int, len(numDistortion))
	for i := range groups {
		groups[i] = i
	}
	return NewSharedParamStorage(numPoints, groups, numDistortion)
}

// NewSharedParamStorage creates a store where camera i uses intrinsics block cameraGroup[i]
// and block g has groupDistortion[g] distortion values. Cameras in one group share intrinsics.
func NewSharedParamStorage(numPoints int, cameraGroup, groupDistortion []int) (*ParamStorage, error) {
	if numPoints < 0 {
		return nil, errors.Errorf("invalid number of points %d", numPoints)
	}
	for i, g := range cameraGroup {
		if g < 0 || g >= len(groupDistortion) {
			return nil, errors.Errorf("camera %d uses intrinsics group %d, there are %d groups",
				i, g, len(groupDistortion))
		}
	}
	if bad, found := lo.Find(groupDistortion, func(n int) bool { return n < 0 }); found {
		return nil, errors.Errorf("invalid number of distortion parameters %d", bad)
	}

	ps := &ParamStorage{
		numCameras:  len(cameraGroup),
		numPoints:   numPoints,
		cameraGroup: append([]int{}, cameraGroup...),
		outliers:    make([]bool, numPoints),
	}
	ps.pointStart = ps.numCameras * NumCameraParams
	offset := ps.pointStart + numPoints*NumPointParams
	for _, nd := range groupDistortion {
		io := intrinsicsOffsets{center: offset, numDistortion: nd}
		io.focus = io.center + NumCenterParams
		io.distortion = io.focus + NumFocusParams
		offset = io.distortion + nd
		ps.intrinsics = append(ps.intrinsics, io)
	}
	ps.buffer = make([]float64, offset)
	for i := 0; i < ps.numCameras; i++ {
		// identity quaternion
		ps.CameraPtr(i)[3] = 1
	}
	for g := range ps.intrinsics {
		ps.resetIntrinsics(g)
	}
	return ps, nil
}

func (ps *ParamStorage) block(start, size int) []float64 {
	return ps.buffer[start : start+size : start+size]
}

// NumCameras returns the number of camera records.
func (ps *ParamStorage) NumCameras() int { return ps.numCameras }

// NumPoints returns the number of points.
func (ps *ParamStorage) NumPoints() int { return ps.numPoints }

// NumIntrinsicsGroups returns the number of distinct intrinsics blocks.
func (ps *ParamStorage) NumIntrinsicsGroups() int { return len(ps.intrinsics) }

// IntrinsicsGroup returns the intrinsics block used by camera i.
func (ps *ParamStorage) IntrinsicsGroup(i int) int { return ps.cameraGroup[i] }

// NumDistortionParams returns the distortion multiplier count of camera i.
func (ps *ParamStorage) NumDistortionParams(i int) int {
	return ps.intrinsics[ps.cameraGroup[i]].numDistortion
}

// CameraPtr returns the 7 value record of camera i: position then quaternion w, x, y, z.
func (ps *ParamStorage) CameraPtr(i int) []float64 {
	return ps.block(i*NumCameraParams, NumCameraParams)
}

// PointPtr returns the coordinates of point j.
func (ps *ParamStorage) PointPtr(j int) []float64 {
	return ps.block(ps.pointStart+j*NumPointParams, NumPointParams)
}

// IntrinsicCenterPtr returns the optical center multipliers of camera i.
func (ps *ParamStorage) IntrinsicCenterPtr(i int) []float64 {
	return ps.block(ps.intrinsics[ps.cameraGroup[i]].center, NumCenterParams)
}

// IntrinsicFocusPtr returns the focal length multiplier of camera i.
func (ps *ParamStorage) IntrinsicFocusPtr(i int) []float64 {
	return ps.block(ps.intrinsics[ps.cameraGroup[i]].focus, NumFocusParams)
}

// IntrinsicDistortionPtr returns the distortion multipliers of camera i. It is empty for
// cameras without distortion.
func (ps *ParamStorage) IntrinsicDistortionPtr(i int) []float64 {
	io := ps.intrinsics[ps.cameraGroup[i]]
	return ps.block(io.distortion, io.numDistortion)
}

// PointOutlier reports whether point j has been flagged.
func (ps *ParamStorage) PointOutlier(j int) bool { return ps.outliers[j] }

// SetPointOutlier flags point j. Flags are never cleared.
func (ps *ParamStorage) SetPointOutlier(j int) { ps.outliers[j] = true }

// NumOutliers counts flagged points.
func (ps *ParamStorage) NumOutliers() int { return lo.Count(ps.outliers, true) }

func (ps *ParamStorage) resetIntrinsics(g int) {
	io := ps.intrinsics[g]
	for k := io.center; k < io.distortion+io.numDistortion; k++ {
		ps.buffer[k] = 1
	}
}

// multipliedIntrinsics returns the intrinsics of camera i scaled by its multipliers.
func (ps *ParamStorage) multipliedIntrinsics(i int, nominal camera.Intrinsics) (camera.Intrinsics, error) {
	out, err := camera.MultiplyIntrinsics(nominal,
		ps.IntrinsicCenterPtr(i), ps.IntrinsicFocusPtr(i), ps.IntrinsicDistortionPtr(i))
	return out, errors.Wrapf(err, "camera %d", i)
}

func (ps *ParamStorage) checkCamera(i int) error {
	if i < 0 || i >= ps.numCameras {
		return errors.Errorf("camera index %d out of range, have %d cameras", i, ps.numCameras)
	}
	return nil
}

func (ps *ParamStorage) packIntrinsics(i, numDistortion int) error {
	if numDistortion != ps.NumDistortionParams(i) {
		return errors.Errorf("camera %d has %d distortion values, store expects %d",
			i, numDistortion, ps.NumDistortionParams(i))
	}
	ps.resetIntrinsics(ps.cameraGroup[i])
	return nil
}

// PackPinhole writes the pose of cam into record i and resets its intrinsics multipliers.
func (ps *ParamStorage) PackPinhole(cam *camera.Pinhole, i int) error {
	if err := ps.checkCamera(i); err != nil {
		return err
	}
	if err := ps.packIntrinsics(i, len(cam.Intrinsics().Distortion)); err != nil {
		return err
	}
	var adj CameraAdjustment
	adj.CopyFromPinhole(cam)
	adj.PackToArray(ps.CameraPtr(i))
	return nil
}

// PackOpticalBar writes the pose of cam into record i and resets its multipliers. The three
// distortion multipliers scale speed, motion compensation and scan time.
func (ps *ParamStorage) PackOpticalBar(cam *camera.OpticalBar, i int) error {
	if err := ps.checkCamera(i); err != nil {
		return err
	}
	if err := ps.packIntrinsics(i, 3); err != nil {
		return err
	}
	var adj CameraAdjustment
	adj.CopyFromOpticalBar(cam)
	adj.PackToArray(ps.CameraPtr(i))
	return nil
}

// PackCSM resets the intrinsics multipliers of a CSM frame or linescan camera. The pose stays
// in the camera, so record i becomes the identity adjustment.
func (ps *ParamStorage) PackCSM(cam camera.Model, i int) error {
	if err := ps.checkCamera(i); err != nil {
		return err
	}
	if k := cam.Kind(); k != camera.KindCSMFrame && k != camera.KindCSMLinescan {
		return errors.Errorf("camera %d is %v, expected a CSM camera", i, k)
	}
	if err := ps.packIntrinsics(i, len(cam.Intrinsics().Distortion)); err != nil {
		return err
	}
	adj := IdentityAdjustment()
	adj.PackToArray(ps.CameraPtr(i))
	return nil
}

// PackAdjusted writes the adjustment of cam into record i. Adjusted cameras expose no intrinsics.
func (ps *ParamStorage) PackAdjusted(cam *camera.Adjusted, i int) error {
	if err := ps.checkCamera(i); err != nil {
		return err
	}
	if err := ps.packIntrinsics(i, 0); err != nil {
		return err
	}
	var adj CameraAdjustment
	adj.CopyFromAdjusted(cam)
	adj.PackToArray(ps.CameraPtr(i))
	return nil
}

// Pack dispatches to the packer for the model's kind.
func (ps *ParamStorage) Pack(cam camera.Model, i int) error {
	return camera.Visit(cam, &packer{ps: ps, i: i})
}

type packer struct {
	ps *ParamStorage
	i  int
}

func (p *packer) VisitPinhole(cam *camera.Pinhole) error       { return p.ps.PackPinhole(cam, p.i) }
func (p *packer) VisitOpticalBar(cam *camera.OpticalBar) error { return p.ps.PackOpticalBar(cam, p.i) }
func (p *packer) VisitCSMFrame(cam *camera.CSMFrame) error     { return p.ps.PackCSM(cam, p.i) }
func (p *packer) VisitCSMLinescan(cam *camera.CSMLinescan) error {
	return p.ps.PackCSM(cam, p.i)
}
func (p *packer) VisitAdjusted(cam *camera.Adjusted) error { return p.ps.PackAdjusted(cam, p.i) }

// NumDistortionFor returns how many distortion multipliers a store needs for cam.
func NumDistortionFor(cam camera.Model) int {
	if cam.Kind() == camera.KindAdjusted {
		return 0
	}
	return len(cam.Intrinsics().Distortion)
}
