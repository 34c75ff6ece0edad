package jitter

import (
	"math"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/rig"
	"go.viam.com/photogrammetry/spatialmath"
)

// setPixelResidual writes weight*(pix - obs), or the saturated value when projection failed.
func setPixelResidual(residuals []float64, pix, obs r2.Point, weight float64, err error) {
	if err != nil || math.IsNaN(pix.X) || math.IsNaN(pix.Y) {
		residuals[0] = BigPixelValue * weight
		residuals[1] = BigPixelValue * weight
		return
	}
	residuals[0] = weight * (pix.X - obs.X)
	residuals[1] = weight * (pix.Y - obs.Y)
}

func vec(p []float64) r3.Vector {
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}

// sampleScratch holds private copies of a linescan's sample arrays.
type sampleScratch struct {
	positions   []float64
	quaternions []float64
}

// windowedLinescan evaluates a linescan camera with a window of its samples replaced. The base
// camera is never written; each evaluation works on a scratch copy of the sample arrays taken
// from a pool, so concurrent evaluations do not share state.
type windowedLinescan struct {
	base *camera.CSMLinescan
	win  Windows
	pool sync.Pool
}

func newWindowedLinescan(base *camera.CSMLinescan, win Windows) *windowedLinescan {
	wl := &windowedLinescan{base: base, win: win}
	wl.pool.New = func() any {
		return &sampleScratch{
			positions:   make([]float64, len(base.Positions)),
			quaternions: make([]float64, len(base.Quaternions)),
		}
	}
	return wl
}

func (wl *windowedLinescan) numBlocks() int {
	return wl.win.Quat.Len() + wl.win.Pos.Len()
}

// blocks returns the quaternion window blocks followed by the position window blocks.
func (wl *windowedLinescan) blocks() [][]float64 {
	out := wl.win.Quat.Blocks(wl.base.Quaternions)
	return append(out, wl.win.Pos.Blocks(wl.base.Positions)...)
}

// with runs fn on a shallow copy of the base camera carrying the given window values. params
// must start with the blocks in the order returned by blocks.
func (wl *windowedLinescan) with(params [][]float64, fn func(cam *camera.CSMLinescan)) {
	s, ok := wl.pool.Get().(*sampleScratch)
	if !ok || len(s.positions) != len(wl.base.Positions) || len(s.quaternions) != len(wl.base.Quaternions) {
		s = &sampleScratch{
			positions:   make([]float64, len(wl.base.Positions)),
			quaternions: make([]float64, len(wl.base.Quaternions)),
		}
	}
	defer wl.pool.Put(s)

	copy(s.positions, wl.base.Positions)
	copy(s.quaternions, wl.base.Quaternions)
	nq := wl.win.Quat.Len()
	wl.win.Quat.scatter(params[:nq], s.quaternions)
	wl.win.Pos.scatter(params[nq:nq+wl.win.Pos.Len()], s.positions)

	local := wl.base.ShallowClone()
	local.Positions = s.positions
	local.Quaternions = s.quaternions
	fn(local)
}

// LsPixelReprojErr is the reprojection error of a point in a linescan camera. Its parameter
// blocks are the quaternion window, then the position window, then the point.
type LsPixelReprojErr struct {
	obs    r2.Point
	weight float64
	cam    *windowedLinescan
}

// NewLsPixelReprojErr builds the residual for an observation of a point in cam. The windows are
// taken from ObservationWindows.
func NewLsPixelReprojErr(cam *camera.CSMLinescan, obs r2.Point, weight float64, win Windows) *LsPixelReprojErr {
	return &LsPixelReprojErr{obs: obs, weight: weight, cam: newWindowedLinescan(cam, win)}
}

// NumResiduals is the pixel dimension.
func (e *LsPixelReprojErr) NumResiduals() int { return PixelSize }

// ParameterBlocks lists the blocks to register with the solver, in evaluation order.
func (e *LsPixelReprojErr) ParameterBlocks(point []float64) [][]float64 {
	return append(e.cam.blocks(), point)
}

// Evaluate projects the point with the window values in params. The line search starts at the
// observed line so it stays inside the window.
func (e *LsPixelReprojErr) Evaluate(params [][]float64, residuals []float64) error {
	nb := e.cam.numBlocks()
	if len(params) != nb+1 {
		return errors.Errorf("linescan residual expects %d parameter blocks, got %d", nb+1, len(params))
	}
	point := vec(params[nb])
	e.cam.with(params, func(cam *camera.CSMLinescan) {
		pix, err := cam.GroundToImage(point, e.obs.Y, camera.DefaultDesiredPrecision)
		setPixelResidual(residuals, pix, e.obs, e.weight, err)
	})
	return nil
}

// FramePixelReprojErr is the reprojection error of a point in a CSM frame camera whose pose is
// optimized directly. Its parameter blocks are the position, the quaternion (x, y, z, w) and
// the point.
type FramePixelReprojErr struct {
	obs    r2.Point
	weight float64
	cam    *camera.CSMFrame
}

// NewFramePixelReprojErr builds the residual for an observation in cam.
func NewFramePixelReprojErr(cam *camera.CSMFrame, obs r2.Point, weight float64) *FramePixelReprojErr {
	return &FramePixelReprojErr{obs: obs, weight: weight, cam: cam}
}

// NumResiduals is the pixel dimension.
func (e *FramePixelReprojErr) NumResiduals() int { return PixelSize }

// Evaluate projects the point from the pose in params.
func (e *FramePixelReprojErr) Evaluate(params [][]float64, residuals []float64) error {
	if len(params) != 3 {
		return errors.Errorf("frame residual expects 3 parameter blocks, got %d", len(params))
	}
	local := *e.cam
	local.Position = vec(params[0])
	copy(local.Quaternion[:], params[1])
	pix, err := local.PointToPixel(vec(params[2]))
	setPixelResidual(residuals, pix, e.obs, e.weight, err)
	return nil
}

// RigCamInfo places an image of a rig sensor in time.
type RigCamInfo struct {
	SensorID int
	// A frame camera has equal begin and end pose times.
	BegPoseTime float64
	EndPoseTime float64
}

// RigLsFramePixelReprojErr is the reprojection error of a point in a frame camera rigidly
// attached to a rig whose reference sensor is a linescan camera. Its parameter blocks are the
// reference quaternion window, the reference position window, the point and the 12 value
// ref-to-sensor transform.
type RigLsFramePixelReprojErr struct {
	obs       r2.Point
	weight    float64
	frameTime float64
	ref       *windowedLinescan
	frame     *camera.CSMFrame
}

// NewRigLsFramePixelReprojErr builds the residual for an observation in frame, exposed at the
// time given by info. The window of reference samples covers the exposure time widened by the
// time the linescan takes to scan maxInitReprojErr plus a margin of lines.
func NewRigLsFramePixelReprojErr(
	ref *camera.CSMLinescan,
	frame *camera.CSMFrame,
	info RigCamInfo,
	obs r2.Point,
	weight, maxInitReprojErr float64,
) (*RigLsFramePixelReprojErr, error) {
	if info.BegPoseTime != info.EndPoseTime {
		return nil, errors.Errorf("for frame cameras on a rig the begin and end pose times must agree, got %v and %v",
			info.BegPoseTime, info.EndPoseTime)
	}
	lineExtra := maxInitReprojErr + LineMargin
	delta := math.Abs(ref.ImageTime(r2.Point{Y: lineExtra}) - ref.ImageTime(r2.Point{}))
	win, err := timeWindows(ref, info.BegPoseTime-delta, info.BegPoseTime+delta)
	if err != nil {
		return nil, err
	}
	return &RigLsFramePixelReprojErr{
		obs:       obs,
		weight:    weight,
		frameTime: info.BegPoseTime,
		ref:       newWindowedLinescan(ref, win),
		frame:     frame,
	}, nil
}

// NumResiduals is the pixel dimension.
func (e *RigLsFramePixelReprojErr) NumResiduals() int { return PixelSize }

// ParameterBlocks lists the blocks to register with the solver, in evaluation order.
func (e *RigLsFramePixelReprojErr) ParameterBlocks(point, refToSensor []float64) [][]float64 {
	return append(e.ref.blocks(), point, refToSensor)
}

// sensorPose returns the frame camera's center and camera-to-world rotation given the
// reference pose and the ref-to-sensor transform.
func sensorPose(refCenter r3.Vector, refRot spatialmath.RotationMatrix, refToSensor []float64) (r3.Vector, spatialmath.RotationMatrix, error) {
	a, err := rig.AffineFromValues(refToSensor)
	if err != nil {
		return r3.Vector{}, spatialmath.RotationMatrix{}, err
	}
	sensorToRef, err := a.Inverse()
	if err != nil {
		return r3.Vector{}, spatialmath.RotationMatrix{}, err
	}
	sensorToWorld := rig.AffineFromPose(refRot, refCenter).Compose(sensorToRef)
	rot, err := sensorToWorld.Rotation()
	if err != nil {
		return r3.Vector{}, spatialmath.RotationMatrix{}, err
	}
	return sensorToWorld.Translation, rot, nil
}

// Evaluate interpolates the reference pose at the exposure time, moves it to the sensor and
// projects the point.
func (e *RigLsFramePixelReprojErr) Evaluate(params [][]float64, residuals []float64) error {
	nb := e.ref.numBlocks()
	if len(params) != nb+2 {
		return errors.Errorf("rig residual expects %d parameter blocks, got %d", nb+2, len(params))
	}
	point := vec(params[nb])
	refToSensor := params[nb+1]
	e.ref.with(params, func(ref *camera.CSMLinescan) {
		center, rot, err := ref.Pose(e.frameTime)
		if err != nil {
			setPixelResidual(residuals, r2.Point{}, e.obs, e.weight, err)
			return
		}
		center, rot, err = sensorPose(center, rot, refToSensor)
		if err != nil {
			setPixelResidual(residuals, r2.Point{}, e.obs, e.weight, err)
			return
		}
		local := *e.frame
		local.Position = center
		spatialmath.QuatToXYZW(rot.Quaternion(), local.Quaternion[:])
		pix, err := local.PointToPixel(point)
		setPixelResidual(residuals, pix, e.obs, e.weight, err)
	})
	return nil
}
