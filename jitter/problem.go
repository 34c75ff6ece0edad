package jitter

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/cartography"
	"go.viam.com/photogrammetry/controlnet"
	"go.viam.com/photogrammetry/logging"
	"go.viam.com/photogrammetry/solver"
	"go.viam.com/photogrammetry/spatialmath"
)

// Options configure the jitter problem.
type Options struct {
	// Weight multiplies every reprojection residual.
	Weight float64
	// RobustThreshold is the Cauchy loss scale, in pixels. Zero disables the loss.
	RobustThreshold float64
	// MaxInitReprojError sizes the sample windows, in pixels.
	MaxInitReprojError float64
	RollWeight         float64
	YawWeight          float64
	// InitialCameraConstraint measures roll and yaw against the starting orientations.
	InitialCameraConstraint bool
	// GeoRef is required when either roll or yaw weight is positive.
	GeoRef *cartography.GeoReference
	// FixPoints holds every tie point in place. Ground control points are always held.
	FixPoints bool
}

// DefaultOptions returns the usual settings.
func DefaultOptions() Options {
	return Options{
		Weight:             1,
		RobustThreshold:    0.5,
		MaxInitReprojError: 10,
	}
}

// Summary reports a finished jitter solve.
type Summary struct {
	solver.Summary
	NumObservations int
	// RMS of the weighted reprojection residuals before and after solving, in pixels.
	InitialRMS float64
	FinalRMS   float64
}

// Problem couples CSM cameras and a control network into one least squares problem. Linescan
// samples are optimized in place; frame camera poses are copied into blocks and written back
// after solving.
type Problem struct {
	logger  logging.Logger
	opts    Options
	problem *solver.Problem
	cams    []camera.Model
	cnet    *controlnet.ControlNetwork

	points []float64
	frames [][]float64
	// reprojRows are the first residual rows of the reprojection blocks.
	reprojRows      []int
	numObservations int
}

// NewProblem builds the residuals of every measure in cnet. Only CSM frame and linescan cameras
// are supported.
func NewProblem(
	logger logging.Logger,
	cams []camera.Model,
	cnet *controlnet.ControlNetwork,
	opts Options,
) (*Problem, error) {
	for i, cam := range cams {
		if k := cam.Kind(); k != camera.KindCSMLinescan && k != camera.KindCSMFrame {
			return nil, errors.Errorf("jitter solving supports CSM cameras only, camera %d is %v", i, k)
		}
	}
	p := &Problem{
		logger:  logger,
		opts:    opts,
		problem: solver.NewProblem(),
		cams:    cams,
		cnet:    cnet,
		points:  make([]float64, len(cnet.Points)*NumXYZParams),
		frames:  make([][]float64, len(cams)),
	}
	for i, cam := range cams {
		if frame, ok := cam.(*camera.CSMFrame); ok {
			block := make([]float64, NumXYZParams+NumQuatParams)
			block[0], block[1], block[2] = frame.Position.X, frame.Position.Y, frame.Position.Z
			copy(block[NumXYZParams:], frame.Quaternion[:])
			p.frames[i] = block
		}
	}

	var loss solver.LossFunction
	if opts.RobustThreshold > 0 {
		loss = solver.NewCauchyLoss(opts.RobustThreshold)
	}
	for j := range cnet.Points {
		cp := &cnet.Points[j]
		point := p.pointBlock(j)
		point[0], point[1], point[2] = cp.Position.X, cp.Position.Y, cp.Position.Z
		for _, m := range cp.Measures {
			if m.CameraIndex < 0 || m.CameraIndex >= len(cams) {
				return nil, errors.Errorf("control point %q refers to camera %d out of range", cp.ID, m.CameraIndex)
			}
			if err := p.addObservation(m.CameraIndex, point, m.Pixel, loss); err != nil {
				return nil, errors.Wrapf(err, "control point %q in camera %d", cp.ID, m.CameraIndex)
			}
		}
	}

	for j := range cnet.Points {
		if len(cnet.Points[j].Measures) == 0 {
			continue
		}
		if opts.FixPoints || cnet.Points[j].IsGCP() {
			if err := p.problem.SetParameterBlockConstant(p.pointBlock(j)); err != nil {
				return nil, err
			}
		}
	}
	if opts.RollWeight > 0 || opts.YawWeight > 0 {
		if err := p.addRollYaw(); err != nil {
			return nil, err
		}
	}
	if err := p.setQuaternionManifolds(); err != nil {
		return nil, err
	}
	logger.Infow("built jitter problem",
		"observations", p.numObservations, "residual_blocks", p.problem.NumResidualBlocks(),
		"parameter_blocks", p.problem.NumParameterBlocks())
	return p, nil
}

func (p *Problem) pointBlock(j int) []float64 {
	start := j * NumXYZParams
	return p.points[start : start+NumXYZParams : start+NumXYZParams]
}

func (p *Problem) addObservation(i int, point []float64, pix r2.Point, loss solver.LossFunction) error {
	row := p.problem.NumResiduals()
	switch cam := p.cams[i].(type) {
	case *camera.CSMLinescan:
		win, err := ObservationWindows(cam, pix, p.opts.MaxInitReprojError)
		if err != nil {
			return err
		}
		cost := NewLsPixelReprojErr(cam, pix, p.opts.Weight, win)
		if err := p.problem.AddResidualBlock(cost, loss, cost.ParameterBlocks(point)...); err != nil {
			return err
		}
	case *camera.CSMFrame:
		block := p.frames[i]
		cost := NewFramePixelReprojErr(cam, pix, p.opts.Weight)
		if err := p.problem.AddResidualBlock(cost, loss,
			block[:NumXYZParams:NumXYZParams], block[NumXYZParams:], point); err != nil {
			return err
		}
	}
	p.reprojRows = append(p.reprojRows, row)
	p.numObservations++
	return nil
}

// AddRigObservation adds an observation in a frame camera mounted on the rig of the linescan
// camera refIndex. refToSensor holds the 12 value rig transform and is optimized along with the
// reference samples; callers may hold it constant with SetConstant.
func (p *Problem) AddRigObservation(
	refIndex int,
	frame *camera.CSMFrame,
	info RigCamInfo,
	refToSensor []float64,
	pointIndex int,
	pix r2.Point,
) error {
	if refIndex < 0 || refIndex >= len(p.cams) {
		return errors.Errorf("reference camera %d out of range", refIndex)
	}
	ref, ok := p.cams[refIndex].(*camera.CSMLinescan)
	if !ok {
		return errors.Errorf("reference camera %d is %v, a linescan camera is expected", refIndex, p.cams[refIndex].Kind())
	}
	if pointIndex < 0 || pointIndex >= len(p.cnet.Points) {
		return errors.Errorf("point %d out of range", pointIndex)
	}
	cost, err := NewRigLsFramePixelReprojErr(ref, frame, info, pix, p.opts.Weight, p.opts.MaxInitReprojError)
	if err != nil {
		return err
	}
	var loss solver.LossFunction
	if p.opts.RobustThreshold > 0 {
		loss = solver.NewCauchyLoss(p.opts.RobustThreshold)
	}
	row := p.problem.NumResiduals()
	if err := p.problem.AddResidualBlock(cost, loss, cost.ParameterBlocks(p.pointBlock(pointIndex), refToSensor)...); err != nil {
		return err
	}
	p.reprojRows = append(p.reprojRows, row)
	p.numObservations++
	return p.setQuaternionManifolds()
}

// SetConstant holds a registered parameter block fixed.
func (p *Problem) SetConstant(block []float64) error {
	return p.problem.SetParameterBlockConstant(block)
}

func (p *Problem) addRollYaw() error {
	if p.opts.GeoRef == nil {
		return errors.New("a georeference is needed to constrain roll and yaw")
	}
	for i, cam := range p.cams {
		ls, ok := cam.(*camera.CSMLinescan)
		if !ok {
			continue
		}
		for k := 0; k < ls.NumQuaternions(); k++ {
			cost, err := NewRollYawErr(ls.Positions, ls.Quaternions, *p.opts.GeoRef, k,
				p.opts.RollWeight, p.opts.YawWeight, p.opts.InitialCameraConstraint)
			if err != nil {
				return errors.Wrapf(err, "camera %d", i)
			}
			q := ls.Quaternions[k*NumQuatParams : (k+1)*NumQuatParams : (k+1)*NumQuatParams]
			if err := p.problem.AddResidualBlock(cost, nil, q); err != nil {
				return err
			}
		}
	}
	return nil
}

// setQuaternionManifolds keeps every optimized quaternion at unit length during the solve, so
// that interpolation between samples sees the same rotations the solver evaluated.
func (p *Problem) setQuaternionManifolds() error {
	for i, cam := range p.cams {
		var quats [][]float64
		switch c := cam.(type) {
		case *camera.CSMLinescan:
			quats = Window{End: c.NumQuaternions(), Stride: NumQuatParams}.Blocks(c.Quaternions)
		case *camera.CSMFrame:
			quats = [][]float64{p.frames[i][NumXYZParams:]}
		}
		for _, q := range quats {
			if !p.problem.HasParameterBlock(q) {
				continue
			}
			if err := p.problem.SetManifold(q, solver.UnitNorm{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// reprojRMS evaluates the problem and returns the RMS of the reprojection rows.
func (p *Problem) reprojRMS(ctx context.Context, numThreads int) (float64, error) {
	_, residuals, err := p.problem.Evaluate(ctx, numThreads)
	if err != nil {
		return 0, err
	}
	reproj := make([]float64, 0, PixelSize*len(p.reprojRows))
	for _, row := range p.reprojRows {
		reproj = append(reproj, residuals[row:row+PixelSize]...)
	}
	return solver.RMS(reproj), nil
}

// Solve runs the solver, normalizes the linescan quaternions, writes the frame poses back into
// their cameras and the tie point positions back into the control network.
func (p *Problem) Solve(ctx context.Context, opts solver.Options) (Summary, error) {
	summary := Summary{NumObservations: p.numObservations}
	var err error
	if summary.InitialRMS, err = p.reprojRMS(ctx, opts.NumThreads); err != nil {
		return summary, err
	}
	if summary.Summary, err = p.problem.Solve(ctx, opts, p.logger); err != nil {
		return summary, err
	}
	p.writeBack()
	if summary.FinalRMS, err = p.reprojRMS(ctx, opts.NumThreads); err != nil {
		return summary, err
	}
	p.logger.Infow("jitter solve finished",
		"initial_rms", summary.InitialRMS, "final_rms", summary.FinalRMS, "summary", summary.Summary.String())
	return summary, nil
}

func (p *Problem) writeBack() {
	for i, cam := range p.cams {
		switch c := cam.(type) {
		case *camera.CSMLinescan:
			for k := 0; k < c.NumQuaternions(); k++ {
				q := c.Quaternions[k*NumQuatParams : (k+1)*NumQuatParams]
				spatialmath.QuatToXYZW(spatialmath.NormalizeQuat(spatialmath.QuatFromXYZW(q)), q)
			}
		case *camera.CSMFrame:
			block := p.frames[i]
			c.Position = vec(block)
			q := spatialmath.NormalizeQuat(spatialmath.QuatFromXYZW(block[NumXYZParams:]))
			spatialmath.QuatToXYZW(q, c.Quaternion[:])
			copy(block[NumXYZParams:], c.Quaternion[:])
		}
	}
	for j := range p.cnet.Points {
		cp := &p.cnet.Points[j]
		if !cp.IsGCP() {
			cp.Position = vec(p.pointBlock(j))
		}
	}
}
