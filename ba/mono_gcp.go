package ba

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/controlnet"
	"go.viam.com/photogrammetry/logging"
	"go.viam.com/photogrammetry/solver"
	"go.viam.com/photogrammetry/spatialmath"
)

const (
	// minGCPPerImage is how many GCPs an image needs before its camera can be fit alone.
	minGCPPerImage = 3
	// failedProjectionResidual is the residual emitted when a point does not project.
	failedProjectionResidual = 1000.0
)

// MonoGCPSolverOptions are the settings of the joint rotation, translation and scale refinement.
func MonoGCPSolverOptions() solver.Options {
	opts := solver.DefaultOptions()
	opts.FunctionTolerance = 1e-24
	opts.ParameterTolerance = 1e-24
	opts.GradientTolerance = 0
	opts.MaxIterations = 2000
	return opts
}

func asPinholes(cams []camera.Model) ([]*camera.Pinhole, error) {
	out := make([]*camera.Pinhole, len(cams))
	for i, cam := range cams {
		pin, ok := cam.(*camera.Pinhole)
		if !ok {
			return nil, errors.Errorf("camera %d is %v, a pinhole camera is expected", i, cam.Kind())
		}
		out[i] = pin
	}
	return out, nil
}

func setResidual(residuals []float64, pix r2.Point, obs r2.Point, err error) {
	if err != nil {
		residuals[0], residuals[1] = failedProjectionResidual, failedProjectionResidual
		return
	}
	residuals[0], residuals[1] = pix.X-obs.X, pix.Y-obs.Y
}

// FitCameraToXYZ returns a copy of cam posed so that the pixels see the given points. The
// starting pose comes from matching unit-length rays to the points; with refine the pose is
// then polished by least squares on the reprojection error.
func FitCameraToXYZ(
	ctx context.Context,
	cam *camera.Pinhole,
	xyz []r3.Vector,
	pix []r2.Point,
	refine bool,
	numThreads int,
) (*camera.Pinhole, error) {
	if len(xyz) != len(pix) {
		return nil, errors.Errorf("got %d points and %d pixels", len(xyz), len(pix))
	}
	if len(xyz) < minGCPPerImage {
		return nil, errors.Wrapf(ErrInsufficientGCPs, "need %d points to fit a camera, got %d", minGCPPerImage, len(xyz))
	}
	rays := make([]r3.Vector, len(pix))
	for i, p := range pix {
		rays[i] = cam.Center.Add(cam.PixelToVector(p))
	}
	sim, err := spatialmath.Find3DTransform(rays, xyz)
	if err != nil {
		return nil, err
	}
	out, ok := cam.Clone().(*camera.Pinhole)
	if !ok {
		return nil, errors.New("pinhole clone is not a pinhole")
	}
	if err := out.ApplyTransform(sim); err != nil {
		return nil, err
	}
	if !refine {
		return out, nil
	}

	rot0 := out.Rotation
	// rotation vector applied on top of rot0, then the center
	params := []float64{0, 0, 0, out.Center.X, out.Center.Y, out.Center.Z}
	poseAt := func(p []float64) *camera.Pinhole {
		c := *out
		c.Rotation = spatialmath.R3ToRotationMatrix(r3.Vector{X: p[0], Y: p[1], Z: p[2]}).Mul(rot0)
		c.Center = r3.Vector{X: p[3], Y: p[4], Z: p[5]}
		return &c
	}
	problem := solver.NewProblem()
	for i := range xyz {
		target, obs := xyz[i], pix[i]
		cost := solver.CostFunc{Residuals: 2, Fn: func(p [][]float64, residuals []float64) error {
			px, err := poseAt(p[0]).PointToPixel(target)
			setResidual(residuals, px, obs, err)
			return nil
		}}
		if err := problem.AddResidualBlock(cost, nil, params); err != nil {
			return nil, err
		}
	}
	opts := MonoGCPSolverOptions()
	opts.NumThreads = numThreads
	if _, err := problem.Solve(ctx, opts, nil); err != nil {
		return nil, err
	}
	fitted := poseAt(params)
	fitted.Distortion = out.Distortion.Clone()
	return fitted, nil
}

// findMedianScaleChange compares the distance between every pair of usable original cameras
// with the distance between the same cameras fitted individually, and returns the median ratio.
func findMedianScaleChange(orig, fitted []*camera.Pinhole, good []bool) (float64, error) {
	var scales []float64
	for i := range orig {
		if !good[i] {
			continue
		}
		for j := i + 1; j < len(orig); j++ {
			if !good[j] {
				continue
			}
			before := orig[i].Center.Sub(orig[j].Center).Norm()
			if before == 0 {
				continue
			}
			scales = append(scales, fitted[i].Center.Sub(fitted[j].Center).Norm()/before)
		}
	}
	if len(scales) == 0 {
		return 0, errors.Wrap(ErrInsufficientGCPs, "could not find two images with at least 3 GCP each")
	}
	return stats.Median(scales)
}

func similarityToParams(sim spatialmath.Similarity) []float64 {
	w := spatialmath.RotationMatrixToR3(sim.R)
	return []float64{w.X, w.Y, w.Z, sim.T.X, sim.T.Y, sim.T.Z, sim.Scale}
}

func paramsToSimilarity(p []float64) spatialmath.Similarity {
	return spatialmath.Similarity{
		R:     spatialmath.R3ToRotationMatrix(r3.Vector{X: p[0], Y: p[1], Z: p[2]}),
		T:     r3.Vector{X: p[3], Y: p[4], Z: p[5]},
		Scale: p[6],
	}
}

// InitWithMonoGCP aligns pinhole cameras to GCPs that may each be seen in one image only. Every
// image with at least three GCPs has its camera fit alone; the median change in distance
// between fitted cameras gives the scale; each GCP is then placed along its original ray at the
// rescaled distance, a similarity is fit from those proxies to the GCPs, and finally rotation,
// translation and scale are refined together on the reprojection error of all GCPs. The result
// is applied to the cameras and tie points. At least two usable images at distinct positions are
// required; otherwise ErrInsufficientGCPs is returned and nothing is changed.
func InitWithMonoGCP(
	ctx context.Context,
	logger logging.Logger,
	cams []camera.Model,
	cnet *controlnet.ControlNetwork,
	refineCameras bool,
	numThreads int,
) (spatialmath.Similarity, error) {
	logger.Info("initializing camera positions from ground control points seen in single images")
	pins, err := asPinholes(cams)
	if err != nil {
		return spatialmath.Similarity{}, err
	}
	xyz := make([][]r3.Vector, len(cams))
	pix := make([][]r2.Point, len(cams))
	for i := range cnet.Points {
		cp := &cnet.Points[i]
		if !cp.IsGCP() {
			continue
		}
		for _, m := range cp.Measures {
			if m.CameraIndex < 0 || m.CameraIndex >= len(cams) {
				return spatialmath.Similarity{}, errors.Errorf("control point %q refers to camera %d out of range", cp.ID, m.CameraIndex)
			}
			xyz[m.CameraIndex] = append(xyz[m.CameraIndex], cp.Position)
			pix[m.CameraIndex] = append(pix[m.CameraIndex], m.Pixel)
		}
	}

	good := make([]bool, len(cams))
	fitted := make([]*camera.Pinhole, len(cams))
	numGood := 0
	for i, pin := range pins {
		fitted[i] = pin
		if len(xyz[i]) < minGCPPerImage {
			continue
		}
		f, err := FitCameraToXYZ(ctx, pin, xyz[i], pix[i], refineCameras, numThreads)
		if err != nil {
			return spatialmath.Similarity{}, errors.Wrapf(err, "camera %d", i)
		}
		good[i], fitted[i] = true, f
		numGood++
	}
	if numGood == 0 {
		return spatialmath.Similarity{}, errors.Wrap(ErrInsufficientGCPs, "no image has at least 3 GCP")
	}
	worldScale, err := findMedianScaleChange(pins, fitted, good)
	if err != nil {
		return spatialmath.Similarity{}, err
	}
	logger.Infow("initial guess scale to apply when converting to world coordinates", "scale", worldScale)

	var in, out []r3.Vector
	for i, pin := range pins {
		if !good[i] {
			continue
		}
		for c := range xyz[i] {
			dist := fitted[i].Center.Sub(xyz[i][c]).Norm() / worldScale
			in = append(in, pin.Center.Add(pin.PixelToVector(pix[i][c]).Mul(dist)))
			out = append(out, xyz[i][c])
		}
	}
	sim, err := spatialmath.Find3DTransform(in, out)
	if err != nil {
		return spatialmath.Similarity{}, err
	}

	params := similarityToParams(sim)
	problem := solver.NewProblem()
	for i, pin := range pins {
		if !good[i] {
			continue
		}
		pin := pin
		for c := range xyz[i] {
			target, obs := xyz[i][c], pix[i][c]
			cost := solver.CostFunc{Residuals: 2, Fn: func(p [][]float64, residuals []float64) error {
				local := paramsToSimilarity(p[0]).Inverse().Apply(target)
				px, err := pin.PointToPixel(local)
				setResidual(residuals, px, obs, err)
				return nil
			}}
			if err := problem.AddResidualBlock(cost, nil, params); err != nil {
				return spatialmath.Similarity{}, err
			}
		}
	}
	opts := MonoGCPSolverOptions()
	opts.NumThreads = numThreads
	summary, err := problem.Solve(ctx, opts, logger)
	if err != nil {
		return spatialmath.Similarity{}, err
	}
	logger.Debugw("refined GCP transform", "summary", summary.String())
	sim = paramsToSimilarity(params)
	logger.Infow("applying transform based on GCP", "transform", sim.String())
	return sim, ApplyRigidTransform(sim, cams, cnet)
}
