package ba

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/cartography"
	"go.viam.com/photogrammetry/controlnet"
	"go.viam.com/photogrammetry/logging"
	"go.viam.com/photogrammetry/spatialmath"
)

const (
	// MinNumMatches is the fewest camera position matches that define a similarity.
	MinNumMatches = 3
	// MinNumGoodGCPs is the fewest triangulated GCPs that define a similarity.
	MinNumGoodGCPs = 3
	// GCPWarnDistance is how far apart, in meters, the GCP and tie point centroids may be
	// before CheckGCPDists warns.
	GCPWarnDistance = 100000.0
)

var (
	// ErrInsufficientMatches is returned when too few camera positions are known.
	ErrInsufficientMatches = errors.New("not enough camera position matches")
	// ErrInsufficientGCPs is returned when too few GCPs are usable.
	ErrInsufficientGCPs = errors.New("not enough valid ground control points")
)

// ApplyRigidTransform moves every camera and every non-GCP control point by sim.
func ApplyRigidTransform(sim spatialmath.Similarity, cams []camera.Model, cnet *controlnet.ControlNetwork) error {
	for i, cam := range cams {
		if err := cam.ApplyTransform(sim); err != nil {
			return errors.Wrapf(err, "camera %d", i)
		}
	}
	if cnet == nil {
		return nil
	}
	for i := range cnet.Points {
		if cnet.Points[i].IsGCP() {
			continue
		}
		cnet.Points[i].Position = sim.Apply(cnet.Points[i].Position)
	}
	return nil
}

// InitWithCameraPositions finds the similarity taking the current camera centers to the known
// ones and applies it to the cameras and tie points. A zero target means unknown.
func InitWithCameraPositions(
	logger logging.Logger,
	cams []camera.Model,
	targets []r3.Vector,
	cnet *controlnet.ControlNetwork,
) (spatialmath.Similarity, error) {
	if len(targets) != len(cams) {
		return spatialmath.Similarity{}, errors.Errorf("got %d camera positions for %d cameras", len(targets), len(cams))
	}
	var in, out []r3.Vector
	for i, target := range targets {
		if target == (r3.Vector{}) {
			continue
		}
		in = append(in, cams[i].CameraCenter(r2.Point{}))
		out = append(out, target)
	}
	logger.Infow("initializing camera positions", "cameras", len(cams), "matches", len(out))
	if len(out) < MinNumMatches {
		return spatialmath.Similarity{}, errors.Wrapf(ErrInsufficientMatches,
			"at least %d camera position matches are required, got %d", MinNumMatches, len(out))
	}
	sim, err := spatialmath.Find3DTransform(in, out)
	if err != nil {
		return spatialmath.Similarity{}, err
	}
	return sim, ApplyRigidTransform(sim, cams, cnet)
}

// triangulateControlPoint intersects the rays of all measures of cp. It returns a negative
// error when that fails. A point seen once is placed on its ray closest to cp's current
// position, and still reported as a failure.
func triangulateControlPoint(cams []camera.Model, cp *controlnet.ControlPoint) (r3.Vector, float64) {
	if len(cp.Measures) == 0 {
		return r3.Vector{}, -1
	}
	if len(cp.Measures) == 1 {
		m := cp.Measures[0]
		cam := cams[m.CameraIndex]
		return camera.ClosestPointOnRay(cam.CameraCenter(m.Pixel), cam.PixelToVector(m.Pixel), cp.Position), -1
	}
	models := make([]camera.Model, len(cp.Measures))
	pixels := make([]r2.Point, len(cp.Measures))
	for i, m := range cp.Measures {
		models[i] = cams[m.CameraIndex]
		pixels[i] = m.Pixel
	}
	p, e, err := camera.TriangulatePixels(models, pixels)
	if err != nil {
		return r3.Vector{}, -1
	}
	return p, e
}

// InitWithMultiGCP triangulates every GCP with the current cameras, finds the similarity taking
// the triangulated points to the surveyed ones and applies it. GCPs that fail to triangulate
// are skipped, except when there is only one camera: then the single-ray estimate is kept since
// nothing better exists.
func InitWithMultiGCP(logger logging.Logger, cams []camera.Model, cnet *controlnet.ControlNetwork) (spatialmath.Similarity, error) {
	logger.Info("initializing camera positions from ground control points seen in multiple images")
	var in, out []r3.Vector
	numGCP := 0
	for i := range cnet.Points {
		cp := &cnet.Points[i]
		if !cp.IsGCP() {
			continue
		}
		numGCP++
		pos, triErr := triangulateControlPoint(cams, cp)
		if pos == (r3.Vector{}) || cp.Position == (r3.Vector{}) || (triErr < 0 && len(cams) != 1) {
			logger.Warnw("discarding GCP", "id", cp.ID, "measures", len(cp.Measures))
			continue
		}
		in = append(in, pos)
		out = append(out, cp.Position)
	}
	if len(out) < MinNumGoodGCPs {
		return spatialmath.Similarity{}, errors.Wrapf(ErrInsufficientGCPs,
			"have %d GCPs, %d valid, need %d", numGCP, len(out), MinNumGoodGCPs)
	}
	sim, err := spatialmath.Find3DTransform(in, out)
	if err != nil {
		return spatialmath.Similarity{}, err
	}
	logger.Infow("applying transform based on GCP", "transform", sim.String())
	return sim, ApplyRigidTransform(sim, cams, cnet)
}

// CheckGCPDists warns when the centroid of the GCPs is more than GCPWarnDistance from the
// centroid of the triangulated tie points, which usually means latitude and longitude were
// swapped in the GCP file. Only points with at least two measures count. It returns the
// centroid distance, or -1 when either set is empty. With a datum the great circle
// separation is logged too.
func CheckGCPDists(logger logging.Logger, cams []camera.Model, cnet *controlnet.ControlNetwork, datum *cartography.Datum) float64 {
	var gcpX, gcpY, gcpZ, ipX, ipY, ipZ []float64
	for i := range cnet.Points {
		cp := &cnet.Points[i]
		if len(cp.Measures) <= 1 {
			continue
		}
		if cp.IsGCP() {
			if cp.Position == (r3.Vector{}) {
				continue
			}
			gcpX, gcpY, gcpZ = append(gcpX, cp.Position.X), append(gcpY, cp.Position.Y), append(gcpZ, cp.Position.Z)
			continue
		}
		pos, triErr := triangulateControlPoint(cams, cp)
		if triErr < 0 || pos == (r3.Vector{}) {
			continue
		}
		ipX, ipY, ipZ = append(ipX, pos.X), append(ipY, pos.Y), append(ipZ, pos.Z)
	}
	if len(gcpX) == 0 || len(ipX) == 0 {
		return -1
	}
	meanGCP := r3.Vector{X: stat.Mean(gcpX, nil), Y: stat.Mean(gcpY, nil), Z: stat.Mean(gcpZ, nil)}
	meanIP := r3.Vector{X: stat.Mean(ipX, nil), Y: stat.Mean(ipY, nil), Z: stat.Mean(ipZ, nil)}
	dist := meanIP.Sub(meanGCP).Norm()
	fields := []interface{}{"distance_m", dist}
	if datum != nil {
		fields = append(fields, "great_circle_km", datum.GreatCircleKm(meanIP, meanGCP))
	}
	if dist > GCPWarnDistance {
		logger.Warnw("GCPs are over 100 km from the other points. Are the lat/lon GCP coordinates swapped?", fields...)
	} else {
		logger.Debugw("GCP distance check", fields...)
	}
	return dist
}
