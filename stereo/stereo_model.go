package stereo

import (
	"math"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/logging"
	"go.viam.com/photogrammetry/utils"
)

// StereoModel intersects the rays through corresponding pixels of n cameras.
type StereoModel struct {
	logger   logging.Logger
	cams     []camera.Model
	minAngle float64

	warnOnce sync.Once
}

// NewStereoModel needs at least two cameras. minAngleDeg rejects rays closer than that to
// parallel; zero accepts any pair that intersects.
func NewStereoModel(logger logging.Logger, cams []camera.Model, minAngleDeg float64) (*StereoModel, error) {
	if len(cams) < 2 {
		return nil, errors.Errorf("triangulation needs at least 2 cameras, got %d", len(cams))
	}
	return &StereoModel{logger: logger, cams: cams, minAngle: utils.DegToRad(minAngleDeg)}, nil
}

// NumCameras is n.
func (m *StereoModel) NumCameras() int { return len(m.cams) }

// Camera returns camera i.
func (m *StereoModel) Camera(i int) camera.Model { return m.cams[i] }

func validPixel(p r2.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y)
}

// NaNPixel marks an image with no correspondence.
func NaNPixel() r2.Point { return r2.Point{X: math.NaN(), Y: math.NaN()} }

// maxRayAngle returns the widest angle between any two directions.
func maxRayAngle(dirs []r3.Vector) float64 {
	var best float64
	for i := range dirs {
		for j := i + 1; j < len(dirs); j++ {
			best = math.Max(best, float64(dirs[i].Angle(dirs[j])))
		}
	}
	return best
}

// Triangulate returns the point and its error vector for one pixel per camera. Images whose
// pixel is NaN are left out. With two rays the error is the gap between the rays' closest
// points; with more it is (mean ray distance, 0, 0). ok is false when fewer than two rays
// remain, the rays are too close to parallel or they do not intersect.
func (m *StereoModel) Triangulate(pixels []r2.Point) (xyz, errVec r3.Vector, ok bool) {
	if len(pixels) != len(m.cams) {
		return r3.Vector{}, r3.Vector{}, false
	}
	centers := make([]r3.Vector, 0, len(pixels))
	dirs := make([]r3.Vector, 0, len(pixels))
	for i, pix := range pixels {
		if !validPixel(pix) {
			continue
		}
		centers = append(centers, m.cams[i].CameraCenter(pix))
		dirs = append(dirs, m.cams[i].PixelToVector(pix))
	}
	if len(centers) < 2 {
		return r3.Vector{}, r3.Vector{}, false
	}
	if m.minAngle > 0 && maxRayAngle(dirs) < m.minAngle {
		return r3.Vector{}, r3.Vector{}, false
	}
	xyz, err := camera.TriangulateRays(centers, dirs)
	if err != nil {
		return r3.Vector{}, r3.Vector{}, false
	}
	// points behind a camera are not intersections
	for i := range centers {
		if xyz.Sub(centers[i]).Dot(dirs[i]) <= 0 {
			return r3.Vector{}, r3.Vector{}, false
		}
	}

	if len(centers) == 2 {
		errVec = camera.ClosestPointOnRay(centers[0], dirs[0], xyz).Sub(camera.ClosestPointOnRay(centers[1], dirs[1], xyz))
		return xyz, errVec, true
	}
	m.warnOnce.Do(func() {
		m.logger.Warnw("triangulating with more than two cameras, the error is the mean distance from the point to the rays",
			"cameras", len(m.cams))
	})
	var sum float64
	for i := range centers {
		sum += camera.RayDistance(centers[i], dirs[i], xyz)
	}
	return xyz, r3.Vector{X: sum / float64(len(centers))}, true
}
