package stereo

import (
	"fmt"
	"image"
	"math/rand"
	"os"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// MinCenterPoints is the number of points the cloud center search collects before stopping.
const MinCenterPoints = 100

// centerNudge is the relative perturbation keeping the center off any real point.
const centerNudge = 1e-10

// ErrNoCloudPoints is returned when a cloud has no valid point to take a center from.
var ErrNoCloudPoints = errors.New("point cloud has no valid points")

// PointSource produces points for any box of its raster.
type PointSource interface {
	Bounds() image.Rectangle
	Rasterize(rect image.Rectangle) (*Cloud, error)
}

// CloudCenter estimates a center for the cloud to be subtracted before storing points as
// floats. Tiles of tileSize are visited in rings around the tile centered on the raster, and
// the per-coordinate median of the valid points is returned once at least MinCenterPoints are
// collected.
func CloudCenter(src PointSource, tileSize int) (r3.Vector, error) {
	if tileSize <= 0 {
		return r3.Vector{}, errors.Errorf("invalid tile size %d", tileSize)
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return r3.Vector{}, ErrNoCloudPoints
	}
	mid := bounds.Min.Add(bounds.Size().Div(2))
	origin := mid.Sub(image.Pt(tileSize/2, tileSize/2))
	tileAt := func(i, j int) image.Rectangle {
		corner := origin.Add(image.Pt(i*tileSize, j*tileSize))
		return image.Rectangle{Min: corner, Max: corner.Add(image.Pt(tileSize, tileSize))}.Intersect(bounds)
	}
	maxRing := (max(bounds.Dx(), bounds.Dy())+tileSize-1)/tileSize/2 + 1

	var points []r3.Vector
	for r := 0; r <= maxRing; r++ {
		for i := -r; i <= r; i++ {
			for j := -r; j <= r; j++ {
				if i != -r && i != r && j != -r && j != r {
					continue
				}
				tile := tileAt(i, j)
				if tile.Empty() {
					continue
				}
				cloud, err := src.Rasterize(tile)
				if err != nil {
					return r3.Vector{}, errors.Wrapf(err, "tile %v", tile)
				}
				for _, p := range cloud.Points {
					if p.IsValid() {
						points = append(points, p.XYZ)
					}
				}
				if len(points) >= MinCenterPoints {
					return approxMedian(points)
				}
			}
		}
	}
	if len(points) == 0 {
		return r3.Vector{}, ErrNoCloudPoints
	}
	return approxMedian(points)
}

// approxMedian takes the per-coordinate median and nudges it so that subtracting it from a real
// point never gives the zero sentinel.
func approxMedian(points []r3.Vector) (r3.Vector, error) {
	rng := rand.New(rand.NewSource(int64(len(points)))) //nolint:gosec
	coords := make([]float64, len(points))
	var out [3]float64
	for c := range out {
		for i, p := range points {
			coords[i] = [3]float64{p.X, p.Y, p.Z}[c]
		}
		m, err := stats.Median(coords)
		if err != nil {
			return r3.Vector{}, err
		}
		out[c] = m + m*centerNudge*rng.Float64()
	}
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}, nil
}

// WriteCloudCenter stores a center as text with enough digits to read it back exactly.
func WriteCloudCenter(path string, center r3.Vector) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	_, err = fmt.Fprintf(f, "%.18g %.18g %.18g\n", center.X, center.Y, center.Z)
	return err
}

// ReadCloudCenter reads a center written by WriteCloudCenter.
func ReadCloudCenter(path string) (r3.Vector, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return r3.Vector{}, err
	}
	defer func() {
		_ = f.Close()
	}()
	var c r3.Vector
	if _, err := fmt.Fscan(f, &c.X, &c.Y, &c.Z); err != nil {
		return r3.Vector{}, errors.Wrapf(err, "reading cloud center from %q", path)
	}
	return c, nil
}
