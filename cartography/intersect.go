package cartography

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrNoIntersection is returned when a ray does not meet the DEM.
var ErrNoIntersection = errors.New("ray does not intersect the DEM")

const (
	intersectAbsTol     = 1e-14
	intersectRelTol     = 1e-14
	intersectMaxIters   = 100
	intersectAttempts   = 10
	intersectRadiusFrac = 0.02
	intersectMaxDepth   = 3
	// Heights closer than this are an intersection.
	intersectHeightTol = 1e-3
)

// DatumIntersection returns the distance along the unit ray dir from center to the ellipsoid
// grown by height, and false when the ray misses it.
func DatumIntersection(datum Datum, height float64, center, dir r3.Vector) (float64, bool) {
	a := datum.SemiMajor + height
	b := datum.SemiMinor + height
	// Scale z so the ellipsoid becomes a sphere of radius a.
	k := a / b
	c := r3.Vector{X: center.X, Y: center.Y, Z: center.Z * k}
	v := r3.Vector{X: dir.X, Y: dir.Y, Z: dir.Z * k}
	qa := v.Dot(v)
	qb := 2 * c.Dot(v)
	qc := c.Dot(c) - a*a
	disc := qb*qb - 4*qa*qc
	if disc < 0 {
		return 0, false
	}
	length := (-qb - math.Sqrt(disc)) / (2 * qa)
	if length < 0 {
		return 0, false
	}
	return length, true
}

// heightError is the point's height above datum minus the DEM height below it.
func heightError(dem *DEM, center, dir r3.Vector, length float64) (float64, bool) {
	llh := dem.GeoRef.Datum.CartesianToGeodetic(center.Add(dir.Mul(length)))
	h, ok := dem.HeightAtLonLat(r2.Point{X: llh.X, Y: llh.Y})
	if !ok {
		return 0, false
	}
	return llh.Z - h, true
}

// solveLength runs secant iterations on heightError from start. It returns the final length
// and the magnitude of the final height error.
func solveLength(dem *DEM, center, dir r3.Vector, start float64) (float64, float64, bool) {
	length := start
	g, ok := heightError(dem, center, dir, length)
	if !ok {
		return length, math.Inf(1), false
	}
	for i := 0; i < intersectMaxIters; i++ {
		if math.Abs(g) <= intersectAbsTol {
			break
		}
		const step = 1.0
		g2, ok := heightError(dem, center, dir, length+step)
		if !ok {
			return length, math.Abs(g), false
		}
		deriv := (g2 - g) / step
		if deriv == 0 {
			return length, math.Abs(g), false
		}
		update := g / deriv
		next := length - update
		gNext, ok := heightError(dem, center, dir, next)
		if !ok {
			return length, math.Abs(g), false
		}
		length, g = next, gNext
		if math.Abs(update) <= intersectRelTol*(1+math.Abs(length)) {
			break
		}
	}
	return length, math.Abs(g), true
}

// CameraPixelToDEMXYZ intersects the ray from center along dir with the DEM. Failed solves are
// retried from starts shifted along the ray by 2% of the planet radius times the attempt
// index, then recursively from the best guess so far.
func CameraPixelToDEMXYZ(dem *DEM, center, dir r3.Vector) (r3.Vector, error) {
	dir = dir.Normalize()
	start, ok := DatumIntersection(dem.GeoRef.Datum, dem.MeanHeight(), center, dir)
	if !ok {
		start = math.Max(0, center.Norm()-dem.GeoRef.Datum.SemiMajor)
	}
	length, err := intersectFrom(dem, center, dir, start, 0)
	if err != nil {
		return r3.Vector{}, err
	}
	return center.Add(dir.Mul(length)), nil
}

func intersectFrom(dem *DEM, center, dir r3.Vector, start float64, depth int) (float64, error) {
	radius := dem.GeoRef.Datum.SemiMajor
	bestLength, bestErr := start, math.Inf(1)
	for attempt := 0; attempt < intersectAttempts; attempt++ {
		shift := float64(attempt) * intersectRadiusFrac * radius
		// Alternate sides of the starting point.
		if attempt%2 == 1 {
			shift = -shift
		}
		length, gErr, ok := solveLength(dem, center, dir, start+shift)
		if ok && gErr < intersectHeightTol && length >= 0 {
			return length, nil
		}
		if gErr < bestErr {
			bestLength, bestErr = length, gErr
		}
	}
	if depth >= intersectMaxDepth || math.IsInf(bestErr, 1) {
		return 0, ErrNoIntersection
	}
	return intersectFrom(dem, center, dir, bestLength, depth+1)
}
