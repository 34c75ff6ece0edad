// Package jitter builds the residuals of the linescan jitter solver. A pixel observation of a
// linescan camera depends only on the position and orientation samples that interpolation at
// its line time can reach, so each residual is registered over that window of samples alone.
package jitter

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/utils"
)

// Sizes of the parameter blocks and residuals.
const (
	NumXYZParams  = camera.NumPositionComponents
	NumQuatParams = camera.NumQuatComponents
	PixelSize     = 2
	// BigPixelValue is the residual, before weighting, of an observation that fails to project.
	BigPixelValue = 1000.0
	// LineMargin is added to the expected reprojection error when sizing a sample window.
	LineMargin = 5.0
)

// ErrEmptyWindow is returned when no sample can influence an observation.
var ErrEmptyWindow = errors.New("empty range of samples. Likely image order is different than camera order")

// Window is a half-open range [Beg, End) of sample indices into an array with Stride values per
// sample.
type Window struct {
	Beg, End int
	Stride   int
}

// Len returns the number of samples.
func (w Window) Len() int { return w.End - w.Beg }

// Contains reports whether sample i is inside the window.
func (w Window) Contains(i int) bool { return i >= w.Beg && i < w.End }

// Blocks returns one slice of buf per sample in the window, capped so that no block can grow into
// its neighbor. The slices alias buf and can be registered as solver parameter blocks.
func (w Window) Blocks(buf []float64) [][]float64 {
	out := make([][]float64, 0, w.Len())
	for i := w.Beg; i < w.End; i++ {
		start := i * w.Stride
		out = append(out, buf[start:start+w.Stride:start+w.Stride])
	}
	return out
}

// scatter copies the given blocks over the window's samples in dst.
func (w Window) scatter(blocks [][]float64, dst []float64) {
	for k, b := range blocks {
		copy(dst[(w.Beg+k)*w.Stride:], b)
	}
}

// CalcIndexBounds returns the half-open range of samples, spaced dt apart from t0, that Lagrange
// interpolation may read for any time between time1 and time2. Interpolation at fractional index
// k+tau touches samples k-3 through k+4, so the range is widened by that much and then clamped
// to the numVals samples available.
func CalcIndexBounds(time1, time2, t0, dt float64, numVals int) (int, int, error) {
	if dt <= 0 {
		return 0, 0, errors.Errorf("invalid sample spacing %v", dt)
	}
	tMin, tMax := math.Min(time1, time2), math.Max(time1, time2)
	half := camera.MaxInterpOrder / 2
	beg := int(math.Floor((tMin-t0)/dt)) - (half - 1)
	end := int(math.Floor((tMax-t0)/dt)) + half + 1
	beg = utils.ClampInt(beg, 0, numVals)
	end = utils.ClampInt(end, 0, numVals)
	if beg >= end {
		return 0, 0, ErrEmptyWindow
	}
	return beg, end, nil
}

// CalcLineTimeInterval returns the exposure times of the lines lineExtra above and below the
// observation.
func CalcLineTimeInterval(cam *camera.CSMLinescan, obs r2.Point, lineExtra float64) (float64, float64) {
	t1 := cam.ImageTime(r2.Point{X: obs.X, Y: obs.Y - lineExtra})
	t2 := cam.ImageTime(r2.Point{X: obs.X, Y: obs.Y + lineExtra})
	return math.Min(t1, t2), math.Max(t1, t2)
}

// Windows are the quaternion and position sample ranges an observation depends on.
type Windows struct {
	Quat Window
	Pos  Window
}

// ObservationWindows sizes the sample windows for an observation whose reprojection may be off by
// up to maxInitReprojErr pixels.
func ObservationWindows(cam *camera.CSMLinescan, obs r2.Point, maxInitReprojErr float64) (Windows, error) {
	t1, t2 := CalcLineTimeInterval(cam, obs, maxInitReprojErr+LineMargin)
	return timeWindows(cam, t1, t2)
}

func timeWindows(cam *camera.CSMLinescan, t1, t2 float64) (Windows, error) {
	qb, qe, err := CalcIndexBounds(t1, t2, cam.T0Quat, cam.DtQuat, cam.NumQuaternions())
	if err != nil {
		return Windows{}, errors.Wrap(err, "quaternions")
	}
	pb, pe, err := CalcIndexBounds(t1, t2, cam.T0Ephem, cam.DtEphem, cam.NumPositions())
	if err != nil {
		return Windows{}, errors.Wrap(err, "positions")
	}
	return Windows{
		Quat: Window{Beg: qb, End: qe, Stride: NumQuatParams},
		Pos:  Window{Beg: pb, End: pe, Stride: NumXYZParams},
	}, nil
}
