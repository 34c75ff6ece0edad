package stereo

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r2"

	"go.viam.com/photogrammetry/utils"
)

// unwarpSample is a disparity carried to native coordinates.
type unwarpSample struct {
	left r2.Point
	dir  r2.Point
	ok   bool
}

// Unwarp expresses a disparity between aligned images on the native left image grid given by
// nativeLeft. Each valid value is spread over the 3x3 neighborhood of its native left pixel
// and overlapping contributions are averaged, which fills small holes.
func Unwarp(ctx context.Context, disp *Disparity, left, right Transform, nativeLeft image.Rectangle) (*Disparity, error) {
	width := disp.Rect.Dx()
	samples := make([]unwarpSample, width*disp.Rect.Dy())

	var lefts, rights []Transform
	err := utils.GroupWorkParallel(
		ctx,
		disp.Rect.Dy(),
		func(numGroups int) {
			lefts = make([]Transform, numGroups)
			rights = make([]Transform, numGroups)
			for g := 0; g < numGroups; g++ {
				lefts[g], rights[g] = left.Clone(), right.Clone()
			}
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			lt, rt := lefts[groupNum], rights[groupNum]
			return func(memberNum, workNum int) {
				row := disp.Rect.Min.Y + workNum
				for col := disp.Rect.Min.X; col < disp.Rect.Max.X; col++ {
					dv, ok := disp.At(col, row)
					if !ok {
						continue
					}
					p := r2.Point{X: float64(col), Y: float64(row)}
					l, err := lt.Reverse(p)
					if err != nil {
						continue
					}
					r, err := rt.Reverse(p.Add(dv))
					if err != nil {
						continue
					}
					samples[workNum*width+col-disp.Rect.Min.X] = unwarpSample{left: l, dir: r.Sub(l), ok: true}
				}
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}

	// accumulate in raster order so the sums do not depend on scheduling
	out := NewDisparity(nativeLeft)
	counts := make([]int, len(out.Values))
	for _, s := range samples {
		if !s.ok {
			continue
		}
		c0, r0 := int(math.Round(s.left.X)), int(math.Round(s.left.Y))
		for dc := -1; dc <= 1; dc++ {
			for dr := -1; dr <= 1; dr++ {
				pt := image.Pt(c0+dc, r0+dr)
				if !pt.In(nativeLeft) {
					continue
				}
				i := out.offset(pt.X, pt.Y)
				out.Values[i] = out.Values[i].Add(s.dir)
				counts[i]++
			}
		}
	}
	for i, n := range counts {
		if n == 0 {
			continue
		}
		out.Values[i] = out.Values[i].Mul(1 / float64(n))
		out.Valid[i] = true
	}
	return out, nil
}
