package stereo

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/photogrammetry/ip"
)

// MatchOptions configure DisparityToMatches.
type MatchOptions struct {
	// SampleCount bounds the number of matches in the default mode, and sets the grid spacing
	// of the triplet mode.
	SampleCount int
	// Triplets puts interest points on an integer grid of the native left image, then of the
	// native right image, so that overlapping pairs are likely to share them.
	Triplets bool
	// LeftSize and RightSize are the native image sizes, needed by the triplet mode.
	LeftSize  image.Point
	RightSize image.Point
}

// binLength is the side of a square bin such that the area holds about sampleCount bins.
func binLength(size image.Point, sampleCount int) float64 {
	numPixels := float64(size.X) * float64(size.Y)
	return math.Sqrt(numPixels / math.Min(float64(sampleCount), numPixels))
}

type matchSet struct {
	left, right         []ip.InterestPoint
	leftDone, rightDone map[r2.Point]struct{}
}

func newMatchSet() *matchSet {
	return &matchSet{leftDone: map[r2.Point]struct{}{}, rightDone: map[r2.Point]struct{}{}}
}

// add keeps the pair unless either side was already used. A point appearing twice would be
// discarded by bundle adjustment.
func (ms *matchSet) add(l, r r2.Point) {
	if _, ok := ms.leftDone[l]; ok {
		return
	}
	if _, ok := ms.rightDone[r]; ok {
		return
	}
	ms.leftDone[l] = struct{}{}
	ms.rightDone[r] = struct{}{}
	ms.left = append(ms.left, ip.NewInterestPoint(l.X, l.Y))
	ms.right = append(ms.right, ip.NewInterestPoint(r.X, r.Y))
}

func roundPoint(p r2.Point) r2.Point {
	return r2.Point{X: math.Round(p.X), Y: math.Round(p.Y)}
}

// DisparityToMatches turns a disparity between aligned images into interest point matches
// between the native images.
func DisparityToMatches(disp *Disparity, left, right Transform, opts MatchOptions) ([]ip.InterestPoint, []ip.InterestPoint, error) {
	if opts.SampleCount <= 0 {
		return nil, nil, errors.Errorf("invalid number of matches %d", opts.SampleCount)
	}
	if disp.Rect.Empty() {
		return nil, nil, errors.New("empty disparity")
	}
	if opts.Triplets {
		return tripletMatches(disp, left, right, opts)
	}

	binLen := binLength(disp.Rect.Size(), opts.SampleCount)
	lenX := max(1, int(math.Round(float64(disp.Rect.Dx())/binLen)))
	lenY := max(1, int(math.Round(float64(disp.Rect.Dy())/binLen)))
	var leftIP, rightIP []ip.InterestPoint
	for bx := 0; bx < lenX; bx++ {
		col := disp.Rect.Min.X + int(math.Round((float64(bx)+0.5)*binLen))
		for by := 0; by < lenY; by++ {
			row := disp.Rect.Min.Y + int(math.Round((float64(by)+0.5)*binLen))
			dv, ok := disp.At(col, row)
			if !ok {
				continue
			}
			p := r2.Point{X: float64(col), Y: float64(row)}
			l, err := left.Reverse(p)
			if err != nil {
				continue
			}
			r, err := right.Reverse(p.Add(dv))
			if err != nil {
				continue
			}
			leftIP = append(leftIP, ip.NewInterestPoint(l.X, l.Y))
			rightIP = append(rightIP, ip.NewInterestPoint(r.X, r.Y))
		}
	}
	return leftIP, rightIP, nil
}

func tripletMatches(disp *Disparity, left, right Transform, opts MatchOptions) ([]ip.InterestPoint, []ip.InterestPoint, error) {
	if opts.LeftSize.X <= 0 || opts.LeftSize.Y <= 0 || opts.RightSize.X <= 0 || opts.RightSize.Y <= 0 {
		return nil, nil, errors.New("triplet matches need the native image sizes")
	}
	ms := newMatchSet()

	// left interest points on the grid
	binLen := int(math.Round(binLength(opts.LeftSize, opts.SampleCount)))
	if binLen < 1 {
		return nil, nil, errors.Errorf("bin length %d is less than 1", binLen)
	}
	lenX := max(1, opts.LeftSize.X/binLen)
	lenY := max(1, opts.LeftSize.Y/binLen)
	for bx := 0; bx <= lenX; bx++ {
		for by := 0; by <= lenY; by++ {
			l := r2.Point{X: float64(bx * binLen), Y: float64(by * binLen)}
			if int(l.X) >= opts.LeftSize.X || int(l.Y) >= opts.LeftSize.Y {
				continue
			}
			al, err := left.Forward(l)
			if err != nil {
				continue
			}
			al = roundPoint(al)
			dv, ok := disp.At(int(al.X), int(al.Y))
			if !ok {
				continue
			}
			r, err := right.Reverse(al.Add(dv))
			if err != nil {
				continue
			}
			ms.add(l, r)
		}
	}

	// right interest points on the grid, found by visiting every disparity
	binLen = int(math.Round(binLength(opts.RightSize, opts.SampleCount)))
	if binLen < 1 {
		return nil, nil, errors.Errorf("bin length %d is less than 1", binLen)
	}
	for col := disp.Rect.Min.X; col < disp.Rect.Max.X; col++ {
		for row := disp.Rect.Min.Y; row < disp.Rect.Max.Y; row++ {
			dv, ok := disp.At(col, row)
			if !ok {
				continue
			}
			p := r2.Point{X: float64(col), Y: float64(row)}
			l, err := left.Reverse(p)
			if err != nil {
				continue
			}
			r, err := right.Reverse(p.Add(dv))
			if err != nil {
				continue
			}
			r = roundPoint(r)
			if int(r.X)%binLen != 0 || int(r.Y)%binLen != 0 {
				continue
			}
			ms.add(l, r)
		}
	}
	return ms.left, ms.right, nil
}
