package stereo

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
)

// Disparity is a dense map of offsets from left aligned pixels to right aligned pixels, with a
// validity mask. Like an image.Image it covers Rect, which need not start at the origin.
type Disparity struct {
	Rect   image.Rectangle
	Values []r2.Point
	Valid  []bool
}

// NewDisparity returns an all-invalid disparity over rect.
func NewDisparity(rect image.Rectangle) *Disparity {
	n := rect.Dx() * rect.Dy()
	return &Disparity{Rect: rect, Values: make([]r2.Point, n), Valid: make([]bool, n)}
}

// NewConstantDisparity returns a disparity over rect that is valid everywhere with value d.
func NewConstantDisparity(rect image.Rectangle, d r2.Point) *Disparity {
	out := NewDisparity(rect)
	for i := range out.Values {
		out.Values[i] = d
		out.Valid[i] = true
	}
	return out
}

// Bounds returns Rect.
func (d *Disparity) Bounds() image.Rectangle { return d.Rect }

func (d *Disparity) offset(col, row int) int {
	return (row-d.Rect.Min.Y)*d.Rect.Dx() + (col - d.Rect.Min.X)
}

// At returns the disparity at a pixel. ok is false outside Rect or where the value is masked.
func (d *Disparity) At(col, row int) (r2.Point, bool) {
	if !(image.Point{X: col, Y: row}).In(d.Rect) {
		return r2.Point{}, false
	}
	i := d.offset(col, row)
	return d.Values[i], d.Valid[i]
}

// Set stores a valid value. Pixels outside Rect are ignored.
func (d *Disparity) Set(col, row int, v r2.Point) {
	if !(image.Point{X: col, Y: row}).In(d.Rect) {
		return
	}
	i := d.offset(col, row)
	d.Values[i] = v
	d.Valid[i] = true
}

// Invalidate masks a pixel.
func (d *Disparity) Invalidate(col, row int) {
	if !(image.Point{X: col, Y: row}).In(d.Rect) {
		return
	}
	d.Valid[d.offset(col, row)] = false
}

// Crop copies the part of d inside rect.
func (d *Disparity) Crop(rect image.Rectangle) *Disparity {
	rect = rect.Intersect(d.Rect)
	out := NewDisparity(rect)
	for row := rect.Min.Y; row < rect.Max.Y; row++ {
		src := d.offset(rect.Min.X, row)
		dst := out.offset(rect.Min.X, row)
		copy(out.Values[dst:dst+rect.Dx()], d.Values[src:src+rect.Dx()])
		copy(out.Valid[dst:dst+rect.Dx()], d.Valid[src:src+rect.Dx()])
	}
	return out
}

// searchBox returns the box of right aligned pixels that the valid disparities in d reach.
func (d *Disparity) searchBox() (image.Rectangle, bool) {
	var box image.Rectangle
	found := false
	for row := d.Rect.Min.Y; row < d.Rect.Max.Y; row++ {
		for col := d.Rect.Min.X; col < d.Rect.Max.X; col++ {
			v, ok := d.At(col, row)
			if !ok {
				continue
			}
			x, y := float64(col)+v.X, float64(row)+v.Y
			p := image.Rect(int(math.Floor(x)), int(math.Floor(y)), int(math.Floor(x))+2, int(math.Floor(y))+2)
			if !found {
				box, found = p, true
				continue
			}
			box = box.Union(p)
		}
	}
	return box, found
}
