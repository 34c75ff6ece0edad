package cartography

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// DEM is an in-memory elevation raster, heights above the datum in meters.
type DEM struct {
	GeoRef GeoReference
	Width  int
	Height int
	Data   []float64
	NoData float64
}

// NewDEM validates the raster dimensions.
func NewDEM(georef GeoReference, width, height int, data []float64, noData float64) (*DEM, error) {
	if width < 2 || height < 2 {
		return nil, errors.Errorf("DEM must be at least 2x2, got %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("DEM has %d values, expected %d", len(data), width*height)
	}
	if err := georef.Validate(); err != nil {
		return nil, errors.Wrap(err, "DEM georeference")
	}
	return &DEM{GeoRef: georef, Width: width, Height: height, Data: data, NoData: noData}, nil
}

func (d *DEM) at(col, row int) (float64, bool) {
	if col < 0 || row < 0 || col >= d.Width || row >= d.Height {
		return 0, false
	}
	v := d.Data[row*d.Width+col]
	if v == d.NoData || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// HeightAtPixel bilinearly interpolates the DEM. ok is false outside the raster or when a
// neighbor with non-zero weight is no-data.
func (d *DEM) HeightAtPixel(pix r2.Point) (float64, bool) {
	c0 := int(math.Floor(pix.X))
	r0 := int(math.Floor(pix.Y))
	fx := pix.X - float64(c0)
	fy := pix.Y - float64(r0)
	neighbors := [4]struct {
		col, row int
		weight   float64
	}{
		{c0, r0, (1 - fx) * (1 - fy)},
		{c0 + 1, r0, fx * (1 - fy)},
		{c0, r0 + 1, (1 - fx) * fy},
		{c0 + 1, r0 + 1, fx * fy},
	}
	var h float64
	for _, n := range neighbors {
		if n.weight == 0 {
			continue
		}
		v, ok := d.at(n.col, n.row)
		if !ok {
			return 0, false
		}
		h += n.weight * v
	}
	return h, true
}

// HeightAtLonLat looks up the height at a geodetic location.
func (d *DEM) HeightAtLonLat(ll r2.Point) (float64, bool) {
	return d.HeightAtPixel(d.GeoRef.LonLatToPixel(ll))
}

// MeanHeight averages the valid samples.
func (d *DEM) MeanHeight() float64 {
	var sum float64
	var count int
	for _, v := range d.Data {
		if v == d.NoData || math.IsNaN(v) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Crop copies the window of the DEM covering box, grown by one pixel for interpolation. The
// copy keeps the full raster's georeference shifted to the window origin.
func (d *DEM) Crop(box image.Rectangle) *DEM {
	box = box.Inset(-1).Intersect(image.Rect(0, 0, d.Width, d.Height))
	if box.Dx() < 2 || box.Dy() < 2 {
		return nil
	}
	out := &DEM{GeoRef: d.GeoRef, Width: box.Dx(), Height: box.Dy(), NoData: d.NoData}
	origin := d.GeoRef.PixelToPoint(r2.Point{X: float64(box.Min.X), Y: float64(box.Min.Y)})
	out.GeoRef.Transform[0] = origin.X
	out.GeoRef.Transform[3] = origin.Y
	out.Data = make([]float64, 0, out.Width*out.Height)
	for row := box.Min.Y; row < box.Max.Y; row++ {
		out.Data = append(out.Data, d.Data[row*d.Width+box.Min.X:row*d.Width+box.Max.X]...)
	}
	return out
}
