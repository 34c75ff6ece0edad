package stereo

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/photogrammetry/config"
	"go.viam.com/photogrammetry/logging"
)

// CloudPoint is a triangulated point and its error vector. The zero value marks a pixel with no
// point.
type CloudPoint struct {
	XYZ r3.Vector
	Err r3.Vector
}

// IsValid reports whether the point is not the zero sentinel.
func (p CloudPoint) IsValid() bool { return p.XYZ != (r3.Vector{}) }

// Cloud is a raster of points over Rect, stored row by row.
type Cloud struct {
	Rect   image.Rectangle
	Points []CloudPoint
}

// NewCloud returns an empty cloud over rect.
func NewCloud(rect image.Rectangle) *Cloud {
	return &Cloud{Rect: rect, Points: make([]CloudPoint, rect.Dx()*rect.Dy())}
}

// Bounds returns Rect.
func (c *Cloud) Bounds() image.Rectangle { return c.Rect }

// At returns the point at a pixel, or the zero point outside Rect.
func (c *Cloud) At(col, row int) CloudPoint {
	if !(image.Point{X: col, Y: row}).In(c.Rect) {
		return CloudPoint{}
	}
	return c.Points[(row-c.Rect.Min.Y)*c.Rect.Dx()+col-c.Rect.Min.X]
}

// Set stores a point. Pixels outside Rect are ignored.
func (c *Cloud) Set(col, row int, p CloudPoint) {
	if !(image.Point{X: col, Y: row}).In(c.Rect) {
		return
	}
	c.Points[(row-c.Rect.Min.Y)*c.Rect.Dx()+col-c.Rect.Min.X] = p
}

// Paste copies other into c where they overlap.
func (c *Cloud) Paste(other *Cloud) {
	r := other.Rect.Intersect(c.Rect)
	for row := r.Min.Y; row < r.Max.Y; row++ {
		for col := r.Min.X; col < r.Max.X; col++ {
			c.Set(col, row, other.At(col, row))
		}
	}
}

// Rasterize copies the part of the cloud inside rect, so a stored cloud can stand in for a
// TriangulationView.
func (c *Cloud) Rasterize(rect image.Rectangle) (*Cloud, error) {
	out := NewCloud(rect.Intersect(c.Rect))
	out.Paste(c)
	return out, nil
}

// PointAndErrorNorm collapses each point to (x, y, z, |err|).
func (c *Cloud) PointAndErrorNorm() [][4]float64 {
	out := make([][4]float64, len(c.Points))
	for i, p := range c.Points {
		out[i] = [4]float64{p.XYZ.X, p.XYZ.Y, p.XYZ.Z, p.Err.Norm()}
	}
	return out
}

// TriangulationView lazily triangulates n-1 disparities against the left aligned raster. Each
// disparity k relates the left image to image k+1; transforms holds one alignment per image.
type TriangulationView struct {
	logger      logging.Logger
	settings    config.Settings
	model       *StereoModel
	disparities []*Disparity
	transforms  []Transform

	useCenter bool
	center    r3.Vector
}

// NewTriangulationView checks that the inputs agree with each other and the settings.
func NewTriangulationView(
	logger logging.Logger,
	settings config.Settings,
	model *StereoModel,
	disparities []*Disparity,
	transforms []Transform,
) (*TriangulationView, error) {
	if len(disparities) == 0 {
		return nil, errors.New("triangulation needs at least one disparity")
	}
	if len(transforms) != len(disparities)+1 {
		return nil, errors.Errorf("expecting %d transforms for %d disparities, got %d",
			len(disparities)+1, len(disparities), len(transforms))
	}
	if model.NumCameras() != len(transforms) {
		return nil, errors.Errorf("expecting %d cameras, got %d", len(transforms), model.NumCameras())
	}
	for k, d := range disparities[1:] {
		if d.Rect != disparities[0].Rect {
			return nil, errors.Errorf("disparity %d covers %v, expected %v", k+1, d.Rect, disparities[0].Rect)
		}
	}
	v := &TriangulationView{
		logger:      logger,
		settings:    settings,
		model:       model,
		disparities: disparities,
		transforms:  transforms,
	}
	switch settings.UniverseCenter {
	case config.UniverseCenterNone, "":
	case config.UniverseCenterZero:
		v.useCenter = true
	case config.UniverseCenterCamera:
		if settings.Session.Kind == config.SessionRPC {
			return nil, errors.New("universe center \"camera\" is not supported with rpc cameras")
		}
		v.useCenter = true
		v.center = model.Camera(0).CameraCenter(r2.Point{})
	default:
		return nil, errors.Errorf("unknown universe center %q", settings.UniverseCenter)
	}
	return v, nil
}

// Bounds is the left aligned raster.
func (v *TriangulationView) Bounds() image.Rectangle { return v.disparities[0].Rect }

// inUniverse applies the universe radius.
func (v *TriangulationView) inUniverse(xyz r3.Vector) bool {
	if !v.useCenter {
		return true
	}
	dist := xyz.Sub(v.center).Norm()
	r := v.settings.UniverseRadius
	if dist < r.Near {
		return false
	}
	return r.Far <= 0 || dist <= r.Far
}

// pixel triangulates one left aligned pixel from the given disparities and transforms.
func (v *TriangulationView) pixel(col, row int, disps []*Disparity, txs []Transform) CloudPoint {
	p := r2.Point{X: float64(col), Y: float64(row)}
	pixels := make([]r2.Point, len(txs))
	left, err := txs[0].Reverse(p)
	if err != nil {
		return CloudPoint{}
	}
	pixels[0] = left
	for k, d := range disps {
		dv, ok := d.At(col, row)
		if !ok {
			pixels[k+1] = NaNPixel()
			continue
		}
		q, err := txs[k+1].Reverse(p.Add(dv))
		if err != nil {
			pixels[k+1] = NaNPixel()
			continue
		}
		pixels[k+1] = q
	}
	xyz, errVec, ok := v.model.Triangulate(pixels)
	if !ok || !v.inUniverse(xyz) {
		return CloudPoint{}
	}
	if !v.settings.ComputeErrorVector {
		errVec = r3.Vector{}
	}
	return CloudPoint{XYZ: xyz, Err: errVec}
}

// Rasterize triangulates the pixels of rect. The disparities are first clipped to rect and the
// transforms cloned, so calls are safe to make concurrently.
func (v *TriangulationView) Rasterize(rect image.Rectangle) (*Cloud, error) {
	rect = rect.Intersect(v.Bounds())
	out := NewCloud(rect)
	if rect.Empty() {
		return out, nil
	}
	disps := make([]*Disparity, len(v.disparities))
	for k, d := range v.disparities {
		disps[k] = d.Crop(rect)
	}
	txs := make([]Transform, len(v.transforms))
	for i, tx := range v.transforms {
		txs[i] = tx.Clone()
	}
	if v.settings.Session.MapProjected {
		txs[0].ReverseBBox(rect)
		for k, d := range disps {
			if box, ok := d.searchBox(); ok {
				txs[k+1].ReverseBBox(box)
			}
		}
	}
	for row := rect.Min.Y; row < rect.Max.Y; row++ {
		for col := rect.Min.X; col < rect.Max.X; col++ {
			out.Set(col, row, v.pixel(col, row, disps, txs))
		}
	}
	return out, nil
}

// Tiles splits the raster into tiles of the configured size.
func (v *TriangulationView) Tiles() []image.Rectangle {
	return Tiles(v.Bounds(), v.settings.TileSize)
}

// Tiles splits rect into size by size tiles, row by row. Edge tiles are clipped.
func Tiles(rect image.Rectangle, size int) []image.Rectangle {
	if size <= 0 {
		return []image.Rectangle{rect}
	}
	var out []image.Rectangle
	for y := rect.Min.Y; y < rect.Max.Y; y += size {
		for x := rect.Min.X; x < rect.Max.X; x += size {
			out = append(out, image.Rect(x, y, x+size, y+size).Intersect(rect))
		}
	}
	return out
}

// RasterizeAll triangulates the whole raster tile by tile on up to NumThreads goroutines.
func (v *TriangulationView) RasterizeAll(ctx context.Context) (*Cloud, error) {
	out := NewCloud(v.Bounds())
	g, gctx := errgroup.WithContext(ctx)
	if v.settings.NumThreads > 0 {
		g.SetLimit(v.settings.NumThreads)
	}
	for _, tile := range v.Tiles() {
		tile := tile
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := v.Rasterize(tile)
			if err != nil {
				return errors.Wrapf(err, "tile %v", tile)
			}
			// tiles are disjoint
			out.Paste(c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	v.logger.Debugw("triangulated", "bounds", v.Bounds(), "tiles", len(v.Tiles()))
	return out, nil
}
