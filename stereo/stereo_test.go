package stereo

import (
	"context"
	"image"
	"math"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/cartography"
	"go.viam.com/photogrammetry/config"
	"go.viam.com/photogrammetry/logging"
	"go.viam.com/photogrammetry/spatialmath"
)

// nadirPair returns two nadir pinholes at altitude h, the second offset by baseline along X. A
// ground point at (X, Y, 0) has disparity (-1000*baseline/h, 0).
func nadirPair(h, baseline float64) []camera.Model {
	return []camera.Model{
		camera.NewTestPinhole(r3.Vector{Z: h}),
		camera.NewTestPinhole(r3.Vector{X: baseline, Z: h}),
	}
}

func testSettings() config.Settings {
	s := config.Default()
	s.TileSize = 64
	return s
}

func newView(
	t *testing.T,
	logger logging.Logger,
	settings config.Settings,
	cams []camera.Model,
	disps []*Disparity,
	txs []Transform,
) *TriangulationView {
	t.Helper()
	model, err := NewStereoModel(logger, cams, settings.MinTriangulationAngle)
	test.That(t, err, test.ShouldBeNil)
	view, err := NewTriangulationView(logger, settings, model, disps, txs)
	test.That(t, err, test.ShouldBeNil)
	return view
}

func identities(n int) []Transform {
	out := make([]Transform, n)
	for i := range out {
		out[i] = Identity{}
	}
	return out
}

func TestTriangulateGroundPlane(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rect := image.Rect(0, 0, 200, 150)
	disp := NewConstantDisparity(rect, r2.Point{X: -100})
	view := newView(t, logger, testSettings(), nadirPair(1000, 100), []*Disparity{disp}, identities(2))

	cloud, err := view.Rasterize(image.Rect(40, 30, 60, 50))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Rect, test.ShouldResemble, image.Rect(40, 30, 60, 50))
	p := cloud.At(50, 40)
	test.That(t, p.IsValid(), test.ShouldBeTrue)
	test.That(t, p.XYZ.X, test.ShouldAlmostEqual, -450, 1e-6)
	test.That(t, p.XYZ.Y, test.ShouldAlmostEqual, 460, 1e-6)
	test.That(t, p.XYZ.Z, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, p.Err.Norm(), test.ShouldBeLessThan, 1e-6)

	// a vertical disparity offset opens a gap between the rays
	disp = NewConstantDisparity(rect, r2.Point{X: -100, Y: 0.5})
	view = newView(t, logger, testSettings(), nadirPair(1000, 100), []*Disparity{disp}, identities(2))
	cloud, err = view.Rasterize(rect)
	test.That(t, err, test.ShouldBeNil)
	p = cloud.At(50, 40)
	// the rays are skew, less than the half pixel offset apart at the ground
	test.That(t, p.Err.Norm(), test.ShouldBeBetween, 0.4, 0.5)
	norms := cloud.PointAndErrorNorm()
	test.That(t, norms[40*200+50][3], test.ShouldAlmostEqual, p.Err.Norm())

	settings := testSettings()
	settings.ComputeErrorVector = false
	view = newView(t, logger, settings, nadirPair(1000, 100), []*Disparity{disp}, identities(2))
	cloud, err = view.Rasterize(rect)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.At(50, 40).Err, test.ShouldResemble, r3.Vector{})
}

func TestMaskedAndOutOfRangeDisparity(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rect := image.Rect(0, 0, 20, 20)
	disp := NewConstantDisparity(rect, r2.Point{X: -100})
	disp.Invalidate(5, 5)
	view := newView(t, logger, testSettings(), nadirPair(1000, 100), []*Disparity{disp}, identities(2))
	cloud, err := view.Rasterize(image.Rect(-10, -10, 30, 30))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Rect, test.ShouldResemble, rect)
	test.That(t, cloud.At(5, 5), test.ShouldResemble, CloudPoint{})
	test.That(t, cloud.At(6, 5).IsValid(), test.ShouldBeTrue)
}

func TestTriangulationDeterminism(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rect := image.Rect(0, 0, 300, 200)
	disp := NewDisparity(rect)
	for row := rect.Min.Y; row < rect.Max.Y; row++ {
		for col := rect.Min.X; col < rect.Max.X; col++ {
			if (col+row)%7 == 0 {
				continue
			}
			disp.Set(col, row, r2.Point{X: -100 + 0.01*math.Sin(float64(col)), Y: 0.02 * math.Cos(float64(row))})
		}
	}
	view := newView(t, logger, testSettings(), nadirPair(1000, 100), []*Disparity{disp}, identities(2))

	tile := image.Rect(64, 64, 128, 128)
	first, err := view.Rasterize(tile)
	test.That(t, err, test.ShouldBeNil)
	second, err := view.Rasterize(tile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second, test.ShouldResemble, first)

	all, err := view.RasterizeAll(context.Background())
	test.That(t, err, test.ShouldBeNil)
	whole, err := view.Rasterize(rect)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, all, test.ShouldResemble, whole)
	for row := tile.Min.Y; row < tile.Max.Y; row++ {
		for col := tile.Min.X; col < tile.Max.X; col++ {
			test.That(t, all.At(col, row), test.ShouldResemble, first.At(col, row))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = view.RasterizeAll(ctx)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestUniverseRadius(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rect := image.Rect(0, 0, 100, 100)
	disp := NewConstantDisparity(rect, r2.Point{X: -100})
	cams := nadirPair(100, 10)

	t.Run("point far outside", func(t *testing.T) {
		// the camera is 100 m above the ground
		settings := testSettings()
		settings.UniverseCenter = config.UniverseCenterCamera
		settings.UniverseRadius = config.UniverseRadius{Near: 1, Far: 10}
		view := newView(t, logger, settings, cams, []*Disparity{disp}, identities(2))
		cloud, err := view.Rasterize(rect)
		test.That(t, err, test.ShouldBeNil)
		for _, p := range cloud.Points {
			test.That(t, p, test.ShouldResemble, CloudPoint{})
		}
	})

	t.Run("point inside", func(t *testing.T) {
		plain := newView(t, logger, testSettings(), cams, []*Disparity{disp}, identities(2))
		want, err := plain.Rasterize(rect)
		test.That(t, err, test.ShouldBeNil)

		settings := testSettings()
		settings.UniverseCenter = config.UniverseCenterCamera
		settings.UniverseRadius = config.UniverseRadius{Near: 50, Far: 200}
		view := newView(t, logger, settings, cams, []*Disparity{disp}, identities(2))
		got, err := view.Rasterize(rect)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldResemble, want)
	})

	t.Run("near bound about the origin", func(t *testing.T) {
		settings := testSettings()
		settings.UniverseCenter = config.UniverseCenterZero
		settings.UniverseRadius = config.UniverseRadius{Near: 60}
		view := newView(t, logger, settings, cams, []*Disparity{disp}, identities(2))
		cloud, err := view.Rasterize(rect)
		test.That(t, err, test.ShouldBeNil)
		// pixel (99, 99) sees (-40.1, 40.1, 0) and pixel (0, 0) sees (-50, 50, 0)
		test.That(t, cloud.At(99, 99), test.ShouldResemble, CloudPoint{})
		test.That(t, cloud.At(0, 0).IsValid(), test.ShouldBeTrue)
	})

	t.Run("rpc forbids camera center", func(t *testing.T) {
		settings := testSettings()
		settings.Session.Kind = config.SessionRPC
		settings.UniverseCenter = config.UniverseCenterCamera
		model, err := NewStereoModel(logger, cams, 0)
		test.That(t, err, test.ShouldBeNil)
		_, err = NewTriangulationView(logger, settings, model, []*Disparity{disp}, identities(2))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "rpc")
	})
}

func TestMinTriangulationAngle(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rect := image.Rect(0, 0, 10, 10)
	disp := NewConstantDisparity(rect, r2.Point{X: -100})
	settings := testSettings()
	// the rays meet at about 4 degrees
	settings.MinTriangulationAngle = 10
	view := newView(t, logger, settings, nadirPair(1000, 100), []*Disparity{disp}, identities(2))
	cloud, err := view.Rasterize(rect)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.At(5, 5), test.ShouldResemble, CloudPoint{})

	settings.MinTriangulationAngle = 3
	view = newView(t, logger, settings, nadirPair(1000, 100), []*Disparity{disp}, identities(2))
	cloud, err = view.Rasterize(rect)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.At(5, 5).IsValid(), test.ShouldBeTrue)
}

func TestMultiviewTriangulation(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	rect := image.Rect(0, 0, 40, 40)
	cams := []camera.Model{
		camera.NewTestPinhole(r3.Vector{Z: 1000}),
		camera.NewTestPinhole(r3.Vector{X: 100, Z: 1000}),
		camera.NewTestPinhole(r3.Vector{X: 200, Z: 1000}),
	}
	d1 := NewConstantDisparity(rect, r2.Point{X: -100})
	d2 := NewConstantDisparity(rect, r2.Point{X: -200})
	d2.Invalidate(3, 3)
	d1.Invalidate(4, 4)
	d2.Invalidate(4, 4)
	view := newView(t, logger, testSettings(), cams, []*Disparity{d1, d2}, identities(3))

	cloud, err := view.Rasterize(rect)
	test.That(t, err, test.ShouldBeNil)
	p := cloud.At(10, 20)
	test.That(t, p.XYZ.X, test.ShouldAlmostEqual, -490, 1e-6)
	test.That(t, p.XYZ.Y, test.ShouldAlmostEqual, 480, 1e-6)
	test.That(t, p.XYZ.Z, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, p.Err.Y, test.ShouldEqual, 0)
	test.That(t, p.Err.Z, test.ShouldEqual, 0)

	// one masked image leaves two rays
	test.That(t, cloud.At(3, 3).IsValid(), test.ShouldBeTrue)
	// two masked images leave one
	test.That(t, cloud.At(4, 4), test.ShouldResemble, CloudPoint{})

	_, err = view.Rasterize(rect)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessageSnippet("more than two cameras").Len(), test.ShouldEqual, 1)
}

func TestNewTriangulationViewErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rect := image.Rect(0, 0, 10, 10)
	disp := NewConstantDisparity(rect, r2.Point{X: -100})
	model, err := NewStereoModel(logger, nadirPair(1000, 100), 0)
	test.That(t, err, test.ShouldBeNil)

	_, err = NewTriangulationView(logger, testSettings(), model, []*Disparity{disp}, identities(3))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expecting 2 transforms")

	_, err = NewTriangulationView(logger, testSettings(), model, nil, identities(1))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewStereoModel(logger, nadirPair(1000, 100)[:1], 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHomography(t *testing.T) {
	h, err := NewHomography([9]float64{1.1, 0.05, 3, -0.02, 0.95, -7, 1e-5, 2e-5, 1})
	test.That(t, err, test.ShouldBeNil)
	p := r2.Point{X: 120, Y: 340}
	q, err := h.Forward(p)
	test.That(t, err, test.ShouldBeNil)
	back, err := h.Reverse(q)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.X, test.ShouldAlmostEqual, p.X, 1e-9)
	test.That(t, back.Y, test.ShouldAlmostEqual, p.Y, 1e-9)

	box := h.ReverseBBox(image.Rect(0, 0, 100, 100))
	for _, c := range []r2.Point{{X: 0, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}} {
		n, err := h.Reverse(c)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, image.Pt(int(math.Floor(n.X)), int(math.Floor(n.Y))).In(box), test.ShouldBeTrue)
	}

	_, err = NewHomography([9]float64{1, 2, 3, 2, 4, 6, 0, 0, 1})
	test.That(t, err, test.ShouldNotBeNil)
}

// ecefNadirCamera looks straight down from altitude h above lon 0, lat 0, east offset meters to
// the east. Image x runs east and image y south.
func ecefNadirCamera(datum cartography.Datum, h, east float64) camera.Model {
	rot := spatialmath.NewRotationMatrixFromCols(r3.Vector{Y: 1}, r3.Vector{Z: -1}, r3.Vector{X: -1})
	cam, err := camera.NewPinhole(camera.PinholeCameraIntrinsics{
		Width: 1000, Height: 1000, FocalLength: 1000, Cx: 500, Cy: 500, PixelPitch: 1,
	}, r3.Vector{X: datum.SemiMajor + h, Y: east}, rot)
	if err != nil {
		panic(err)
	}
	return cam
}

// mapProjectedScene returns a sloped DEM at 1 m posting and the transforms of two images
// orthorectified onto it, with 1 m pixels.
func mapProjectedScene(t *testing.T) (*cartography.DEM, []Transform) {
	t.Helper()
	datum := cartography.WGS84()
	demRef := cartography.GeoReference{
		Datum:      datum,
		Projection: cartography.ProjEquirectangular,
		Transform:  [6]float64{-300, 1, 0, 300, 0, -1},
	}
	const size = 600
	data := make([]float64, size*size)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			data[row*size+col] = 0.01*float64(col) + 0.005*float64(row)
		}
	}
	dem, err := cartography.NewDEM(demRef, size, size, data, -32768)
	test.That(t, err, test.ShouldBeNil)

	imgRef := demRef
	imgRef.Transform = [6]float64{-256, 1, 0, 256, 0, -1}
	var txs []Transform
	for _, east := range []float64{0, 150} {
		tx, err := NewMapProjectTransform(ecefNadirCamera(datum, 1000, east), imgRef, dem)
		test.That(t, err, test.ShouldBeNil)
		txs = append(txs, tx)
	}
	return dem, txs
}

func TestMapProjectTransform(t *testing.T) {
	_, txs := mapProjectedScene(t)
	tx := txs[0]
	p := r2.Point{X: 200.5, Y: 310.25}
	native, err := tx.Reverse(p)
	test.That(t, err, test.ShouldBeNil)
	// 1 m ground pixels seen from 1000 m with a 1000 px focal length
	test.That(t, native.X, test.ShouldAlmostEqual, 500+p.X-256, 0.5)
	test.That(t, native.Y, test.ShouldAlmostEqual, 500+p.Y-256, 0.5)
	back, err := tx.Forward(native)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.X, test.ShouldAlmostEqual, p.X, 1e-3)
	test.That(t, back.Y, test.ShouldAlmostEqual, p.Y, 1e-3)

	// priming the cache does not change results
	primed := tx.Clone()
	box := primed.ReverseBBox(image.Rect(180, 300, 220, 320))
	test.That(t, image.Pt(int(native.X), int(native.Y)).In(box), test.ShouldBeTrue)
	cached, err := primed.Reverse(p)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cached, test.ShouldResemble, native)

	_, err = tx.Reverse(r2.Point{X: 5000, Y: 5000})
	test.That(t, err, test.ShouldBeError, ErrNoHeight)
}

func TestMapProjectedTilesMatchSingleRaster(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, txs := mapProjectedScene(t)
	cams := []camera.Model{
		txs[0].(*MapProjectTransform).cam,
		txs[1].(*MapProjectTransform).cam,
	}
	rect := image.Rect(0, 0, 512, 512)
	disp := NewConstantDisparity(rect, r2.Point{X: 1})

	settings := testSettings()
	settings.Session.MapProjected = true
	settings.TileSize = 256
	view := newView(t, logger, settings, cams, []*Disparity{disp}, txs)

	tiled, err := view.RasterizeAll(context.Background())
	test.That(t, err, test.ShouldBeNil)
	single, err := view.Rasterize(rect)
	test.That(t, err, test.ShouldBeNil)
	var valid int
	for i := range single.Points {
		a, b := tiled.Points[i], single.Points[i]
		test.That(t, a.IsValid(), test.ShouldEqual, b.IsValid())
		if !a.IsValid() {
			continue
		}
		valid++
		test.That(t, a.XYZ.Sub(b.XYZ).Norm(), test.ShouldBeLessThanOrEqualTo, 1e-9)
	}
	test.That(t, valid, test.ShouldEqual, len(single.Points))

	// the triangulated ground sits near the DEM
	p := single.At(256, 256)
	llh := cartography.WGS84().CartesianToGeodetic(p.XYZ)
	test.That(t, math.Abs(llh.Z), test.ShouldBeLessThan, 20)
}

// slopedCloud is a synthetic point source: every pixel of a size by size raster holds a point on
// a tilted plane, at 0.5 m spacing.
type slopedCloud struct {
	size  int
	valid func(col, row int) bool
	calls int
}

func (sc *slopedCloud) Bounds() image.Rectangle { return image.Rect(0, 0, sc.size, sc.size) }

func (sc *slopedCloud) xyz(col, row int) r3.Vector {
	x, y := 0.5*float64(col), 0.5*float64(row)
	return r3.Vector{X: x, Y: y, Z: 100 + 0.1*x + 0.2*y}
}

func (sc *slopedCloud) Rasterize(rect image.Rectangle) (*Cloud, error) {
	sc.calls++
	rect = rect.Intersect(sc.Bounds())
	out := NewCloud(rect)
	for row := rect.Min.Y; row < rect.Max.Y; row++ {
		for col := rect.Min.X; col < rect.Max.X; col++ {
			if sc.valid == nil || sc.valid(col, row) {
				out.Set(col, row, CloudPoint{XYZ: sc.xyz(col, row)})
			}
		}
	}
	return out, nil
}

func TestCloudCenter(t *testing.T) {
	src := &slopedCloud{size: 1024}
	center, err := CloudCenter(src, 256)
	test.That(t, err, test.ShouldBeNil)
	// the centroid of the whole raster
	mean := 0.5 * 511.5
	centroid := r3.Vector{X: mean, Y: mean, Z: 100 + 0.1*mean + 0.2*mean}
	test.That(t, center.Sub(centroid).Norm(), test.ShouldBeLessThan, 1)
	test.That(t, src.calls, test.ShouldEqual, 1)

	// only a corner has points, so the search spirals out to it
	sparse := &slopedCloud{size: 1024, valid: func(col, row int) bool { return col < 20 && row < 20 }}
	center, err = CloudCenter(sparse, 256)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, center.X, test.ShouldBeLessThan, 10)
	test.That(t, center.Y, test.ShouldBeLessThan, 10)
	test.That(t, sparse.calls, test.ShouldBeGreaterThan, 1)

	// fewer points than wanted are still used
	few := &slopedCloud{size: 64, valid: func(col, row int) bool { return col == 3 && row < 5 }}
	center, err = CloudCenter(few, 16)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, center.X, test.ShouldAlmostEqual, 1.5, 1e-6)

	_, err = CloudCenter(&slopedCloud{size: 64, valid: func(int, int) bool { return false }}, 16)
	test.That(t, err, test.ShouldBeError, ErrNoCloudPoints)
	_, err = CloudCenter(src, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCloudCenterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-PC-center.txt")
	c := r3.Vector{X: 6378137.123456789, Y: -0.1, Z: 1.0 / 3}
	test.That(t, WriteCloudCenter(path, c), test.ShouldBeNil)
	got, err := ReadCloudCenter(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, c)

	_, err = ReadCloudCenter(filepath.Join(t.TempDir(), "missing.txt"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDisparityToMatches(t *testing.T) {
	rect := image.Rect(0, 0, 1000, 1000)
	disp := NewConstantDisparity(rect, r2.Point{X: -100})
	left, right, err := DisparityToMatches(disp, Identity{}, Identity{}, MatchOptions{SampleCount: 100})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(left), test.ShouldEqual, 100)
	test.That(t, len(right), test.ShouldEqual, 100)
	for i := range left {
		test.That(t, right[i].X, test.ShouldEqual, left[i].X-100)
		test.That(t, right[i].Y, test.ShouldEqual, left[i].Y)
		test.That(t, math.Mod(left[i].X-50, 100), test.ShouldEqual, 0)
	}

	disp.Invalidate(50, 50)
	left, _, err = DisparityToMatches(disp, Identity{}, Identity{}, MatchOptions{SampleCount: 100})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(left), test.ShouldEqual, 99)

	_, _, err = DisparityToMatches(disp, Identity{}, Identity{}, MatchOptions{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTripletMatches(t *testing.T) {
	rect := image.Rect(0, 0, 1000, 1000)
	disp := NewConstantDisparity(rect, r2.Point{X: -150})
	opts := MatchOptions{SampleCount: 100, Triplets: true, LeftSize: rect.Size(), RightSize: rect.Size()}
	left, right, err := DisparityToMatches(disp, Identity{}, Identity{}, opts)
	test.That(t, err, test.ShouldBeNil)
	// a grid of 100 on the left, then 100 more landing on the right grid
	test.That(t, len(left), test.ShouldEqual, 200)
	seenLeft := map[r2.Point]bool{}
	seenRight := map[r2.Point]bool{}
	var onRightGrid int
	for i := range left {
		l, r := r2.Point{X: left[i].X, Y: left[i].Y}, r2.Point{X: right[i].X, Y: right[i].Y}
		test.That(t, seenLeft[l], test.ShouldBeFalse)
		test.That(t, seenRight[r], test.ShouldBeFalse)
		seenLeft[l], seenRight[r] = true, true
		if math.Mod(r.X, 100) == 0 && math.Mod(r.Y, 100) == 0 {
			onRightGrid++
		}
	}
	test.That(t, onRightGrid, test.ShouldEqual, 100)

	opts.LeftSize = image.Point{}
	_, _, err = DisparityToMatches(disp, Identity{}, Identity{}, opts)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestUnwarp(t *testing.T) {
	rect := image.Rect(0, 0, 200, 200)
	disp := NewConstantDisparity(rect, r2.Point{X: -100})
	disp.Invalidate(100, 100)
	// the left image was shifted 10 pixels right by alignment
	shift, err := NewHomography([9]float64{1, 0, 10, 0, 1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)

	out, err := Unwarp(context.Background(), disp, shift, Identity{}, rect)
	test.That(t, err, test.ShouldBeNil)
	v, ok := out.At(90, 90)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v.X, test.ShouldAlmostEqual, -90, 1e-9)
	test.That(t, v.Y, test.ShouldAlmostEqual, 0, 1e-9)
	// the hole left by the masked pixel is filled by its neighbors
	_, ok = out.At(90, 100)
	test.That(t, ok, test.ShouldBeTrue)
	// nothing maps to the right edge of the native image
	_, ok = out.At(195, 5)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestDisparityCrop(t *testing.T) {
	d := NewDisparity(image.Rect(10, 20, 30, 40))
	d.Set(15, 25, r2.Point{X: 1, Y: 2})
	c := d.Crop(image.Rect(0, 0, 16, 26))
	test.That(t, c.Rect, test.ShouldResemble, image.Rect(10, 20, 16, 26))
	v, ok := c.At(15, 25)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldResemble, r2.Point{X: 1, Y: 2})
	_, ok = c.At(16, 25)
	test.That(t, ok, test.ShouldBeFalse)

	box, ok := c.searchBox()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, box, test.ShouldResemble, image.Rect(16, 27, 18, 29))
}
