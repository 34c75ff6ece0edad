package ba

import (
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/spatialmath"
)

func testPinhole(center r3.Vector) *camera.Pinhole {
	cam := camera.NewTestPinhole(center)
	dist, err := camera.NewBrownConrady([]float64{-0.05, 0.01, 0.001, 0.0005})
	if err != nil {
		panic(err)
	}
	cam.Distortion = dist
	return cam
}

func testOpticalBar() *camera.OpticalBar {
	return &camera.OpticalBar{
		Width:              1000,
		Height:             200,
		PixelSize:          1e-5,
		FocalLength:        0.6,
		OpticalCenter:      r2.Point{X: 500, Y: 100},
		Center:             r3.Vector{Z: 150000},
		Rotation:           camera.NadirRotation(),
		Speed:              7000,
		MotionCompensation: 1,
		ScanTime:           0.5,
		GroundDistance:     150000,
	}
}

func testCSMFrame() *camera.CSMFrame {
	frame := &camera.CSMFrame{
		CSMIntrinsics: camera.CSMIntrinsics{
			FocalLength:   1000,
			OpticalCenter: r2.Point{X: 500, Y: 500},
			Distortion:    []float64{1e-3, 0},
			NumLines:      1000,
			NumSamples:    1000,
		},
		Position: r3.Vector{X: 20, Y: -10, Z: 1000},
	}
	spatialmath.QuatToXYZW(camera.NadirRotation().Quaternion(), frame.Quaternion[:])
	return frame
}

func testAdjusted() *camera.Adjusted {
	adj := camera.NewAdjusted(camera.NewTestPinhole(r3.Vector{X: -30, Z: 1000}))
	adj.Translation = r3.Vector{X: 2, Y: -1, Z: 0.5}
	adj.Rotation = spatialmath.R3ToRotationMatrix(r3.Vector{X: 0.01, Y: 0.02, Z: -0.03}).Quaternion()
	return adj
}

type namedCamera struct {
	name  string
	cam   camera.Model
	depth float64
	// pixel agreement expected between two equivalent cameras
	tol float64
}

func testCameras() []namedCamera {
	return []namedCamera{
		{"pinhole", testPinhole(r3.Vector{X: 5, Y: -3, Z: 1000}), 1000, 1e-8},
		{"optical_bar", testOpticalBar(), 150000, 1e-8},
		{"csm_frame", testCSMFrame(), 1000, 1e-8},
		{"csm_linescan", camera.NewTestLinescan(), 1000, 1e-6},
		{"adjusted", testAdjusted(), 1000, 1e-8},
	}
}

var gridPixels = []r2.Point{
	{X: 100, Y: 50}, {X: 500, Y: 100}, {X: 900, Y: 150},
	{X: 150, Y: 500}, {X: 500, Y: 520}, {X: 850, Y: 480},
	{X: 120, Y: 900}, {X: 480, Y: 880}, {X: 880, Y: 910},
}

// groundPoints returns points seen by cam at the grid pixels, mapped through sim.
func groundPoints(cam camera.Model, depth float64, sim spatialmath.Similarity) []r3.Vector {
	var out []r3.Vector
	for _, pix := range gridPixels {
		if pix.Y > 190 && cam.Kind() == camera.KindOpticalBar {
			pix.Y /= 5
		}
		p := cam.CameraCenter(pix).Add(cam.PixelToVector(pix).Mul(depth))
		out = append(out, sim.Apply(p))
	}
	return out
}

func pixelsAgree(t *testing.T, a, b camera.Model, points []r3.Vector, tol float64) {
	t.Helper()
	for _, p := range points {
		pa, err := a.PointToPixel(p)
		test.That(t, err, test.ShouldBeNil)
		pb, err := b.PointToPixel(p)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pa.Sub(pb).Norm(), test.ShouldBeLessThanOrEqualTo, tol)
	}
}

func storeFor(t *testing.T, cams ...camera.Model) *ParamStorage {
	t.Helper()
	numDist := make([]int, len(cams))
	for i, cam := range cams {
		numDist[i] = NumDistortionFor(cam)
	}
	ps, err := NewParamStorage(4, numDist)
	test.That(t, err, test.ShouldBeNil)
	for i, cam := range cams {
		test.That(t, ps.Pack(cam, i), test.ShouldBeNil)
	}
	return ps
}

func TestParamStorageLayout(t *testing.T) {
	ps, err := NewSharedParamStorage(2, []int{0, 1, 0}, []int{4, 3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ps.NumCameras(), test.ShouldEqual, 3)
	test.That(t, ps.NumPoints(), test.ShouldEqual, 2)
	test.That(t, ps.NumIntrinsicsGroups(), test.ShouldEqual, 2)
	test.That(t, ps.NumDistortionParams(1), test.ShouldEqual, 3)

	test.That(t, ps.CameraPtr(2), test.ShouldResemble, []float64{0, 0, 0, 1, 0, 0, 0})
	test.That(t, ps.IntrinsicFocusPtr(0), test.ShouldResemble, []float64{1})
	test.That(t, ps.IntrinsicDistortionPtr(2), test.ShouldResemble, []float64{1, 1, 1, 1})

	// Cameras in one group see the same memory.
	ps.IntrinsicFocusPtr(0)[0] = 1.5
	test.That(t, ps.IntrinsicFocusPtr(2)[0], test.ShouldEqual, 1.5)
	test.That(t, &ps.IntrinsicCenterPtr(0)[0], test.ShouldEqual, &ps.IntrinsicCenterPtr(2)[0])
	test.That(t, &ps.IntrinsicCenterPtr(0)[0], test.ShouldNotEqual, &ps.IntrinsicCenterPtr(1)[0])

	// Blocks are stable and cannot grow into their neighbors.
	first := &ps.PointPtr(1)[0]
	ps.PointPtr(1)[2] = 7
	test.That(t, &ps.PointPtr(1)[0], test.ShouldEqual, first)
	test.That(t, cap(ps.PointPtr(0)), test.ShouldEqual, NumPointParams)

	test.That(t, ps.PointOutlier(1), test.ShouldBeFalse)
	ps.SetPointOutlier(1)
	test.That(t, ps.PointOutlier(1), test.ShouldBeTrue)
	test.That(t, ps.NumOutliers(), test.ShouldEqual, 1)

	_, err = NewSharedParamStorage(0, []int{0, 2}, []int{1})
	test.That(t, err, test.ShouldBeError, "camera 1 uses intrinsics group 2, there are 1 groups")

	err = ps.PackPinhole(camera.NewTestPinhole(r3.Vector{}), 1)
	test.That(t, err, test.ShouldBeError, "camera 1 has 0 distortion values, store expects 3")
	err = ps.PackPinhole(camera.NewTestPinhole(r3.Vector{}), 3)
	test.That(t, err, test.ShouldBeError, "camera index 3 out of range, have 3 cameras")
}

func TestIntrinsicIdentity(t *testing.T) {
	for _, tc := range testCameras() {
		t.Run(tc.name, func(t *testing.T) {
			ps := storeFor(t, tc.cam)
			for _, v := range ps.IntrinsicCenterPtr(0) {
				test.That(t, v, test.ShouldEqual, 1)
			}
			out, err := TransformedCamera(ps, 0, tc.cam)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, out.Kind(), test.ShouldEqual, tc.cam.Kind())
			pixelsAgree(t, tc.cam, out, groundPoints(tc.cam, tc.depth, spatialmath.NewIdentitySimilarity()), 1e-9)
		})
	}
}

func TestPackCSMWritesIdentityRecord(t *testing.T) {
	cam := camera.NewTestLinescan()
	ps, err := NewParamStorage(0, []int{NumDistortionFor(cam)})
	test.That(t, err, test.ShouldBeNil)
	copy(ps.CameraPtr(0), []float64{5, 6, 7, 0, 1, 0, 0})
	test.That(t, ps.PackCSM(cam, 0), test.ShouldBeNil)
	test.That(t, ps.CameraPtr(0), test.ShouldResemble, []float64{0, 0, 0, 1, 0, 0, 0})

	err = ps.PackCSM(testPinhole(r3.Vector{Z: 1000}), 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTransformedCameras(t *testing.T) {
	tcs := testCameras()
	cams := make([]camera.Model, len(tcs))
	for i, tc := range tcs {
		cams[i] = tc.cam
	}
	ps := storeFor(t, cams...)
	out, err := TransformedCameras(ps, cams)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out), test.ShouldEqual, len(cams))
	for i, tc := range tcs {
		test.That(t, out[i].Kind(), test.ShouldEqual, tc.cam.Kind())
		pixelsAgree(t, tc.cam, out[i], groundPoints(tc.cam, tc.depth, spatialmath.NewIdentitySimilarity()), 1e-9)
	}

	_, err = TransformedCameras(ps, cams[:1])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMultipliersChangeIntrinsics(t *testing.T) {
	cam := testPinhole(r3.Vector{Z: 1000})
	ps := storeFor(t, cam)
	ps.IntrinsicFocusPtr(0)[0] = 1.1
	ps.IntrinsicDistortionPtr(0)[0] = 2
	out, err := TransformedPinhole(ps, 0, cam)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.FocalLength, test.ShouldAlmostEqual, 1100)
	test.That(t, out.Intrinsics().Distortion[0], test.ShouldAlmostEqual, -0.1)
	test.That(t, cam.FocalLength, test.ShouldEqual, 1000)
	test.That(t, cam.Intrinsics().Distortion[0], test.ShouldEqual, -0.05)
}

func TestCameraAdjustmentRenormalizes(t *testing.T) {
	record := []float64{1, 2, 3, 2, 0, 0, 0}
	adj := NewCameraAdjustment(record)
	test.That(t, adj.Pose, test.ShouldResemble, quat.Number{Real: 1})
	adj.Pose = quat.Number{Real: 0, Imag: 3, Jmag: 4}
	adj.PackToArray(record)
	for k, want := range []float64{0, 0.6, 0.8, 0} {
		test.That(t, record[3+k], test.ShouldAlmostEqual, want)
	}

	zero := make([]float64, NumCameraParams)
	test.That(t, NewCameraAdjustment(zero).Pose, test.ShouldResemble, quat.Number{Real: 1})

	fn := filepath.Join(t.TempDir(), "run-img.adjust")
	test.That(t, adj.WriteAdjustFile(fn), test.ShouldBeNil)
	back, err := ReadAdjustFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Position, test.ShouldResemble, adj.Position)
	test.That(t, back.Pose.Imag, test.ShouldAlmostEqual, 0.6)
	test.That(t, back.Pose.Jmag, test.ShouldAlmostEqual, 0.8)
}

func testSimilarity(scale float64) spatialmath.Similarity {
	return spatialmath.Similarity{
		R:     spatialmath.R3ToRotationMatrix(r3.Vector{X: 0.02, Y: -0.01, Z: 0.3}),
		T:     r3.Vector{X: 15, Y: -8, Z: 4},
		Scale: scale,
	}
}

func TestLiveAndStorePathsAgree(t *testing.T) {
	for _, tc := range testCameras() {
		t.Run(tc.name, func(t *testing.T) {
			sim := testSimilarity(1.3)
			if k := tc.cam.Kind(); k == camera.KindCSMFrame || k == camera.KindCSMLinescan {
				sim.Scale = 1
			}
			live := tc.cam.Clone()
			liveStore := storeFor(t, live)
			test.That(t, ApplyTransformToCameras(sim, liveStore, []camera.Model{live}), test.ShouldBeNil)

			nominal := tc.cam.Clone()
			store := storeFor(t, nominal)
			test.That(t, ApplyTransformToParams(sim, store, []camera.Model{nominal}), test.ShouldBeNil)
			fromStore, err := TransformedCamera(store, 0, nominal)
			test.That(t, err, test.ShouldBeNil)

			liveUnpacked, err := TransformedCamera(liveStore, 0, live)
			test.That(t, err, test.ShouldBeNil)

			points := groundPoints(tc.cam, tc.depth, sim)
			pixelsAgree(t, live, fromStore, points, tc.tol)
			pixelsAgree(t, live, liveUnpacked, points, tc.tol)
			// the nominal camera is untouched
			pixelsAgree(t, tc.cam, nominal, groundPoints(tc.cam, tc.depth, spatialmath.NewIdentitySimilarity()), 0)
		})
	}
}

func TestStoreTransformCompositionality(t *testing.T) {
	s1 := testSimilarity(1.2)
	s2 := spatialmath.Similarity{
		R:     spatialmath.R3ToRotationMatrix(r3.Vector{X: -0.03, Y: 0.01, Z: -0.1}),
		T:     r3.Vector{X: -4, Y: 9, Z: 1},
		Scale: 0.9,
	}
	for _, tc := range testCameras() {
		if k := tc.cam.Kind(); k == camera.KindCSMFrame || k == camera.KindCSMLinescan {
			s1.Scale, s2.Scale = 1, 1
		} else {
			s1.Scale, s2.Scale = 1.2, 0.9
		}
		t.Run(tc.name, func(t *testing.T) {
			twice := storeFor(t, tc.cam)
			test.That(t, ApplyTransformToParams(s1, twice, []camera.Model{tc.cam}), test.ShouldBeNil)
			test.That(t, ApplyTransformToParams(s2, twice, []camera.Model{tc.cam}), test.ShouldBeNil)
			once := storeFor(t, tc.cam)
			test.That(t, ApplyTransformToParams(s2.Compose(s1), once, []camera.Model{tc.cam}), test.ShouldBeNil)

			a, err := TransformedCamera(twice, 0, tc.cam)
			test.That(t, err, test.ShouldBeNil)
			b, err := TransformedCamera(once, 0, tc.cam)
			test.That(t, err, test.ShouldBeNil)
			pixelsAgree(t, a, b, groundPoints(tc.cam, tc.depth, s2.Compose(s1)), tc.tol)
		})
	}
}

func TestCSMRejectsScaleInBothPaths(t *testing.T) {
	cam := camera.NewTestLinescan()
	ps := storeFor(t, cam)
	sim := testSimilarity(1.01)
	err := ApplyTransformToParams(sim, ps, []camera.Model{cam})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, ErrCSMScale.Error())
	test.That(t, NewCameraAdjustment(ps.CameraPtr(0)), test.ShouldResemble, IdentityAdjustment())

	err = ApplyTransformToCameras(sim, ps, []camera.Model{cam})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, ErrCSMScale.Error())

	err = ApplyTransformToParams(sim, ps, []camera.Model{cam, cam})
	test.That(t, err, test.ShouldBeError, "expecting 1 cameras, got 2")
}
