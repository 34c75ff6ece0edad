package rig

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.viam.com/test"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/logging"
)

const twoRigs = `# a rig with a nav camera and a haz camera
ref_sensor_name: nav_cam

sensor_name: nav_cam
focal_length: 608.8
optical_center: 632.5, 538.2
distortion_coeffs: 0.998
distortion_type: fisheye  # old files call this fisheye
image_size: 1280 1024
distorted_crop_size: 1200 1000
undistorted_image_size: 1500 1200
ref_to_sensor_transform: 1 0 0 0 1 0 0 0 1 0 0 0
depth_to_image_transform: 1 0 0 0 1 0 0 0 1 0 0 0
ref_to_sensor_timestamp_offset: 0

sensor_name: haz_cam
focal_length: 206.2
optical_center: 112 82
distortion_coeffs: -0.25 0.07 0.001 -0.0005
distortion_type: radtan
image_size: 224 171
distorted_crop_size: 224 171
undistorted_image_size: 250 200
ref_to_sensor_transform: 0 -1 0 1 0 0 0 0 1 0.1 -0.02 0.03
depth_to_image_transform: 0.96 0 0 0 0.96 0 0 0 0.96 0 0 0
ref_to_sensor_timestamp_offset: -0.0125

ref_sensor_name: sci_cam
sensor_name: sci_cam
focal_length: 1100
optical_center: 800 600
distortion_coeffs:
distortion_type: none
image_size: 1600 1200
distorted_crop_size: 1600 1200
undistorted_image_size: 1600 1200
ref_to_sensor_transform: 1 0 0 0 1 0 0 0 1 0 0 0
depth_to_image_transform: 1 0 0 0 1 0 0 0 1 0 0 0
ref_to_sensor_timestamp_offset: 0
`

func writeRig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rig_config.txt")
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
	return path
}

func expectedRigSet() *RigSet {
	haz, _ := AffineFromValues([]float64{0, -1, 0, 1, 0, 0, 0, 0, 1, 0.1, -0.02, 0.03})
	depth, _ := AffineFromValues([]float64{0.96, 0, 0, 0, 0.96, 0, 0, 0, 0.96, 0, 0, 0})
	return &RigSet{
		Rigs: [][]string{{"nav_cam", "haz_cam"}, {"sci_cam"}},
		Sensors: []Sensor{
			{
				Name:                 "nav_cam",
				FocalLength:          608.8,
				OpticalCenter:        r2.Point{X: 632.5, Y: 538.2},
				Distortion:           []float64{0.998},
				DistortionType:       camera.FOVDistortionType,
				ImageSize:            image.Point{X: 1280, Y: 1024},
				DistortedCropSize:    image.Point{X: 1200, Y: 1000},
				UndistortedImageSize: image.Point{X: 1500, Y: 1200},
				RefToSensor:          IdentityAffine(),
				DepthToImage:         IdentityAffine(),
			},
			{
				Name:                 "haz_cam",
				FocalLength:          206.2,
				OpticalCenter:        r2.Point{X: 112, Y: 82},
				Distortion:           []float64{-0.25, 0.07, 0.001, -0.0005},
				DistortionType:       camera.RadTanDistortionType,
				ImageSize:            image.Point{X: 224, Y: 171},
				DistortedCropSize:    image.Point{X: 224, Y: 171},
				UndistortedImageSize: image.Point{X: 250, Y: 200},
				RefToSensor:          haz,
				DepthToImage:         depth,
				TimestampOffset:      -0.0125,
			},
			{
				Name:                 "sci_cam",
				FocalLength:          1100,
				OpticalCenter:        r2.Point{X: 800, Y: 600},
				DistortionType:       camera.NoDistortionType,
				ImageSize:            image.Point{X: 1600, Y: 1200},
				DistortedCropSize:    image.Point{X: 1600, Y: 1200},
				UndistortedImageSize: image.Point{X: 1600, Y: 1200},
				RefToSensor:          IdentityAffine(),
				DepthToImage:         IdentityAffine(),
			},
		},
	}
}

func TestReadRigConfig(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	rs, err := ReadRigConfig(logger, writeRig(t, twoRigs), true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(expectedRigSet(), rs, cmpopts.EquateEmpty()), test.ShouldBeEmpty)
	test.That(t, logs.FilterMessageSnippet("fov").Len(), test.ShouldEqual, 1)

	test.That(t, rs.IsRefSensor("nav_cam"), test.ShouldBeTrue)
	test.That(t, rs.IsRefSensor("haz_cam"), test.ShouldBeFalse)
	idx, err := rs.SensorIndex("sci_cam")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, idx, test.ShouldEqual, 2)
	_, err = rs.SensorIndex("mast_cam")
	test.That(t, err, test.ShouldBeError, `could not find sensor "mast_cam" in rig`)
	rigID, err := rs.RigID(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rigID, test.ShouldEqual, 0)
	ref, err := rs.RefSensor(2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ref, test.ShouldEqual, "sci_cam")
	_, err = rs.RigID(3)
	test.That(t, err, test.ShouldNotBeNil)

	sub, err := rs.SubRig(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sub.Names(), test.ShouldResemble, []string{"nav_cam", "haz_cam"})
	test.That(t, cmp.Diff(rs.Sensors[1], sub.Sensors[1]), test.ShouldBeEmpty)
	_, err = rs.SubRig(2)
	test.That(t, err, test.ShouldBeError, "rig 2 out of range, have 2 rigs")

	cam, err := rs.Sensors[1].Pinhole(r3.Vector{Z: 10}, camera.NadirRotation())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Distortion.ModelType(), test.ShouldEqual, camera.RadTanDistortionType)
	test.That(t, cam.FocalLength, test.ShouldEqual, 206.2)
}

func TestWriteRigConfigRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	want := expectedRigSet()
	path := filepath.Join(t.TempDir(), "out_rig.txt")
	test.That(t, WriteRigConfig(path, want), test.ShouldBeNil)
	got, err := ReadRigConfig(logger, path, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(want, got, cmpopts.EquateEmpty()), test.ShouldBeEmpty)
}

func TestReadRigConfigErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	base := expectedRigSet()

	for _, tc := range []struct {
		name   string
		mutate func(rs *RigSet)
		err    string
	}{
		{
			"radtan with one coefficient",
			func(rs *RigSet) { rs.Sensors[1].Distortion = []float64{0.1} },
			`sensor "haz_cam": when there is 1 distortion coefficient, distortion type must be fov`,
		},
		{
			"two coefficients",
			func(rs *RigSet) { rs.Sensors[1].Distortion = []float64{0.1, 0.2} },
			`sensor "haz_cam": expecting 0, 1, 4, 5, or more distortion coefficients, got 2`,
		},
		{
			"no coefficients with a model",
			func(rs *RigSet) { rs.Sensors[2].DistortionType = camera.RadTanDistortionType },
			`sensor "sci_cam": when there are no distortion coefficients, distortion type must be none`,
		},
		{
			"many coefficients must be rpc",
			func(rs *RigSet) { rs.Sensors[1].Distortion = []float64{1, 2, 3, 4, 5, 6} },
			`sensor "haz_cam": when there are more than 5 distortion coefficients, distortion type must be rpc`,
		},
		{
			"reference transform not identity",
			func(rs *RigSet) { rs.Sensors[2].RefToSensor.Translation.X = 1 },
			`the transform from reference sensor "sci_cam" to itself must be the identity`,
		},
		{
			"zero transform",
			func(rs *RigSet) { rs.Sensors[1].RefToSensor = Affine{} },
			`failed to read a valid transform to sensor "haz_cam"`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rs := *base
			rs.Sensors = append([]Sensor{}, base.Sensors...)
			tc.mutate(&rs)
			path := filepath.Join(t.TempDir(), "bad_rig.txt")
			test.That(t, WriteRigConfig(path, &rs), test.ShouldBeNil)
			_, err := ReadRigConfig(logger, path, true)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.err)
		})
	}

	// Without rig transforms the identity and zero checks are skipped.
	rs := *base
	rs.Sensors = append([]Sensor{}, base.Sensors...)
	rs.Sensors[1].RefToSensor = Affine{}
	path := filepath.Join(t.TempDir(), "no_transforms.txt")
	test.That(t, WriteRigConfig(path, &rs), test.ShouldBeNil)
	_, err := ReadRigConfig(logger, path, false)
	test.That(t, err, test.ShouldBeNil)

	_, err = ReadRigConfig(logger, writeRig(t, "sensor_name: lonely\n"), true)
	test.That(t, err.Error(), test.ShouldContainSubstring, "ref_sensor_name: must come before the first sensor")

	_, err = ReadRigConfig(logger, writeRig(t, "ref_sensor_name: a\nsensor_name: b\n"), true)
	test.That(t, err.Error(), test.ShouldContainSubstring, `the first sensor of a rig must be its reference sensor "a"`)

	_, err = ReadRigConfig(logger, writeRig(t, twoRigs[:len(twoRigs)-40]), true)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidate(t *testing.T) {
	rs := expectedRigSet()
	test.That(t, rs.Validate(), test.ShouldBeNil)

	rs.Sensors[0].TimestampOffset = 0.5
	test.That(t, rs.Validate(), test.ShouldBeError, `reference sensor "nav_cam" must have a zero timestamp offset`)

	rs = expectedRigSet()
	rs.Rigs[1] = append(rs.Rigs[1], "nav_cam")
	test.That(t, rs.Validate(), test.ShouldBeError, "found duplicate sensor names in the rig set: [nav_cam]")

	test.That(t, (&RigSet{}).Validate(), test.ShouldBeError, "found an empty set of rigs")
}

func TestAffine(t *testing.T) {
	a, err := AffineFromValues([]float64{0, -1, 0, 1, 0, 0, 0, 0, 1, 1, 2, 3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Apply(r3.Vector{X: 1}), test.ShouldResemble, r3.Vector{X: 1, Y: 3, Z: 3})
	test.That(t, a.Compose(IdentityAffine()), test.ShouldResemble, a)
	twice := a.Compose(a)
	test.That(t, twice.Apply(r3.Vector{X: 1}), test.ShouldResemble, a.Apply(a.Apply(r3.Vector{X: 1})))
	rot, err := a.Rotation()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rot.Apply(r3.Vector{X: 1}).Sub(r3.Vector{Y: 1}).Norm(), test.ShouldBeLessThan, 1e-12)
	inv, err := a.Inverse()
	test.That(t, err, test.ShouldBeNil)
	p := r3.Vector{X: 0.5, Y: -2, Z: 7}
	test.That(t, inv.Apply(a.Apply(p)).Sub(p).Norm(), test.ShouldBeLessThan, 1e-12)
	_, err = Affine{}.Inverse()
	test.That(t, err, test.ShouldNotBeNil)

	_, err = AffineFromValues([]float64{1})
	test.That(t, err, test.ShouldBeError, "an affine transform must have 12 parameters, got 1")
}
