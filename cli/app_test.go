package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/photogrammetry/ip"
	"go.viam.com/photogrammetry/logging"
	"go.viam.com/photogrammetry/pointcloud"
	"go.viam.com/photogrammetry/stereo"
	"go.viam.com/photogrammetry/utils"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := NewApp(&out, &errOut)
	err := a.Run(append([]string{"photogrammetry"}, args...))
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
	return path
}

const rigConfig = `ref_sensor_name: nav_cam

sensor_name: nav_cam
focal_length: 608.8
optical_center: 632.5 538.2
distortion_coeffs: 0.998
distortion_type: fov
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
depth_to_image_transform: 1 0 0 0 1 0 0 0 1 0 0 0
ref_to_sensor_timestamp_offset: -0.0125
`

func TestRigValidate(t *testing.T) {
	path := writeFile(t, "rig_config.txt", rigConfig)
	out, _, err := run(t, "rig", "validate", path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "rig 1: nav_cam haz_cam")
	test.That(t, out, test.ShouldContainSubstring, "sensor 2 haz_cam")

	bad := writeFile(t, "bad.txt", strings.Replace(rigConfig, "sensor_name: haz_cam", "sensor_name: nav_cam", 1))
	_, _, err = run(t, "rig", "validate", bad)
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = run(t, "rig", "validate")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "exactly one rig")
}

func TestIntrinsicsParse(t *testing.T) {
	out, _, err := run(t, "intrinsics", "parse", "--float", "focal_length", "--share", "optical_center")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring,
		"sensor 1: float optical_center=false focal_length=true other_intrinsics=false")
	test.That(t, out, test.ShouldContainSubstring,
		"share: optical_center=true focal_length=false other_intrinsics=false")

	out, _, err = run(t, "intrinsics", "parse", "--limits", "500 700 400 600",
		"--num-distortion", "4", "--num-distortion", "4")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "limits: [500 700 400 600]")
	test.That(t, out, test.ShouldContainSubstring, "distortion sizes are consistent")

	_, _, err = run(t, "intrinsics", "parse", "--num-distortion", "4", "--num-distortion", "1")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "same size")

	_, _, err = run(t, "intrinsics", "parse", "--share", "bogus")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestIntrinsicsFromSettings(t *testing.T) {
	settings := writeFile(t, "settings.yaml", "intrinsics:\n  float: optical_center\n")
	out, _, err := run(t, "--config", settings, "intrinsics", "parse")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring,
		"sensor 1: float optical_center=true focal_length=false other_intrinsics=false")
}

func TestAlignCenters(t *testing.T) {
	current := writeFile(t, "current.txt", "# x y z\n0 0 0\n1 0 0\n0 1 0\n0 0 1\n")
	// known = 2 * current + (10, 20, 30)
	known := writeFile(t, "known.txt", "10 20 30\n12 20 30\n10 22 30\n10 20 32\n")
	outFile := filepath.Join(t.TempDir(), "transform.txt")

	out, _, err := run(t, "align", "centers", "--output", outFile, current, known)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "camera center rms error")

	content, err := os.ReadFile(outFile)
	test.That(t, err, test.ShouldBeNil)
	var m [16]float64
	fields := strings.Fields(string(content))
	test.That(t, len(fields), test.ShouldEqual, 16)
	for i, f := range fields {
		_, err := fmt.Sscan(f, &m[i])
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, m[0], test.ShouldAlmostEqual, 2, 1e-9)
	test.That(t, m[5], test.ShouldAlmostEqual, 2, 1e-9)
	test.That(t, m[3], test.ShouldAlmostEqual, 10, 1e-9)
	test.That(t, m[7], test.ShouldAlmostEqual, 20, 1e-9)
	test.That(t, m[11], test.ShouldAlmostEqual, 30, 1e-9)
	test.That(t, m[15], test.ShouldEqual, 1)

	short := writeFile(t, "short.txt", "10 20 30\n")
	_, _, err = run(t, "align", "centers", current, short)
	test.That(t, err, test.ShouldNotBeNil)

	malformed := writeFile(t, "malformed.txt", "1 2\n")
	_, _, err = run(t, "align", "centers", current, malformed)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expecting 3 values")
}

func TestTriangulateAndCloudCenter(t *testing.T) {
	dir := t.TempDir()
	raster := filepath.Join(dir, "run-PC.pgpc")
	las := filepath.Join(dir, "run.las")
	pcd := filepath.Join(dir, "run.pcd")
	matches := filepath.Join(dir, "run.match")
	logFile := filepath.Join(dir, "logs", "run.log")

	out, errOut, err := run(t, "--log-file", logFile, "triangulate", "--output", raster, "--size", "64",
		"--las", las, "--pcd", pcd, "--matches", matches)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldStartWith, "4096 points, center ")
	test.That(t, errOut, test.ShouldContainSubstring, "wrote point cloud")

	logged, err := os.ReadFile(logFile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(logged), test.ShouldContainSubstring, "wrote point cloud")
	test.That(t, string(logged), test.ShouldContainSubstring, `"run":"`)

	center, err := stereo.ReadCloudCenter(utils.SiblingFile(raster, pointcloud.CenterSuffix))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, center.X, test.ShouldAlmostEqual, 500000, 1)
	test.That(t, center.Y, test.ShouldAlmostEqual, 4000000, 1)
	test.That(t, center.Z, test.ShouldAlmostEqual, 0, 1e-6)

	cloud, err := pointcloud.ReadRaster(raster)
	test.That(t, err, test.ShouldBeNil)
	for _, p := range cloud.Points {
		test.That(t, p.IsValid(), test.ShouldBeTrue)
		test.That(t, p.XYZ.Z, test.ShouldAlmostEqual, 0, 1e-3)
	}

	points, err := pointcloud.NewFromFile(pcd, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(points), test.ShouldEqual, 4096)
	pcdText, err := os.ReadFile(pcd)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(pcdText), test.ShouldStartWith, "# run ")

	_, err = os.Stat(las)
	test.That(t, err, test.ShouldBeNil)

	left, right, err := ip.ReadMatchFile(matches)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(left), test.ShouldBeGreaterThan, 0)
	test.That(t, len(left), test.ShouldEqual, len(right))
	test.That(t, right[0].X-left[0].X, test.ShouldAlmostEqual, -6.4, 1e-4)

	centerOut := filepath.Join(dir, "center.txt")
	out, _, err = run(t, "cloud-center", "--output", centerOut, raster)
	test.That(t, err, test.ShouldBeNil)
	var got r3.Vector
	_, err = fmt.Sscan(out, &got.X, &got.Y, &got.Z)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Sub(center).Norm(), test.ShouldBeLessThan, 0.01)
	written, err := stereo.ReadCloudCenter(centerOut)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, written, test.ShouldResemble, got)

	_, _, err = run(t, "triangulate", "--output", raster, "--size", "0")
	test.That(t, err, test.ShouldNotBeNil)
}
