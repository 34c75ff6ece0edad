package cli

import (
	"bufio"
	"context"
	"image"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/ip"
	"go.viam.com/photogrammetry/pointcloud"
	"go.viam.com/photogrammetry/stereo"
	putils "go.viam.com/photogrammetry/utils"
)

// TriangulateAction is the corresponding Action for 'triangulate'.
func TriangulateAction(c *cli.Context) error {
	return withRunContext(c, triangulate)
}

// sceneOrigin is the ground point below the left camera, in projected meters.
var sceneOrigin = r3.Vector{X: 500000, Y: 4000000}

// nadirPair returns two nadir pinholes of size by size pixels at altitude h over sceneOrigin, the
// second offset by baseline along X, and the disparity the flat ground produces between them.
func nadirPair(size int, h, baseline float64) ([]camera.Model, r2.Point, error) {
	intr := camera.PinholeCameraIntrinsics{
		Width:       size,
		Height:      size,
		FocalLength: float64(size),
		Cx:          float64(size) / 2,
		Cy:          float64(size) / 2,
		PixelPitch:  1,
	}
	left, err := camera.NewPinhole(intr, sceneOrigin.Add(r3.Vector{Z: h}), camera.NadirRotation())
	if err != nil {
		return nil, r2.Point{}, err
	}
	right, err := camera.NewPinhole(intr, sceneOrigin.Add(r3.Vector{X: baseline, Z: h}), camera.NadirRotation())
	if err != nil {
		return nil, r2.Point{}, err
	}
	return []camera.Model{left, right}, r2.Point{X: -intr.FocalLength * baseline / h}, nil
}

func triangulate(c *cli.Context, rc *runContext) error {
	size := c.Int(triangulateFlagSize)
	h := c.Float64(triangulateFlagAltitude)
	if size <= 0 || h <= 0 {
		return errors.Errorf("size %d and altitude %v must be positive", size, h)
	}
	cams, d, err := nadirPair(size, h, c.Float64(triangulateFlagBaseline))
	if err != nil {
		return err
	}
	disp := stereo.NewConstantDisparity(image.Rect(0, 0, size, size), d)
	transforms := []stereo.Transform{stereo.Identity{}, stereo.Identity{}}

	model, err := stereo.NewStereoModel(rc.logger, cams, rc.settings.MinTriangulationAngle)
	if err != nil {
		return err
	}
	view, err := stereo.NewTriangulationView(rc.logger, rc.settings, model, []*stereo.Disparity{disp}, transforms)
	if err != nil {
		return err
	}
	center, err := pointcloud.Center(rc.settings, view)
	if err != nil {
		return err
	}
	cloud, err := view.RasterizeAll(c.Context)
	if err != nil {
		return err
	}

	out := c.Path(generalFlagOutput)
	if err := pointcloud.WriteRaster(out, cloud, pointcloud.RasterOptions{
		Center:    center,
		WithError: rc.settings.ComputeErrorVector,
	}, rc.logger); err != nil {
		putils.RemoveFileNoError(out)
		return err
	}
	points, meta := pointcloud.FromCloud(cloud, center)
	rc.logger.Infow("wrote point cloud", "path", out, "points", len(points), "center", center)

	var writers []putils.SimpleFunc
	if fn := c.Path(triangulateFlagLAS); fn != "" {
		writers = append(writers, func(context.Context) error {
			return pointcloud.WriteToLASFile(points, meta, fn)
		})
	}
	if fn := c.Path(triangulateFlagPCD); fn != "" {
		writers = append(writers, func(context.Context) error {
			return writePCDFile(fn, points, meta, rc)
		})
	}
	if fn := c.Path(triangulateFlagMatches); fn != "" {
		writers = append(writers, func(context.Context) error {
			left, right, err := stereo.DisparityToMatches(disp, transforms[0], transforms[1], stereo.MatchOptions{
				SampleCount: rc.settings.Matches.SampleCount,
				Triplets:    rc.settings.Matches.Triplets,
				LeftSize:    image.Pt(size, size),
				RightSize:   image.Pt(size, size),
			})
			if err != nil {
				return err
			}
			if err := ip.WriteMatchFile(fn, left, right); err != nil {
				return err
			}
			rc.logger.Infow("wrote matches", "path", fn, "matches", len(left))
			return nil
		})
	}
	elapsed, err := putils.RunInParallel(c.Context, writers)
	if err != nil {
		return err
	}
	rc.logger.Debugw("wrote extra outputs", "count", len(writers), "elapsed", elapsed)
	printf(c.App.Writer, "%d points, center %.18g %.18g %.18g", len(points), center.X, center.Y, center.Z)
	return nil
}

func writePCDFile(fn string, points []pointcloud.Point, meta pointcloud.MetaData, rc *runContext) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := pointcloud.ToPCD(points, meta, w, pointcloud.PCDBinary, rc.runID); err != nil {
		return err
	}
	return w.Flush()
}

// CloudCenterAction is the corresponding Action for 'cloud-center'.
func CloudCenterAction(c *cli.Context) error {
	return withRunContext(c, cloudCenter)
}

func cloudCenter(c *cli.Context, rc *runContext) error {
	if c.Args().Len() != 1 {
		return errors.New("expecting exactly one point cloud raster")
	}
	cloud, err := pointcloud.ReadRaster(c.Args().First())
	if err != nil {
		return err
	}
	center, err := stereo.CloudCenter(cloud, rc.settings.TileSize)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%.18g %.18g %.18g", center.X, center.Y, center.Z)
	if out := c.Path(generalFlagOutput); out != "" {
		return stereo.WriteCloudCenter(out, center)
	}
	return nil
}
