package cli

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/photogrammetry/ba"
	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/spatialmath"
)

// AlignCentersAction is the corresponding Action for 'align centers'.
func AlignCentersAction(c *cli.Context) error {
	return withRunContext(c, alignCenters)
}

func alignCenters(c *cli.Context, rc *runContext) error {
	if c.Args().Len() != 2 {
		return errors.New("expecting the current camera centers and the known camera centers")
	}
	current, err := readPoints(c.Args().Get(0))
	if err != nil {
		return err
	}
	known, err := readPoints(c.Args().Get(1))
	if err != nil {
		return err
	}

	// only the centers matter, so any camera model will do
	cams := make([]camera.Model, len(current))
	for i, center := range current {
		cam, err := camera.NewPinhole(camera.PinholeCameraIntrinsics{
			Width: 1, Height: 1, FocalLength: 1, PixelPitch: 1,
		}, center, camera.NadirRotation())
		if err != nil {
			return err
		}
		cams[i] = cam
	}
	sim, err := ba.InitWithCameraPositions(rc.logger, cams, known, nil)
	if err != nil {
		return err
	}

	var sum float64
	var n int
	for i, cam := range cams {
		if known[i].Norm() == 0 {
			continue
		}
		d := cam.CameraCenter(r2.Point{}).Sub(known[i]).Norm()
		sum += d * d
		n++
	}
	printf(c.App.Writer, "%v", sim)
	printf(c.App.Writer, "camera center rms error: %.6g", math.Sqrt(sum/float64(n)))
	printf(c.App.Writer, "%v", mat.Formatted(sim.Matrix(), mat.Squeeze()))

	if out := c.Path(generalFlagOutput); out != "" {
		if err := writeSimilarity(out, sim); err != nil {
			return err
		}
		rc.logger.Infow("wrote transform", "path", out)
	}
	return nil
}

// writeSimilarity writes the 4x4 matrix of sim, one row per line.
func writeSimilarity(path string, sim spatialmath.Similarity) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	m := sim.Matrix()
	for i := 0; i < 4; i++ {
		if _, err := fmt.Fprintf(w, "%.17g %.17g %.17g %.17g\n", m.At(i, 0), m.At(i, 1), m.At(i, 2), m.At(i, 3)); err != nil {
			return err
		}
	}
	return w.Flush()
}
