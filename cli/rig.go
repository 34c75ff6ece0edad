package cli

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/photogrammetry/rig"
)

// RigValidateAction is the corresponding Action for 'rig validate'.
func RigValidateAction(c *cli.Context) error {
	return withRunContext(c, rigValidate)
}

func rigValidate(c *cli.Context, rc *runContext) error {
	if c.Args().Len() != 1 {
		return errors.New("expecting exactly one rig configuration")
	}
	rs, err := rig.ReadRigConfig(rc.logger, c.Args().First(), !c.Bool(rigFlagNoTransforms))
	if err != nil {
		return err
	}
	for r, names := range rs.Rigs {
		printf(c.App.Writer, "rig %d: %s", r+1, strings.Join(names, " "))
	}
	for _, s := range rs.Sensors {
		id, err := rs.SensorIndex(s.Name)
		if err != nil {
			return err
		}
		printf(c.App.Writer, "sensor %d %s: focal length %g, %s distortion with %d values, image %dx%d",
			id+1, s.Name, s.FocalLength, s.DistortionType, len(s.Distortion), s.ImageSize.X, s.ImageSize.Y)
	}
	return nil
}
