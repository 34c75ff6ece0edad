package cli

import (
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/photogrammetry/intrinsics"
)

// IntrinsicsParseAction is the corresponding Action for 'intrinsics parse'. Flags override the
// intrinsics section of the settings file.
func IntrinsicsParseAction(c *cli.Context) error {
	return withRunContext(c, intrinsicsParse)
}

func intrinsicsParse(c *cli.Context, rc *runContext) error {
	conf := rc.settings.Intrinsics
	if c.IsSet(intrinsicsFlagFloat) {
		conf.Float = c.String(intrinsicsFlagFloat)
	}
	shareSpecified := conf.Share != ""
	if c.IsSet(intrinsicsFlagShare) {
		conf.Share = c.String(intrinsicsFlagShare)
		shareSpecified = true
	}
	if c.IsSet(intrinsicsFlagSharePerSensor) {
		conf.SharePerSensor = c.Bool(intrinsicsFlagSharePerSensor)
	}
	if c.IsSet(intrinsicsFlagLimits) {
		conf.Limits = c.String(intrinsicsFlagLimits)
	}

	opts, err := intrinsics.Load(rc.logger, intrinsics.Request{
		Solve:          true,
		Float:          conf.Float,
		Share:          conf.Share,
		ShareSpecified: shareSpecified,
		SharePerSensor: conf.SharePerSensor,
		NumSensors:     c.Int(intrinsicsFlagNumSensors),
		CamToSensor:    c.IntSlice(intrinsicsFlagCamToSensor),
	})
	if err != nil {
		return err
	}

	for s := 0; s < opts.NumSensors; s++ {
		printf(c.App.Writer, "sensor %d: float optical_center=%t focal_length=%t other_intrinsics=%t",
			s+1, lo.NthOr(opts.FloatCenter, s, false), lo.NthOr(opts.FloatFocus, s, false),
			lo.NthOr(opts.FloatDistortion, s, false))
		if !opts.SharePerSensor {
			break
		}
	}
	if opts.SharePerSensor {
		printf(c.App.Writer, "share: per sensor")
	} else {
		printf(c.App.Writer, "share: optical_center=%t focal_length=%t other_intrinsics=%t",
			opts.CenterShared, opts.FocusShared, opts.DistortionShared)
	}

	var limits []float64
	if conf.Limits != "" {
		if limits, err = intrinsics.ParseLimits(conf.Limits); err != nil {
			return err
		}
		printf(c.App.Writer, "limits: %v", limits)
	}
	if numDistortion := c.IntSlice(intrinsicsFlagNumDistortion); len(numDistortion) > 0 {
		if err := intrinsics.DistortionSanityCheck(numDistortion, opts, limits); err != nil {
			return err
		}
		printf(c.App.Writer, "distortion sizes are consistent")
	}
	return nil
}
