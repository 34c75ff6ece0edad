// Package cli contains the photogrammetry command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Global flags.
	configFlag  = "config"
	debugFlag   = "debug"
	logFileFlag = "log-file"

	rigFlagNoTransforms = "no-rig-transforms"

	intrinsicsFlagFloat          = "float"
	intrinsicsFlagShare          = "share"
	intrinsicsFlagSharePerSensor = "share-per-sensor"
	intrinsicsFlagNumSensors     = "num-sensors"
	intrinsicsFlagCamToSensor    = "cam-to-sensor"
	intrinsicsFlagNumDistortion  = "num-distortion"
	intrinsicsFlagLimits         = "limits"

	generalFlagOutput = "output"

	triangulateFlagSize     = "size"
	triangulateFlagAltitude = "altitude"
	triangulateFlagBaseline = "baseline"
	triangulateFlagLAS      = "las"
	triangulateFlagPCD      = "pcd"
	triangulateFlagMatches  = "matches"
)

var app = &cli.App{
	Name:            "photogrammetry",
	Usage:           "align cameras and triangulate point clouds",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "load settings from `FILE` (json or yaml)",
		},
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.PathFlag{
			Name:  logFileFlag,
			Usage: "also write logs to a rotating `FILE`",
		},
	},
	Commands: []*cli.Command{
		{
			Name:            "rig",
			Usage:           "work with rig configurations",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:      "validate",
					Usage:     "read a rig configuration and check it",
					ArgsUsage: "<rig-config>",
					Flags: []cli.Flag{
						&cli.BoolFlag{
							Name:  rigFlagNoTransforms,
							Usage: "the rig has no sensor transforms yet, skip the reference sensor check",
						},
					},
					Action: RigValidateAction,
				},
			},
		},
		{
			Name:            "intrinsics",
			Usage:           "work with intrinsics optimization options",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:  "parse",
					Usage: "parse which intrinsics to float and share, and print the result",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  intrinsicsFlagFloat,
							Usage: `intrinsics to float, like "focal_length optical_center" or "1:all 2:none"`,
						},
						&cli.StringFlag{
							Name:  intrinsicsFlagShare,
							Usage: "intrinsics to share across sensors",
						},
						&cli.BoolFlag{
							Name:  intrinsicsFlagSharePerSensor,
							Usage: "share intrinsics per sensor rather than across all cameras",
						},
						&cli.IntFlag{
							Name:  intrinsicsFlagNumSensors,
							Value: 1,
							Usage: "number of sensors",
						},
						&cli.IntSliceFlag{
							Name:  intrinsicsFlagCamToSensor,
							Usage: "sensor index of each camera",
						},
						&cli.IntSliceFlag{
							Name:  intrinsicsFlagNumDistortion,
							Usage: "number of distortion values of each camera",
						},
						&cli.StringFlag{
							Name:  intrinsicsFlagLimits,
							Usage: "min and max pairs bounding the intrinsics",
						},
					},
					Action: IntrinsicsParseAction,
				},
			},
		},
		{
			Name:            "align",
			Usage:           "align cameras to known positions",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:      "centers",
					Usage:     "find the similarity taking camera centers to known positions",
					ArgsUsage: "<current-centers> <known-centers>",
					Flags: []cli.Flag{
						&cli.PathFlag{
							Name:  generalFlagOutput,
							Usage: "write the 4x4 transform to `FILE`",
						},
					},
					Action: AlignCentersAction,
				},
			},
		},
		{
			Name:  "triangulate",
			Usage: "triangulate a synthetic nadir stereo pair over flat ground",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     generalFlagOutput,
					Required: true,
					Usage:    "point cloud raster `FILE`; the center is written next to it",
				},
				&cli.IntFlag{
					Name:  triangulateFlagSize,
					Value: 512,
					Usage: "image width and height in pixels",
				},
				&cli.Float64Flag{
					Name:  triangulateFlagAltitude,
					Value: 100,
					Usage: "camera altitude in meters",
				},
				&cli.Float64Flag{
					Name:  triangulateFlagBaseline,
					Value: 10,
					Usage: "distance between the cameras in meters",
				},
				&cli.PathFlag{
					Name:  triangulateFlagLAS,
					Usage: "also write the points to a LAS `FILE`",
				},
				&cli.PathFlag{
					Name:  triangulateFlagPCD,
					Usage: "also write the points to a binary PCD `FILE`",
				},
				&cli.PathFlag{
					Name:  triangulateFlagMatches,
					Usage: "also write interest point matches sampled from the disparity to `FILE`",
				},
			},
			Action: TriangulateAction,
		},
		{
			Name:      "cloud-center",
			Usage:     "estimate the center of a point cloud raster",
			ArgsUsage: "<point-cloud-raster>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:  generalFlagOutput,
					Usage: "write the center to `FILE`",
				},
			},
			Action: CloudCenterAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
