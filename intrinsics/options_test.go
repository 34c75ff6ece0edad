package intrinsics

import (
	"testing"

	"go.viam.com/test"

	"go.viam.com/photogrammetry/logging"
)

func TestFineGrainedFloat(t *testing.T) {
	opts, err := Load(logging.NewTestLogger(t), Request{
		Solve:          true,
		Float:          "1:focal_length,optical_center 2:all 3:none",
		SharePerSensor: true,
		NumSensors:     3,
		CamToSensor:    []int{0, 1, 2, 1},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.FloatCenter, test.ShouldResemble, []bool{true, true, false})
	test.That(t, opts.FloatFocus, test.ShouldResemble, []bool{true, true, false})
	test.That(t, opts.FloatDistortion, test.ShouldResemble, []bool{false, true, false})
	test.That(t, opts.FloatDistortionParams(3), test.ShouldBeTrue)
	test.That(t, opts.FloatDistortionParams(0), test.ShouldBeFalse)
	test.That(t, opts.FloatAny(), test.ShouldBeTrue)

	groups, sizes, err := opts.Groups([]int{4, 1, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, groups, test.ShouldResemble, []int{0, 1, 2, 1})
	test.That(t, sizes, test.ShouldResemble, []int{4, 1, 0})
}

func TestFineGrainedUnnamedSensorFloatsNothing(t *testing.T) {
	opts, err := Load(logging.NewTestLogger(t), Request{
		Solve:          true,
		Float:          "1:focal_length,optical_center 2:all",
		SharePerSensor: true,
		NumSensors:     3,
		CamToSensor:    []int{2, 0, 1},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.FloatCenter, test.ShouldResemble, []bool{true, true, false})
	test.That(t, opts.FloatFocus, test.ShouldResemble, []bool{true, true, false})
	test.That(t, opts.FloatDistortion, test.ShouldResemble, []bool{false, true, false})

	// camera 0 sits on sensor 3, which the float string never names
	test.That(t, opts.FloatFocalLength(0), test.ShouldBeFalse)
	test.That(t, opts.FloatOpticalCenter(0), test.ShouldBeFalse)
	test.That(t, opts.FloatDistortionParams(0), test.ShouldBeFalse)
	test.That(t, opts.FloatFocalLength(1), test.ShouldBeTrue)
	test.That(t, opts.FloatDistortionParams(1), test.ShouldBeFalse)
	test.That(t, opts.FloatDistortionParams(2), test.ShouldBeTrue)
}

func TestCoarseGrainedFloat(t *testing.T) {
	opts, err := Load(logging.NewTestLogger(t), Request{Solve: true, Float: "focal_length", NumSensors: 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.FloatFocus, test.ShouldResemble, []bool{true, true, true, true})
	test.That(t, opts.FloatCenter, test.ShouldResemble, []bool{false, false, false, false})
	test.That(t, opts.FloatDistortion, test.ShouldResemble, []bool{false, false, false, false})
	test.That(t, opts.ShareAll(), test.ShouldBeTrue)

	opts, err = Load(logging.NewTestLogger(t), Request{Solve: true, NumSensors: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.FloatFocalLength(0), test.ShouldBeTrue)
	test.That(t, opts.FloatOpticalCenter(0), test.ShouldBeTrue)
	test.That(t, opts.FloatDistortionParams(0), test.ShouldBeTrue)

	opts, err = Load(logging.NewTestLogger(t), Request{Solve: true, Float: "NONE", NumSensors: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.FloatAny(), test.ShouldBeFalse)

	opts, err = Load(logging.NewTestLogger(t), Request{NumSensors: 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.FloatAny(), test.ShouldBeFalse)
}

func TestFloatErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	for _, tc := range []struct {
		req Request
		err string
	}{
		{
			Request{Float: "focal_length"},
			"to be able to specify only certain intrinsics, intrinsics must be solved for",
		},
		{
			Request{Solve: true, Float: "1:all 1:none", SharePerSensor: true, NumSensors: 2},
			"sensor id 1 is repeated",
		},
		{
			Request{Solve: true, Float: "3:all", SharePerSensor: true, NumSensors: 2},
			"sensor id 3 is out of bounds",
		},
		{
			Request{Solve: true, Float: "1:all", NumSensors: 2},
			"per sensor intrinsics to float require sharing intrinsics per sensor",
		},
		{
			Request{Solve: true, Float: "focal_lenght", NumSensors: 1},
			`found unknown option when parsing which sensor intrinsics to float: "focal_lenght"`,
		},
		{
			Request{Solve: true, Share: "lens", ShareSpecified: true, NumSensors: 1},
			`found unknown intrinsic to share: "lens"`,
		},
	} {
		_, err := Load(logger, tc.req)
		test.That(t, err, test.ShouldBeError, tc.err)
	}
}

func TestShare(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	opts, err := Load(logger, Request{Solve: true, Share: "optical_center;distortion", ShareSpecified: true, NumSensors: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.CenterShared, test.ShouldBeTrue)
	test.That(t, opts.FocusShared, test.ShouldBeFalse)
	test.That(t, opts.DistortionShared, test.ShouldBeTrue)

	groups, sizes, err := opts.Groups([]int{2, 2, 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, groups, test.ShouldResemble, []int{0, 1, 2})
	test.That(t, sizes, test.ShouldResemble, []int{2, 2, 2})

	opts, err = Load(logger, Request{Solve: true, Share: "", ShareSpecified: true, NumSensors: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.CenterShared || opts.FocusShared || opts.DistortionShared, test.ShouldBeFalse)

	opts, err = Load(logger, Request{Solve: true, Share: "none", ShareSpecified: true, NumSensors: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.CenterShared, test.ShouldBeFalse)
	test.That(t, opts.FocusShared, test.ShouldBeFalse)
	test.That(t, opts.DistortionShared, test.ShouldBeFalse)
	test.That(t, opts.FloatAny(), test.ShouldBeTrue)

	opts, err = Load(logger, Request{Solve: true, NumSensors: 1})
	test.That(t, err, test.ShouldBeNil)
	groups, sizes, err = opts.Groups([]int{2, 2, 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, groups, test.ShouldResemble, []int{0, 0, 0})
	test.That(t, sizes, test.ShouldResemble, []int{2})

	test.That(t, logs.FilterMessageSnippet("ignored").Len(), test.ShouldEqual, 0)
	opts, err = Load(logger, Request{
		Solve: true, Share: "focal_length", ShareSpecified: true,
		SharePerSensor: true, NumSensors: 2, CamToSensor: []int{0, 1},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessageSnippet("ignored").Len(), test.ShouldEqual, 1)
	test.That(t, opts.ShareAll(), test.ShouldBeTrue)
}

func TestLimitsAndSanity(t *testing.T) {
	limits, err := ParseLimits("0.9 1.1  0.95 1.05")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, limits, test.ShouldResemble, []float64{0.9, 1.1, 0.95, 1.05})
	_, err = ParseLimits("1.1 0.9")
	test.That(t, err, test.ShouldBeError, "intrinsic limit pairs must be min before max, got 1.1 0.9")
	_, err = ParseLimits("0.9 1.1 1")
	test.That(t, err, test.ShouldBeError, "intrinsic limits must always be provided in min max pairs")
	_, err = ParseLimits("a b")
	test.That(t, err, test.ShouldNotBeNil)

	shared := &Options{CenterShared: true, FocusShared: true, DistortionShared: true}
	test.That(t, DistortionSanityCheck([]int{4, 4}, shared, nil), test.ShouldBeNil)
	test.That(t, DistortionSanityCheck([]int{4, 5}, shared, nil), test.ShouldBeError,
		"when sharing distortion parameters, they must have the same size")
	test.That(t, DistortionSanityCheck([]int{4, 5}, &Options{}, limits), test.ShouldBeError,
		"when using intrinsics limits, all cameras must have the same number of distortion coefficients")

	perSensor := &Options{SharePerSensor: true, NumSensors: 2, CamToSensor: []int{0, 1, 0}, DistortionShared: true}
	test.That(t, DistortionSanityCheck([]int{4, 1, 4}, perSensor, nil), test.ShouldBeNil)
	test.That(t, DistortionSanityCheck([]int{4, 1, 5}, perSensor, nil), test.ShouldBeError,
		"when sharing distortion parameters per sensor, they must have the same size for all cameras of sensor 1")
}
