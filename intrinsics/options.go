// Package intrinsics decides which camera intrinsics a solve floats and which it shares.
package intrinsics

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/photogrammetry/logging"
)

// Words accepted in the float and share strings.
const (
	FocalLength     = "focal_length"
	OpticalCenter   = "optical_center"
	OtherIntrinsics = "other_intrinsics"
	Distortion      = "distortion"
	All             = "all"
	None            = "none"
)

var separators = strings.NewReplacer(`\`, " ", ":", " ", ";", " ", ",", " ", "\t", " ", "\r", " ", "\n", " ")

// Request carries the user's intrinsics choices before parsing.
type Request struct {
	Solve bool
	// Float lists what to optimize, either for all sensors ("focal_length optical_center") or per
	// 1-based sensor ("1:focal_length 2:all").
	Float string
	Share string
	// ShareSpecified distinguishes an empty Share meaning "share nothing" from no Share at all.
	ShareSpecified bool
	SharePerSensor bool
	NumSensors     int
	// CamToSensor maps each camera to its sensor. Only used when SharePerSensor is set.
	CamToSensor []int
}

// Options is the parsed policy. Float flags are indexed by sensor; without per sensor sharing
// only index 0 matters.
type Options struct {
	FloatCenter     []bool
	FloatFocus      []bool
	FloatDistortion []bool

	CenterShared     bool
	FocusShared      bool
	DistortionShared bool

	SharePerSensor bool
	NumSensors     int
	CamToSensor    []int
}

func (o *Options) sensor(cam int) int {
	if o.SharePerSensor && cam >= 0 && cam < len(o.CamToSensor) {
		return o.CamToSensor[cam]
	}
	return 0
}

func flag(flags []bool, i int) bool {
	return i >= 0 && i < len(flags) && flags[i]
}

// FloatOpticalCenter reports whether the optical center of camera cam is optimized.
func (o *Options) FloatOpticalCenter(cam int) bool { return flag(o.FloatCenter, o.sensor(cam)) }

// FloatFocalLength reports whether the focal length of camera cam is optimized.
func (o *Options) FloatFocalLength(cam int) bool { return flag(o.FloatFocus, o.sensor(cam)) }

// FloatDistortionParams reports whether the distortion of camera cam is optimized.
func (o *Options) FloatDistortionParams(cam int) bool { return flag(o.FloatDistortion, o.sensor(cam)) }

// FloatAny reports whether any intrinsic of any sensor is optimized.
func (o *Options) FloatAny() bool {
	return lo.Contains(o.FloatCenter, true) || lo.Contains(o.FloatFocus, true) || lo.Contains(o.FloatDistortion, true)
}

// ShareAll reports whether every intrinsic is shared.
func (o *Options) ShareAll() bool {
	return o.CenterShared && o.FocusShared && o.DistortionShared
}

// Groups assigns cameras to intrinsics blocks: one block per sensor when sharing per sensor,
// a single block when everything is shared, otherwise one block per camera. numDistortion holds
// the distortion count of each camera; the counts of each block are returned alongside.
func (o *Options) Groups(numDistortion []int) (cameraGroup, groupDistortion []int, err error) {
	numCams := len(numDistortion)
	cameraGroup = make([]int, numCams)
	switch {
	case o.SharePerSensor:
		if len(o.CamToSensor) != numCams {
			return nil, nil, errors.Errorf("have %d cameras but %d camera to sensor entries", numCams, len(o.CamToSensor))
		}
		groupDistortion = make([]int, o.NumSensors)
		for i, s := range o.CamToSensor {
			if s < 0 || s >= o.NumSensors {
				return nil, nil, errors.Errorf("camera %d has sensor %d, there are %d sensors", i, s, o.NumSensors)
			}
			cameraGroup[i] = s
			groupDistortion[s] = numDistortion[i]
		}
	case o.ShareAll() && numCams > 0:
		groupDistortion = []int{numDistortion[0]}
	default:
		groupDistortion = append([]int{}, numDistortion...)
		for i := range cameraGroup {
			cameraGroup[i] = i
		}
	}
	return cameraGroup, groupDistortion, nil
}

func isSensorIndex(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 31)
	return err == nil
}

func tokens(s string) []string {
	return strings.Fields(separators.Replace(s))
}

func newFlags(numSensors int) (center, focus, dist []bool) {
	n := lo.Max([]int{numSensors, 1})
	return make([]bool, n), make([]bool, n), make([]bool, n)
}

// setWord applies one word of the vocabulary to sensor s.
func setWord(word string, s int, center, focus, dist []bool) error {
	switch word {
	case OpticalCenter:
		center[s] = true
	case FocalLength:
		focus[s] = true
	case OtherIntrinsics, Distortion:
		dist[s] = true
	case All:
		center[s], focus[s], dist[s] = true, true, true
	case None:
	default:
		return errors.Errorf("found unknown option when parsing which sensor intrinsics to float: %q", word)
	}
	return nil
}

// ParseFineGrained parses "1:focal_length,optical_center 2:all 3:none" style tokens. Sensor
// indices are 1-based, may not repeat, and sensors not named float nothing.
func ParseFineGrained(sharePerSensor bool, numSensors int, options []string) (center, focus, dist []bool, err error) {
	if !sharePerSensor {
		return nil, nil, nil, errors.New("per sensor intrinsics to float require sharing intrinsics per sensor")
	}
	if numSensors <= 0 {
		return nil, nil, nil, errors.New("expecting a positive number of sensors")
	}
	if len(options) == 0 {
		return nil, nil, nil, errors.New("expecting at least one option")
	}
	if !isSensorIndex(options[0]) {
		return nil, nil, nil, errors.Errorf("expecting a sensor index as the first option, got %q", options[0])
	}
	center, focus, dist = newFlags(numSensors)
	seen := map[int]bool{}
	sensor := 0
	for _, opt := range options {
		if isSensorIndex(opt) {
			id, _ := strconv.Atoi(opt)
			sensor = id - 1
			if sensor < 0 || sensor >= numSensors {
				return nil, nil, nil, errors.Errorf("sensor id %s is out of bounds", opt)
			}
			if seen[sensor] {
				return nil, nil, nil, errors.Errorf("sensor id %s is repeated", opt)
			}
			seen[sensor] = true
			continue
		}
		if err := setWord(opt, sensor, center, focus, dist); err != nil {
			return nil, nil, nil, err
		}
	}
	return center, focus, dist, nil
}

// ParseCoarseGrained parses "focal_length optical_center other_intrinsics" style tokens, which
// apply to every sensor.
func ParseCoarseGrained(numSensors int, options []string) (center, focus, dist []bool, err error) {
	if numSensors < 0 {
		return nil, nil, nil, errors.Errorf("invalid number of sensors %d", numSensors)
	}
	if len(options) > 0 && isSensorIndex(options[0]) {
		return nil, nil, nil, errors.New("when parsing intrinsics to float, expecting a string, not an integer")
	}
	center, focus, dist = newFlags(numSensors)
	for _, opt := range options {
		if err := setWord(opt, 0, center, focus, dist); err != nil {
			return nil, nil, nil, err
		}
	}
	for s := 1; s < numSensors; s++ {
		center[s], focus[s], dist[s] = center[0], focus[0], dist[0]
	}
	return center, focus, dist, nil
}

// Load turns a request into options. Intrinsics are shared and floated in full unless the
// request says otherwise; without Solve nothing floats and naming intrinsics is an error.
func Load(logger logging.Logger, req Request) (*Options, error) {
	opts := &Options{
		FloatCenter:      []bool{false},
		FloatFocus:       []bool{false},
		FloatDistortion:  []bool{false},
		CenterShared:     true,
		FocusShared:      true,
		DistortionShared: true,
		SharePerSensor:   req.SharePerSensor,
		NumSensors:       req.NumSensors,
		CamToSensor:      append([]int{}, req.CamToSensor...),
	}
	if (req.Float != "" || req.Share != "") && !req.Solve {
		return nil, errors.New("to be able to specify only certain intrinsics, intrinsics must be solved for")
	}
	if !req.Solve {
		return opts, nil
	}

	everything := strings.Join([]string{FocalLength, OpticalCenter, OtherIntrinsics}, " ")
	floatStr := strings.ToLower(req.Float)
	switch floatStr {
	case "", All:
		floatStr = everything
	case None:
		floatStr = ""
	}
	shareStr := strings.ToLower(req.Share)
	if !req.ShareSpecified {
		shareStr = everything
	} else {
		switch shareStr {
		case All:
			shareStr = everything
		case None:
			shareStr = ""
		}
	}
	if req.SharePerSensor && req.ShareSpecified {
		logger.Warn("when sharing intrinsics per sensor the intrinsics to share are ignored, " +
			"intrinsics are always shared within a sensor and never across sensors")
	}

	floatTokens := tokens(floatStr)
	var err error
	if len(floatTokens) > 0 && isSensorIndex(floatTokens[0]) {
		opts.FloatCenter, opts.FloatFocus, opts.FloatDistortion, err =
			ParseFineGrained(req.SharePerSensor, req.NumSensors, floatTokens)
	} else {
		opts.FloatCenter, opts.FloatFocus, opts.FloatDistortion, err =
			ParseCoarseGrained(req.NumSensors, floatTokens)
	}
	if err != nil {
		return nil, err
	}

	if req.ShareSpecified && !req.SharePerSensor {
		opts.CenterShared, opts.FocusShared, opts.DistortionShared = false, false, false
		for _, word := range tokens(shareStr) {
			switch word {
			case FocalLength:
				opts.FocusShared = true
			case OpticalCenter:
				opts.CenterShared = true
			case OtherIntrinsics, Distortion:
				opts.DistortionShared = true
			default:
				return nil, errors.Errorf("found unknown intrinsic to share: %q", word)
			}
		}
	}

	mode := "across sensors"
	if req.SharePerSensor {
		mode = "per sensor"
	}
	logger.Infow("intrinsics options",
		"float_optical_center", opts.FloatCenter,
		"float_focal_length", opts.FloatFocus,
		"float_distortion", opts.FloatDistortion,
		"sharing", mode,
		"optical_center_shared", opts.CenterShared,
		"focal_length_shared", opts.FocusShared,
		"distortion_shared", opts.DistortionShared,
	)
	return opts, nil
}
