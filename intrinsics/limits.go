package intrinsics

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ParseLimits reads whitespace separated min max pairs.
func ParseLimits(s string) ([]float64, error) {
	var limits []float64
	for _, field := range strings.Fields(s) {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid intrinsic limit %q", field)
		}
		limits = append(limits, v)
		if n := len(limits); n%2 == 0 && limits[n-1] < limits[n-2] {
			return nil, errors.Errorf("intrinsic limit pairs must be min before max, got %v %v", limits[n-2], limits[n-1])
		}
	}
	if len(limits)%2 != 0 {
		return nil, errors.New("intrinsic limits must always be provided in min max pairs")
	}
	return limits, nil
}

// DistortionSanityCheck verifies that cameras sharing distortion have the same number of
// distortion values, and that limits are only used when all cameras agree on it.
func DistortionSanityCheck(numDistortion []int, opts *Options, limits []float64) error {
	allSame := len(lo.Uniq(numDistortion)) <= 1
	if !opts.SharePerSensor && opts.DistortionShared && !allSame {
		return errors.New("when sharing distortion parameters, they must have the same size")
	}
	if opts.SharePerSensor {
		if len(opts.CamToSensor) != len(numDistortion) {
			return errors.Errorf("have %d cameras but %d camera to sensor entries", len(numDistortion), len(opts.CamToSensor))
		}
		sizes := make([]map[int]bool, opts.NumSensors)
		for cam, s := range opts.CamToSensor {
			if s < 0 || s >= opts.NumSensors {
				return errors.Errorf("camera %d has sensor %d, there are %d sensors", cam, s, opts.NumSensors)
			}
			if sizes[s] == nil {
				sizes[s] = map[int]bool{}
			}
			sizes[s][numDistortion[cam]] = true
		}
		for s, found := range sizes {
			if len(found) != 1 {
				return errors.Errorf("when sharing distortion parameters per sensor, they must have the same size "+
					"for all cameras of sensor %d", s+1)
			}
		}
	}
	if len(limits) > 0 && !allSame {
		return errors.New("when using intrinsics limits, all cameras must have the same number of distortion coefficients")
	}
	return nil
}
