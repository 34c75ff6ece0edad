package rig

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/logging"
)

// Keys of a rig file, in the order they appear for each sensor.
const (
	keyRefSensorName   = "ref_sensor_name:"
	keySensorName      = "sensor_name:"
	keyFocalLength     = "focal_length:"
	keyOpticalCenter   = "optical_center:"
	keyDistCoeffs      = "distortion_coeffs:"
	keyDistType        = "distortion_type:"
	keyImageSize       = "image_size:"
	keyDistortedCrop   = "distorted_crop_size:"
	keyUndistortedSize = "undistorted_image_size:"
	keyRefToSensor     = "ref_to_sensor_transform:"
	keyDepthToImage    = "depth_to_image_transform:"
	keyTimestampOffset = "ref_to_sensor_timestamp_offset:"
)

type configLine struct {
	num  int
	key  string
	vals []string
}

// configReader walks the non-empty lines of a rig file.
type configReader struct {
	path  string
	lines []configLine
	pos   int
}

func newConfigReader(path string) (*configReader, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open rig file for reading")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	cr := &configReader{path: path}
	scanner := bufio.NewScanner(f)
	num := 0
	for scanner.Scan() {
		num++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if len(fields) == 0 {
			continue
		}
		cr.lines = append(cr.lines, configLine{num: num, key: fields[0], vals: fields[1:]})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	return cr, nil
}

func (cr *configReader) peek(key string) bool {
	return cr.pos < len(cr.lines) && cr.lines[cr.pos].key == key
}

func (cr *configReader) done() bool { return cr.pos >= len(cr.lines) }

// strings reads the next line, which must carry key. A negative want accepts any count.
func (cr *configReader) strings(key string, want int) ([]string, error) {
	if cr.done() {
		return nil, errors.Errorf("%s: could not read value for %s", cr.path, key)
	}
	l := cr.lines[cr.pos]
	if l.key != key {
		return nil, errors.Errorf("%s:%d: could not read value for %s, found %s", cr.path, l.num, key, l.key)
	}
	if want >= 0 && len(l.vals) != want {
		return nil, errors.Errorf("%s:%d: read %d values for %s, expected %d", cr.path, l.num, len(l.vals), key, want)
	}
	cr.pos++
	return l.vals, nil
}

func (cr *configReader) floats(key string, want int) ([]float64, error) {
	strs, err := cr.strings(key, want)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(strs))
	for i, s := range strs {
		if out[i], err = strconv.ParseFloat(s, 64); err != nil {
			return nil, errors.Wrapf(err, "%s:%d: bad value for %s", cr.path, cr.lines[cr.pos-1].num, key)
		}
	}
	return out, nil
}

func (cr *configReader) size(key string) (image.Point, error) {
	vals, err := cr.floats(key, 2)
	if err != nil {
		return image.Point{}, err
	}
	return image.Point{X: int(vals[0]), Y: int(vals[1])}, nil
}

func (cr *configReader) affine(key string) (Affine, error) {
	vals, err := cr.floats(key, NumAffineValues)
	if err != nil {
		return Affine{}, err
	}
	return AffineFromValues(vals)
}

// checkDistortion matches the coefficient count against the model name, rewriting a
// one-coefficient fisheye to fov.
func checkDistortion(logger logging.Logger, name string, coeffs []float64, typ camera.DistortionType) (camera.DistortionType, error) {
	n := len(coeffs)
	switch {
	case n == 0 && typ != camera.NoDistortionType:
		return "", errors.Errorf("sensor %q: when there are no distortion coefficients, distortion type must be %s",
			name, camera.NoDistortionType)
	case n == 1 && typ == camera.FisheyeDistortionType:
		logger.Warnw("rewriting single coefficient fisheye distortion as fov", "sensor", name)
		typ = camera.FOVDistortionType
	}
	switch {
	case n == 2 || n == 3:
		return "", errors.Errorf("sensor %q: expecting 0, 1, 4, 5, or more distortion coefficients, got %d", name, n)
	case n == 1 && typ != camera.FOVDistortionType:
		return "", errors.Errorf("sensor %q: when there is 1 distortion coefficient, distortion type must be %s",
			name, camera.FOVDistortionType)
	case n == 4 && typ != camera.FisheyeDistortionType && typ != camera.RadTanDistortionType:
		return "", errors.Errorf("sensor %q: when there are 4 distortion coefficients, distortion type must be %s or %s",
			name, camera.FisheyeDistortionType, camera.RadTanDistortionType)
	case n == 5 && typ != camera.RadTanDistortionType:
		return "", errors.Errorf("sensor %q: when there are 5 distortion coefficients, distortion type must be %s",
			name, camera.RadTanDistortionType)
	case n > 5 && typ != camera.RPCDistortionType:
		return "", errors.Errorf("sensor %q: when there are more than 5 distortion coefficients, distortion type must be %s",
			name, camera.RPCDistortionType)
	}
	return typ, nil
}

func (cr *configReader) sensor(logger logging.Logger) (Sensor, error) {
	var s Sensor
	name, err := cr.strings(keySensorName, 1)
	if err != nil {
		return s, err
	}
	s.Name = name[0]
	vals, err := cr.floats(keyFocalLength, 1)
	if err != nil {
		return s, err
	}
	s.FocalLength = vals[0]
	if vals, err = cr.floats(keyOpticalCenter, 2); err != nil {
		return s, err
	}
	s.OpticalCenter = r2.Point{X: vals[0], Y: vals[1]}
	if s.Distortion, err = cr.floats(keyDistCoeffs, -1); err != nil {
		return s, err
	}
	typ, err := cr.strings(keyDistType, 1)
	if err != nil {
		return s, err
	}
	if s.DistortionType, err = checkDistortion(logger, s.Name, s.Distortion, camera.DistortionType(typ[0])); err != nil {
		return s, err
	}
	if s.ImageSize, err = cr.size(keyImageSize); err != nil {
		return s, err
	}
	if s.DistortedCropSize, err = cr.size(keyDistortedCrop); err != nil {
		return s, err
	}
	if s.UndistortedImageSize, err = cr.size(keyUndistortedSize); err != nil {
		return s, err
	}
	if s.RefToSensor, err = cr.affine(keyRefToSensor); err != nil {
		return s, err
	}
	if s.DepthToImage, err = cr.affine(keyDepthToImage); err != nil {
		return s, err
	}
	if vals, err = cr.floats(keyTimestampOffset, 1); err != nil {
		return s, err
	}
	s.TimestampOffset = vals[0]
	return s, nil
}

// ReadRigConfig reads a rig file. With haveRigTransforms the ref-to-sensor transforms must be
// set: none may be all zeros and each reference sensor's must be the identity.
func ReadRigConfig(logger logging.Logger, path string, haveRigTransforms bool) (*RigSet, error) {
	logger.Infow("reading rig", "path", path)
	cr, err := newConfigReader(path)
	if err != nil {
		return nil, err
	}
	rs := &RigSet{}
	for !cr.done() {
		if cr.peek(keyRefSensorName) {
			ref, err := cr.strings(keyRefSensorName, 1)
			if err != nil {
				return nil, err
			}
			if !cr.peek(keySensorName) {
				return nil, errors.Errorf("%s: reference sensor %q is not followed by its sensor", path, ref[0])
			}
			if got := cr.lines[cr.pos].vals; len(got) != 1 || got[0] != ref[0] {
				return nil, errors.Errorf("%s:%d: the first sensor of a rig must be its reference sensor %q",
					path, cr.lines[cr.pos].num, ref[0])
			}
			rs.Rigs = append(rs.Rigs, nil)
		}
		if len(rs.Rigs) == 0 {
			return nil, errors.Errorf("%s: %s must come before the first sensor", path, keyRefSensorName)
		}
		s, err := cr.sensor(logger)
		if err != nil {
			return nil, err
		}
		if haveRigTransforms && s.RefToSensor.IsZero() {
			return nil, errors.Errorf("%s: failed to read a valid transform to sensor %q", path, s.Name)
		}
		last := len(rs.Rigs) - 1
		rs.Rigs[last] = append(rs.Rigs[last], s.Name)
		rs.Sensors = append(rs.Sensors, s)
	}

	if haveRigTransforms {
		for _, s := range rs.Sensors {
			if rs.IsRefSensor(s.Name) && !s.RefToSensor.IsIdentity() {
				return nil, errors.Errorf("%s: the transform from reference sensor %q to itself must be the identity",
					path, s.Name)
			}
		}
	}
	if err := rs.Validate(); err != nil {
		return nil, errors.Wrapf(err, "validating %q", path)
	}
	return rs, nil
}

func formatValues(vals []float64) string {
	strs := make([]string, len(vals))
	for i, v := range vals {
		strs[i] = strconv.FormatFloat(v, 'g', 17, 64)
	}
	return strings.Join(strs, " ")
}

// WriteRigConfig writes rs in the format ReadRigConfig reads.
func WriteRigConfig(path string, rs *RigSet) (err error) {
	if err := rs.Validate(); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "cannot open rig file for writing")
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	w := bufio.NewWriter(f)
	for r, names := range rs.Rigs {
		fmt.Fprintf(w, "# Rig %d\n%s %s\n", r+1, keyRefSensorName, names[0])
		for _, name := range names {
			idx, err := rs.SensorIndex(name)
			if err != nil {
				return err
			}
			s := rs.Sensors[idx]
			fmt.Fprintf(w, "\n%s %s\n", keySensorName, s.Name)
			fmt.Fprintf(w, "%s %s\n", keyFocalLength, formatValues([]float64{s.FocalLength}))
			fmt.Fprintf(w, "%s %s\n", keyOpticalCenter, formatValues([]float64{s.OpticalCenter.X, s.OpticalCenter.Y}))
			fmt.Fprintf(w, "%s %s\n", keyDistCoeffs, formatValues(s.Distortion))
			fmt.Fprintf(w, "%s %s\n", keyDistType, s.DistortionType)
			fmt.Fprintf(w, "%s %d %d\n", keyImageSize, s.ImageSize.X, s.ImageSize.Y)
			fmt.Fprintf(w, "%s %d %d\n", keyDistortedCrop, s.DistortedCropSize.X, s.DistortedCropSize.Y)
			fmt.Fprintf(w, "%s %d %d\n", keyUndistortedSize, s.UndistortedImageSize.X, s.UndistortedImageSize.Y)
			fmt.Fprintf(w, "%s %s\n", keyRefToSensor, formatValues(s.RefToSensor.Values()))
			fmt.Fprintf(w, "%s %s\n", keyDepthToImage, formatValues(s.DepthToImage.Values()))
			fmt.Fprintf(w, "%s %s\n", keyTimestampOffset, formatValues([]float64{s.TimestampOffset}))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
