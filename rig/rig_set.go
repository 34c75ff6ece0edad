// Package rig describes sets of sensors rigidly mounted together.
package rig

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/spatialmath"
)

// Sensor is one camera on a rig.
type Sensor struct {
	Name           string
	FocalLength    float64
	OpticalCenter  r2.Point
	Distortion     []float64
	DistortionType camera.DistortionType
	ImageSize      image.Point
	// DistortedCropSize is the domain where the distortion model is valid, centered on the image.
	DistortedCropSize    image.Point
	UndistortedImageSize image.Point
	// RefToSensor maps reference sensor coordinates to this sensor's coordinates.
	RefToSensor  Affine
	DepthToImage Affine
	// TimestampOffset is added to the reference sensor time to get this sensor's time.
	TimestampOffset float64
}

// Pinhole returns a pinhole camera with this sensor's intrinsics at the given pose.
func (s *Sensor) Pinhole(center r3.Vector, rot spatialmath.RotationMatrix) (*camera.Pinhole, error) {
	cam, err := camera.NewPinhole(camera.PinholeCameraIntrinsics{
		Width:       s.ImageSize.X,
		Height:      s.ImageSize.Y,
		FocalLength: s.FocalLength,
		Cx:          s.OpticalCenter.X,
		Cy:          s.OpticalCenter.Y,
		PixelPitch:  1,
	}, center, rot)
	if err != nil {
		return nil, errors.Wrapf(err, "sensor %q", s.Name)
	}
	dist, err := camera.NewDistorter(s.DistortionType, s.Distortion)
	if err != nil {
		return nil, errors.Wrapf(err, "sensor %q", s.Name)
	}
	cam.Distortion = dist
	return cam, nil
}

// RigSet is a list of rigs. Rigs holds the sensor names of each rig, reference sensor first;
// Sensors holds every sensor of every rig in file order.
type RigSet struct {
	Rigs    [][]string
	Sensors []Sensor
}

// Names returns the sensor names in order.
func (rs *RigSet) Names() []string {
	return lo.Map(rs.Sensors, func(s Sensor, _ int) string { return s.Name })
}

// IsRefSensor reports whether name is the first sensor of some rig.
func (rs *RigSet) IsRefSensor(name string) bool {
	return lo.ContainsBy(rs.Rigs, func(r []string) bool { return len(r) > 0 && r[0] == name })
}

// SensorIndex returns the position of the named sensor in Sensors.
func (rs *RigSet) SensorIndex(name string) (int, error) {
	idx := lo.IndexOf(rs.Names(), name)
	if idx < 0 {
		return -1, errors.Errorf("could not find sensor %q in rig", name)
	}
	return idx, nil
}

// RigID returns the index of the rig holding sensor i.
func (rs *RigSet) RigID(i int) (int, error) {
	if i < 0 || i >= len(rs.Sensors) {
		return -1, errors.Errorf("sensor index %d out of bounds, have %d sensors", i, len(rs.Sensors))
	}
	name := rs.Sensors[i].Name
	for r, names := range rs.Rigs {
		if lo.Contains(names, name) {
			return r, nil
		}
	}
	return -1, errors.Errorf("could not look up sensor %q in the rig", name)
}

// RefSensor returns the name of the reference sensor of the rig holding sensor i.
func (rs *RigSet) RefSensor(i int) (string, error) {
	r, err := rs.RigID(i)
	if err != nil {
		return "", err
	}
	return rs.Rigs[r][0], nil
}

// Validate checks that names are unique, every rig is non-empty, every sensor belongs to a rig
// and reference sensors have zero timestamp offsets.
func (rs *RigSet) Validate() error {
	if len(rs.Rigs) == 0 {
		return errors.New("found an empty set of rigs")
	}
	var all []string
	for r, names := range rs.Rigs {
		if len(names) == 0 {
			return errors.Errorf("rig %d has no sensors", r)
		}
		all = append(all, names...)
	}
	if dups := lo.FindDuplicates(all); len(dups) > 0 {
		return errors.Errorf("found duplicate sensor names in the rig set: %v", dups)
	}
	if dups := lo.FindDuplicates(rs.Names()); len(dups) > 0 {
		return errors.Errorf("found duplicate sensor names in the rig set: %v", dups)
	}
	if len(all) != len(rs.Sensors) {
		return errors.Errorf("rigs list %d sensors but %d are described", len(all), len(rs.Sensors))
	}
	if missing, _ := lo.Difference(all, rs.Names()); len(missing) > 0 {
		return errors.Errorf("sensors %v are in a rig but not described", missing)
	}
	var err error
	for _, s := range rs.Sensors {
		if rs.IsRefSensor(s.Name) && s.TimestampOffset != 0 {
			err = multierr.Append(err, errors.Errorf("reference sensor %q must have a zero timestamp offset", s.Name))
		}
	}
	return err
}

// SubRig returns a rig set holding only rig r.
func (rs *RigSet) SubRig(r int) (*RigSet, error) {
	if r < 0 || r >= len(rs.Rigs) {
		return nil, errors.Errorf("rig %d out of range, have %d rigs", r, len(rs.Rigs))
	}
	sub := &RigSet{Rigs: [][]string{append([]string{}, rs.Rigs[r]...)}}
	for _, name := range rs.Rigs[r] {
		idx, err := rs.SensorIndex(name)
		if err != nil {
			return nil, err
		}
		s := rs.Sensors[idx]
		s.Distortion = append([]float64{}, s.Distortion...)
		sub.Sensors = append(sub.Sensors, s)
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	return sub, nil
}
