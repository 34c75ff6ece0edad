// Package controlnet holds tie points and ground control points shared across images.
package controlnet

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PointType distinguishes triangulated tie points from ground control.
type PointType int

const (
	// TiePoint is a measurement-only point whose position comes from triangulation.
	TiePoint PointType = iota
	// GroundControlPoint has a surveyed world position.
	GroundControlPoint
)

func (pt PointType) String() string {
	if pt == GroundControlPoint {
		return "ground"
	}
	return "measurement"
}

// Measure is one observation of a control point in one image.
type Measure struct {
	CameraIndex int
	Pixel       r2.Point
	Sigma       r2.Point
}

// ControlPoint is a world point observed in one or more images.
type ControlPoint struct {
	ID       string
	Type     PointType
	Position r3.Vector
	Sigma    r3.Vector
	Measures []Measure
}

// IsGCP reports whether the point is ground control.
func (cp *ControlPoint) IsGCP() bool {
	return cp.Type == GroundControlPoint
}

// ControlNetwork is an ordered set of control points over a fixed list of images.
type ControlNetwork struct {
	ImageNames []string
	Points     []ControlPoint
}

// NewControlNetwork creates an empty network over the given images.
func NewControlNetwork(imageNames []string) *ControlNetwork {
	return &ControlNetwork{ImageNames: append([]string{}, imageNames...)}
}

// Add appends a control point after checking its measures refer to known images.
func (cnet *ControlNetwork) Add(cp ControlPoint) error {
	for _, m := range cp.Measures {
		if m.CameraIndex < 0 || m.CameraIndex >= len(cnet.ImageNames) {
			return errors.Errorf("control point %q refers to camera %d, network has %d images",
				cp.ID, m.CameraIndex, len(cnet.ImageNames))
		}
	}
	cnet.Points = append(cnet.Points, cp)
	return nil
}

// NumGCPs counts ground control points.
func (cnet *ControlNetwork) NumGCPs() int {
	var n int
	for i := range cnet.Points {
		if cnet.Points[i].IsGCP() {
			n++
		}
	}
	return n
}

// ImageIndex returns the index of the named image or -1.
func (cnet *ControlNetwork) ImageIndex(name string) int {
	for i, n := range cnet.ImageNames {
		if n == name {
			return i
		}
	}
	return -1
}
