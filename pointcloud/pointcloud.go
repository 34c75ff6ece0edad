// Package pointcloud stores triangulated clouds on disk as LAS, PCD, or a float32 raster.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/photogrammetry/config"
	"go.viam.com/photogrammetry/stereo"
)

// float32 keeps millimeter steps up to this magnitude.
const (
	maxPreciseFloat32 = float64(1 << 13)
	minPreciseFloat32 = -maxPreciseFloat32
)

// Point is a cloud point and the norm of its triangulation error.
type Point struct {
	Position r3.Vector
	ErrNorm  float64
}

// MetaData summarizes a list of points.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
	HasError   bool
}

// NewMetaData returns an empty summary.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.Inf(1), MaxX: math.Inf(-1),
		MinY: math.Inf(1), MaxY: math.Inf(-1),
		MinZ: math.Inf(1), MaxZ: math.Inf(-1),
	}
}

// Merge grows the summary to include p.
func (meta *MetaData) Merge(p Point) {
	meta.MinX = math.Min(meta.MinX, p.Position.X)
	meta.MaxX = math.Max(meta.MaxX, p.Position.X)
	meta.MinY = math.Min(meta.MinY, p.Position.Y)
	meta.MaxY = math.Max(meta.MaxY, p.Position.Y)
	meta.MinZ = math.Min(meta.MinZ, p.Position.Z)
	meta.MaxZ = math.Max(meta.MaxZ, p.Position.Z)
	if p.ErrNorm != 0 {
		meta.HasError = true
	}
}

// precise reports whether every coordinate of the summary survives a float32 round trip to the
// millimeter.
func (meta MetaData) precise() bool {
	return meta.MinX >= minPreciseFloat32 && meta.MaxX <= maxPreciseFloat32 &&
		meta.MinY >= minPreciseFloat32 && meta.MaxY <= maxPreciseFloat32 &&
		meta.MinZ >= minPreciseFloat32 && meta.MaxZ <= maxPreciseFloat32
}

// FromCloud collects the valid points of c in raster order, with shift subtracted.
func FromCloud(c *stereo.Cloud, shift r3.Vector) ([]Point, MetaData) {
	meta := NewMetaData()
	var out []Point
	for _, p := range c.Points {
		if !p.IsValid() {
			continue
		}
		pt := Point{Position: p.XYZ.Sub(shift), ErrNorm: p.Err.Norm()}
		meta.Merge(pt)
		out = append(out, pt)
	}
	return out, meta
}

// Center returns the configured point cloud shift, or estimates one from src when the shift is
// unset.
func Center(settings config.Settings, src stereo.PointSource) (r3.Vector, error) {
	shift := r3.Vector{X: settings.PointCloudShift[0], Y: settings.PointCloudShift[1], Z: settings.PointCloudShift[2]}
	if shift != (r3.Vector{}) {
		return shift, nil
	}
	return stereo.CloudCenter(src, settings.TileSize)
}
