// Package stereo triangulates dense disparities between aligned images into point clouds.
package stereo

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/cartography"
)

// ErrNoHeight is returned when a map-projected pixel has no DEM height under it.
var ErrNoHeight = errors.New("no DEM height at map-projected pixel")

// Transform relates native sensor pixels to the aligned raster correlation ran on.
type Transform interface {
	// Forward takes a native pixel to the aligned raster.
	Forward(native r2.Point) (r2.Point, error)
	// Reverse takes an aligned pixel back to the native image.
	Reverse(aligned r2.Point) (r2.Point, error)
	// ReverseBBox returns the native bounding box of an aligned box. Transforms with caches fill
	// them for the box.
	ReverseBBox(box image.Rectangle) image.Rectangle
	// Clone returns a copy that shares no cache with the receiver.
	Clone() Transform
}

// bboxSamples is the number of points sampled along each edge of a box to bound its image.
const bboxSamples = 10

// reverseBBox bounds the reverse image of box by sampling its edges and interior.
func reverseBBox(tx Transform, box image.Rectangle) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	w, h := float64(box.Dx()), float64(box.Dy())
	for i := 0; i <= bboxSamples; i++ {
		for j := 0; j <= bboxSamples; j++ {
			p := r2.Point{
				X: float64(box.Min.X) + w*float64(i)/bboxSamples,
				Y: float64(box.Min.Y) + h*float64(j)/bboxSamples,
			}
			q, err := tx.Reverse(p)
			if err != nil {
				continue
			}
			minX, minY = math.Min(minX, q.X), math.Min(minY, q.Y)
			maxX, maxY = math.Max(maxX, q.X), math.Max(maxY, q.Y)
		}
	}
	if math.IsInf(minX, 1) {
		return image.Rectangle{}
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX))+1, int(math.Ceil(maxY))+1)
}

// Identity leaves pixels unchanged.
type Identity struct{}

// Forward returns native.
func (Identity) Forward(native r2.Point) (r2.Point, error) { return native, nil }

// Reverse returns aligned.
func (Identity) Reverse(aligned r2.Point) (r2.Point, error) { return aligned, nil }

// ReverseBBox returns box.
func (Identity) ReverseBBox(box image.Rectangle) image.Rectangle { return box }

// Clone returns the identity.
func (Identity) Clone() Transform { return Identity{} }

// Homography is a projective alignment. H maps homogeneous native pixels to aligned ones and
// is stored row-major.
type Homography struct {
	H   [9]float64
	inv [9]float64
}

// NewHomography inverts h.
func NewHomography(h [9]float64) (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, h[:])); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	out := &Homography{H: h}
	copy(out.inv[:], inv.RawMatrix().Data)
	return out, nil
}

func applyHomography(h *[9]float64, p r2.Point) (r2.Point, error) {
	v := r3.Vector{
		X: h[0]*p.X + h[1]*p.Y + h[2],
		Y: h[3]*p.X + h[4]*p.Y + h[5],
		Z: h[6]*p.X + h[7]*p.Y + h[8],
	}
	if v.Z == 0 {
		return r2.Point{}, errors.New("pixel maps to infinity")
	}
	return r2.Point{X: v.X / v.Z, Y: v.Y / v.Z}, nil
}

// Forward applies H.
func (hg *Homography) Forward(native r2.Point) (r2.Point, error) { return applyHomography(&hg.H, native) }

// Reverse applies the inverse of H.
func (hg *Homography) Reverse(aligned r2.Point) (r2.Point, error) {
	return applyHomography(&hg.inv, aligned)
}

// ReverseBBox bounds the reverse image of box.
func (hg *Homography) ReverseBBox(box image.Rectangle) image.Rectangle { return reverseBBox(hg, box) }

// Clone copies the matrices.
func (hg *Homography) Clone() Transform {
	out := *hg
	return &out
}

// MapProjectTransform relates the pixels of an image orthorectified onto a DEM to the pixels of
// the camera that took it. Reversing a map pixel looks up its DEM height and projects the ground
// point into the camera; going forward intersects the camera ray with the DEM. The DEM window
// cache makes it unsafe for concurrent use; clone it per goroutine.
type MapProjectTransform struct {
	cam    camera.Model
	imgRef cartography.GeoReference
	dem    *cartography.DEM

	cache    *cartography.DEM
	cacheBox image.Rectangle
}

// NewMapProjectTransform builds the transform for an image with georeference imgRef that was
// projected from cam onto dem.
func NewMapProjectTransform(cam camera.Model, imgRef cartography.GeoReference, dem *cartography.DEM) (*MapProjectTransform, error) {
	if err := imgRef.Validate(); err != nil {
		return nil, errors.Wrap(err, "map-projected image georeference")
	}
	if dem == nil {
		return nil, errors.New("map-projected transform needs a DEM")
	}
	return &MapProjectTransform{cam: cam, imgRef: imgRef, dem: dem}, nil
}

// height interpolates the DEM at a full-raster DEM pixel, from the cached window when it covers
// the pixel. Shifting by the integer window origin keeps the interpolation identical.
func (mt *MapProjectTransform) height(demPix r2.Point) (float64, bool) {
	if mt.cache != nil {
		col, row := int(math.Floor(demPix.X)), int(math.Floor(demPix.Y))
		if col >= mt.cacheBox.Min.X && row >= mt.cacheBox.Min.Y && col+1 < mt.cacheBox.Max.X && row+1 < mt.cacheBox.Max.Y {
			return mt.cache.HeightAtPixel(r2.Point{
				X: demPix.X - float64(mt.cacheBox.Min.X),
				Y: demPix.Y - float64(mt.cacheBox.Min.Y),
			})
		}
	}
	return mt.dem.HeightAtPixel(demPix)
}

// groundPoint returns the body-fixed point under a map-projected pixel.
func (mt *MapProjectTransform) groundPoint(aligned r2.Point) (r3.Vector, error) {
	ll := mt.imgRef.PixelToLonLat(aligned)
	h, ok := mt.height(mt.dem.GeoRef.LonLatToPixel(ll))
	if !ok {
		return r3.Vector{}, ErrNoHeight
	}
	return mt.dem.GeoRef.Datum.GeodeticToCartesian(r3.Vector{X: ll.X, Y: ll.Y, Z: h}), nil
}

// Reverse projects the ground point under the map pixel into the camera.
func (mt *MapProjectTransform) Reverse(aligned r2.Point) (r2.Point, error) {
	xyz, err := mt.groundPoint(aligned)
	if err != nil {
		return r2.Point{}, err
	}
	return mt.cam.PointToPixel(xyz)
}

// Forward intersects the camera ray with the DEM and returns the map pixel.
func (mt *MapProjectTransform) Forward(native r2.Point) (r2.Point, error) {
	xyz, err := cartography.CameraPixelToDEMXYZ(mt.dem, mt.cam.CameraCenter(native), mt.cam.PixelToVector(native))
	if err != nil {
		return r2.Point{}, err
	}
	llh := mt.dem.GeoRef.Datum.CartesianToGeodetic(xyz)
	return mt.imgRef.LonLatToPixel(r2.Point{X: llh.X, Y: llh.Y}), nil
}

// ReverseBBox caches the DEM window under box, then bounds the camera pixels of box.
func (mt *MapProjectTransform) ReverseBBox(box image.Rectangle) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range []r2.Point{
		{X: float64(box.Min.X), Y: float64(box.Min.Y)},
		{X: float64(box.Max.X), Y: float64(box.Min.Y)},
		{X: float64(box.Min.X), Y: float64(box.Max.Y)},
		{X: float64(box.Max.X), Y: float64(box.Max.Y)},
	} {
		p := mt.dem.GeoRef.LonLatToPixel(mt.imgRef.PixelToLonLat(c))
		minX, minY = math.Min(minX, p.X), math.Min(minY, p.Y)
		maxX, maxY = math.Max(maxX, p.X), math.Max(maxY, p.Y)
	}
	demBox := image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX))+1, int(math.Ceil(maxY))+1)
	grown := demBox.Inset(-1).Intersect(image.Rect(0, 0, mt.dem.Width, mt.dem.Height))
	mt.cache = mt.dem.Crop(demBox)
	mt.cacheBox = grown
	if mt.cache == nil {
		mt.cacheBox = image.Rectangle{}
	}
	return reverseBBox(mt, box)
}

// Clone shares the camera and the DEM but not the window cache.
func (mt *MapProjectTransform) Clone() Transform {
	return &MapProjectTransform{cam: mt.cam, imgRef: mt.imgRef, dem: mt.dem}
}
