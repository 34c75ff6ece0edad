package cartography

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Projection names the map projection of a GeoReference.
type Projection string

const (
	// ProjLonLat uses degrees of longitude and latitude directly.
	ProjLonLat = Projection("lonlat")
	// ProjEquirectangular is a plate carrée in meters about a center longitude and latitude.
	ProjEquirectangular = Projection("equirectangular")
)

// GeoReference maps raster pixels to projected points and projected points to lon/lat.
// Transform is the GDAL affine: x = T[0] + col*T[1] + row*T[2], y = T[3] + col*T[4] + row*T[5].
type GeoReference struct {
	Datum      Datum      `json:"datum"`
	Projection Projection `json:"projection"`
	Transform  [6]float64 `json:"transform"`
	CenterLon  float64    `json:"center_lon"`
	CenterLat  float64    `json:"center_lat"`
}

// Validate checks that the affine part is invertible and the projection known.
func (g GeoReference) Validate() error {
	det := g.Transform[1]*g.Transform[5] - g.Transform[2]*g.Transform[4]
	if det == 0 {
		return errors.New("georeference transform is singular")
	}
	switch g.Projection {
	case ProjLonLat, ProjEquirectangular:
		return nil
	}
	return errors.Errorf("unsupported projection %q", g.Projection)
}

// PixelToPoint applies the affine transform.
func (g GeoReference) PixelToPoint(pix r2.Point) r2.Point {
	t := g.Transform
	return r2.Point{X: t[0] + pix.X*t[1] + pix.Y*t[2], Y: t[3] + pix.X*t[4] + pix.Y*t[5]}
}

// PointToPixel inverts the affine transform.
func (g GeoReference) PointToPixel(pt r2.Point) r2.Point {
	t := g.Transform
	det := t[1]*t[5] - t[2]*t[4]
	dx, dy := pt.X-t[0], pt.Y-t[3]
	return r2.Point{X: (t[5]*dx - t[2]*dy) / det, Y: (-t[4]*dx + t[1]*dy) / det}
}

func (g GeoReference) radius() float64 {
	return g.Datum.SemiMajor
}

// PointToLonLat converts a projected point to degrees.
func (g GeoReference) PointToLonLat(pt r2.Point) r2.Point {
	if g.Projection != ProjEquirectangular {
		return pt
	}
	r := g.radius()
	lat := g.CenterLat + pt.Y/r*180/math.Pi
	lon := g.CenterLon + pt.X/(r*math.Cos(g.CenterLat*math.Pi/180))*180/math.Pi
	return r2.Point{X: lon, Y: lat}
}

// LonLatToPoint converts degrees to a projected point.
func (g GeoReference) LonLatToPoint(ll r2.Point) r2.Point {
	if g.Projection != ProjEquirectangular {
		return ll
	}
	r := g.radius()
	return r2.Point{
		X: (ll.X - g.CenterLon) * math.Pi / 180 * r * math.Cos(g.CenterLat*math.Pi/180),
		Y: (ll.Y - g.CenterLat) * math.Pi / 180 * r,
	}
}

// PixelToLonLat composes PixelToPoint and PointToLonLat.
func (g GeoReference) PixelToLonLat(pix r2.Point) r2.Point {
	return g.PointToLonLat(g.PixelToPoint(pix))
}

// LonLatToPixel composes LonLatToPoint and PointToPixel.
func (g GeoReference) LonLatToPixel(ll r2.Point) r2.Point {
	return g.PointToPixel(g.LonLatToPoint(ll))
}

// EcefToProj converts body-fixed xyz to (projected x, projected y, height above the datum).
func (g GeoReference) EcefToProj(xyz r3.Vector) r3.Vector {
	llh := g.Datum.CartesianToGeodetic(xyz)
	pt := g.LonLatToPoint(r2.Point{X: llh.X, Y: llh.Y})
	return r3.Vector{X: pt.X, Y: pt.Y, Z: llh.Z}
}

// ProjToEcef inverts EcefToProj.
func (g GeoReference) ProjToEcef(proj r3.Vector) r3.Vector {
	ll := g.PointToLonLat(r2.Point{X: proj.X, Y: proj.Y})
	return g.Datum.GeodeticToCartesian(r3.Vector{X: ll.X, Y: ll.Y, Z: proj.Z})
}
