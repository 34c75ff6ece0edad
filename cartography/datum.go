// Package cartography holds the planetary datum, map projections and DEM helpers used by
// map-projected stereo and ground alignment.
package cartography

import (
	"math"
	"strings"

	"github.com/golang/geo/r3"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
)

// Datum is a biaxial ellipsoid. Geodetic coordinates are (lon, lat) in degrees and height in
// meters, carried in an r3.Vector as X=lon, Y=lat, Z=height.
type Datum struct {
	Name      string  `json:"name"`
	SemiMajor float64 `json:"semi_major_axis"`
	SemiMinor float64 `json:"semi_minor_axis"`
}

// WGS84 is the Earth datum.
func WGS84() Datum {
	return Datum{Name: "WGS84", SemiMajor: 6378137.0, SemiMinor: 6356752.314245}
}

// Moon is the IAU lunar sphere.
func Moon() Datum {
	return Datum{Name: "D_MOON", SemiMajor: 1737400, SemiMinor: 1737400}
}

// Mars is the IAU Mars sphere.
func Mars() Datum {
	return Datum{Name: "D_MARS", SemiMajor: 3396190, SemiMinor: 3396190}
}

// DatumFromName looks up one of the known datums.
func DatumFromName(name string) (Datum, error) {
	switch strings.ToUpper(name) {
	case "WGS84", "WGS_1984", "EARTH":
		return WGS84(), nil
	case "D_MOON", "MOON":
		return Moon(), nil
	case "D_MARS", "MARS":
		return Mars(), nil
	}
	return Datum{}, errors.Errorf("unknown datum %q", name)
}

func (d Datum) eccentricitySquared() float64 {
	return 1 - (d.SemiMinor*d.SemiMinor)/(d.SemiMajor*d.SemiMajor)
}

// GeodeticToCartesian converts (lon, lat, height) to body-fixed xyz.
func (d Datum) GeodeticToCartesian(llh r3.Vector) r3.Vector {
	lon := llh.X * math.Pi / 180
	lat := llh.Y * math.Pi / 180
	e2 := d.eccentricitySquared()
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := d.SemiMajor / math.Sqrt(1-e2*sinLat*sinLat)
	return r3.Vector{
		X: (n + llh.Z) * cosLat * math.Cos(lon),
		Y: (n + llh.Z) * cosLat * math.Sin(lon),
		Z: (n*(1-e2) + llh.Z) * sinLat,
	}
}

// CartesianToGeodetic converts body-fixed xyz to (lon, lat, height).
func (d Datum) CartesianToGeodetic(xyz r3.Vector) r3.Vector {
	e2 := d.eccentricitySquared()
	p := math.Hypot(xyz.X, xyz.Y)
	lon := math.Atan2(xyz.Y, xyz.X)
	if p < 1e-9 {
		lat := math.Copysign(math.Pi/2, xyz.Z)
		return r3.Vector{X: lon * 180 / math.Pi, Y: lat * 180 / math.Pi, Z: math.Abs(xyz.Z) - d.SemiMinor}
	}
	lat := math.Atan2(xyz.Z, p*(1-e2))
	var height float64
	for i := 0; i < 10; i++ {
		sinLat := math.Sin(lat)
		n := d.SemiMajor / math.Sqrt(1-e2*sinLat*sinLat)
		height = p/math.Cos(lat) - n
		next := math.Atan2(xyz.Z, p*(1-e2*n/(n+height)))
		if math.Abs(next-lat) < 1e-15 {
			lat = next
			break
		}
		lat = next
	}
	sinLat := math.Sin(lat)
	n := d.SemiMajor / math.Sqrt(1-e2*sinLat*sinLat)
	height = p/math.Cos(lat) - n
	return r3.Vector{X: lon * 180 / math.Pi, Y: lat * 180 / math.Pi, Z: height}
}

// GreatCircleKm returns the spherical surface distance between the nadir points of two
// body-fixed positions, scaled from Earth to this datum's radius.
func (d Datum) GreatCircleKm(a, b r3.Vector) float64 {
	la := d.CartesianToGeodetic(a)
	lb := d.CartesianToGeodetic(b)
	const earthRadiusKm = 6371.0
	km := geo.NewPoint(la.Y, la.X).GreatCircleDistance(geo.NewPoint(lb.Y, lb.X))
	return km * (d.SemiMajor / 1000) / earthRadiusKm
}
