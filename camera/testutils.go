package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/photogrammetry/spatialmath"
)

// NadirRotation looks straight down -Z with camera x along world X.
func NadirRotation() spatialmath.RotationMatrix {
	rot, _ := spatialmath.NewRotationMatrix([]float64{1, 0, 0, 0, -1, 0, 0, 0, -1})
	return rot
}

// NewTestLinescan returns a nadir pushbroom flying along -Y at 1000 m, with a 0.1 m ground
// sample distance. Ground point (X, Y, 0) images at sample 500 + 10*X, line -10*Y. Positions are
// sampled every 0.1 s and quaternions every 0.05 s over [-0.5, 1.5] s.
func NewTestLinescan() *CSMLinescan {
	const (
		altitude = 1000.0
		speed    = 100.0
	)
	cam := &CSMLinescan{
		CSMIntrinsics: CSMIntrinsics{
			FocalLength:   10000,
			OpticalCenter: r2.Point{X: 500, Y: 0},
			Distortion:    []float64{0},
			NumLines:      1000,
			NumSamples:    1000,
		},
		T0Image: 0,
		DtLine:  0.001,
		T0Ephem: -0.5,
		DtEphem: 0.1,
		T0Quat:  -0.5,
		DtQuat:  0.05,
	}
	for i := 0; i <= 20; i++ {
		t := cam.T0Ephem + float64(i)*cam.DtEphem
		cam.Positions = append(cam.Positions, 0, -speed*t, altitude)
	}
	q := make([]float64, 4)
	spatialmath.QuatToXYZW(NadirRotation().Quaternion(), q)
	for i := 0; i <= 40; i++ {
		cam.Quaternions = append(cam.Quaternions, q...)
	}
	return cam
}

// NewTestPinhole returns a nadir pinhole with a 1000 px focal length and a 1000x1000 image.
func NewTestPinhole(center r3.Vector) *Pinhole {
	cam, err := NewPinhole(PinholeCameraIntrinsics{
		Width:       1000,
		Height:      1000,
		FocalLength: 1000,
		Cx:          500,
		Cy:          500,
		PixelPitch:  1,
	}, center, NadirRotation())
	if err != nil {
		panic(err)
	}
	return cam
}
