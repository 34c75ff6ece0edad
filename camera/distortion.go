package camera

import (
	"math"

	"github.com/pkg/errors"
)

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// NoDistortionType is an ideal pinhole.
	NoDistortionType = DistortionType("none")
	// RadTanDistortionType is the Brown-Conrady radial-tangential model (k1, k2, p1, p2[, k3]).
	RadTanDistortionType = DistortionType("radtan")
	// FisheyeDistortionType is the Kannala-Brandt equidistant model (k1..k4).
	FisheyeDistortionType = DistortionType("fisheye")
	// FOVDistortionType is the single-parameter field-of-view model.
	FOVDistortionType = DistortionType("fov")
	// RPCDistortionType is a rational polynomial lens model. It is only carried through rig files.
	RPCDistortionType = DistortionType("rpc")
)

// Distorter maps undistorted normalized image coordinates to distorted ones and back.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	SetParameters(params []float64) error
	Transform(x, y float64) (float64, float64)
	Undistort(xd, yd float64) (float64, float64)
	Clone() Distorter
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// NewDistorter returns a Distorter given a valid DistortionType and its parameters.
func NewDistorter(distortionType DistortionType, parameters []float64) (Distorter, error) {
	switch distortionType { //nolint:exhaustive
	case NoDistortionType, "":
		if len(parameters) != 0 {
			return nil, InvalidDistortionError("no distortion takes no parameters")
		}
		return &NoDistortion{}, nil
	case RadTanDistortionType:
		return NewBrownConrady(parameters)
	case FisheyeDistortionType:
		return NewFisheye(parameters)
	case FOVDistortionType:
		return NewFOV(parameters)
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
}

// NoDistortion is the identity.
type NoDistortion struct{}

// ModelType returns the type of distortion model.
func (nd *NoDistortion) ModelType() DistortionType { return NoDistortionType }

// CheckValid always succeeds.
func (nd *NoDistortion) CheckValid() error { return nil }

// Parameters returns an empty list.
func (nd *NoDistortion) Parameters() []float64 { return []float64{} }

// SetParameters accepts only an empty list.
func (nd *NoDistortion) SetParameters(params []float64) error {
	if len(params) != 0 {
		return InvalidDistortionError("no distortion takes no parameters")
	}
	return nil
}

// Transform is the identity.
func (nd *NoDistortion) Transform(x, y float64) (float64, float64) { return x, y }

// Undistort is the identity.
func (nd *NoDistortion) Undistort(xd, yd float64) (float64, float64) { return xd, yd }

// Clone returns a copy.
func (nd *NoDistortion) Clone() Distorter { return &NoDistortion{} }

// BrownConrady is for simple lenses of narrow field easily modeled as a pinhole camera.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
	RadialK3     float64 `json:"rk3"`
	// HasK3 records whether five coefficients were given, so Parameters round-trips.
	HasK3 bool `json:"-"`
}

// NewBrownConrady takes (k1, k2, p1, p2) or (k1, k2, p1, p2, k3).
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	bc := &BrownConrady{}
	if err := bc.SetParameters(inp); err != nil {
		return nil, err
	}
	return bc, nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType { return RadTanDistortionType }

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc.HasK3 {
		return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2}
}

// SetParameters replaces the coefficients.
func (bc *BrownConrady) SetParameters(inp []float64) error {
	if len(inp) != 4 && len(inp) != 5 {
		return errors.Errorf("radtan distortion needs 4 or 5 parameters, got %d", len(inp))
	}
	bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2 = inp[0], inp[1], inp[2], inp[3]
	bc.RadialK3, bc.HasK3 = 0, len(inp) == 5
	if bc.HasK3 {
		bc.RadialK3 = inp[4]
	}
	return nil
}

// Transform distorts a normalized point:
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
func (bc *BrownConrady) Transform(xu, yu float64) (float64, float64) {
	r2 := xu*xu + yu*yu
	radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r2*r2 + bc.RadialK3*r2*r2*r2
	xd := xu*radDist + 2.0*bc.TangentialP1*xu*yu + bc.TangentialP2*(r2+2.0*xu*xu)
	yd := yu*radDist + 2.0*bc.TangentialP2*xu*yu + bc.TangentialP1*(r2+2.0*yu*yu)
	return xd, yd
}

// Undistort solves Transform(xu, yu) = (xd, yd) with Newton-Raphson iterations.
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	xu, yu := xd, yd

	const maxIterations = 20
	const tolerance = 1e-14

	for i := 0; i < maxIterations; i++ {
		r2 := xu*xu + yu*yu
		r4 := r2 * r2
		r6 := r4 * r2

		radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r6
		xdEst, ydEst := bc.Transform(xu, yu)
		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		dRad := bc.RadialK1 + 2.0*bc.RadialK2*r2 + 3.0*bc.RadialK3*r4
		dRadDistDxu := 2.0 * xu * dRad
		dRadDistDyu := 2.0 * yu * dRad

		dxdDxu := radDist + xu*dRadDistDxu + 2.0*bc.TangentialP1*yu + bc.TangentialP2*6.0*xu
		dxdDyu := xu*dRadDistDyu + 2.0*bc.TangentialP1*xu + bc.TangentialP2*2.0*yu
		dydDxu := yu*dRadDistDxu + 2.0*bc.TangentialP2*yu + bc.TangentialP1*2.0*xu
		dydDyu := radDist + yu*dRadDistDyu + 2.0*bc.TangentialP2*xu + bc.TangentialP1*6.0*yu

		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}

		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}

	return xu, yu
}

// Clone returns a copy.
func (bc *BrownConrady) Clone() Distorter {
	c := *bc
	return &c
}

// Fisheye is the equidistant model theta_d = theta * (1 + k1*theta² + k2*theta⁴ + k3*theta⁶ + k4*theta⁸).
type Fisheye struct {
	K [4]float64 `json:"k"`
}

// NewFisheye takes exactly four coefficients.
func NewFisheye(inp []float64) (*Fisheye, error) {
	f := &Fisheye{}
	if err := f.SetParameters(inp); err != nil {
		return nil, err
	}
	return f, nil
}

// ModelType returns the type of distortion model.
func (f *Fisheye) ModelType() DistortionType { return FisheyeDistortionType }

// CheckValid checks the receiver is set.
func (f *Fisheye) CheckValid() error {
	if f == nil {
		return InvalidDistortionError("fisheye shaped distortion_parameters not provided")
	}
	return nil
}

// Parameters returns k1..k4.
func (f *Fisheye) Parameters() []float64 { return []float64{f.K[0], f.K[1], f.K[2], f.K[3]} }

// SetParameters replaces k1..k4.
func (f *Fisheye) SetParameters(inp []float64) error {
	if len(inp) != 4 {
		return errors.Errorf("fisheye distortion needs 4 parameters, got %d", len(inp))
	}
	copy(f.K[:], inp)
	return nil
}

func (f *Fisheye) thetaD(theta float64) float64 {
	t2 := theta * theta
	return theta * (1 + t2*(f.K[0]+t2*(f.K[1]+t2*(f.K[2]+t2*f.K[3]))))
}

// Transform distorts a normalized point.
func (f *Fisheye) Transform(x, y float64) (float64, float64) {
	r := math.Hypot(x, y)
	if r < 1e-12 {
		return x, y
	}
	scale := f.thetaD(math.Atan(r)) / r
	return x * scale, y * scale
}

// Undistort inverts Transform by Newton iterations on theta.
func (f *Fisheye) Undistort(xd, yd float64) (float64, float64) {
	rd := math.Hypot(xd, yd)
	if rd < 1e-12 {
		return xd, yd
	}
	theta := rd
	for i := 0; i < 20; i++ {
		t2 := theta * theta
		deriv := 1 + t2*(3*f.K[0]+t2*(5*f.K[1]+t2*(7*f.K[2]+t2*9*f.K[3])))
		step := (f.thetaD(theta) - rd) / deriv
		theta -= step
		if math.Abs(step) < 1e-15 {
			break
		}
	}
	scale := math.Tan(theta) / rd
	return xd * scale, yd * scale
}

// Clone returns a copy.
func (f *Fisheye) Clone() Distorter {
	c := *f
	return &c
}

// FOV is the single-parameter field-of-view model r_d = atan(2 r tan(w/2)) / w.
type FOV struct {
	W float64 `json:"w"`
}

// NewFOV takes exactly one coefficient.
func NewFOV(inp []float64) (*FOV, error) {
	f := &FOV{}
	if err := f.SetParameters(inp); err != nil {
		return nil, err
	}
	return f, nil
}

// ModelType returns the type of distortion model.
func (f *FOV) ModelType() DistortionType { return FOVDistortionType }

// CheckValid rejects a zero field of view.
func (f *FOV) CheckValid() error {
	if f == nil || f.W == 0 {
		return InvalidDistortionError("fov distortion needs a non-zero parameter")
	}
	return nil
}

// Parameters returns w.
func (f *FOV) Parameters() []float64 { return []float64{f.W} }

// SetParameters replaces w.
func (f *FOV) SetParameters(inp []float64) error {
	if len(inp) != 1 {
		return errors.Errorf("fov distortion needs 1 parameter, got %d", len(inp))
	}
	f.W = inp[0]
	return nil
}

// Transform distorts a normalized point.
func (f *FOV) Transform(x, y float64) (float64, float64) {
	r := math.Hypot(x, y)
	if r < 1e-12 || f.W == 0 {
		return x, y
	}
	scale := math.Atan(2*r*math.Tan(f.W/2)) / (f.W * r)
	return x * scale, y * scale
}

// Undistort has a closed form for this model.
func (f *FOV) Undistort(xd, yd float64) (float64, float64) {
	rd := math.Hypot(xd, yd)
	if rd < 1e-12 || f.W == 0 {
		return xd, yd
	}
	scale := math.Tan(rd*f.W) / (2 * math.Tan(f.W/2) * rd)
	return xd * scale, yd * scale
}

// Clone returns a copy.
func (f *FOV) Clone() Distorter {
	c := *f
	return &c
}
