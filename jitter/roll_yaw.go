package jitter

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/photogrammetry/cartography"
	"go.viam.com/photogrammetry/spatialmath"
	"go.viam.com/photogrammetry/utils"
)

// satDelta is the projected-coordinate step used to carry along and across track directions
// to body-fixed coordinates.
const satDelta = 0.01

// RotationXY is the 90 degree in-camera rotation between satellite and camera axes.
func RotationXY() spatialmath.RotationMatrix {
	return spatialmath.NewRotationMatrixFromCols(
		r3.Vector{Y: 1},
		r3.Vector{X: -1},
		r3.Vector{Z: 1},
	)
}

// projAlongAcross returns the unit along track direction from beg to end and the horizontal
// direction across it, both in projected coordinates.
func projAlongAcross(beg, end r3.Vector) (r3.Vector, r3.Vector, error) {
	along := end.Sub(beg)
	if along.Norm() == 0 {
		return r3.Vector{}, r3.Vector{}, errors.New("consecutive camera positions coincide")
	}
	along = along.Normalize()
	across := along.Cross(r3.Vector{Z: 1})
	if across.Norm() == 0 {
		return r3.Vector{}, r3.Vector{}, errors.New("camera positions are vertically aligned")
	}
	return along, across.Normalize(), nil
}

// ecefAlongAcross carries projected directions at cur to unit body-fixed directions, with
// across made orthogonal to along.
func ecefAlongAcross(georef cartography.GeoReference, projAlong, projAcross, cur r3.Vector) (r3.Vector, r3.Vector) {
	diff := func(dir r3.Vector) r3.Vector {
		return georef.ProjToEcef(cur.Add(dir.Mul(satDelta))).Sub(georef.ProjToEcef(cur.Sub(dir.Mul(satDelta))))
	}
	along := diff(projAlong).Normalize()
	across := diff(projAcross)
	across = across.Sub(along.Mul(across.Dot(along))).Normalize()
	return along, across
}

// SatelliteFrame returns the satellite-to-world rotation at position index cur: columns along
// track, across track and down, estimated from the neighboring positions.
func SatelliteFrame(positions []float64, georef cartography.GeoReference, cur int) (spatialmath.RotationMatrix, error) {
	numPos := len(positions) / NumXYZParams
	if cur < 0 || cur >= numPos {
		return spatialmath.RotationMatrix{}, errors.Errorf("position index %d out of range, have %d positions", cur, numPos)
	}
	beg := utils.MaxInt(0, cur-1)
	end := utils.MinInt(numPos-1, cur+1)
	if beg >= end {
		return spatialmath.RotationMatrix{}, errors.New("expecting at least 2 camera positions")
	}
	at := func(i int) r3.Vector { return vec(positions[i*NumXYZParams:]) }
	begProj := georef.EcefToProj(at(beg))
	curProj := georef.EcefToProj(at(cur))
	endProj := georef.EcefToProj(at(end))

	projAlong, projAcross, err := projAlongAcross(begProj, endProj)
	if err != nil {
		return spatialmath.RotationMatrix{}, err
	}
	along, across := ecefAlongAcross(georef, projAlong, projAcross, curProj)
	down := along.Cross(across).Normalize()
	return spatialmath.NewRotationMatrixFromCols(along, across, down), nil
}

// RollYawErr penalizes the roll and yaw of a linescan orientation sample, in degrees. By
// default the angles are measured against the local satellite frame, assuming
// cam2world = sat2world * rollPitchYaw * rotXY. With the initial camera constraint they are
// measured against the sample's starting orientation instead. Its single parameter block is
// the quaternion (x, y, z, w).
type RollYawErr struct {
	rollWeight    float64
	yawWeight     float64
	initialCamera bool

	sat2World     spatialmath.RotationMatrix
	rotXY         spatialmath.RotationMatrix
	initCam2World spatialmath.RotationMatrix
}

// NewRollYawErr builds the regularizer for sample cur. Positions and quaternions must have
// the same number of samples.
func NewRollYawErr(
	positions, quaternions []float64,
	georef cartography.GeoReference,
	cur int,
	rollWeight, yawWeight float64,
	initialCamera bool,
) (*RollYawErr, error) {
	numPos, numQuat := len(positions)/NumXYZParams, len(quaternions)/NumQuatParams
	if numPos != numQuat {
		return nil, errors.Errorf("expecting the same number of positions and quaternions, got %d and %d", numPos, numQuat)
	}
	sat2World, err := SatelliteFrame(positions, georef, cur)
	if err != nil {
		return nil, err
	}
	q := quaternions[cur*NumQuatParams : (cur+1)*NumQuatParams]
	return &RollYawErr{
		rollWeight:    rollWeight,
		yawWeight:     yawWeight,
		initialCamera: initialCamera,
		sat2World:     sat2World,
		rotXY:         RotationXY(),
		initCam2World: spatialmath.QuatToRotationMatrix(spatialmath.QuatFromXYZW(q)),
	}, nil
}

// NumResiduals is roll and yaw.
func (e *RollYawErr) NumResiduals() int { return 2 }

// Evaluate decomposes the orientation and weights the angles, each folded into [-90, 90].
func (e *RollYawErr) Evaluate(params [][]float64, residuals []float64) error {
	if len(params) != 1 || len(params[0]) != NumQuatParams {
		return errors.New("roll/yaw residual expects a single quaternion block")
	}
	cam2World := spatialmath.QuatToRotationMatrix(spatialmath.QuatFromXYZW(params[0]))

	if e.initialCamera {
		// camera roll and pitch are satellite pitch and roll
		rpy := spatialmath.RollPitchYawFromMatrix(cam2World.Transpose().Mul(e.initCam2World))
		residuals[0] = utils.WrapDeg180(utils.RadToDeg(rpy.Pitch)) * e.rollWeight
		residuals[1] = utils.WrapDeg180(utils.RadToDeg(rpy.Yaw)) * e.yawWeight
		return nil
	}

	rpy := spatialmath.RollPitchYawFromMatrix(e.sat2World.Transpose().Mul(cam2World).Mul(e.rotXY.Transpose()))
	residuals[0] = utils.WrapDeg180(utils.RadToDeg(rpy.Roll)) * e.rollWeight
	residuals[1] = utils.WrapDeg180(utils.RadToDeg(rpy.Yaw)) * e.yawWeight
	return nil
}
