package spatialmath

import (
	"math"
)

// RollPitchYaw holds angles in radians for the rotation Rz(yaw) * Ry(pitch) * Rx(roll).
type RollPitchYaw struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// RollPitchYawFromMatrix decomposes rm as Rz(yaw) * Ry(pitch) * Rx(roll).
func RollPitchYawFromMatrix(rm RotationMatrix) RollPitchYaw {
	sinPitch := -rm.At(2, 0)
	if sinPitch > 1 {
		sinPitch = 1
	} else if sinPitch < -1 {
		sinPitch = -1
	}
	return RollPitchYaw{
		Roll:  math.Atan2(rm.At(2, 1), rm.At(2, 2)),
		Pitch: math.Asin(sinPitch),
		Yaw:   math.Atan2(rm.At(1, 0), rm.At(0, 0)),
	}
}

// RotationMatrix composes the angles back into a rotation.
func (rpy RollPitchYaw) RotationMatrix() RotationMatrix {
	cr, sr := math.Cos(rpy.Roll), math.Sin(rpy.Roll)
	cp, sp := math.Cos(rpy.Pitch), math.Sin(rpy.Pitch)
	cy, sy := math.Cos(rpy.Yaw), math.Sin(rpy.Yaw)
	return RotationMatrix{[9]float64{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr,
		-sp, cp * sr, cp * cr,
	}}
}
