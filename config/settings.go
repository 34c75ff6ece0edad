// Package config holds the settings record passed explicitly into every pipeline entry point.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// UniverseCenter selects the point the universe radius is measured from.
type UniverseCenter string

// Known universe centers.
const (
	UniverseCenterNone   = UniverseCenter("none")
	UniverseCenterZero   = UniverseCenter("zero")
	UniverseCenterCamera = UniverseCenter("camera")
)

// SessionKind names the camera family of a stereo session.
type SessionKind string

// Known session kinds.
const (
	SessionPinhole    = SessionKind("pinhole")
	SessionRPC        = SessionKind("rpc")
	SessionCSM        = SessionKind("csm")
	SessionOpticalBar = SessionKind("optical_bar")
)

// Session describes the input cameras and images.
type Session struct {
	Kind SessionKind `json:"kind" yaml:"kind"`
	// MapProjected images were orthorectified onto a DEM before correlation.
	MapProjected bool `json:"map_projected" yaml:"map_projected"`
}

// UniverseRadius bounds the distance of a triangulated point from the universe center. A zero
// Far disables the upper bound.
type UniverseRadius struct {
	Near float64 `json:"near" yaml:"near"`
	Far  float64 `json:"far" yaml:"far"`
}

// Jitter configures the linescan jitter solver.
type Jitter struct {
	RollWeight              float64 `json:"roll_weight" yaml:"roll_weight"`
	YawWeight               float64 `json:"yaw_weight" yaml:"yaw_weight"`
	MaxInitReprojError      float64 `json:"max_init_reproj_error" yaml:"max_init_reproj_error"`
	InitialCameraConstraint bool    `json:"initial_camera_constraint" yaml:"initial_camera_constraint"`
}

// Intrinsics holds the float and share DSL strings.
type Intrinsics struct {
	Float          string `json:"float" yaml:"float"`
	Share          string `json:"share" yaml:"share"`
	SharePerSensor bool   `json:"share_per_sensor" yaml:"share_per_sensor"`
	Limits         string `json:"limits" yaml:"limits"`
}

// Matches configures disparity to match conversion.
type Matches struct {
	SampleCount int  `json:"sample_count" yaml:"sample_count"`
	Triplets    bool `json:"triplets" yaml:"triplets"`
}

// Settings is the immutable configuration of a run.
type Settings struct {
	Session        Session        `json:"session" yaml:"session"`
	UniverseCenter UniverseCenter `json:"universe_center" yaml:"universe_center"`
	UniverseRadius UniverseRadius `json:"universe_radius" yaml:"universe_radius"`
	// MinTriangulationAngle in degrees; rays closer to parallel are rejected. Zero disables.
	MinTriangulationAngle float64    `json:"min_triangulation_angle" yaml:"min_triangulation_angle"`
	TileSize              int        `json:"tile_size" yaml:"tile_size"`
	NumThreads            int        `json:"num_threads" yaml:"num_threads"`
	ComputeErrorVector    bool       `json:"compute_error_vector" yaml:"compute_error_vector"`
	PointCloudShift       [3]float64 `json:"point_cloud_shift" yaml:"point_cloud_shift"`
	RobustThreshold       float64    `json:"robust_threshold" yaml:"robust_threshold"`
	MonoGCPRefine         bool       `json:"mono_gcp_refine" yaml:"mono_gcp_refine"`
	Jitter                Jitter     `json:"jitter" yaml:"jitter"`
	Intrinsics            Intrinsics `json:"intrinsics" yaml:"intrinsics"`
	Matches               Matches    `json:"matches" yaml:"matches"`
}

// Default returns the settings used when a file leaves a value out.
func Default() Settings {
	return Settings{
		Session:            Session{Kind: SessionPinhole},
		UniverseCenter:     UniverseCenterNone,
		TileSize:           256,
		NumThreads:         4,
		ComputeErrorVector: true,
		RobustThreshold:    0.5,
		Jitter:             Jitter{MaxInitReprojError: 10},
		Matches:            Matches{SampleCount: 10000},
	}
}

// Validate ensures all parts of the settings are valid.
func (s *Settings) Validate(path string) error {
	switch s.Session.Kind {
	case SessionPinhole, SessionRPC, SessionCSM, SessionOpticalBar:
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "session.kind")
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown session kind %q", s.Session.Kind))
	}
	switch s.UniverseCenter {
	case UniverseCenterNone, UniverseCenterZero:
	case UniverseCenterCamera:
		if s.Session.Kind == SessionRPC {
			return utils.NewConfigValidationError(path,
				errors.New("universe center \"camera\" is not supported with rpc cameras"))
		}
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "universe_center")
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown universe center %q", s.UniverseCenter))
	}
	r := s.UniverseRadius
	if r.Near < 0 || r.Far < 0 {
		return utils.NewConfigValidationError(path, errors.New("universe radius must be non-negative"))
	}
	if r.Far > 0 && r.Near >= r.Far {
		return utils.NewConfigValidationError(path,
			fmt.Errorf("universe radius near %v must be less than far %v", r.Near, r.Far))
	}
	if s.TileSize <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "tile_size")
	}
	if s.NumThreads <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "num_threads")
	}
	if s.RobustThreshold < 0 {
		return utils.NewConfigValidationError(path, errors.New("robust threshold must be non-negative"))
	}
	if s.MinTriangulationAngle < 0 || s.MinTriangulationAngle >= 90 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("min triangulation angle %v must be in [0, 90)", s.MinTriangulationAngle))
	}
	if s.Jitter.RollWeight < 0 || s.Jitter.YawWeight < 0 {
		return utils.NewConfigValidationError(path, errors.New("jitter weights must be non-negative"))
	}
	if s.Jitter.MaxInitReprojError <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "jitter.max_init_reproj_error")
	}
	if s.Matches.SampleCount <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "matches.sample_count")
	}
	return nil
}
