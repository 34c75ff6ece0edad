package ba

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/photogrammetry/camera"
	"go.viam.com/photogrammetry/spatialmath"
)

// ErrCSMScale is returned when a similarity with non-unit scale reaches a CSM camera. CSM
// sample arrays have no scale degree of freedom.
var ErrCSMScale = camera.ErrCSMScale

func checkCSMScale(sim spatialmath.Similarity) error {
	if math.Abs(sim.Scale-1) > camera.CSMScaleTolerance {
		return errors.Wrapf(ErrCSMScale, "scale is %.17g", sim.Scale)
	}
	return nil
}

func checkCameraCount(ps *ParamStorage, cams []camera.Model) error {
	if len(cams) != ps.NumCameras() {
		return errors.Errorf("expecting %d cameras, got %d", ps.NumCameras(), len(cams))
	}
	return nil
}

// TransformedCopy returns a deep copy of cam moved by sim. cam is not modified.
func TransformedCopy(cam camera.Model, sim spatialmath.Similarity) (camera.Model, error) {
	out := cam.Clone()
	if err := out.ApplyTransform(sim); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyTransformToCameras moves every live camera by sim and packs it again into the store.
// Pinhole, optical bar and CSM records are rewritten from the moved camera with their
// intrinsics multipliers reset; adjusted cameras get their adjustment recomputed.
func ApplyTransformToCameras(sim spatialmath.Similarity, ps *ParamStorage, cams []camera.Model) error {
	if err := checkCameraCount(ps, cams); err != nil {
		return err
	}
	for i, cam := range cams {
		if err := camera.Visit(cam, &liveTransformer{ps: ps, i: i, sim: sim}); err != nil {
			return errors.Wrapf(err, "camera %d", i)
		}
	}
	return nil
}

type liveTransformer struct {
	ps  *ParamStorage
	i   int
	sim spatialmath.Similarity
}

func (lt *liveTransformer) VisitPinhole(cam *camera.Pinhole) error {
	if err := cam.ApplyTransform(lt.sim); err != nil {
		return err
	}
	return lt.ps.PackPinhole(cam, lt.i)
}

func (lt *liveTransformer) VisitOpticalBar(cam *camera.OpticalBar) error {
	if err := cam.ApplyTransform(lt.sim); err != nil {
		return err
	}
	return lt.ps.PackOpticalBar(cam, lt.i)
}

func (lt *liveTransformer) VisitCSMFrame(cam *camera.CSMFrame) error {
	if err := cam.ApplyTransform(lt.sim); err != nil {
		return err
	}
	return lt.ps.PackCSM(cam, lt.i)
}

func (lt *liveTransformer) VisitCSMLinescan(cam *camera.CSMLinescan) error {
	if err := cam.ApplyTransform(lt.sim); err != nil {
		return err
	}
	return lt.ps.PackCSM(cam, lt.i)
}

func (lt *liveTransformer) VisitAdjusted(cam *camera.Adjusted) error {
	if err := cam.ApplyTransform(lt.sim); err != nil {
		return err
	}
	return lt.ps.PackAdjusted(cam, lt.i)
}

// ApplyTransformToParams composes sim into the camera records of the store and leaves the
// cameras alone. cams are the cameras the records were packed from. Cameras built afterwards
// with TransformedCamera project like cameras moved with ApplyTransformToCameras.
func ApplyTransformToParams(sim spatialmath.Similarity, ps *ParamStorage, cams []camera.Model) error {
	if err := checkCameraCount(ps, cams); err != nil {
		return err
	}
	pt := &paramTransformer{ps: ps, sim: sim, scaledGroups: map[int]bool{}}
	for i, cam := range cams {
		pt.i = i
		if err := camera.Visit(cam, pt); err != nil {
			return errors.Wrapf(err, "camera %d", i)
		}
	}
	return nil
}

type paramTransformer struct {
	ps  *ParamStorage
	i   int
	sim spatialmath.Similarity
	// optical bar speed multipliers already scaled, so shared intrinsics scale once
	scaledGroups map[int]bool
}

func (pt *paramTransformer) composeAbsolute() {
	rec := pt.ps.CameraPtr(pt.i)
	adj := NewCameraAdjustment(rec)
	adj.Position = pt.sim.Apply(adj.Position)
	adj.Pose = pt.sim.R.Mul(adj.Rotation()).Quaternion()
	adj.PackToArray(rec)
}

func (pt *paramTransformer) composeAdjustment(wrap func(*CameraAdjustment) *camera.Adjusted) error {
	rec := pt.ps.CameraPtr(pt.i)
	adj := NewCameraAdjustment(rec)
	adjusted := wrap(&adj)
	if err := adjusted.ApplyTransform(pt.sim); err != nil {
		return err
	}
	adj.CopyFromAdjusted(adjusted)
	adj.PackToArray(rec)
	return nil
}

func (pt *paramTransformer) VisitPinhole(cam *camera.Pinhole) error {
	pt.composeAbsolute()
	return nil
}

func (pt *paramTransformer) VisitOpticalBar(cam *camera.OpticalBar) error {
	pt.composeAbsolute()
	g := pt.ps.IntrinsicsGroup(pt.i)
	if !pt.scaledGroups[g] {
		pt.ps.IntrinsicDistortionPtr(pt.i)[0] *= pt.sim.Scale
		pt.scaledGroups[g] = true
	}
	return nil
}

func (pt *paramTransformer) VisitCSMFrame(cam *camera.CSMFrame) error {
	return pt.visitCSM(cam)
}

func (pt *paramTransformer) VisitCSMLinescan(cam *camera.CSMLinescan) error {
	return pt.visitCSM(cam)
}

func (pt *paramTransformer) visitCSM(cam camera.Model) error {
	if err := checkCSMScale(pt.sim); err != nil {
		return err
	}
	return pt.composeAdjustment(func(adj *CameraAdjustment) *camera.Adjusted {
		return adj.Adjusted(cam)
	})
}

func (pt *paramTransformer) VisitAdjusted(cam *camera.Adjusted) error {
	return pt.composeAdjustment(func(adj *CameraAdjustment) *camera.Adjusted {
		return &camera.Adjusted{
			Base:           cam.Base,
			Translation:    adj.Position,
			Rotation:       adj.Pose,
			RotationCenter: cam.RotationCenter,
			Scale:          1,
		}
	})
}

// TransformedPinhole returns a copy of in with the pose of record i and its intrinsics scaled by
// the multipliers.
func TransformedPinhole(ps *ParamStorage, i int, in *camera.Pinhole) (*camera.Pinhole, error) {
	if err := ps.checkCamera(i); err != nil {
		return nil, err
	}
	out, ok := in.Clone().(*camera.Pinhole)
	if !ok {
		return nil, errors.New("pinhole clone is not a pinhole")
	}
	adj := NewCameraAdjustment(ps.CameraPtr(i))
	out.Center = adj.Position
	out.Rotation = adj.Rotation()
	intr, err := ps.multipliedIntrinsics(i, in.Intrinsics())
	if err != nil {
		return nil, err
	}
	if err := out.SetIntrinsics(intr); err != nil {
		return nil, err
	}
	return out, nil
}

// TransformedOpticalBar returns a copy of in with the pose of record i and its intrinsics
// scaled by the multipliers.
func TransformedOpticalBar(ps *ParamStorage, i int, in *camera.OpticalBar) (*camera.OpticalBar, error) {
	if err := ps.checkCamera(i); err != nil {
		return nil, err
	}
	out, ok := in.Clone().(*camera.OpticalBar)
	if !ok {
		return nil, errors.New("optical bar clone is not an optical bar")
	}
	adj := NewCameraAdjustment(ps.CameraPtr(i))
	out.Center = adj.Position
	out.Rotation = adj.Rotation()
	intr, err := ps.multipliedIntrinsics(i, in.Intrinsics())
	if err != nil {
		return nil, err
	}
	if err := out.SetIntrinsics(intr); err != nil {
		return nil, err
	}
	return out, nil
}

// TransformedCSM returns a copy of in with its intrinsics scaled by the multipliers and the
// adjustment of record i applied to its samples.
func TransformedCSM(ps *ParamStorage, i int, in camera.Model) (camera.Model, error) {
	if err := ps.checkCamera(i); err != nil {
		return nil, err
	}
	if k := in.Kind(); k != camera.KindCSMFrame && k != camera.KindCSMLinescan {
		return nil, errors.Errorf("camera %d is %v, expected a CSM camera", i, k)
	}
	adj := NewCameraAdjustment(ps.CameraPtr(i))
	sim := adj.Similarity(adj.Adjusted(in).RotationCenter)
	out := in.Clone()
	intr, err := ps.multipliedIntrinsics(i, in.Intrinsics())
	if err != nil {
		return nil, err
	}
	if err := out.SetIntrinsics(intr); err != nil {
		return nil, err
	}
	if err := out.ApplyTransform(sim); err != nil {
		return nil, err
	}
	return out, nil
}

// TransformedAdjusted returns a copy of in carrying the adjustment of record i.
func TransformedAdjusted(ps *ParamStorage, i int, in *camera.Adjusted) (*camera.Adjusted, error) {
	if err := ps.checkCamera(i); err != nil {
		return nil, err
	}
	adj := NewCameraAdjustment(ps.CameraPtr(i))
	return &camera.Adjusted{
		Base:           in.Base.Clone(),
		Translation:    adj.Position,
		Rotation:       adj.Pose,
		RotationCenter: in.RotationCenter,
		Scale:          1,
	}, nil
}

// TransformedCamera builds the camera described by record i from the nominal camera in.
func TransformedCamera(ps *ParamStorage, i int, in camera.Model) (camera.Model, error) {
	u := &unpacker{ps: ps, i: i}
	if err := camera.Visit(in, u); err != nil {
		return nil, errors.Wrapf(err, "camera %d", i)
	}
	return u.out, nil
}

// TransformedCameras builds every camera of the store.
func TransformedCameras(ps *ParamStorage, cams []camera.Model) ([]camera.Model, error) {
	if err := checkCameraCount(ps, cams); err != nil {
		return nil, err
	}
	out := make([]camera.Model, len(cams))
	for i, cam := range cams {
		m, err := TransformedCamera(ps, i, cam)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

type unpacker struct {
	ps  *ParamStorage
	i   int
	out camera.Model
}

func (u *unpacker) VisitPinhole(cam *camera.Pinhole) error {
	out, err := TransformedPinhole(u.ps, u.i, cam)
	u.out = out
	return err
}

func (u *unpacker) VisitOpticalBar(cam *camera.OpticalBar) error {
	out, err := TransformedOpticalBar(u.ps, u.i, cam)
	u.out = out
	return err
}

func (u *unpacker) VisitCSMFrame(cam *camera.CSMFrame) error {
	out, err := TransformedCSM(u.ps, u.i, cam)
	u.out = out
	return err
}

func (u *unpacker) VisitCSMLinescan(cam *camera.CSMLinescan) error {
	out, err := TransformedCSM(u.ps, u.i, cam)
	u.out = out
	return err
}

func (u *unpacker) VisitAdjusted(cam *camera.Adjusted) error {
	out, err := TransformedAdjusted(u.ps, u.i, cam)
	u.out = out
	return err
}
