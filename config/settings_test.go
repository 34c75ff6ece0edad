package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestDefaultIsValid(t *testing.T) {
	s := Default()
	test.That(t, s.Validate("settings"), test.ShouldBeNil)
	test.That(t, s.TileSize, test.ShouldEqual, 256)
	test.That(t, s.RobustThreshold, test.ShouldEqual, 0.5)
	test.That(t, s.Jitter.MaxInitReprojError, test.ShouldEqual, 10.0)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(s *Settings)
		err    string
	}{
		{"missing kind", func(s *Settings) { s.Session.Kind = "" }, `"session.kind" is required`},
		{"unknown kind", func(s *Settings) { s.Session.Kind = "isis" }, `unknown session kind "isis"`},
		{
			"rpc camera center",
			func(s *Settings) { s.Session.Kind = SessionRPC; s.UniverseCenter = UniverseCenterCamera },
			"not supported with rpc cameras",
		},
		{"radius order", func(s *Settings) { s.UniverseRadius = UniverseRadius{Near: 10, Far: 1} }, "must be less than far"},
		{"negative radius", func(s *Settings) { s.UniverseRadius.Near = -1 }, "must be non-negative"},
		{"tile size", func(s *Settings) { s.TileSize = 0 }, `"tile_size" is required`},
		{"angle", func(s *Settings) { s.MinTriangulationAngle = 90 }, "must be in [0, 90)"},
		{"weights", func(s *Settings) { s.Jitter.YawWeight = -1 }, "jitter weights"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := Default()
			tc.modify(&s)
			err := s.Validate("settings")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.err)
		})
	}

	s := Default()
	s.Session.Kind = SessionCSM
	s.UniverseCenter = UniverseCenterCamera
	s.UniverseRadius = UniverseRadius{Near: 1, Far: 10}
	test.That(t, s.Validate("settings"), test.ShouldBeNil)
}

func TestRead(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("PG_TILE", "128")
	yamlPath := filepath.Join(dir, "run.yaml")
	yamlText := strings.Join([]string{
		"session:",
		"  kind: csm",
		"  map_projected: true",
		"universe_center: camera",
		"universe_radius:",
		"  near: 1",
		"  far: 10",
		"tile_size: ${PG_TILE}",
		"jitter:",
		"  roll_weight: 2.5",
		"  max_init_reproj_error: 10",
		"",
	}, "\n")
	test.That(t, os.WriteFile(yamlPath, []byte(yamlText), 0o600), test.ShouldBeNil)
	s, err := Read(yamlPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Session, test.ShouldResemble, Session{Kind: SessionCSM, MapProjected: true})
	test.That(t, s.UniverseCenter, test.ShouldEqual, UniverseCenterCamera)
	test.That(t, s.UniverseRadius, test.ShouldResemble, UniverseRadius{Near: 1, Far: 10})
	test.That(t, s.TileSize, test.ShouldEqual, 128)
	test.That(t, s.Jitter.RollWeight, test.ShouldEqual, 2.5)
	// untouched values keep their defaults
	test.That(t, s.RobustThreshold, test.ShouldEqual, 0.5)
	test.That(t, s.NumThreads, test.ShouldEqual, 4)

	jsonPath := filepath.Join(dir, "run.json")
	test.That(t, os.WriteFile(jsonPath, []byte(`{"num_threads": 2, "matches": {"triplets": true}}`), 0o600), test.ShouldBeNil)
	s, err = Read(jsonPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.NumThreads, test.ShouldEqual, 2)
	test.That(t, s.Matches, test.ShouldResemble, Matches{SampleCount: 10000, Triplets: true})

	test.That(t, os.WriteFile(jsonPath, []byte(`{"num_thread": 2}`), 0o600), test.ShouldBeNil)
	_, err = Read(jsonPath)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to decode settings from json")

	test.That(t, os.WriteFile(jsonPath, []byte(`{"tile_size": -4}`), 0o600), test.ShouldBeNil)
	_, err = Read(jsonPath)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
