package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Read reads settings from the given file. Environment variables in the file are expanded. Files
// ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Read(filePath string) (Settings, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return Settings{}, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader decodes settings on top of Default and validates them. originalPath selects the
// codec and names the source in errors.
func FromReader(originalPath string, r io.Reader) (Settings, error) {
	s := Default()
	switch strings.ToLower(filepath.Ext(originalPath)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
			return Settings{}, errors.Wrapf(err, "failed to decode settings from yaml %q", originalPath)
		}
	default:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
			return Settings{}, errors.Wrapf(err, "failed to decode settings from json %q", originalPath)
		}
	}
	if err := s.Validate(originalPath); err != nil {
		return Settings{}, err
	}
	return s, nil
}
