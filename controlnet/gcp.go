package controlnet

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/photogrammetry/cartography"
)

// ReadGCPFile appends the ground control points in path to the network. Each non-comment line
// is
//
//	id lat lon height sigma_lat sigma_lon sigma_height image col row sigma_col sigma_row [image col row ...]
//
// Geodetic positions are converted to body-fixed xyz with the datum. Measures in images not in
// the network are skipped.
func (cnet *ControlNetwork) ReadGCPFile(path string, datum cartography.Datum) error {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open GCP file %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 7 || (len(fields)-7)%5 != 0 {
			return errors.Errorf("%s:%d: expected 7 values followed by groups of 5, got %d values",
				path, lineNum, len(fields))
		}
		vals := make([]float64, 6)
		for i := range vals {
			if vals[i], err = strconv.ParseFloat(fields[i+1], 64); err != nil {
				return errors.Wrapf(err, "%s:%d", path, lineNum)
			}
		}
		cp := ControlPoint{
			ID:       fields[0],
			Type:     GroundControlPoint,
			Position: datum.GeodeticToCartesian(r3.Vector{X: vals[1], Y: vals[0], Z: vals[2]}),
			Sigma:    r3.Vector{X: vals[3], Y: vals[4], Z: vals[5]},
		}
		for g := 7; g < len(fields); g += 5 {
			camIdx := cnet.ImageIndex(fields[g])
			if camIdx < 0 {
				continue
			}
			m := make([]float64, 4)
			for i := range m {
				if m[i], err = strconv.ParseFloat(fields[g+1+i], 64); err != nil {
					return errors.Wrapf(err, "%s:%d", path, lineNum)
				}
			}
			cp.Measures = append(cp.Measures, Measure{
				CameraIndex: camIdx,
				Pixel:       r2.Point{X: m[0], Y: m[1]},
				Sigma:       r2.Point{X: m[2], Y: m[3]},
			})
		}
		if len(cp.Measures) == 0 {
			continue
		}
		if err := cnet.Add(cp); err != nil {
			return err
		}
	}
	return scanner.Err()
}
