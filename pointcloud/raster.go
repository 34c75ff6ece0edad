package pointcloud

import (
	"bufio"
	"encoding/binary"
	"image"
	"io"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/photogrammetry/logging"
	"go.viam.com/photogrammetry/stereo"
	putils "go.viam.com/photogrammetry/utils"
)

// CenterSuffix names the file holding the center of a raster written by WriteRaster.
const CenterSuffix = "-center.txt"

var rasterMagic = [4]byte{'P', 'G', 'P', 'C'}

// rasterHeader precedes the pixels, band interleaved, one row after the other.
type rasterHeader struct {
	Magic  [4]byte
	Bands  uint32
	MinX   int32
	MinY   int32
	Width  uint32
	Height uint32
}

// RasterOptions control WriteRaster.
type RasterOptions struct {
	// Center is subtracted from every valid point before it is narrowed to float32.
	Center r3.Vector
	// WithError adds a fourth band holding the error norm.
	WithError bool
}

// WriteRaster stores the cloud as a float32 raster at fn and the center next to it. Pixels without
// a point stay zero.
func WriteRaster(fn string, cloud *stereo.Cloud, opts RasterOptions, logger logging.Logger) (err error) {
	bands := 3
	if opts.WithError {
		bands = 4
	}
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)

	header := rasterHeader{
		Magic:  rasterMagic,
		Bands:  uint32(bands),
		MinX:   int32(cloud.Rect.Min.X),
		MinY:   int32(cloud.Rect.Min.Y),
		Width:  uint32(cloud.Rect.Dx()),
		Height: uint32(cloud.Rect.Dy()),
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}

	meta := NewMetaData()
	row := make([]float32, bands*cloud.Rect.Dx())
	for y := 0; y < cloud.Rect.Dy(); y++ {
		for x := 0; x < cloud.Rect.Dx(); x++ {
			px := row[x*bands : (x+1)*bands]
			p := cloud.Points[y*cloud.Rect.Dx()+x]
			if !p.IsValid() {
				for i := range px {
					px[i] = 0
				}
				continue
			}
			pt := Point{Position: p.XYZ.Sub(opts.Center), ErrNorm: p.Err.Norm()}
			meta.Merge(pt)
			px[0], px[1], px[2] = float32(pt.Position.X), float32(pt.Position.Y), float32(pt.Position.Z)
			if opts.WithError {
				px[3] = float32(pt.ErrNorm)
			}
		}
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if meta.MinX <= meta.MaxX && !meta.precise() {
		logger.Warnw("point cloud extends past float32 millimeter precision, consider a point cloud shift",
			"file", fn, "center", opts.Center)
	}
	return stereo.WriteCloudCenter(putils.SiblingFile(fn, CenterSuffix), opts.Center)
}

// ReadRaster reads a raster written by WriteRaster and adds its center back. The error band, when
// present, is stored in the first component of each error vector.
func ReadRaster(fn string) (*stereo.Cloud, error) {
	center, err := stereo.ReadCloudCenter(putils.SiblingFile(fn, CenterSuffix))
	if err != nil {
		return nil, err
	}
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return decodeRaster(bufio.NewReader(f), center)
}

func decodeRaster(r io.Reader, center r3.Vector) (*stereo.Cloud, error) {
	var header rasterHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading raster header")
	}
	if header.Magic != rasterMagic {
		return nil, errors.New("not a point cloud raster")
	}
	if header.Bands != 3 && header.Bands != 4 {
		return nil, errors.Errorf("unsupported number of bands %d", header.Bands)
	}
	bands := int(header.Bands)
	rect := image.Rect(int(header.MinX), int(header.MinY),
		int(header.MinX)+int(header.Width), int(header.MinY)+int(header.Height))
	cloud := stereo.NewCloud(rect)
	row := make([]float32, bands*rect.Dx())
	for y := 0; y < rect.Dy(); y++ {
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, errors.Wrapf(err, "reading raster row %d", y)
		}
		for x := 0; x < rect.Dx(); x++ {
			px := row[x*bands : (x+1)*bands]
			p := r3.Vector{X: float64(px[0]), Y: float64(px[1]), Z: float64(px[2])}
			if p == (r3.Vector{}) {
				continue
			}
			cp := stereo.CloudPoint{XYZ: p.Add(center)}
			if bands == 4 {
				cp.Err = r3.Vector{X: float64(px[3])}
			}
			cloud.Points[y*rect.Dx()+x] = cp
		}
	}
	return cloud, nil
}
