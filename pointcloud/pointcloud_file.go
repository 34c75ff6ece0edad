package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/photogrammetry/logging"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// NewFromFile reads points from a LAS or PCD file.
func NewFromFile(fn string, logger logging.Logger) ([]Point, error) {
	switch filepath.Ext(fn) {
	case ".las":
		return NewFromLASFile(fn, logger)
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPCD(f)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// errorNormDataTag marks the variable length record holding per point error norms.
const errorNormDataTag = "pg|err"

// NewFromLASFile returns the points of a LAS file. Points that could lose precision when later
// stored as floats are reported but are not an error.
func NewFromLASFile(fn string, logger logging.Logger) ([]Point, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	var errData []byte
	for _, d := range lf.VlrData {
		if d.Description == errorNormDataTag {
			errData = d.BinaryData
			break
		}
	}
	if errData != nil && len(errData) != 8*lf.Header.NumberPoints {
		return nil, errors.Errorf("error norm record has %d bytes for %d points", len(errData), lf.Header.NumberPoints)
	}

	out := make([]Point, 0, lf.Header.NumberPoints)
	warned := false
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()
		pt := Point{Position: r3.Vector{X: data.X, Y: data.Y, Z: data.Z}}
		if errData != nil {
			pt.ErrNorm = math.Float64frombits(binary.LittleEndian.Uint64(errData[i*8 : i*8+8]))
		}
		meta := NewMetaData()
		meta.Merge(pt)
		if !warned && !meta.precise() {
			logger.Warnw("potential floating point lossiness for LAS point",
				"point", pt.Position, "range", fmt.Sprintf("[%f,%f]", minPreciseFloat32, maxPreciseFloat32))
			warned = true
		}
		out = append(out, pt)
	}
	return out, nil
}

// WriteToLASFile writes points to a LAS file. Error norms go to a variable length record.
func WriteToLASFile(points []Point, meta MetaData, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	if err = lf.AddHeader(lidario.LasHeader{PointFormatID: 0}); err != nil {
		return
	}

	for _, p := range points {
		pr0 := &lidario.PointRecord0{
			X: p.Position.X,
			Y: p.Position.Y,
			Z: p.Position.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			PointSourceID: 1,
		}
		if err = lf.AddLasPoint(pr0); err != nil {
			return
		}
	}
	if meta.HasError {
		var buf bytes.Buffer
		b := make([]byte, 8)
		for _, p := range points {
			binary.LittleEndian.PutUint64(b, math.Float64bits(p.ErrNorm))
			buf.Write(b)
		}
		if err = lf.AddVLR(lidario.VLR{
			Description:             errorNormDataTag,
			BinaryData:              buf.Bytes(),
			RecordLengthAfterHeader: buf.Len(),
		}); err != nil {
			return
		}
	}
	// nolint:nakedret
	return
}

// ToPCD writes points as an unorganized pcd cloud. A non nil runID is stamped into a header
// comment.
func ToPCD(points []Point, meta MetaData, out io.Writer, outputType PCDType, runID uuid.UUID) error {
	if runID != uuid.Nil {
		if _, err := fmt.Fprintf(out, "# run %s\n", runID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(out, "VERSION .7\n"); err != nil {
		return err
	}
	var err error
	if meta.HasError {
		_, err = fmt.Fprintf(out, "FIELDS x y z err\n"+
			"SIZE 4 4 4 4\n"+
			"TYPE F F F F\n"+
			"COUNT 1 1 1 1\n")
	} else {
		_, err = fmt.Fprintf(out, "FIELDS x y z\n"+
			"SIZE 4 4 4\n"+
			"TYPE F F F\n"+
			"COUNT 1 1 1\n")
	}
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		len(points),
		1,
		len(points)); err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		if _, err := fmt.Fprintf(out, "DATA binary\n"); err != nil {
			return err
		}
	case PCDAscii:
		if _, err := fmt.Fprintf(out, "DATA ascii\n"); err != nil {
			return err
		}
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown pcd type %d", outputType)
	}
	return writePCDData(points, meta.HasError, out, outputType)
}

func writePCDData(points []Point, withErr bool, out io.Writer, pcdtype PCDType) error {
	fields := 3
	if withErr {
		fields = 4
	}
	buf := make([]byte, 4*fields)
	for _, p := range points {
		vals := []float64{p.Position.X, p.Position.Y, p.Position.Z, p.ErrNorm}[:fields]
		var err error
		switch pcdtype {
		case PCDBinary:
			for i, v := range vals {
				binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
			}
			_, err = out.Write(buf)
		default:
			strs := make([]string, len(vals))
			for i, v := range vals {
				strs[i] = strconv.FormatFloat(v, 'f', -1, 32)
			}
			_, err = fmt.Fprintln(out, strings.Join(strs, " "))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type pcdFieldType int

const (
	pcdPointOnly  pcdFieldType = 3
	pcdPointError pcdFieldType = 4
)

type pcdHeader struct {
	fields pcdFieldType
	size   []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parseUints(tokens []string, fields pcdFieldType, name string) ([]uint64, error) {
	if len(tokens) != int(fields) {
		return nil, errors.Errorf("unexpected number of fields in %s line", name)
	}
	out := make([]uint64, len(tokens))
	for i, token := range tokens {
		v, err := strconv.ParseUint(token, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid %s field %s", name, token)
		}
		out[i] = v
	}
	return out, nil
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Split(value, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.fields = pcdPointOnly
		case "x y z err":
			header.fields = pcdPointError
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if header.size, err = parseUints(tokens, header.fields, name); err != nil {
			return err
		}
		for _, s := range header.size {
			if s != 4 {
				return errors.Errorf("unsupported field size %d", s)
			}
		}
	case "TYPE":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		for _, token := range tokens {
			if token != "F" {
				return errors.Errorf("unsupported field type %s", token)
			}
		}
	case "COUNT":
		if _, err := parseUints(tokens, header.fields, name); err != nil {
			return err
		}
	case "WIDTH":
		if header.width, err = strconv.ParseUint(value, 10, 64); err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		if header.height, err = strconv.ParseUint(value, 10, 64); err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		if header.points, err = strconv.ParseUint(value, 10, 64); err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data %s", value)
		}
	}
	return nil
}

// ReadPCD reads points written by ToPCD.
func ReadPCD(inRaw io.Reader) ([]Point, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return nil, errors.New("compressed pcd not yet supported")
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) ([]Point, error) {
	out := make([]Point, 0, header.points)
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, err
		}
		tokens := strings.Fields(line)
		if len(tokens) != int(header.fields) {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		vals := make([]float64, len(tokens))
		for j, token := range tokens {
			if vals[j], err = strconv.ParseFloat(token, 64); err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		out = append(out, sliceToPoint(vals))
	}
	return out, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) ([]Point, error) {
	out := make([]Point, 0, header.points)
	buf := make([]byte, 4*int(header.fields))
	vals := make([]float64, int(header.fields))
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		for j := range vals {
			vals[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:])))
		}
		out = append(out, sliceToPoint(vals))
	}
	return out, nil
}

func sliceToPoint(vals []float64) Point {
	p := Point{Position: r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}}
	if len(vals) > 3 {
		p.ErrNorm = vals[3]
	}
	return p
}
