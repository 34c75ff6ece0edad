// Package ip holds interest points and reads and writes binary match files. A match file stores
// two equal length lists of interest points, the i-th point of each list matching.
package ip

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// InterestPoint is a feature location with its detector attributes.
type InterestPoint struct {
	X, Y        float64
	Orientation float64
	Scale       float64
	Interest    float64
	Polarity    bool
	Octave      uint32
	ScaleLevel  uint32
	Descriptor  []float64
}

// NewInterestPoint returns a point at (x, y) with unit scale.
func NewInterestPoint(x, y float64) InterestPoint {
	return InterestPoint{X: x, Y: y, Scale: 1}
}

// IntX is the column the point falls in.
func (ip InterestPoint) IntX() int32 { return int32(math.Round(ip.X)) }

// IntY is the row the point falls in.
func (ip InterestPoint) IntY() int32 { return int32(math.Round(ip.Y)) }

// maxDescriptorLen guards against reading garbage as a descriptor size.
const maxDescriptorLen = 1 << 16

type recordWriter struct {
	w   io.Writer
	buf [8]byte
	err error
}

func (rw *recordWriter) write(b []byte) {
	if rw.err != nil {
		return
	}
	_, rw.err = rw.w.Write(b)
}

func (rw *recordWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(rw.buf[:4], v)
	rw.write(rw.buf[:4])
}

func (rw *recordWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(rw.buf[:8], v)
	rw.write(rw.buf[:8])
}

func (rw *recordWriter) f32(v float64) { rw.u32(math.Float32bits(float32(v))) }

func (rw *recordWriter) point(ip InterestPoint) {
	rw.f32(ip.X)
	rw.f32(ip.Y)
	rw.u32(uint32(ip.IntX()))
	rw.u32(uint32(ip.IntY()))
	rw.f32(ip.Orientation)
	rw.f32(ip.Scale)
	rw.f32(ip.Interest)
	if ip.Polarity {
		rw.write([]byte{1})
	} else {
		rw.write([]byte{0})
	}
	rw.u32(ip.Octave)
	rw.u32(ip.ScaleLevel)
	rw.u64(uint64(len(ip.Descriptor)))
	for _, d := range ip.Descriptor {
		rw.f32(d)
	}
}

type recordReader struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (rr *recordReader) read(n int) []byte {
	if rr.err != nil {
		return rr.buf[:n]
	}
	_, rr.err = io.ReadFull(rr.r, rr.buf[:n])
	return rr.buf[:n]
}

func (rr *recordReader) u32() uint32 { return binary.LittleEndian.Uint32(rr.read(4)) }
func (rr *recordReader) u64() uint64 { return binary.LittleEndian.Uint64(rr.read(8)) }
func (rr *recordReader) f32() float64 {
	return float64(math.Float32frombits(rr.u32()))
}

func (rr *recordReader) point() InterestPoint {
	var ip InterestPoint
	ip.X = rr.f32()
	ip.Y = rr.f32()
	rr.u32() // integer position, derived from X and Y
	rr.u32()
	ip.Orientation = rr.f32()
	ip.Scale = rr.f32()
	ip.Interest = rr.f32()
	ip.Polarity = rr.read(1)[0] != 0
	ip.Octave = rr.u32()
	ip.ScaleLevel = rr.u32()
	n := rr.u64()
	if rr.err == nil && n > maxDescriptorLen {
		rr.err = errors.Errorf("descriptor length %d is too large", n)
		return ip
	}
	if n > 0 {
		ip.Descriptor = make([]float64, n)
		for i := range ip.Descriptor {
			ip.Descriptor[i] = rr.f32()
		}
	}
	return ip
}

// WriteMatches writes the two lists. They must have the same length.
func WriteMatches(w io.Writer, left, right []InterestPoint) error {
	if len(left) != len(right) {
		return errors.Errorf("expecting the same number of left and right interest points, got %d and %d",
			len(left), len(right))
	}
	rw := &recordWriter{w: w}
	rw.u64(uint64(len(left)))
	rw.u64(uint64(len(right)))
	for _, ip := range left {
		rw.point(ip)
	}
	for _, ip := range right {
		rw.point(ip)
	}
	return rw.err
}

// ReadMatches reads two lists written by WriteMatches.
func ReadMatches(r io.Reader) ([]InterestPoint, []InterestPoint, error) {
	rr := &recordReader{r: r}
	n1, n2 := rr.u64(), rr.u64()
	if rr.err != nil {
		return nil, nil, errors.Wrap(rr.err, "reading match file header")
	}
	if n1 != n2 {
		return nil, nil, errors.Errorf("match file has %d left and %d right interest points", n1, n2)
	}
	left := make([]InterestPoint, 0, n1)
	right := make([]InterestPoint, 0, n2)
	for i := uint64(0); i < n1 && rr.err == nil; i++ {
		left = append(left, rr.point())
	}
	for i := uint64(0); i < n2 && rr.err == nil; i++ {
		right = append(right, rr.point())
	}
	if rr.err != nil {
		return nil, nil, errors.Wrap(rr.err, "reading interest points")
	}
	return left, right, nil
}

// WriteMatchFile writes the matches to path.
func WriteMatchFile(path string, left, right []InterestPoint) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := WriteMatches(w, left, right); err != nil {
		return errors.Wrapf(err, "writing %q", path)
	}
	return w.Flush()
}

// ReadMatchFile reads the matches in path.
func ReadMatchFile(path string) ([]InterestPoint, []InterestPoint, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	left, right, err := ReadMatches(bufio.NewReader(f))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading %q", path)
	}
	return left, right, nil
}
