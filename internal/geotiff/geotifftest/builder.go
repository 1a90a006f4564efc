// Package geotifftest builds small GeoTIFF files for tests.
package geotifftest

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/binary"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
)

// SampleType selects the pixel encoding.
type SampleType int

const (
	Int16 SampleType = iota
	Int32
	Uint8
	Uint16
	Float32
	Float64
)

func (t SampleType) bits() int {
	switch t {
	case Uint8:
		return 8
	case Int16, Uint16:
		return 16
	case Int32, Float32:
		return 32
	default:
		return 64
	}
}

func (t SampleType) format() int {
	switch t {
	case Int16, Int32:
		return 2
	case Float32, Float64:
		return 3
	default:
		return 1
	}
}

// Compression codes written to the file.
const (
	None     = 1
	LZW      = 5
	Deflate  = 8
	PackBits = 32773
)

// Builder describes a single-band GeoTIFF. The zero value plus Width, Height
// and Values gives an uncompressed, stripped, little-endian classic TIFF with
// one-degree pixels whose upper-left corner is (0, 0).
//
// LZW output is produced with compress/lzw, which matches the TIFF variant
// only while the code width stays at 9 bits, so keep LZW blocks under about
// 200 bytes.
type Builder struct {
	Width, Height int
	// Values holds Width*Height samples in row-major order.
	Values []float64
	Type   SampleType

	Compression  int
	Predictor    bool
	RowsPerStrip int
	TileWidth    int
	TileHeight   int

	// Origin is the upper-left corner (x, y) and PixelSize the positive
	// pixel extent (dx, dy).
	Origin         [2]float64
	PixelSize      [2]float64
	Transformation bool
	PixelIsPoint   bool
	Projected      bool
	NoGeoKeys      bool
	NoGeoreference bool

	// NoData is written as the GDAL_NODATA tag when non-empty.
	NoData string

	BigEndian bool
	BigTIFF   bool
}

// Fill returns w*h copies of v.
func Fill(w, h int, v float64) []float64 {
	out := make([]float64, w*h)
	for i := range out {
		out[i] = v
	}
	return out
}

// Ramp returns w*h values where pixel (col, row) holds row*100+col.
func Ramp(w, h int) []float64 {
	out := make([]float64, w*h)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			out[r*w+c] = float64(r*100 + c)
		}
	}
	return out
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte
}

type writer struct {
	order binary.ByteOrder
	big   bool
}

func (w writer) shorts(tag uint16, vs ...uint64) entry {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		w.order.PutUint16(b[2*i:], uint16(v))
	}
	return entry{tag: tag, typ: 3, count: uint64(len(vs)), data: b}
}

func (w writer) offsets(tag uint16, vs []uint64) entry {
	if w.big {
		b := make([]byte, 8*len(vs))
		for i, v := range vs {
			w.order.PutUint64(b[8*i:], v)
		}
		return entry{tag: tag, typ: 16, count: uint64(len(vs)), data: b}
	}
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		w.order.PutUint32(b[4*i:], uint32(v))
	}
	return entry{tag: tag, typ: 4, count: uint64(len(vs)), data: b}
}

func (w writer) doubles(tag uint16, vs ...float64) entry {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		w.order.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return entry{tag: tag, typ: 12, count: uint64(len(vs)), data: b}
}

func ascii(tag uint16, s string) entry {
	b := append([]byte(s), 0)
	return entry{tag: tag, typ: 2, count: uint64(len(b)), data: b}
}

func (b Builder) putSample(dst []byte, order binary.ByteOrder, v float64) {
	switch b.Type {
	case Uint8:
		dst[0] = uint8(v)
	case Int16:
		order.PutUint16(dst, uint16(int16(v)))
	case Uint16:
		order.PutUint16(dst, uint16(v))
	case Int32:
		order.PutUint32(dst, uint32(int32(v)))
	case Float32:
		order.PutUint32(dst, math.Float32bits(float32(v)))
	case Float64:
		order.PutUint64(dst, math.Float64bits(v))
	}
}

func (b Builder) predict(row []byte, order binary.ByteOrder) {
	bps := b.Type.bits() / 8
	for i := len(row)/bps - 1; i > 0; i-- {
		cur := row[i*bps : (i+1)*bps]
		prev := row[(i-1)*bps : i*bps]
		switch bps {
		case 1:
			cur[0] -= prev[0]
		case 2:
			order.PutUint16(cur, order.Uint16(cur)-order.Uint16(prev))
		case 4:
			order.PutUint32(cur, order.Uint32(cur)-order.Uint32(prev))
		case 8:
			order.PutUint64(cur, order.Uint64(cur)-order.Uint64(prev))
		}
	}
}

// block encodes the pixels [col0, col0+bw) x [row0, row0+bh). Pixels beyond
// the image are zero.
func (b Builder) block(order binary.ByteOrder, col0, row0, bw, bh int) ([]byte, error) {
	bps := b.Type.bits() / 8
	raw := make([]byte, bw*bh*bps)
	for r := 0; r < bh; r++ {
		line := raw[r*bw*bps : (r+1)*bw*bps]
		for c := 0; c < bw; c++ {
			col, row := col0+c, row0+r
			if col < b.Width && row < b.Height {
				b.putSample(line[c*bps:], order, b.Values[row*b.Width+col])
			}
		}
		if b.Predictor {
			b.predict(line, order)
		}
	}

	var buf bytes.Buffer
	switch b.Compression {
	case 0, None:
		return raw, nil
	case Deflate:
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case LZW:
		lw := lzw.NewWriter(&buf, lzw.MSB, 8)
		if _, err := lw.Write(raw); err != nil {
			return nil, err
		}
		if err := lw.Close(); err != nil {
			return nil, err
		}
	case PackBits:
		buf.Write(packBits(raw))
	default:
		return nil, eris.Errorf("geotifftest: unknown compression %d", b.Compression)
	}
	return buf.Bytes(), nil
}

func packBits(src []byte) []byte {
	var out []byte
	for i := 0; i < len(src); {
		run := 1
		for i+run < len(src) && run < 128 && src[i+run] == src[i] {
			run++
		}
		if run >= 3 {
			out = append(out, byte(int8(1-run)), src[i])
			i += run
			continue
		}
		lit := 1
		for i+lit < len(src) && lit < 128 {
			if i+lit+2 < len(src) && src[i+lit] == src[i+lit+1] && src[i+lit] == src[i+lit+2] {
				break
			}
			lit++
		}
		out = append(out, byte(lit-1))
		out = append(out, src[i:i+lit]...)
		i += lit
	}
	return out
}

// Bytes encodes the raster.
func (b Builder) Bytes() ([]byte, error) {
	if b.Width <= 0 || b.Height <= 0 || len(b.Values) != b.Width*b.Height {
		return nil, eris.Errorf("geotifftest: %d values for %dx%d image", len(b.Values), b.Width, b.Height)
	}
	if b.PixelSize == [2]float64{} {
		b.PixelSize = [2]float64{1, 1}
	}

	w := writer{order: binary.LittleEndian, big: b.BigTIFF}
	var out bytes.Buffer
	if b.BigEndian {
		w.order = binary.BigEndian
		out.WriteString("MM")
	} else {
		out.WriteString("II")
	}
	hdr := make([]byte, 6)
	if b.BigTIFF {
		hdr = make([]byte, 14)
		w.order.PutUint16(hdr[0:], 43)
		w.order.PutUint16(hdr[2:], 8)
	} else {
		w.order.PutUint16(hdr[0:], 42)
	}
	out.Write(hdr)

	bw, bh := b.Width, b.Height
	tiled := b.TileWidth > 0 && b.TileHeight > 0
	if tiled {
		bw, bh = b.TileWidth, b.TileHeight
	} else if b.RowsPerStrip > 0 {
		bh = b.RowsPerStrip
	}

	var offs, counts []uint64
	for row0 := 0; row0 < b.Height; row0 += bh {
		for col0 := 0; col0 < b.Width; col0 += bw {
			h := bh
			if !tiled {
				h = min(bh, b.Height-row0)
			}
			data, err := b.block(w.order, col0, row0, bw, h)
			if err != nil {
				return nil, err
			}
			offs = append(offs, uint64(out.Len()))
			counts = append(counts, uint64(len(data)))
			out.Write(data)
		}
	}

	entries := []entry{
		w.shorts(256, uint64(b.Width)),
		w.shorts(257, uint64(b.Height)),
		w.shorts(258, uint64(b.Type.bits())),
		w.shorts(259, uint64(max(b.Compression, None))),
		w.shorts(262, 1),
		w.shorts(277, 1),
		w.shorts(284, 1),
		w.shorts(339, uint64(b.Type.format())),
	}
	if b.Predictor {
		entries = append(entries, w.shorts(317, 2))
	}
	if tiled {
		entries = append(entries,
			w.shorts(322, uint64(bw)),
			w.shorts(323, uint64(bh)),
			w.offsets(324, offs),
			w.offsets(325, counts),
		)
	} else {
		entries = append(entries,
			w.offsets(273, offs),
			w.shorts(278, uint64(bh)),
			w.offsets(279, counts),
		)
	}

	if !b.NoGeoreference {
		sx, sy := b.PixelSize[0], b.PixelSize[1]
		ox, oy := b.Origin[0], b.Origin[1]
		if b.PixelIsPoint {
			ox, oy = ox+sx/2, oy-sy/2
		}
		if b.Transformation {
			entries = append(entries, w.doubles(34264,
				sx, 0, 0, ox,
				0, -sy, 0, oy,
				0, 0, 0, 0,
				0, 0, 0, 1))
		} else {
			entries = append(entries,
				w.doubles(33550, sx, sy, 0),
				w.doubles(33922, 0, 0, 0, ox, oy, 0))
		}
	}
	if !b.NoGeoKeys {
		model, rasterType := uint64(2), uint64(1)
		if b.Projected {
			model = 1
		}
		if b.PixelIsPoint {
			rasterType = 2
		}
		crsKey, crs := uint64(2048), uint64(4326)
		if b.Projected {
			crsKey, crs = 3072, 3035
		}
		entries = append(entries, w.shorts(34735,
			1, 1, 0, 3,
			1024, 0, 1, model,
			1025, 0, 1, rasterType,
			crsKey, 0, 1, crs))
	}
	if b.NoData != "" {
		entries = append(entries, ascii(42113, b.NoData))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	if out.Len()%2 == 1 {
		out.WriteByte(0)
	}
	ifdOff := uint64(out.Len())
	countSize, entrySize, inline, nextSize := 2, 12, 4, 4
	if b.BigTIFF {
		countSize, entrySize, inline, nextSize = 8, 20, 8, 8
	}
	ext := ifdOff + uint64(countSize+len(entries)*entrySize+nextSize)

	var dir, tail bytes.Buffer
	putN := func(buf *bytes.Buffer, size int, v uint64) {
		tmp := make([]byte, 8)
		switch size {
		case 2:
			w.order.PutUint16(tmp, uint16(v))
		case 4:
			w.order.PutUint32(tmp, uint32(v))
		default:
			w.order.PutUint64(tmp, v)
		}
		buf.Write(tmp[:size])
	}
	putN(&dir, countSize, uint64(len(entries)))
	for _, e := range entries {
		putN(&dir, 2, uint64(e.tag))
		putN(&dir, 2, uint64(e.typ))
		putN(&dir, inline, e.count)
		if len(e.data) <= inline {
			val := make([]byte, inline)
			copy(val, e.data)
			dir.Write(val)
			continue
		}
		putN(&dir, inline, ext+uint64(tail.Len()))
		tail.Write(e.data)
		if tail.Len()%2 == 1 {
			tail.WriteByte(0)
		}
	}
	putN(&dir, nextSize, 0)

	out.Write(dir.Bytes())
	out.Write(tail.Bytes())

	file := out.Bytes()
	if b.BigTIFF {
		w.order.PutUint64(file[8:], ifdOff)
	} else {
		w.order.PutUint32(file[4:], uint32(ifdOff))
	}
	return file, nil
}

// MustBytes is Bytes that panics on error.
func (b Builder) MustBytes() []byte {
	data, err := b.Bytes()
	if err != nil {
		panic(err)
	}
	return data
}

// WriteFile encodes the raster to path.
func (b Builder) WriteFile(path string) error {
	data, err := b.Bytes()
	if err != nil {
		return err
	}
	return eris.Wrap(os.WriteFile(path, data, 0o644), "geotifftest: write file")
}

// FormatNoData renders v the way GDAL writes GDAL_NODATA.
func FormatNoData(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
