package geotiff

import (
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfig        = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// TIFF field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
	typeIFD       = 13
	typeLong8     = 16
	typeSLong8    = 17
	typeIFD8      = 18
)

const (
	maxEntries    = 4096
	maxEagerBytes = 1 << 20
)

func typeSize(t uint16) uint64 {
	switch t {
	case typeByte, typeASCII, typeSByte, typeUndefined:
		return 1
	case typeShort, typeSShort:
		return 2
	case typeLong, typeSLong, typeFloat, typeIFD:
		return 4
	case typeRational, typeSRational, typeDouble, typeLong8, typeSLong8, typeIFD8:
		return 8
	}
	return 0
}

// field is one IFD entry. Small values are held inline; larger arrays are
// read from the file on demand so that huge offset tables of tiled maps are
// never loaded whole.
type field struct {
	r      io.ReaderAt
	order  binary.ByteOrder
	typ    uint16
	count  uint64
	inline []byte
	offset int64
}

func (f *field) elems(i, n uint64) ([]byte, error) {
	if i+n > f.count {
		return nil, eris.Wrapf(ErrFormat, "field index %d out of range (count %d)", i+n-1, f.count)
	}
	sz := typeSize(f.typ)
	if f.inline != nil {
		return f.inline[i*sz : (i+n)*sz], nil
	}
	buf := make([]byte, n*sz)
	if _, err := f.r.ReadAt(buf, f.offset+int64(i*sz)); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "geotiff: read field")
	}
	return buf, nil
}

func (f *field) uint(i uint64) (uint64, error) {
	b, err := f.elems(i, 1)
	if err != nil {
		return 0, err
	}
	switch f.typ {
	case typeByte, typeUndefined:
		return uint64(b[0]), nil
	case typeShort:
		return uint64(f.order.Uint16(b)), nil
	case typeLong, typeIFD:
		return uint64(f.order.Uint32(b)), nil
	case typeLong8, typeIFD8:
		return f.order.Uint64(b), nil
	}
	return 0, eris.Wrapf(ErrFormat, "field type %d is not an unsigned integer", f.typ)
}

func (f *field) all() ([]byte, error) {
	if f.count*typeSize(f.typ) > maxEagerBytes {
		return nil, eris.Wrapf(ErrUnsupported, "field of %d elements too large", f.count)
	}
	return f.elems(0, f.count)
}

func (f *field) uints() ([]uint64, error) {
	if _, err := f.all(); err != nil {
		return nil, err
	}
	out := make([]uint64, f.count)
	for i := range out {
		v, err := f.uint(uint64(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *field) floats() ([]float64, error) {
	b, err := f.all()
	if err != nil {
		return nil, err
	}
	sz := int(typeSize(f.typ))
	out := make([]float64, f.count)
	for i := range out {
		e := b[i*sz : (i+1)*sz]
		switch f.typ {
		case typeDouble:
			out[i] = math.Float64frombits(f.order.Uint64(e))
		case typeFloat:
			out[i] = float64(math.Float32frombits(f.order.Uint32(e)))
		case typeByte:
			out[i] = float64(e[0])
		case typeShort:
			out[i] = float64(f.order.Uint16(e))
		case typeLong:
			out[i] = float64(f.order.Uint32(e))
		case typeSShort:
			out[i] = float64(int16(f.order.Uint16(e)))
		case typeSLong:
			out[i] = float64(int32(f.order.Uint32(e)))
		default:
			return nil, eris.Wrapf(ErrFormat, "field type %d is not numeric", f.typ)
		}
	}
	return out, nil
}

func (f *field) ascii() (string, error) {
	if f.typ != typeASCII {
		return "", eris.Wrapf(ErrFormat, "field type %d is not ASCII", f.typ)
	}
	b, err := f.all()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// ifd holds the fields of the first image file directory.
type ifd map[uint16]*field

func (d ifd) uintOr(tag uint16, def uint64) (uint64, error) {
	f, ok := d[tag]
	if !ok || f.count == 0 {
		return def, nil
	}
	return f.uint(0)
}

type header struct {
	order   binary.ByteOrder
	bigTIFF bool
	first   int64
}

func readHeader(r io.ReaderAt) (header, error) {
	buf := make([]byte, 16)
	n, err := r.ReadAt(buf, 0)
	if n < 8 {
		if err == nil || err == io.EOF {
			err = ErrFormat
		}
		return header{}, eris.Wrap(err, "geotiff: read header")
	}

	var h header
	switch string(buf[:2]) {
	case "II":
		h.order = binary.LittleEndian
	case "MM":
		h.order = binary.BigEndian
	default:
		return header{}, eris.Wrapf(ErrFormat, "bad byte order mark %q", buf[:2])
	}

	switch magic := h.order.Uint16(buf[2:4]); magic {
	case 42:
		h.first = int64(h.order.Uint32(buf[4:8]))
	case 43:
		if n < 16 || h.order.Uint16(buf[4:6]) != 8 {
			return header{}, eris.Wrap(ErrFormat, "bad BigTIFF header")
		}
		h.bigTIFF = true
		h.first = int64(h.order.Uint64(buf[8:16]))
	default:
		return header{}, eris.Wrapf(ErrFormat, "bad magic number %d", magic)
	}
	if h.first < 8 {
		return header{}, eris.Wrapf(ErrFormat, "bad first IFD offset %d", h.first)
	}
	return h, nil
}

func readIFD(r io.ReaderAt, h header) (ifd, error) {
	countSize, entrySize, inlineSize := 2, 12, 4
	if h.bigTIFF {
		countSize, entrySize, inlineSize = 8, 20, 8
	}

	cb := make([]byte, countSize)
	if _, err := r.ReadAt(cb, h.first); err != nil {
		return nil, eris.Wrap(err, "geotiff: read IFD entry count")
	}
	var n uint64
	if h.bigTIFF {
		n = h.order.Uint64(cb)
	} else {
		n = uint64(h.order.Uint16(cb))
	}
	if n == 0 || n > maxEntries {
		return nil, eris.Wrapf(ErrFormat, "IFD has %d entries", n)
	}

	buf := make([]byte, int(n)*entrySize)
	if _, err := r.ReadAt(buf, h.first+int64(countSize)); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "geotiff: read IFD")
	}

	d := make(ifd, n)
	for i := 0; i < int(n); i++ {
		e := buf[i*entrySize : (i+1)*entrySize]
		f := &field{r: r, order: h.order, typ: h.order.Uint16(e[2:4])}
		var val []byte
		if h.bigTIFF {
			f.count = h.order.Uint64(e[4:12])
			val = e[12:20]
		} else {
			f.count = uint64(h.order.Uint32(e[4:8]))
			val = e[8:12]
		}

		sz := typeSize(f.typ)
		if sz == 0 {
			continue
		}
		if f.count*sz <= uint64(inlineSize) {
			f.inline = append([]byte{}, val[:f.count*sz]...)
		} else if h.bigTIFF {
			f.offset = int64(h.order.Uint64(val))
		} else {
			f.offset = int64(h.order.Uint32(val))
		}
		d[h.order.Uint16(e[0:2])] = f
	}
	return d, nil
}
