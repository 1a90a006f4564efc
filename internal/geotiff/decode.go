package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff/lzw"
)

// Compression schemes understood by the reader.
const (
	CompressionNone        = 1
	CompressionLZW         = 5
	CompressionDeflate     = 8
	CompressionPackBits    = 32773
	CompressionDeflateAdob = 32946
)

// Sample formats.
const (
	SampleUint  = 1
	SampleInt   = 2
	SampleFloat = 3
)

func supportedCompression(c int) bool {
	switch c {
	case CompressionNone, CompressionLZW, CompressionDeflate, CompressionDeflateAdob, CompressionPackBits:
		return true
	}
	return false
}

// decompress inflates one strip or tile. size is the decoded length the
// block should have; shorter output is returned as is and checked by the
// caller against the bytes it actually needs.
func decompress(compression int, raw []byte, size int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return raw, nil
	case CompressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close() //nolint:errcheck
		return readUpTo(rc, size)
	case CompressionDeflate, CompressionDeflateAdob:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, eris.Wrap(err, "geotiff: deflate")
		}
		defer zr.Close() //nolint:errcheck
		return readUpTo(zr, size)
	case CompressionPackBits:
		return unpackBits(raw, size)
	}
	return nil, eris.Wrapf(ErrUnsupported, "compression %d", compression)
}

func readUpTo(r io.Reader, size int) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, int64(size)))
	if err != nil && len(out) < size {
		return out, eris.Wrap(err, "geotiff: decompress block")
	}
	return out, nil
}

func unpackBits(src []byte, size int) ([]byte, error) {
	dst := make([]byte, 0, size)
	for i := 0; i < len(src) && len(dst) < size; {
		n := int8(src[i])
		i++
		switch {
		case n >= 0:
			cnt := int(n) + 1
			if i+cnt > len(src) {
				return dst, eris.Wrap(ErrFormat, "packbits: literal run past end of block")
			}
			dst = append(dst, src[i:i+cnt]...)
			i += cnt
		case n != -128:
			if i >= len(src) {
				return dst, eris.Wrap(ErrFormat, "packbits: repeat run past end of block")
			}
			dst = append(dst, bytes.Repeat(src[i:i+1], 1-int(n))...)
			i++
		}
	}
	return dst, nil
}

// undoHorizontalPredictor reverses TIFF predictor 2 on one row in place.
// stride is the number of samples per pixel within the row.
func undoHorizontalPredictor(row []byte, order binary.ByteOrder, bytesPerSample, stride int) {
	n := len(row) / bytesPerSample
	for i := stride; i < n; i++ {
		cur := row[i*bytesPerSample : (i+1)*bytesPerSample]
		prev := row[(i-stride)*bytesPerSample : (i-stride+1)*bytesPerSample]
		switch bytesPerSample {
		case 1:
			cur[0] += prev[0]
		case 2:
			order.PutUint16(cur, order.Uint16(cur)+order.Uint16(prev))
		case 4:
			order.PutUint32(cur, order.Uint32(cur)+order.Uint32(prev))
		case 8:
			order.PutUint64(cur, order.Uint64(cur)+order.Uint64(prev))
		}
	}
}

func decodeSample(b []byte, order binary.ByteOrder, format int) float64 {
	switch format {
	case SampleFloat:
		if len(b) == 4 {
			return float64(math.Float32frombits(order.Uint32(b)))
		}
		return math.Float64frombits(order.Uint64(b))
	case SampleInt:
		switch len(b) {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(order.Uint16(b)))
		case 4:
			return float64(int32(order.Uint32(b)))
		default:
			return float64(int64(order.Uint64(b)))
		}
	default:
		switch len(b) {
		case 1:
			return float64(b[0])
		case 2:
			return float64(order.Uint16(b))
		case 4:
			return float64(order.Uint32(b))
		default:
			return float64(order.Uint64(b))
		}
	}
}
