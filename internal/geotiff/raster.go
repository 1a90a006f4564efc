// Package geotiff reads single pixels from GeoTIFF rasters in geographic
// coordinates. Only the directory, the offset table entries and the one
// strip or tile holding the pixel are read, so an io.ReaderAt backed by HTTP
// range requests can sample multi-gigabyte maps.
package geotiff

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// DefaultNoData is assumed when a raster carries no GDAL_NODATA tag.
const DefaultNoData = -9999

// GeoKey IDs and values used by the reader.
const (
	keyModelType       = 1024
	keyRasterType      = 1025
	keyGeographicType  = 2048
	keyProjectedCSType = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsPoint  = 2
)

// GeoTransform maps pixel space to model space in GDAL order:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
type GeoTransform [6]float64

// Apply returns the model coordinate of the given (fractional) pixel position.
func (gt GeoTransform) Apply(col, row float64) (x, y float64) {
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// Invert returns the inverse transform.
func (gt GeoTransform) Invert() (GeoTransform, error) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 || math.IsNaN(det) {
		return GeoTransform{}, eris.Wrap(ErrFormat, "degenerate geotransform")
	}
	inv := 1 / det
	return GeoTransform{
		(gt[2]*gt[3] - gt[0]*gt[5]) * inv,
		gt[5] * inv,
		-gt[2] * inv,
		(-gt[1]*gt[3] + gt[0]*gt[4]) * inv,
		-gt[4] * inv,
		gt[1] * inv,
	}, nil
}

// Option configures Open.
type Option func(*Raster)

// WithNoData sets the sentinel used when the file has no GDAL_NODATA tag.
func WithNoData(v float64) Option {
	return func(r *Raster) { r.fallbackNoData = v }
}

// Raster is an open GeoTIFF. It is safe for concurrent use as long as the
// underlying io.ReaderAt is.
type Raster struct {
	r   io.ReaderAt
	hdr header

	width           int
	height          int
	bytesPerSample  int
	samplesPerPixel int
	sampleFormat    int
	compression     int
	predictor       int
	planar          int

	tiled          bool
	blockW, blockH int
	across, down   int
	offsets        *field
	counts         *field

	gt     GeoTransform
	inv    GeoTransform
	bounds *geom.Bounds
	epsg   int

	noData         float64
	tagged         bool
	fallbackNoData float64
}

// Open parses the first image of a GeoTIFF.
func Open(r io.ReaderAt, opts ...Option) (*Raster, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	d, err := readIFD(r, hdr)
	if err != nil {
		return nil, err
	}

	ras := &Raster{r: r, hdr: hdr, fallbackNoData: DefaultNoData}
	for _, o := range opts {
		o(ras)
	}
	if err := ras.loadLayout(d); err != nil {
		return nil, err
	}
	if err := ras.loadGeoreference(d); err != nil {
		return nil, err
	}
	if err := ras.loadNoData(d); err != nil {
		return nil, err
	}
	return ras, nil
}

func (ras *Raster) loadLayout(d ifd) error {
	w, err := d.uintOr(tagImageWidth, 0)
	if err != nil {
		return err
	}
	h, err := d.uintOr(tagImageLength, 0)
	if err != nil {
		return err
	}
	if w == 0 || h == 0 || w > math.MaxInt32 || h > math.MaxInt32 {
		return eris.Wrapf(ErrFormat, "bad image size %dx%d", w, h)
	}
	ras.width, ras.height = int(w), int(h)

	bps, err := d.uintOr(tagBitsPerSample, 1)
	if err != nil {
		return err
	}
	switch bps {
	case 8, 16, 32, 64:
	default:
		return eris.Wrapf(ErrUnsupported, "%d bits per sample", bps)
	}
	ras.bytesPerSample = int(bps / 8)

	vals := map[uint16]*int{
		tagSamplesPerPixel: &ras.samplesPerPixel,
		tagSampleFormat:    &ras.sampleFormat,
		tagCompression:     &ras.compression,
		tagPredictor:       &ras.predictor,
		tagPlanarConfig:    &ras.planar,
	}
	for tag, dst := range vals {
		v, err := d.uintOr(tag, 1)
		if err != nil {
			return err
		}
		*dst = int(v)
	}

	if ras.samplesPerPixel < 1 {
		return eris.Wrapf(ErrFormat, "%d samples per pixel", ras.samplesPerPixel)
	}
	if !supportedCompression(ras.compression) {
		return eris.Wrapf(ErrUnsupported, "compression %d", ras.compression)
	}
	if ras.predictor != 1 && ras.predictor != 2 {
		return eris.Wrapf(ErrUnsupported, "predictor %d", ras.predictor)
	}
	if ras.predictor == 2 && ras.sampleFormat == SampleFloat {
		return eris.Wrap(ErrUnsupported, "horizontal predictor on float samples")
	}
	if ras.sampleFormat == SampleFloat && ras.bytesPerSample < 4 {
		return eris.Wrapf(ErrUnsupported, "%d-bit float samples", bps)
	}

	offTag, cntTag := uint16(tagStripOffsets), uint16(tagStripByteCounts)
	if _, ok := d[tagTileWidth]; ok {
		ras.tiled = true
		offTag, cntTag = tagTileOffsets, tagTileByteCounts
		tw, err := d.uintOr(tagTileWidth, 0)
		if err != nil {
			return err
		}
		th, err := d.uintOr(tagTileLength, 0)
		if err != nil {
			return err
		}
		ras.blockW, ras.blockH = int(tw), int(th)
	} else {
		rps, err := d.uintOr(tagRowsPerStrip, h)
		if err != nil {
			return err
		}
		if rps > h {
			rps = h
		}
		ras.blockW, ras.blockH = ras.width, int(rps)
	}
	if ras.blockW <= 0 || ras.blockH <= 0 {
		return eris.Wrapf(ErrFormat, "bad block size %dx%d", ras.blockW, ras.blockH)
	}
	ras.across = (ras.width + ras.blockW - 1) / ras.blockW
	ras.down = (ras.height + ras.blockH - 1) / ras.blockH

	var ok bool
	if ras.offsets, ok = d[offTag]; !ok {
		return eris.Wrap(ErrFormat, "missing strip or tile offsets")
	}
	if ras.counts, ok = d[cntTag]; !ok {
		return eris.Wrap(ErrFormat, "missing strip or tile byte counts")
	}
	blocks := uint64(ras.across * ras.down)
	if ras.planar == 2 {
		blocks *= uint64(ras.samplesPerPixel)
	}
	if ras.offsets.count < blocks || ras.counts.count < blocks {
		return eris.Wrapf(ErrFormat, "offset table has %d entries, want %d", ras.offsets.count, blocks)
	}
	return nil
}

func (ras *Raster) loadGeoreference(d ifd) error {
	keys, err := geoKeys(d)
	if err != nil {
		return err
	}
	switch keys[keyModelType] {
	case 0, modelTypeGeographic:
		ras.epsg = keys[keyGeographicType]
	case modelTypeProjected:
		return eris.Wrapf(ErrUnsupported, "projected CRS (EPSG %d)", keys[keyProjectedCSType])
	default:
		return eris.Wrapf(ErrUnsupported, "model type %d", keys[keyModelType])
	}

	if f, ok := d[tagModelTransformation]; ok {
		m, err := f.floats()
		if err != nil {
			return err
		}
		if len(m) < 16 {
			return eris.Wrapf(ErrFormat, "model transformation has %d values", len(m))
		}
		ras.gt = GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}
	} else {
		sf, ok1 := d[tagModelPixelScale]
		tf, ok2 := d[tagModelTiepoint]
		if !ok1 || !ok2 {
			return eris.Wrap(ErrFormat, "no georeferencing tags")
		}
		scale, err := sf.floats()
		if err != nil {
			return err
		}
		tie, err := tf.floats()
		if err != nil {
			return err
		}
		if len(scale) < 2 || len(tie) < 6 {
			return eris.Wrap(ErrFormat, "short pixel scale or tiepoint")
		}
		ras.gt = GeoTransform{
			tie[3] - tie[0]*scale[0], scale[0], 0,
			tie[4] + tie[1]*scale[1], 0, -scale[1],
		}
	}

	if keys[keyRasterType] == rasterPixelIsPoint {
		ras.gt[0] -= 0.5*ras.gt[1] + 0.5*ras.gt[2]
		ras.gt[3] -= 0.5*ras.gt[4] + 0.5*ras.gt[5]
	}

	if ras.inv, err = ras.gt.Invert(); err != nil {
		return err
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range [][2]float64{{0, 0}, {float64(ras.width), 0}, {0, float64(ras.height)}, {float64(ras.width), float64(ras.height)}} {
		x, y := ras.gt.Apply(c[0], c[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	ras.bounds = geom.NewBounds(geom.XY).Set(minX, minY, maxX, maxY)
	return nil
}

// geoKeys returns the inline SHORT-valued keys of the GeoKeyDirectory.
func geoKeys(d ifd) (map[int]int, error) {
	keys := make(map[int]int)
	f, ok := d[tagGeoKeyDirectory]
	if !ok {
		return keys, nil
	}
	dir, err := f.uints()
	if err != nil {
		return nil, err
	}
	if len(dir) < 4 {
		return nil, eris.Wrap(ErrFormat, "short GeoKey directory")
	}
	n := int(dir[3])
	for i := 0; i < n && 4+4*i+3 < len(dir); i++ {
		e := dir[4+4*i : 8+4*i]
		if e[1] == 0 {
			keys[int(e[0])] = int(e[3])
		}
	}
	return keys, nil
}

func (ras *Raster) loadNoData(d ifd) error {
	f, ok := d[tagGDALNoData]
	if !ok {
		ras.noData = ras.fallbackNoData
		return nil
	}
	s, err := f.ascii()
	if err != nil {
		return err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return eris.Wrapf(ErrFormat, "bad GDAL_NODATA value %q", s)
	}
	ras.noData, ras.tagged = v, true
	return nil
}

// Info summarises the raster layout.
type Info struct {
	Width         int          `yaml:"width"`
	Height        int          `yaml:"height"`
	Tiled         bool         `yaml:"tiled"`
	BlockWidth    int          `yaml:"block_width"`
	BlockHeight   int          `yaml:"block_height"`
	Compression   int          `yaml:"compression"`
	BitsPerSample int          `yaml:"bits_per_sample"`
	SampleFormat  int          `yaml:"sample_format"`
	EPSG          int          `yaml:"epsg"`
	NoData        float64      `yaml:"nodata"`
	NoDataTagged  bool         `yaml:"nodata_tagged"`
	GeoTransform  GeoTransform `yaml:"geotransform,flow"`
	// Extent is min lon, min lat, max lon, max lat.
	Extent        [4]float64   `yaml:"extent,flow"`
}

// Info returns the raster layout.
func (ras *Raster) Info() Info {
	b := ras.bounds
	extent := [4]float64{b.Min(0), b.Min(1), b.Max(0), b.Max(1)}
	return Info{
		Width:         ras.width,
		Height:        ras.height,
		Tiled:         ras.tiled,
		BlockWidth:    ras.blockW,
		BlockHeight:   ras.blockH,
		Compression:   ras.compression,
		BitsPerSample: ras.bytesPerSample * 8,
		SampleFormat:  ras.sampleFormat,
		EPSG:          ras.epsg,
		NoData:        ras.noData,
		NoDataTagged:  ras.tagged,
		GeoTransform:  ras.gt,
		Extent:        extent,
	}
}

// PixelOf returns the pixel containing the model coordinate (x, y). The
// result may lie outside the raster.
func (ras *Raster) PixelOf(x, y float64) (col, row int) {
	c, r := ras.inv.Apply(x, y)
	return int(math.Floor(c)), int(math.Floor(r))
}

// Sample returns the value of the first band at lon/lat (nearest pixel).
func (ras *Raster) Sample(lon, lat float64) (float64, error) {
	if math.IsNaN(lon) || math.IsNaN(lat) || !ras.bounds.OverlapsPoint(geom.XY, geom.Coord{lon, lat}) {
		return 0, eris.Wrapf(ErrOutOfBounds, "point (lon %g, lat %g)", lon, lat)
	}

	col, row := ras.PixelOf(lon, lat)
	// Points on the east or south edge belong to the last pixel.
	col = min(max(col, 0), ras.width-1)
	row = min(max(row, 0), ras.height-1)

	v, err := ras.Pixel(col, row)
	if err != nil {
		return 0, err
	}
	if ras.isNoData(v) {
		return v, eris.Wrapf(ErrNoData, "pixel (%d, %d)", col, row)
	}
	return v, nil
}

func (ras *Raster) isNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	if ras.sampleFormat == SampleFloat && ras.bytesPerSample == 4 {
		return float32(v) == float32(ras.noData)
	}
	return v == ras.noData
}

// Pixel returns the raw first-band value at (col, row). A sparse block
// (offset and byte count of zero) reads as NaN.
func (ras *Raster) Pixel(col, row int) (float64, error) {
	if col < 0 || row < 0 || col >= ras.width || row >= ras.height {
		return 0, eris.Wrapf(ErrOutOfBounds, "pixel (%d, %d) outside %dx%d", col, row, ras.width, ras.height)
	}

	idx := uint64((row/ras.blockH)*ras.across + col/ras.blockW)
	off, err := ras.offsets.uint(idx)
	if err != nil {
		return 0, err
	}
	cnt, err := ras.counts.uint(idx)
	if err != nil {
		return 0, err
	}
	if off == 0 && cnt == 0 {
		return math.NaN(), nil
	}
	if cnt > 1<<30 {
		return 0, eris.Wrapf(ErrFormat, "block %d claims %d bytes", idx, cnt)
	}

	raw := make([]byte, cnt)
	if n, err := ras.r.ReadAt(raw, int64(off)); err != nil && !(err == io.EOF && n == len(raw)) {
		return 0, eris.Wrapf(err, "geotiff: read block %d", idx)
	}

	pixelBytes := ras.bytesPerSample
	stride := 1
	if ras.planar != 2 {
		pixelBytes *= ras.samplesPerPixel
		stride = ras.samplesPerPixel
	}
	rowBytes := ras.blockW * pixelBytes
	rows := ras.blockH
	if !ras.tiled {
		rows = min(ras.blockH, ras.height-(row/ras.blockH)*ras.blockH)
	}

	data, err := decompress(ras.compression, raw, rows*rowBytes)
	if err != nil {
		return 0, err
	}
	r := row % ras.blockH
	if len(data) < (r+1)*rowBytes {
		return 0, eris.Wrapf(ErrFormat, "block %d decodes to %d bytes, need %d", idx, len(data), (r+1)*rowBytes)
	}
	line := data[r*rowBytes : (r+1)*rowBytes]
	if ras.predictor == 2 {
		line = append([]byte(nil), line...)
		undoHorizontalPredictor(line, ras.hdr.order, ras.bytesPerSample, stride)
	}

	pos := (col % ras.blockW) * pixelBytes
	return decodeSample(line[pos:pos+ras.bytesPerSample], ras.hdr.order, ras.sampleFormat), nil
}
