package geotiff

import "github.com/rotisserie/eris"

var (
	// ErrFormat is returned for files that are not well-formed TIFF or lack
	// georeferencing.
	ErrFormat = eris.New("geotiff: malformed file")

	// ErrUnsupported is returned for valid TIFF features this reader does
	// not implement (JPEG compression, projected CRS, odd bit depths).
	ErrUnsupported = eris.New("geotiff: unsupported feature")

	// ErrOutOfBounds is returned when a point lies outside the raster extent.
	ErrOutOfBounds = eris.New("geotiff: point outside raster extent")

	// ErrNoData is returned when the pixel holds the no-data sentinel.
	ErrNoData = eris.New("geotiff: pixel holds no data")
)
