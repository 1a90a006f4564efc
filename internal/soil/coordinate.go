// Package soil holds the soil data model: coordinates, the property table,
// per-source observations, unit conversion and the merged record written for
// the Grassmind grassland model.
package soil

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Coordinate is a validated WGS 84 location.
type Coordinate struct {
	Lat float64
	Lon float64
}

// NewCoordinate validates lat/lon and returns the coordinate.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	c := Coordinate{Lat: lat, Lon: lon}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// Validate checks that both values are finite and within WGS 84 ranges.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		return eris.Wrapf(ErrInvalidCoordinate, "latitude %v is not a finite number", c.Lat)
	}
	if math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return eris.Wrapf(ErrInvalidCoordinate, "longitude %v is not a finite number", c.Lon)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return eris.Wrapf(ErrInvalidCoordinate, "latitude %v outside [-90, 90]", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return eris.Wrapf(ErrInvalidCoordinate, "longitude %v outside [-180, 180]", c.Lon)
	}
	return nil
}

// Point returns the coordinate as an XY point (lon, lat) with SRID 4326.
func (c Coordinate) Point() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{c.Lon, c.Lat}).SetSRID(4326)
}

// FileStem is the coordinate part of default output file names.
func (c Coordinate) FileStem() string {
	return fmt.Sprintf("lat%.6f_lon%.6f", c.Lat, c.Lon)
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(lat %.6f, lon %.6f)", c.Lat, c.Lon)
}
