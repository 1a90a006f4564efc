// Package hihydrosoil looks up pixel values in the HiHydroSoil v2.0 soil
// hydraulic property maps, either from a local map cache or by reading the
// remote archive in place.
package hihydrosoil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/biodt/soilgrids-cli/internal/fetcher"
	"github.com/biodt/soilgrids-cli/internal/geotiff"
	"github.com/biodt/soilgrids-cli/internal/soil"
)

// DefaultBaseURL is the map archive the Grassmind workflows read from.
const DefaultBaseURL = "http://opendap.biodt.eu/grasslands-pdt/soilMapsHiHydroSoil/"

// MapFileName returns the archive file name of a property map at one depth,
// e.g. "WCpF2_0-5cm_M_250m.tif".
func MapFileName(spec soil.PropertySpec, depth soil.Depth) string {
	return fmt.Sprintf("%s_%s_M_250m.tif", spec.SourceName, depth.Label)
}

// MapURL joins the archive base URL and a map file name.
func MapURL(baseURL, file string) string {
	return strings.TrimRight(baseURL, "/") + "/" + file
}

// Reading is one sampled raw map value and where it came from.
type Reading struct {
	Value     float64
	Source    string
	TimeStamp time.Time
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithBaseURL overrides the archive location.
func WithBaseURL(u string) Option {
	return func(l *Lookup) { l.baseURL = u }
}

// WithNoData sets the sentinel assumed for maps without a GDAL_NODATA tag.
func WithNoData(v float64) Option {
	return func(l *Lookup) { l.noData = v }
}

// WithClock sets the clock used for reading time stamps.
func WithClock(c clockwork.Clock) Option {
	return func(l *Lookup) { l.clock = c }
}

// Lookup resolves and samples HiHydroSoil maps.
type Lookup struct {
	fetcher fetcher.Fetcher
	baseURL string
	noData  float64
	clock   clockwork.Clock
}

// New creates a Lookup that fetches maps through f.
func New(f fetcher.Fetcher, opts ...Option) *Lookup {
	l := &Lookup{
		fetcher: f,
		baseURL: DefaultBaseURL,
		noData:  geotiff.DefaultNoData,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Value returns the raw pixel value of the property map for depth at coord.
//
// With a cacheDir the map is read from <cacheDir>/<MapFileName>, downloading
// it there first if absent. Without one the remote map is sampled in place
// through HTTP range requests and nothing is stored.
//
// Failures wrap soil.ErrOutOfRasterBounds, soil.ErrNoDataValue or
// soil.ErrRemoteUnavailable.
func (l *Lookup) Value(ctx context.Context, coord soil.Coordinate, spec soil.PropertySpec, depth soil.Depth, cacheDir string) (Reading, error) {
	file := MapFileName(spec, depth)
	url := MapURL(l.baseURL, file)

	if cacheDir == "" {
		rf, err := fetcher.OpenRemote(ctx, l.fetcher, url)
		if err != nil {
			return Reading{}, eris.Wrapf(soil.ErrRemoteUnavailable, "%s: %v", url, err)
		}
		v, err := l.sample(rf, url, coord)
		zap.L().Debug("hihydrosoil: remote map sampled",
			zap.String("url", url),
			zap.Int64("map_bytes", rf.Size()),
			zap.Int("range_requests", rf.Requests()),
		)
		if err != nil {
			return Reading{}, err
		}
		return Reading{Value: v, Source: url, TimeStamp: l.clock.Now().UTC()}, nil
	}

	path := filepath.Join(cacheDir, file)
	if err := l.ensureCached(ctx, url, path); err != nil {
		return Reading{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Reading{}, eris.Wrapf(soil.ErrRemoteUnavailable, "%s: %v", path, err)
	}
	defer f.Close() //nolint:errcheck

	v, err := l.sample(f, path, coord)
	if err != nil {
		return Reading{}, err
	}
	return Reading{Value: v, Source: path, TimeStamp: l.clock.Now().UTC()}, nil
}

// ensureCached downloads url to path unless path already exists. The map is
// written to path+".part" and renamed so a failed download never leaves a
// truncated map behind.
func (l *Lookup) ensureCached(ctx context.Context, url, path string) error {
	_, err := os.Stat(path)
	if err == nil {
		zap.L().Debug("hihydrosoil: cache hit", zap.String("path", path))
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(soil.ErrRemoteUnavailable, "stat %s: %v", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(soil.ErrRemoteUnavailable, "create cache dir: %v", err)
	}

	part := path + ".part"
	start := l.clock.Now()
	n, err := l.fetcher.DownloadToFile(ctx, url, part)
	if err != nil {
		_ = os.Remove(part)
		return eris.Wrapf(soil.ErrRemoteUnavailable, "%s: %v", url, err)
	}
	if err := os.Rename(part, path); err != nil {
		_ = os.Remove(part)
		return eris.Wrapf(soil.ErrRemoteUnavailable, "cache %s: %v", path, err)
	}

	zap.L().Info("hihydrosoil: map downloaded",
		zap.String("url", url),
		zap.String("path", path),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", l.clock.Since(start)),
	)
	return nil
}

func (l *Lookup) sample(r io.ReaderAt, src string, coord soil.Coordinate) (float64, error) {
	ras, err := geotiff.Open(r, geotiff.WithNoData(l.noData))
	if err != nil {
		return 0, eris.Wrapf(soil.ErrRemoteUnavailable, "open %s: %v", src, err)
	}

	v, err := ras.Sample(coord.Lon, coord.Lat)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, geotiff.ErrOutOfBounds):
		return 0, eris.Wrapf(soil.ErrOutOfRasterBounds, "%s at %s", src, coord)
	case errors.Is(err, geotiff.ErrNoData):
		return 0, eris.Wrapf(soil.ErrNoDataValue, "%s at %s", src, coord)
	default:
		return 0, eris.Wrapf(soil.ErrRemoteUnavailable, "read %s: %v", src, err)
	}
}
