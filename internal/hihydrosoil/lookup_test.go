package hihydrosoil

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biodt/soilgrids-cli/internal/fetcher"
	"github.com/biodt/soilgrids-cli/internal/geotiff/geotifftest"
	"github.com/biodt/soilgrids-cli/internal/soil"
)

var fixedTime = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

// europeMap covers lon [0, 20) and lat (40, 60] with 1 degree pixels. The
// pixel holding lon 11.88 / lat 51.39 is 3512, the top-left pixel is
// no-data.
func europeMap() []byte {
	values := geotifftest.Fill(20, 20, 3000)
	values[8*20+11] = 3512
	values[0] = -9999
	return geotifftest.Builder{
		Width:       20,
		Height:      20,
		Values:      values,
		Type:        geotifftest.Int32,
		Origin:      [2]float64{0, 60},
		TileWidth:   16,
		TileHeight:  16,
		Compression: geotifftest.Deflate,
	}.MustBytes()
}

type mapServer struct {
	*httptest.Server
	hits atomic.Int32
	maps map[string][]byte
}

func newMapServer(t *testing.T, maps map[string][]byte) *mapServer {
	t.Helper()
	ms := &mapServer{maps: maps}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ms.hits.Add(1)
		data, ok := ms.maps[strings.TrimPrefix(r.URL.Path, "/maps/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "map.tif", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(ms.Close)
	return ms
}

func newLookup(baseURL string) *Lookup {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second})
	return New(f, WithBaseURL(baseURL), WithClock(clockwork.NewFakeClockAt(fixedTime)))
}

func fcTop() (soil.PropertySpec, soil.Depth) {
	return soil.SpecByID("FC"), soil.Depths[0]
}

func TestMapFileName(t *testing.T) {
	assert.Equal(t, "WCpF2_0-5cm_M_250m.tif", MapFileName(soil.SpecByID("FC"), soil.Depths[0]))
	assert.Equal(t, "WCpF4.2_100-200cm_M_250m.tif", MapFileName(soil.SpecByID("PWP"), soil.Depths[5]))
	assert.Equal(t, "Ksat_30-60cm_M_250m.tif", MapFileName(soil.SpecByID("KS"), soil.Depths[3]))
}

func TestMapURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL+"WCsat_0-5cm_M_250m.tif", MapURL(DefaultBaseURL, "WCsat_0-5cm_M_250m.tif"))
	assert.Equal(t, "http://x/maps/a.tif", MapURL("http://x/maps", "a.tif"))
}

func TestValue_Remote(t *testing.T) {
	spec, depth := fcTop()
	srv := newMapServer(t, map[string][]byte{MapFileName(spec, depth): europeMap()})
	l := newLookup(srv.URL + "/maps/")

	coord := soil.Coordinate{Lat: 51.39, Lon: 11.88}
	r, err := l.Value(context.Background(), coord, spec, depth, "")
	require.NoError(t, err)
	assert.InDelta(t, 3512, r.Value, 1e-9)
	assert.Equal(t, srv.URL+"/maps/WCpF2_0-5cm_M_250m.tif", r.Source)
	assert.Equal(t, fixedTime, r.TimeStamp)
}

func TestValue_DownloadsIntoCache(t *testing.T) {
	spec, depth := fcTop()
	srv := newMapServer(t, map[string][]byte{MapFileName(spec, depth): europeMap()})
	l := newLookup(srv.URL + "/maps")
	cache := filepath.Join(t.TempDir(), "hhs")

	coord := soil.Coordinate{Lat: 51.39, Lon: 11.88}
	r, err := l.Value(context.Background(), coord, spec, depth, cache)
	require.NoError(t, err)
	assert.InDelta(t, 3512, r.Value, 1e-9)
	assert.Equal(t, filepath.Join(cache, "WCpF2_0-5cm_M_250m.tif"), r.Source)
	assert.FileExists(t, r.Source)
	assert.NoFileExists(t, r.Source+".part")

	// Second lookup is served from the cache.
	hits := srv.hits.Load()
	_, err = l.Value(context.Background(), coord, spec, depth, cache)
	require.NoError(t, err)
	assert.Equal(t, hits, srv.hits.Load())
}

func TestValue_CacheHitMakesNoRequests(t *testing.T) {
	spec, depth := fcTop()
	srv := newMapServer(t, nil)
	l := newLookup(srv.URL + "/maps")

	cache := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cache, MapFileName(spec, depth)), europeMap(), 0o644))

	r, err := l.Value(context.Background(), soil.Coordinate{Lat: 51.39, Lon: 11.88}, spec, depth, cache)
	require.NoError(t, err)
	assert.InDelta(t, 3512, r.Value, 1e-9)
	assert.Equal(t, int32(0), srv.hits.Load())
}

func TestValue_Errors(t *testing.T) {
	spec, depth := fcTop()
	srv := newMapServer(t, map[string][]byte{MapFileName(spec, depth): europeMap()})
	l := newLookup(srv.URL + "/maps")
	ctx := context.Background()

	_, err := l.Value(ctx, soil.Coordinate{Lat: 0, Lon: -140}, spec, depth, "")
	assert.True(t, errors.Is(err, soil.ErrOutOfRasterBounds), "got %v", err)

	_, err = l.Value(ctx, soil.Coordinate{Lat: 59.5, Lon: 0.5}, spec, depth, "")
	assert.True(t, errors.Is(err, soil.ErrNoDataValue), "got %v", err)

	_, err = l.Value(ctx, soil.Coordinate{Lat: 51.39, Lon: 11.88}, soil.SpecByID("KS"), depth, "")
	assert.True(t, errors.Is(err, soil.ErrRemoteUnavailable), "got %v", err)
}

func TestValue_FailedDownloadLeavesNoFile(t *testing.T) {
	spec, depth := fcTop()
	srv := newMapServer(t, nil)
	l := newLookup(srv.URL + "/maps")
	cache := t.TempDir()

	_, err := l.Value(context.Background(), soil.Coordinate{Lat: 51.39, Lon: 11.88}, spec, depth, cache)
	assert.True(t, errors.Is(err, soil.ErrRemoteUnavailable))

	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestValue_CorruptCachedMap(t *testing.T) {
	spec, depth := fcTop()
	l := newLookup("http://127.0.0.1:1/maps")
	cache := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cache, MapFileName(spec, depth)), []byte("not a tiff"), 0o644))

	_, err := l.Value(context.Background(), soil.Coordinate{Lat: 51.39, Lon: 11.88}, spec, depth, cache)
	assert.True(t, errors.Is(err, soil.ErrRemoteUnavailable))
}
