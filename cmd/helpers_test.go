package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/biodt/soilgrids-cli/internal/config"
	"github.com/biodt/soilgrids-cli/internal/geotiff/geotifftest"
	"github.com/biodt/soilgrids-cli/internal/hihydrosoil"
	"github.com/biodt/soilgrids-cli/internal/soil"
	"github.com/biodt/soilgrids-cli/pkg/soilgrids"
)

// testConfig mirrors the defaults of config.Load with both sources pointed
// at local test servers.
func testConfig(t *testing.T, apiURL, mapURL string) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.SoilGrids.BaseURL = apiURL
	c.SoilGrids.TimeoutSecs = 5
	c.SoilGrids.MaxAttempts = 1
	c.SoilGrids.RequestsPerMinute = 5
	c.HiHydroSoil.BaseURL = mapURL
	c.HiHydroSoil.TimeoutSecs = 5
	c.HiHydroSoil.MaxAttempts = 1
	c.HiHydroSoil.NoData = -9999
	c.Output.Dir = t.TempDir()
	c.Output.Protocol = true
	c.Log.Level = "info"
	c.Log.Format = "json"
	return c
}

// soilMap is a 20x20 map covering lon [0, 20) and lat (40, 60] filled with v,
// except for a no-data pixel at lon 19.5 / lat 40.5.
func soilMap(v float64) geotifftest.Builder {
	values := geotifftest.Fill(20, 20, v)
	values[19*20+19] = -9999
	return geotifftest.Builder{
		Width:       20,
		Height:      20,
		Values:      values,
		Type:        geotifftest.Int32,
		Origin:      [2]float64{0, 60},
		Compression: geotifftest.Deflate,
	}
}

func newMapServer(t *testing.T) *httptest.Server {
	t.Helper()
	base := map[string]float64{"FC": 3500, "PWP": 1700, "POR": 4500, "KS": 12500}
	maps := make(map[string][]byte)
	for _, spec := range soil.PropertiesFrom(soil.SourceHiHydroSoil) {
		for i, d := range soil.Depths {
			maps[hihydrosoil.MapFileName(spec, d)] = soilMap(base[spec.ID] + float64(10*i)).MustBytes()
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := maps[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "map.tif", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		resp := soilgrids.Response{Type: "Feature", Properties: &soilgrids.Properties{}}
		for _, name := range q["property"] {
			l := soilgrids.Layer{Name: name, UnitMeasure: soilgrids.UnitMeasure{DFactor: 10, MappedUnits: "g/kg", TargetUnits: "%"}}
			for _, d := range soil.Depths {
				mean := map[string]float64{"silt": 410, "clay": 170, "sand": 420}[name]
				l.Depths = append(l.Depths, soilgrids.DepthValue{Label: d.Label, Values: soilgrids.Values{Mean: &mean}})
			}
			resp.Properties.Layers = append(resp.Properties.Layers, l)
		}
		if lat, _ := strconv.ParseFloat(q.Get("lat"), 64); lat < 30 {
			resp.Properties.Layers = []soilgrids.Layer{}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}
