package pipeline

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/biodt/soilgrids-cli/internal/config"
	"github.com/biodt/soilgrids-cli/internal/hihydrosoil"
	"github.com/biodt/soilgrids-cli/internal/soil"
	"github.com/biodt/soilgrids-cli/pkg/soilgrids"
)

var fixedTime = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

var land = soil.Coordinate{Lat: 51.39, Lon: 11.88}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Output.Dir = filepath.Join(t.TempDir(), "soilDataPrepared")
	cfg.Output.Protocol = true
	return cfg
}

func ptr(v float64) *float64 { return &v }

// apiMean is the raw SoilGrids value (g/kg) of a texture class at depth i.
// The three classes always add up to 1000.
func apiMean(name string, i int) float64 {
	silt := 400 + 2*float64(i)
	clay := 170 + float64(i)
	switch name {
	case "silt":
		return silt
	case "clay":
		return clay
	default:
		return 1000 - silt - clay
	}
}

// rasterBase is the raw map value of each HiHydroSoil property at 0-5cm.
// Deeper maps add 10 per depth interval.
var rasterBase = map[string]float64{
	"FC":  3500,
	"PWP": 1700,
	"POR": 4500,
	"KS":  12500,
}

func rasterValue(id string, i int) float64 {
	return rasterBase[id] + 10*float64(i)
}

// apiResponse builds a complete SoilGrids answer for coord. layers limits the
// response to the named layers when non-empty.
func apiResponse(t *testing.T, coord soil.Coordinate, layers ...string) *soilgrids.Response {
	t.Helper()
	if len(layers) == 0 {
		layers = []string{"silt", "clay", "sand"}
	}
	g, err := geojson.Encode(coord.Point())
	require.NoError(t, err)

	resp := &soilgrids.Response{
		Type:       "Feature",
		Geometry:   g,
		Properties: &soilgrids.Properties{Layers: []soilgrids.Layer{}},
		QueryTime:  0.42,
	}
	for _, name := range layers {
		l := soilgrids.Layer{
			Name: name,
			UnitMeasure: soilgrids.UnitMeasure{
				DFactor:     10,
				MappedUnits: "g/kg",
				TargetUnits: "%",
			},
		}
		for i, d := range soil.Depths {
			l.Depths = append(l.Depths, soilgrids.DepthValue{
				Label:  d.Label,
				Range:  soilgrids.DepthRange{TopDepth: float64(d.Top), BottomDepth: float64(d.Bottom), UnitDepth: "cm"},
				Values: soilgrids.Values{Mean: ptr(apiMean(name, i))},
			})
		}
		resp.Properties.Layers = append(resp.Properties.Layers, l)
	}
	return resp
}

func newGridMock(resp *soilgrids.Response, err error) *mockSoilGridsClient {
	m := &mockSoilGridsClient{}
	m.On("QueryURL", mock.Anything).Return("https://soilgrids.test/properties/query?lat=51.39&lon=11.88")
	if err != nil {
		m.On("Query", mock.Anything, mock.Anything).Return(nil, err)
	} else {
		m.On("Query", mock.Anything, mock.Anything).Return(resp, nil)
	}
	return m
}

// newRasterMock answers every map lookup with rasterValue unless fail
// returns an error for it.
func newRasterMock(coord soil.Coordinate, cacheDir string, fail func(id string, depth int) error) *mockRasterSource {
	m := &mockRasterSource{}
	for _, spec := range soil.PropertiesFrom(soil.SourceHiHydroSoil) {
		for i, d := range soil.Depths {
			var err error
			if fail != nil {
				err = fail(spec.ID, i)
			}
			reading := hihydrosoil.Reading{}
			if err == nil {
				reading = hihydrosoil.Reading{
					Value:     rasterValue(spec.ID, i),
					Source:    "https://maps.test/" + hihydrosoil.MapFileName(spec, d),
					TimeStamp: fixedTime,
				}
			}
			m.On("Value", mock.Anything, coord, spec, d, cacheDir).Return(reading, err)
		}
	}
	return m
}
