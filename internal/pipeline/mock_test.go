package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/biodt/soilgrids-cli/internal/hihydrosoil"
	"github.com/biodt/soilgrids-cli/internal/soil"
	"github.com/biodt/soilgrids-cli/pkg/soilgrids"
)

// --- SoilGrids Mock ---

type mockSoilGridsClient struct {
	mock.Mock
}

func (m *mockSoilGridsClient) Query(ctx context.Context, req soilgrids.Request) (*soilgrids.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*soilgrids.Response), args.Error(1)
}

func (m *mockSoilGridsClient) QueryURL(req soilgrids.Request) string {
	args := m.Called(req)
	return args.String(0)
}

// --- Raster Mock ---

type mockRasterSource struct {
	mock.Mock
}

func (m *mockRasterSource) Value(ctx context.Context, coord soil.Coordinate, spec soil.PropertySpec, depth soil.Depth, cacheDir string) (hihydrosoil.Reading, error) {
	args := m.Called(ctx, coord, spec, depth, cacheDir)
	return args.Get(0).(hihydrosoil.Reading), args.Error(1)
}
