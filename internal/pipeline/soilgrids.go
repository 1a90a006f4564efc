package pipeline

import (
	"context"
	"errors"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/biodt/soilgrids-cli/internal/soil"
	"github.com/biodt/soilgrids-cli/internal/soilfile"
	"github.com/biodt/soilgrids-cli/pkg/soilgrids"
)

// maxPointOffset is how far (in degrees) the point SoilGrids reports may lie
// from the requested coordinate. The API snaps to its 250 m grid.
const maxPointOffset = 0.01

// fetchAPIProperties queries all SoilGrids properties at all depths in one
// request. Every value that cannot be taken from the response is recorded as
// a failure in the returned observations. A protocol entry is returned only
// when the API answered. The error is non-nil only when ctx ends the query.
func (p *Processor) fetchAPIProperties(ctx context.Context, coord soil.Coordinate, log *zap.Logger) (*soil.Observations, []soilfile.ProtocolEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: soilgrids query cancelled")
	}

	specs := soil.PropertiesFrom(soil.SourceSoilGrids)
	obs := soil.NewObservations(soil.SourceSoilGrids)

	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.SourceName)
	}
	req := soilgrids.Request{
		Lat:        coord.Lat,
		Lon:        coord.Lon,
		Properties: names,
		Depths:     soil.DepthLabels(),
		Values:     []string{"mean"},
	}
	queryURL := p.grid.QueryURL(req)

	resp, err := p.grid.Query(ctx, req)
	if err != nil && ctx.Err() != nil {
		return nil, nil, eris.Wrap(ctx.Err(), "pipeline: soilgrids query cancelled")
	}
	if err != nil {
		cause := soil.ErrRemoteUnavailable
		if errors.Is(err, soilgrids.ErrUnexpectedShape) {
			cause = soil.ErrRemoteDataMissing
		}
		log.Warn("pipeline: soilgrids query failed", zap.String("url", queryURL), zap.Error(err))
		obs.FailAll(specs, eris.Wrapf(cause, "%v", err))
		return obs, nil, nil
	}
	entries := []soilfile.ProtocolEntry{{Source: queryURL, TimeStamp: p.clock.Now().UTC()}}

	if pt, pErr := resp.Point(); pErr == nil {
		offset := xy.Distance(coord.Point().Coords(), pt.Coords())
		log.Debug("pipeline: soilgrids answered",
			zap.Float64s("point", pt.FlatCoords()),
			zap.Float64("offset_deg", offset),
			zap.Float64("query_time_s", resp.QueryTime),
		)
		if offset > maxPointOffset {
			obs.FailAll(specs, eris.Wrapf(soil.ErrRemoteDataMissing,
				"soilgrids answered for %v, %.4f degrees from %s", pt.FlatCoords(), offset, coord))
			return obs, entries, nil
		}
	}

	for _, spec := range specs {
		layer := resp.Layer(spec.SourceName)
		if layer == nil {
			for _, d := range soil.Depths {
				obs.Fail(spec.ID, d.Label, eris.Wrapf(soil.ErrRemoteDataMissing, "layer %s not in response", spec.SourceName))
			}
			continue
		}
		if err := checkScale(spec, layer.UnitMeasure); err != nil {
			for _, d := range soil.Depths {
				obs.Fail(spec.ID, d.Label, err)
			}
			continue
		}
		for _, d := range soil.Depths {
			dv := layer.Depth(d.Label)
			if dv == nil || dv.Values.Mean == nil {
				obs.Fail(spec.ID, d.Label, eris.Wrapf(soil.ErrRemoteDataMissing, "%s %s has no mean", spec.SourceName, d.Label))
				continue
			}
			obs.Set(spec.ID, d.Label, *dv.Values.Mean)
		}
	}
	return obs, entries, nil
}

// checkScale rejects a layer whose d_factor disagrees with the property
// table, since the raw values would then be converted with the wrong scale.
// A zero d_factor means the API did not report one.
func checkScale(spec soil.PropertySpec, um soilgrids.UnitMeasure) error {
	if um.DFactor == 0 {
		return nil
	}
	if math.Abs(1/um.DFactor-spec.RawScale) > 1e-9 {
		return eris.Wrapf(soil.ErrRemoteDataMissing,
			"%s: d_factor %v (%s) does not match expected scale %v",
			spec.SourceName, um.DFactor, um.MappedUnits, spec.RawScale)
	}
	return nil
}
