package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/biodt/soilgrids-cli/internal/soil"
	"github.com/biodt/soilgrids-cli/internal/soilfile"
)

// fetchRasterProperties samples every HiHydroSoil map (property × depth) in
// table order. Lookups run one after another. With failFast the loop stops at
// the first missing value. Only cancellation is returned as an error.
func (p *Processor) fetchRasterProperties(ctx context.Context, coord soil.Coordinate, cacheDir string, failFast bool, log *zap.Logger) (*soil.Observations, []soilfile.ProtocolEntry, error) {
	obs := soil.NewObservations(soil.SourceHiHydroSoil)
	var entries []soilfile.ProtocolEntry

	for _, spec := range soil.PropertiesFrom(soil.SourceHiHydroSoil) {
		for _, d := range soil.Depths {
			if err := ctx.Err(); err != nil {
				return obs, entries, eris.Wrap(err, "pipeline: raster lookups cancelled")
			}

			r, err := p.raster.Value(ctx, coord, spec, d, cacheDir)
			if err != nil {
				log.Warn("pipeline: map value missing",
					zap.String("property", spec.ID),
					zap.String("depth", d.Label),
					zap.Error(err),
				)
				obs.Fail(spec.ID, d.Label, err)
				if failFast {
					return obs, entries, nil
				}
				continue
			}
			obs.Set(spec.ID, d.Label, r.Value)
			entries = append(entries, soilfile.ProtocolEntry{Source: r.Source, TimeStamp: r.TimeStamp})
		}
	}
	return obs, entries, nil
}
