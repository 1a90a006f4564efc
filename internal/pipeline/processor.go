// Package pipeline runs data_processing for one coordinate: query SoilGrids,
// sample the HiHydroSoil maps, merge both into a soil record and write the
// Grassmind soil data file with its query protocol.
package pipeline

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/biodt/soilgrids-cli/internal/config"
	"github.com/biodt/soilgrids-cli/internal/hihydrosoil"
	"github.com/biodt/soilgrids-cli/internal/soil"
	"github.com/biodt/soilgrids-cli/internal/soilfile"
	"github.com/biodt/soilgrids-cli/pkg/soilgrids"
)

// Phase names as they appear in logs and Result.Phases.
const (
	PhaseSoilGrids   = "soilgrids"
	PhaseHiHydroSoil = "hihydrosoil"
	PhaseMerge       = "merge"
	PhaseWrite       = "write"
)

// RasterSource returns one raw map value. *hihydrosoil.Lookup satisfies it.
type RasterSource interface {
	Value(ctx context.Context, coord soil.Coordinate, spec soil.PropertySpec, depth soil.Depth, cacheDir string) (hihydrosoil.Reading, error)
}

// Processor orchestrates the retrieval of one soil record.
type Processor struct {
	cfg    *config.Config
	grid   soilgrids.Client
	raster RasterSource
	clock  clockwork.Clock
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock sets the clock used for protocol time stamps and phase timing.
func WithClock(c clockwork.Clock) Option {
	return func(p *Processor) {
		p.clock = c
	}
}

// New creates a Processor.
func New(cfg *config.Config, grid soilgrids.Client, raster RasterSource, opts ...Option) *Processor {
	p := &Processor{
		cfg:    cfg,
		grid:   grid,
		raster: raster,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Options are the per-call inputs of DataProcessing.
type Options struct {
	// FileName is the output file. Empty means DefaultPath under the
	// configured output directory.
	FileName string
	// HHSCache is a directory holding (or receiving) HiHydroSoil maps. Empty
	// means maps are read remotely without being stored.
	HHSCache string
}

// PhaseStatus is the outcome of one phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusPartial  PhaseStatus = "partial"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult records the outcome of one phase.
type PhaseResult struct {
	Name     string      `yaml:"name"`
	Duration int64       `yaml:"duration_ms"`
	Status   PhaseStatus `yaml:"status"`
	Missing  int         `yaml:"missing,omitempty"`
	Error    string      `yaml:"error,omitempty"`
}

// Result describes a successful run.
type Result struct {
	RunID        string                   `yaml:"run_id"`
	Coordinate   soil.Coordinate          `yaml:"coordinate"`
	Path         string                   `yaml:"path"`
	ProtocolPath string                   `yaml:"protocol_path,omitempty"`
	Record       *soil.Record             `yaml:"-"`
	Protocol     []soilfile.ProtocolEntry `yaml:"protocol"`
	Phases       []PhaseResult            `yaml:"phases"`
}

// DataProcessing retrieves SoilGrids and HiHydroSoil data for (lat, lon),
// merges them and writes the soil data file.
//
// Individual missing values do not stop the run; they are collected and, if
// any remain after both sources were queried, reported together as an
// *soil.IncompleteRecordError (errors.Is soil.ErrIncompleteRecord). With
// pipeline.fail_fast the run stops at the first source with a gap. No file
// is written for an incomplete record.
func (p *Processor) DataProcessing(ctx context.Context, lat, lon float64, opts Options) (*Result, error) {
	coord, err := soil.NewCoordinate(lat, lon)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := zap.L().With(
		zap.String("run_id", runID),
		zap.Float64("lat", coord.Lat),
		zap.Float64("lon", coord.Lon),
	)
	log.Info("pipeline: starting soil data processing")

	result := &Result{RunID: runID, Coordinate: coord}

	trackPhase := func(name string, fn func() (int, error)) error {
		start := p.clock.Now()
		missing, fnErr := fn()
		duration := p.clock.Since(start).Milliseconds()

		pr := PhaseResult{Name: name, Duration: duration, Missing: missing}
		switch {
		case fnErr != nil:
			pr.Status = PhaseStatusFailed
			pr.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		case missing > 0:
			pr.Status = PhaseStatusPartial
			log.Warn("pipeline: phase incomplete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Int("missing", missing),
			)
		default:
			pr.Status = PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}
		result.Phases = append(result.Phases, pr)
		return fnErr
	}

	failFast := p.cfg.Pipeline.FailFast

	// ===== SoilGrids =====
	var api *soil.Observations
	if err := trackPhase(PhaseSoilGrids, func() (int, error) {
		var (
			entries []soilfile.ProtocolEntry
			qErr    error
		)
		api, entries, qErr = p.fetchAPIProperties(ctx, coord, log)
		if qErr != nil {
			return 0, qErr
		}
		result.Protocol = append(result.Protocol, entries...)
		return api.FailureCount(), nil
	}); err != nil {
		return nil, err
	}
	if failFast && api.FailureCount() > 0 {
		return nil, &soil.IncompleteRecordError{Missing: api.Failures()}
	}

	// ===== HiHydroSoil =====
	var raster *soil.Observations
	if err := trackPhase(PhaseHiHydroSoil, func() (int, error) {
		var (
			entries []soilfile.ProtocolEntry
			rErr    error
		)
		raster, entries, rErr = p.fetchRasterProperties(ctx, coord, opts.HHSCache, failFast, log)
		result.Protocol = append(result.Protocol, entries...)
		return raster.FailureCount(), rErr
	}); err != nil {
		return nil, err
	}
	if failFast && raster.FailureCount() > 0 {
		return nil, &soil.IncompleteRecordError{Missing: raster.Failures()}
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: cancelled")
	}

	// ===== Merge =====
	if err := trackPhase(PhaseMerge, func() (int, error) {
		rec, mErr := soil.Merge(api, raster)
		if mErr != nil {
			return 0, mErr
		}
		result.Record = rec
		return 0, nil
	}); err != nil {
		return nil, err
	}

	// ===== Write =====
	if err := trackPhase(PhaseWrite, func() (int, error) {
		return 0, p.write(coord, opts.FileName, result)
	}); err != nil {
		return nil, err
	}

	log.Info("pipeline: soil data written",
		zap.String("path", result.Path),
		zap.Strings("properties", result.Record.IDs()),
		zap.Int("protocol_entries", len(result.Protocol)),
	)
	return result, nil
}

// write stores the record and, if enabled, the query protocol. The two files
// are replaced together or not at all. The default output directory is
// created on demand; the parent of an explicit file name must already exist.
func (p *Processor) write(coord soil.Coordinate, fileName string, result *Result) error {
	path := fileName
	if path == "" {
		dir := p.cfg.Output.Dir
		if dir == "" {
			dir = soilfile.DefaultDir
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(soil.ErrWriteError, "create %s: %v", dir, err)
		}
		path = soilfile.DefaultPath(dir, coord)
	}

	if !p.cfg.Output.Protocol {
		if err := soilfile.Write(path, result.Record); err != nil {
			return err
		}
		result.Path = path
		return nil
	}

	protocolPath, err := soilfile.WriteWithProtocol(path, result.Record, result.Protocol)
	if err != nil {
		return err
	}
	result.Path = path
	result.ProtocolPath = protocolPath
	return nil
}
