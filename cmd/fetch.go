package main

import (
	"errors"
	"net/url"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/biodt/soilgrids-cli/internal/config"
	"github.com/biodt/soilgrids-cli/internal/fetcher"
	"github.com/biodt/soilgrids-cli/internal/hihydrosoil"
	"github.com/biodt/soilgrids-cli/internal/pipeline"
	"github.com/biodt/soilgrids-cli/internal/resilience"
	"github.com/biodt/soilgrids-cli/internal/soil"
	"github.com/biodt/soilgrids-cli/pkg/soilgrids"
)

var (
	fetchLat      float64
	fetchLon      float64
	fetchFile     string
	fetchHHSCache string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Retrieve soil data for one coordinate and write the soil data file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate(); err != nil {
			return err
		}

		cacheDir := fetchHHSCache
		if cacheDir == "" {
			cacheDir = cfg.HiHydroSoil.CacheDir
		}

		p, breakers := newProcessor(cfg)
		result, err := p.DataProcessing(ctx, fetchLat, fetchLon, pipeline.Options{
			FileName: fetchFile,
			HHSCache: cacheDir,
		})
		for _, host := range openCircuits(breakers) {
			zap.L().Warn("map host unavailable, circuit open", zap.String("host", host))
		}
		if err != nil {
			var inc *soil.IncompleteRecordError
			if errors.As(err, &inc) {
				for _, m := range inc.Missing {
					zap.L().Warn("missing soil value",
						zap.String("property", m.Property),
						zap.String("depth", m.Depth),
						zap.Stringer("source", m.Source),
						zap.Error(m.Err),
					)
				}
			}
			return eris.Wrap(err, "data processing")
		}

		zap.L().Info("soil data complete",
			zap.String("run_id", result.RunID),
			zap.String("file", result.Path),
			zap.String("protocol", result.ProtocolPath),
		)

		return printYAML(cmd.OutOrStdout(), result)
	},
}

// newProcessor wires the SoilGrids client and the HiHydroSoil lookup with
// their own fetchers. The API fetcher carries the fair-use rate limit; the map
// fetcher has the long download timeout and a per-host circuit breaker.
func newProcessor(c *config.Config) (*pipeline.Processor, *resilience.HostBreakers) {
	apiFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout: c.SoilGrids.Timeout(),
		Retry:   resilience.FromAttempts(c.SoilGrids.MaxAttempts),
		RateLimiters: map[string]*fetcher.AdaptiveLimiter{
			hostOf(c.SoilGrids.BaseURL): fetcher.SoilGridsLimiter(c.SoilGrids.RequestsPerMinute),
		},
	})
	breakers := resilience.NewHostBreakers(
		resilience.FromBreakerConfig(c.HiHydroSoil.BreakerThreshold, c.HiHydroSoil.BreakerResetSecs),
	)
	mapFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:  c.HiHydroSoil.Timeout(),
		Retry:    resilience.FromAttempts(c.HiHydroSoil.MaxAttempts),
		Breakers: breakers,
	})

	grid := soilgrids.NewClient(
		soilgrids.WithBaseURL(c.SoilGrids.BaseURL),
		soilgrids.WithGetter(apiFetcher),
	)
	raster := hihydrosoil.New(mapFetcher,
		hihydrosoil.WithBaseURL(c.HiHydroSoil.BaseURL),
		hihydrosoil.WithNoData(c.HiHydroSoil.NoData),
	)
	return pipeline.New(c, grid, raster), breakers
}

// openCircuits lists the hosts whose breaker is not closed, sorted.
func openCircuits(hb *resilience.HostBreakers) []string {
	var hosts []string
	for host, state := range hb.States() {
		if state != resilience.CircuitClosed {
			hosts = append(hosts, host)
		}
	}
	sort.Strings(hosts)
	return hosts
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fetcher.SoilGridsHost
	}
	return u.Host
}

func init() {
	fetchCmd.Flags().Float64Var(&fetchLat, "lat", 0, "latitude in decimal degrees (required)")
	fetchCmd.Flags().Float64Var(&fetchLon, "lon", 0, "longitude in decimal degrees (required)")
	fetchCmd.Flags().StringVar(&fetchFile, "file", "", "output file (default <output.dir>/lat.._lon..__2020__soil.txt)")
	fetchCmd.Flags().StringVar(&fetchHHSCache, "hhs-cache", "", "directory for downloaded HiHydroSoil maps (default hihydrosoil.cache_dir)")
	_ = fetchCmd.MarkFlagRequired("lat")
	_ = fetchCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(fetchCmd)
}
