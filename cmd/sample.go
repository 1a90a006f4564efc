package main

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/biodt/soilgrids-cli/internal/fetcher"
	"github.com/biodt/soilgrids-cli/internal/geotiff"
	"github.com/biodt/soilgrids-cli/internal/hihydrosoil"
	"github.com/biodt/soilgrids-cli/internal/resilience"
	"github.com/biodt/soilgrids-cli/internal/soil"
)

var (
	sampleLat      float64
	sampleLon      float64
	sampleMap      string
	sampleProperty string
	sampleDepth    string
)

// Sample status values.
const (
	sampleOK          = "ok"
	sampleNoData      = "nodata"
	sampleOutOfBounds = "out_of_bounds"
)

type sampleOutput struct {
	Map    string       `yaml:"map"`
	Lat    float64      `yaml:"lat"`
	Lon    float64      `yaml:"lon"`
	Pixel  [2]int       `yaml:"pixel,flow"`
	Status string       `yaml:"status"`
	Value  *float64     `yaml:"value,omitempty"`
	Raster geotiff.Info `yaml:"raster"`
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print the raw value of a GeoTIFF map at one coordinate",
	Long:  "Reads the pixel under --lat/--lon from a local GeoTIFF, a map URL, or the HiHydroSoil map selected by --property and --depth. Remote maps are read in place with range requests.",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, err := soil.NewCoordinate(sampleLat, sampleLon)
		if err != nil {
			return err
		}

		mapRef := sampleMap
		if mapRef == "" {
			mapRef, err = hhsMapURL(cfg.HiHydroSoil.BaseURL, sampleProperty, sampleDepth)
			if err != nil {
				return err
			}
		}

		r, closeFn, err := openMap(cmd, mapRef)
		if err != nil {
			return err
		}
		defer closeFn()

		ras, err := geotiff.Open(r, geotiff.WithNoData(cfg.HiHydroSoil.NoData))
		if err != nil {
			return eris.Wrapf(err, "open %s", mapRef)
		}

		col, row := ras.PixelOf(coord.Lon, coord.Lat)
		out := sampleOutput{
			Map:    mapRef,
			Lat:    coord.Lat,
			Lon:    coord.Lon,
			Pixel:  [2]int{col, row},
			Status: sampleOK,
			Raster: ras.Info(),
		}

		v, err := ras.Sample(coord.Lon, coord.Lat)
		switch {
		case err == nil:
			out.Value = &v
		case errors.Is(err, geotiff.ErrNoData):
			out.Status = sampleNoData
		case errors.Is(err, geotiff.ErrOutOfBounds):
			out.Status = sampleOutOfBounds
		default:
			return eris.Wrapf(err, "sample %s", mapRef)
		}

		return printYAML(cmd.OutOrStdout(), out)
	},
}

// hhsMapURL resolves a HiHydroSoil property ID and depth label to its map URL.
func hhsMapURL(baseURL, property, depth string) (string, error) {
	if property == "" || depth == "" {
		return "", eris.New("either --map or both --property and --depth are required")
	}
	var (
		spec  soil.PropertySpec
		found bool
	)
	for _, p := range soil.PropertiesFrom(soil.SourceHiHydroSoil) {
		if strings.EqualFold(p.ID, property) {
			spec, found = p, true
			break
		}
	}
	if !found {
		return "", eris.Errorf("unknown HiHydroSoil property %q", property)
	}
	for _, d := range soil.Depths {
		if d.Label == depth {
			return hihydrosoil.MapURL(baseURL, hihydrosoil.MapFileName(spec, d)), nil
		}
	}
	return "", eris.Errorf("unknown depth %q (want one of %s)", depth, strings.Join(soil.DepthLabels(), ", "))
}

// openMap returns a reader for a local path or an http(s) URL.
func openMap(cmd *cobra.Command, ref string) (io.ReaderAt, func(), error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout: cfg.HiHydroSoil.Timeout(),
			Retry:   resilience.FromAttempts(cfg.HiHydroSoil.MaxAttempts),
		})
		rf, err := fetcher.OpenRemote(cmd.Context(), f, ref)
		if err != nil {
			return nil, nil, err
		}
		return rf, func() {}, nil
	}

	f, err := os.Open(ref)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "open %s", ref)
	}
	return f, func() { _ = f.Close() }, nil
}

func init() {
	sampleCmd.Flags().Float64Var(&sampleLat, "lat", 0, "latitude in decimal degrees (required)")
	sampleCmd.Flags().Float64Var(&sampleLon, "lon", 0, "longitude in decimal degrees (required)")
	sampleCmd.Flags().StringVar(&sampleMap, "map", "", "GeoTIFF path or http(s) URL")
	sampleCmd.Flags().StringVar(&sampleProperty, "property", "", "HiHydroSoil property (FC, PWP, POR, KS) when --map is not given")
	sampleCmd.Flags().StringVar(&sampleDepth, "depth", "", "depth label, e.g. 0-5cm, when --map is not given")
	_ = sampleCmd.MarkFlagRequired("lat")
	_ = sampleCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(sampleCmd)
}
