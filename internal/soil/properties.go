package soil

import "fmt"

// Source identifies where a property's raw values come from.
type Source int

const (
	// SourceSoilGrids is the SoilGrids v2.0 REST API.
	SourceSoilGrids Source = iota + 1
	// SourceHiHydroSoil is the HiHydroSoil v2.0 raster map archive.
	SourceHiHydroSoil
)

func (s Source) String() string {
	switch s {
	case SourceSoilGrids:
		return "soilgrids"
	case SourceHiHydroSoil:
		return "hihydrosoil"
	default:
		return "unknown"
	}
}

// Shape says how the 20 Grassmind layer values of a property end up in the record.
type Shape int

const (
	// DepthMean reduces the layers to one unweighted mean over 0-200 cm.
	DepthMean Shape = iota + 1
	// Layered keeps all Grassmind layers.
	Layered
)

// Depth is one of the standard SoilGrids/HiHydroSoil depth intervals.
type Depth struct {
	Label  string
	Top    int // cm
	Bottom int // cm
}

// Depths are the six source depth intervals, top to bottom.
var Depths = [NumDepths]Depth{
	{Label: "0-5cm", Top: 0, Bottom: 5},
	{Label: "5-15cm", Top: 5, Bottom: 15},
	{Label: "15-30cm", Top: 15, Bottom: 30},
	{Label: "30-60cm", Top: 30, Bottom: 60},
	{Label: "60-100cm", Top: 60, Bottom: 100},
	{Label: "100-200cm", Top: 100, Bottom: 200},
}

const (
	// NumDepths is the number of source depth intervals.
	NumDepths = 6
	// NumLayers is the number of 10 cm Grassmind layers (0-200 cm).
	NumLayers = 20
	// LayerThickness is the Grassmind layer thickness in cm.
	LayerThickness = 10
)

// DepthLabels returns the labels of Depths in order.
func DepthLabels() []string {
	labels := make([]string, 0, NumDepths)
	for _, d := range Depths {
		labels = append(labels, d.Label)
	}
	return labels
}

// PropertySpec describes one property of the soil record.
type PropertySpec struct {
	// ID names the property in the record and the output header.
	ID string
	// Source owns the raw values.
	Source Source
	// SourceName is the SoilGrids property name or the HiHydroSoil map name.
	SourceName string
	// RawScale converts stored values to SourceUnit (SoilGrids 1/d_factor,
	// HiHydroSoil integer maps 1e-4).
	RawScale float64
	// SourceUnit is the unit after applying RawScale.
	SourceUnit string
	// ToModel converts SourceUnit values to Unit.
	ToModel float64
	// Unit is the Grassmind unit; empty means a dimensionless fraction.
	Unit  string
	Shape Shape
}

// Header is the column title used in the soil data file.
func (p PropertySpec) Header() string {
	if p.Unit == "" {
		return p.ID
	}
	return fmt.Sprintf("%s[%s]", p.ID, p.Unit)
}

// properties is the fixed property table in output order.
var properties = []PropertySpec{
	{ID: "silt", Source: SourceSoilGrids, SourceName: "silt", RawScale: 0.1, SourceUnit: "%", ToModel: 1e-2, Shape: DepthMean},
	{ID: "clay", Source: SourceSoilGrids, SourceName: "clay", RawScale: 0.1, SourceUnit: "%", ToModel: 1e-2, Shape: DepthMean},
	{ID: "sand", Source: SourceSoilGrids, SourceName: "sand", RawScale: 0.1, SourceUnit: "%", ToModel: 1e-2, Shape: DepthMean},
	{ID: "FC", Source: SourceHiHydroSoil, SourceName: "WCpF2", RawScale: 1e-4, SourceUnit: "m³/m³", ToModel: 1e2, Unit: "V%", Shape: Layered},
	{ID: "PWP", Source: SourceHiHydroSoil, SourceName: "WCpF4.2", RawScale: 1e-4, SourceUnit: "m³/m³", ToModel: 1e2, Unit: "V%", Shape: Layered},
	{ID: "POR", Source: SourceHiHydroSoil, SourceName: "WCsat", RawScale: 1e-4, SourceUnit: "m³/m³", ToModel: 1e2, Unit: "V%", Shape: Layered},
	{ID: "KS", Source: SourceHiHydroSoil, SourceName: "Ksat", RawScale: 1e-4, SourceUnit: "cm/d", ToModel: 1e1, Unit: "mm/d", Shape: Layered},
}

// Properties returns a copy of the property table in declared order.
func Properties() []PropertySpec {
	out := make([]PropertySpec, len(properties))
	copy(out, properties)
	return out
}

// PropertiesFrom returns the properties owned by src, in declared order.
func PropertiesFrom(src Source) []PropertySpec {
	var out []PropertySpec
	for _, p := range properties {
		if p.Source == src {
			out = append(out, p)
		}
	}
	return out
}

// SpecByID looks up a property. Unknown IDs are a programming error and panic.
func SpecByID(id string) PropertySpec {
	for _, p := range properties {
		if p.ID == id {
			return p
		}
	}
	panic(fmt.Sprintf("soil: unknown property %q", id))
}
