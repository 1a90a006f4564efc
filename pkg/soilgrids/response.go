package soilgrids

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Response is the GeoJSON feature returned by /properties/query.
type Response struct {
	Type       string            `json:"type"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties *Properties       `json:"properties"`
	QueryTime  float64           `json:"query_time_s"`
}

// Properties holds the queried layers.
type Properties struct {
	Layers []Layer `json:"layers"`
}

// Layer is one soil property.
type Layer struct {
	Name        string       `json:"name"`
	UnitMeasure UnitMeasure  `json:"unit_measure"`
	Depths      []DepthValue `json:"depths"`
}

// UnitMeasure describes how stored values map to conventional units:
// conventional = mapped / DFactor.
type UnitMeasure struct {
	DFactor         float64 `json:"d_factor"`
	MappedUnits     string  `json:"mapped_units"`
	TargetUnits     string  `json:"target_units"`
	UncertaintyUnit string  `json:"uncertainty_unit"`
}

// DepthValue is a property value for one depth interval.
type DepthValue struct {
	Label  string     `json:"label"`
	Range  DepthRange `json:"range"`
	Values Values     `json:"values"`
}

// DepthRange bounds a depth interval.
type DepthRange struct {
	TopDepth    float64 `json:"top_depth"`
	BottomDepth float64 `json:"bottom_depth"`
	UnitDepth   string  `json:"unit_depth"`
}

// Values holds the requested statistics. Nil means the API returned null,
// which it does for water, ice and areas outside the soil mask.
type Values struct {
	Mean        *float64 `json:"mean"`
	Q05         *float64 `json:"Q0.05"`
	Q50         *float64 `json:"Q0.5"`
	Q95         *float64 `json:"Q0.95"`
	Uncertainty *float64 `json:"uncertainty"`
}

// Layer returns the layer with the given name, or nil.
func (r *Response) Layer(name string) *Layer {
	if r == nil || r.Properties == nil {
		return nil
	}
	for i := range r.Properties.Layers {
		if r.Properties.Layers[i].Name == name {
			return &r.Properties.Layers[i]
		}
	}
	return nil
}

// Depth returns the value for the given depth label, or nil.
func (l *Layer) Depth(label string) *DepthValue {
	if l == nil {
		return nil
	}
	for i := range l.Depths {
		if l.Depths[i].Label == label {
			return &l.Depths[i]
		}
	}
	return nil
}

// Point decodes the feature geometry, which echoes the queried location.
func (r *Response) Point() (*geom.Point, error) {
	if r.Geometry == nil {
		return nil, eris.Wrap(ErrUnexpectedShape, "missing geometry")
	}
	g, err := r.Geometry.Decode()
	if err != nil {
		return nil, eris.Wrap(err, "soilgrids: decode geometry")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return nil, eris.Wrapf(ErrUnexpectedShape, "geometry is %s, not Point", r.Geometry.Type)
	}
	return p, nil
}
