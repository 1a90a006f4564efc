package soil

import "github.com/rotisserie/eris"

// Entry is one property of a Record. DepthMean properties hold a single
// value, Layered properties hold NumLayers values.
type Entry struct {
	Spec   PropertySpec
	Values []float64
}

// Record is the merged, converted soil data in property table order.
type Record struct {
	entries []Entry
}

// Entries returns the record entries in order.
func (r *Record) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Get returns the entry for a property ID.
func (r *Record) Get(id string) (Entry, bool) {
	for _, e := range r.entries {
		if e.Spec.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// IDs returns the property IDs in record order.
func (r *Record) IDs() []string {
	ids := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		ids = append(ids, e.Spec.ID)
	}
	return ids
}

// EntriesOfShape returns the entries with the given shape, in order.
func (r *Record) EntriesOfShape(s Shape) []Entry {
	var out []Entry
	for _, e := range r.entries {
		if e.Spec.Shape == s {
			out = append(out, e)
		}
	}
	return out
}

// NewRecord assembles a record from entries that are already converted. It
// enforces that every table property appears exactly once, in table order.
func NewRecord(entries []Entry) (*Record, error) {
	if len(entries) != len(properties) {
		return nil, eris.Errorf("soil: record has %d entries, want %d", len(entries), len(properties))
	}
	for i, e := range entries {
		if e.Spec.ID != properties[i].ID {
			return nil, eris.Errorf("soil: entry %d is %q, want %q", i, e.Spec.ID, properties[i].ID)
		}
		want := 1
		if e.Spec.Shape == Layered {
			want = NumLayers
		}
		if len(e.Values) != want {
			return nil, eris.Errorf("soil: %s has %d values, want %d", e.Spec.ID, len(e.Values), want)
		}
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return &Record{entries: out}, nil
}

// Merge builds the record from SoilGrids and HiHydroSoil observations. Each
// property is read from the source that owns it; a property with any depth
// missing makes the whole record fail with an *IncompleteRecordError.
func Merge(api, raster *Observations) (*Record, error) {
	bySource := map[Source]*Observations{
		SourceSoilGrids:   api,
		SourceHiHydroSoil: raster,
	}

	var (
		entries []Entry
		missing []MissingValue
	)
	for _, spec := range properties {
		obs := bySource[spec.Source]

		var profile [NumDepths]float64
		complete := true
		for i, d := range Depths {
			var (
				v  float64
				ok bool
			)
			if obs != nil {
				v, ok = obs.Get(spec.ID, d.Label)
			}
			if !ok {
				complete = false
				var cause error
				if obs != nil {
					cause = obs.Failure(spec.ID, d.Label)
				}
				missing = append(missing, MissingValue{
					Property: spec.ID,
					Depth:    d.Label,
					Source:   spec.Source,
					Err:      cause,
				})
				continue
			}
			profile[i] = Convert(v, spec)
		}
		if !complete {
			continue
		}

		layers := MapToLayers(profile)
		values := layers[:]
		if spec.Shape == DepthMean {
			values = []float64{Mean(layers[:])}
		}
		entries = append(entries, Entry{Spec: spec, Values: append([]float64(nil), values...)})
	}

	if len(missing) > 0 {
		return nil, &IncompleteRecordError{Missing: missing}
	}
	return NewRecord(entries)
}
