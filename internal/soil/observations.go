package soil

// Observations collects raw values per (property, depth) from one source,
// together with the reason for every value that could not be obtained.
type Observations struct {
	source   Source
	values   map[string]map[string]float64
	failures map[string]map[string]error
}

// NewObservations returns an empty set of observations for src.
func NewObservations(src Source) *Observations {
	return &Observations{
		source:   src,
		values:   make(map[string]map[string]float64),
		failures: make(map[string]map[string]error),
	}
}

// Source returns the source the observations came from.
func (o *Observations) Source() Source {
	return o.source
}

// Set records a raw value and clears any earlier failure for the same slot.
func (o *Observations) Set(property, depth string, raw float64) {
	if o.values[property] == nil {
		o.values[property] = make(map[string]float64)
	}
	o.values[property][depth] = raw
	if f := o.failures[property]; f != nil {
		delete(f, depth)
	}
}

// Fail records why a value is missing.
func (o *Observations) Fail(property, depth string, err error) {
	if o.failures[property] == nil {
		o.failures[property] = make(map[string]error)
	}
	o.failures[property][depth] = err
}

// FailAll records err for every depth of every property in specs.
func (o *Observations) FailAll(specs []PropertySpec, err error) {
	for _, p := range specs {
		for _, d := range Depths {
			o.Fail(p.ID, d.Label, err)
		}
	}
}

// Get returns the raw value for a slot.
func (o *Observations) Get(property, depth string) (float64, bool) {
	v, ok := o.values[property][depth]
	return v, ok
}

// Failure returns the recorded failure for a slot, if any.
func (o *Observations) Failure(property, depth string) error {
	return o.failures[property][depth]
}

// Len returns the number of values present.
func (o *Observations) Len() int {
	n := 0
	for _, byDepth := range o.values {
		n += len(byDepth)
	}
	return n
}

// FailureCount returns the number of recorded failures.
func (o *Observations) FailureCount() int {
	n := 0
	for _, byDepth := range o.failures {
		n += len(byDepth)
	}
	return n
}

// Failures lists the recorded failures in property table and depth order.
func (o *Observations) Failures() []MissingValue {
	var out []MissingValue
	for _, p := range properties {
		for _, d := range Depths {
			if err := o.Failure(p.ID, d.Label); err != nil {
				out = append(out, MissingValue{Property: p.ID, Depth: d.Label, Source: o.source, Err: err})
			}
		}
	}
	return out
}
