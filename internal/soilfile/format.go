// Package soilfile reads and writes Grassmind soil data files.
//
// A file has two tab-separated blocks separated by an empty line. The first
// holds the soil composition (one value per DepthMean property), the second
// one row per 10 cm layer with the Layered properties:
//
//	Silt	Clay	Sand
//	0.4095	0.1725	0.4180
//
//	Layer	FC[V%]	PWP[V%]	POR[V%]	KS[mm/d]
//	1.0000	35.1200	17.0400	45.3300	12.5000
//	...
//
// All numbers are written with four decimals.
package soilfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/biodt/soilgrids-cli/internal/soil"
)

// ErrMalformed is returned by Parse for input that is not a soil data file.
var ErrMalformed = eris.New("soilfile: malformed soil data file")

const layerColumn = "Layer"

// columnTitle is the header of a property column.
func columnTitle(spec soil.PropertySpec) string {
	if spec.Shape == soil.DepthMean {
		return cases.Title(language.Und).String(spec.ID)
	}
	return spec.Header()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// Encode writes rec in the soil data file format.
func Encode(w io.Writer, rec *soil.Record) error {
	if rec == nil {
		return eris.New("soilfile: nil record")
	}
	comp := rec.EntriesOfShape(soil.DepthMean)
	layered := rec.EntriesOfShape(soil.Layered)

	bw := bufio.NewWriter(w)

	titles := make([]string, 0, len(comp))
	values := make([]string, 0, len(comp))
	for _, e := range comp {
		titles = append(titles, columnTitle(e.Spec))
		values = append(values, formatValue(e.Values[0]))
	}
	fmt.Fprintln(bw, strings.Join(titles, "\t"))
	fmt.Fprintln(bw, strings.Join(values, "\t"))
	fmt.Fprintln(bw)

	titles = []string{layerColumn}
	for _, e := range layered {
		titles = append(titles, columnTitle(e.Spec))
	}
	fmt.Fprintln(bw, strings.Join(titles, "\t"))
	for i := 0; i < soil.NumLayers; i++ {
		row := []string{formatValue(float64(i + 1))}
		for _, e := range layered {
			row = append(row, formatValue(e.Values[i]))
		}
		fmt.Fprintln(bw, strings.Join(row, "\t"))
	}

	return eris.Wrap(bw.Flush(), "soilfile: encode")
}

// specByTitle resolves a column header to its property.
func specByTitle(title string, shape soil.Shape) (soil.PropertySpec, bool) {
	for _, spec := range soil.Properties() {
		if spec.Shape == shape && columnTitle(spec) == title {
			return spec, true
		}
	}
	return soil.PropertySpec{}, false
}

func parseRow(line string, want int) ([]float64, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != want {
		return nil, eris.Wrapf(ErrMalformed, "row %q has %d columns, want %d", line, len(fields), want)
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, eris.Wrapf(ErrMalformed, "bad number %q", f)
		}
		out[i] = v
	}
	return out, nil
}

// Parse reads a soil data file. The columns must name every property of the
// property table exactly once and in table order.
func Parse(r io.Reader) (*soil.Record, error) {
	sc := bufio.NewScanner(r)
	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "soilfile: read")
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	want := 2 + 1 + 1 + soil.NumLayers
	if len(lines) != want {
		return nil, eris.Wrapf(ErrMalformed, "%d lines, want %d", len(lines), want)
	}
	if strings.TrimSpace(lines[2]) != "" {
		return nil, eris.Wrap(ErrMalformed, "missing empty line between blocks")
	}

	var entries []soil.Entry

	compTitles := strings.Split(lines[0], "\t")
	compValues, err := parseRow(lines[1], len(compTitles))
	if err != nil {
		return nil, err
	}
	for i, title := range compTitles {
		spec, ok := specByTitle(strings.TrimSpace(title), soil.DepthMean)
		if !ok {
			return nil, eris.Wrapf(ErrMalformed, "unknown composition column %q", title)
		}
		entries = append(entries, soil.Entry{Spec: spec, Values: []float64{compValues[i]}})
	}

	layerTitles := strings.Split(lines[3], "\t")
	if len(layerTitles) < 1 || layerTitles[0] != layerColumn {
		return nil, eris.Wrapf(ErrMalformed, "layer block header %q", lines[3])
	}
	first := len(entries)
	for _, title := range layerTitles[1:] {
		spec, ok := specByTitle(strings.TrimSpace(title), soil.Layered)
		if !ok {
			return nil, eris.Wrapf(ErrMalformed, "unknown layer column %q", title)
		}
		entries = append(entries, soil.Entry{Spec: spec, Values: make([]float64, soil.NumLayers)})
	}
	for i := 0; i < soil.NumLayers; i++ {
		row, err := parseRow(lines[4+i], len(layerTitles))
		if err != nil {
			return nil, err
		}
		if int(row[0]) != i+1 {
			return nil, eris.Wrapf(ErrMalformed, "layer %v out of sequence, want %d", row[0], i+1)
		}
		for j, v := range row[1:] {
			entries[first+j].Values[i] = v
		}
	}

	rec, err := soil.NewRecord(entries)
	if err != nil {
		return nil, eris.Wrapf(ErrMalformed, "%v", err)
	}
	return rec, nil
}
