package soil

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Error taxonomy shared by all sources. Wrap these with eris so callers can
// match them with errors.Is.
var (
	// ErrInvalidCoordinate is returned for out-of-range or non-finite input.
	ErrInvalidCoordinate = eris.New("invalid coordinate")
	// ErrRemoteUnavailable means a remote source could not be reached or answered with an error.
	ErrRemoteUnavailable = eris.New("remote source unavailable")
	// ErrRemoteDataMissing means the API answered but has no value for a property.
	ErrRemoteDataMissing = eris.New("remote data missing")
	// ErrOutOfRasterBounds means the coordinate lies outside a raster's extent.
	ErrOutOfRasterBounds = eris.New("coordinate outside raster bounds")
	// ErrNoDataValue means the raster pixel holds the no-data sentinel.
	ErrNoDataValue = eris.New("raster pixel holds no-data value")
	// ErrIncompleteRecord means at least one required value could not be obtained.
	ErrIncompleteRecord = eris.New("incomplete soil record")
	// ErrWriteError wraps filesystem failures while writing output files.
	ErrWriteError = eris.New("write soil data file")
)

// MissingValue identifies one (property, depth) value that no source delivered.
type MissingValue struct {
	Property string
	Depth    string
	Source   Source
	Err      error
}

func (m MissingValue) String() string {
	reason := "no value"
	if m.Err != nil {
		reason = m.Err.Error()
	}
	return fmt.Sprintf("%s %s (%s): %s", m.Property, m.Depth, m.Source, reason)
}

// IncompleteRecordError lists every value missing after all fetch attempts.
type IncompleteRecordError struct {
	Missing []MissingValue
}

func (e *IncompleteRecordError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, m.String())
	}
	return fmt.Sprintf("%s: %d value(s) missing: %s", ErrIncompleteRecord.Error(), len(e.Missing), strings.Join(parts, "; "))
}

// Is reports a match against ErrIncompleteRecord.
func (e *IncompleteRecordError) Is(target error) bool {
	return target == ErrIncompleteRecord
}

// Properties returns the distinct property IDs that are missing, in order of first appearance.
func (e *IncompleteRecordError) Properties() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range e.Missing {
		if !seen[m.Property] {
			seen[m.Property] = true
			out = append(out, m.Property)
		}
	}
	return out
}
