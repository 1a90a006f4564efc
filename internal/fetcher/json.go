package fetcher

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
)

// maxJSONBytes bounds a decoded API response. A SoilGrids point query
// answers with a few KiB.
const maxJSONBytes = 8 << 20

// DecodeJSONObject decodes exactly one JSON value from r into T. Anything but
// whitespace after the value is an error.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	dec := json.NewDecoder(io.LimitReader(r, maxJSONBytes))
	var obj T
	if err := dec.Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, eris.New("json: trailing data after object")
	}
	return &obj, nil
}
