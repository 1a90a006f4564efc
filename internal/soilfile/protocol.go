package soilfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var protocolHeader = []string{"soil_data_source", "time_stamp"}

// WriteProtocol writes the query protocol: a tab-separated header followed by
// one "source<TAB>RFC 3339 time" row per entry. Failures wrap
// soil.ErrWriteError.
func WriteProtocol(path string, entries []ProtocolEntry) error {
	st, err := stage(path, func(w *bufio.Writer) error {
		return encodeProtocol(w, entries)
	})
	if err != nil {
		return err
	}
	return st.commit()
}

func encodeProtocol(w io.Writer, entries []ProtocolEntry) error {
	if _, err := fmt.Fprintln(w, strings.Join(protocolHeader, "\t")); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", e.Source, e.TimeStamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return nil
}

// ParseProtocol reads a query protocol written by WriteProtocol.
func ParseProtocol(r io.Reader) ([]ProtocolEntry, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return nil, eris.Wrap(ErrMalformed, "empty protocol")
	}
	if sc.Text() != strings.Join(protocolHeader, "\t") {
		return nil, eris.Wrapf(ErrMalformed, "protocol header %q", sc.Text())
	}

	var out []ProtocolEntry
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		i := strings.LastIndex(line, "\t")
		if i < 0 {
			return nil, eris.Wrapf(ErrMalformed, "protocol row %q", line)
		}
		ts, err := time.Parse(time.RFC3339Nano, line[i+1:])
		if err != nil {
			return nil, eris.Wrapf(ErrMalformed, "protocol time %q", line[i+1:])
		}
		out = append(out, ProtocolEntry{Source: line[:i], TimeStamp: ts})
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "soilfile: read protocol")
	}
	return out, nil
}

// ParseProtocolFile reads the protocol at path.
func ParseProtocolFile(path string) ([]ProtocolEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "soilfile: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ParseProtocol(f)
}
