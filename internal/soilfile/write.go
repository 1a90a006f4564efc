package soilfile

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/biodt/soilgrids-cli/internal/soil"
)

// DefaultDir is where soil data files go when no file name is given.
const DefaultDir = "soilDataPrepared"

// DefaultPath is the output file for a coordinate: <dir>/lat.._lon..__2020__soil.txt.
func DefaultPath(dir string, c soil.Coordinate) string {
	return filepath.Join(dir, c.FileStem()+"__2020__soil.txt")
}

// ProtocolPath returns the query protocol file that accompanies path.
func ProtocolPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "__data_query_protocol" + ext
}

// Write stores rec at path, replacing any existing file. The data is written
// to a temporary file in the same directory and renamed into place, so path
// either holds the complete new file or is untouched. The parent directory
// must exist. Failures wrap soil.ErrWriteError.
func Write(path string, rec *soil.Record) error {
	st, err := stage(path, func(w *bufio.Writer) error {
		return Encode(w, rec)
	})
	if err != nil {
		return err
	}
	return st.commit()
}

// WriteWithProtocol stores rec at path and entries at ProtocolPath(path).
// Both files are fully written to temporary files before either is renamed,
// and the soil file is renamed last: when an error is returned the soil file
// at path is the one that was there before.
func WriteWithProtocol(path string, rec *soil.Record, entries []ProtocolEntry) (string, error) {
	soilFile, err := stage(path, func(w *bufio.Writer) error {
		return Encode(w, rec)
	})
	if err != nil {
		return "", err
	}
	protocolPath := ProtocolPath(path)
	protocol, err := stage(protocolPath, func(w *bufio.Writer) error {
		return encodeProtocol(w, entries)
	})
	if err != nil {
		soilFile.discard()
		return "", err
	}

	if err := protocol.commit(); err != nil {
		soilFile.discard()
		return "", err
	}
	if err := soilFile.commit(); err != nil {
		// Do not leave a protocol next to a soil file it does not describe.
		_ = os.Remove(protocolPath)
		return "", err
	}
	return protocolPath, nil
}

// staged is a complete temporary file waiting to be renamed to path.
type staged struct {
	tmp  string
	path string
}

func stage(path string, encode func(w *bufio.Writer) error) (staged, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return staged{}, eris.Wrapf(soil.ErrWriteError, "%s: %v", path, err)
	}
	tmpName := tmp.Name()
	fail := func(err error) (staged, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return staged{}, eris.Wrapf(soil.ErrWriteError, "%s: %v", path, err)
	}

	bw := bufio.NewWriter(tmp)
	if err := encode(bw); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return staged{}, eris.Wrapf(soil.ErrWriteError, "%s: %v", path, err)
	}
	return staged{tmp: tmpName, path: path}, nil
}

func (s staged) commit() error {
	if err := os.Rename(s.tmp, s.path); err != nil {
		s.discard()
		return eris.Wrapf(soil.ErrWriteError, "%s: %v", s.path, err)
	}
	return nil
}

func (s staged) discard() {
	_ = os.Remove(s.tmp)
}

// ParseFile reads the soil data file at path.
func ParseFile(path string) (*soil.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "soilfile: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return Parse(f)
}

// ProtocolEntry records where one piece of soil data came from and when it
// was retrieved.
type ProtocolEntry struct {
	Source    string    `yaml:"source"`
	TimeStamp time.Time `yaml:"time_stamp"`
}
