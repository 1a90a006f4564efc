package fetcher

import (
	"context"
	"io"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultBlockSize = 64 << 10
	defaultMaxBlocks = 64
)

// RemoteFile exposes a remote file as an io.ReaderAt backed by HTTP Range
// requests. Reads are served from fixed-size blocks that are kept in a small
// FIFO cache, so the many small reads of a TIFF directory cost few requests.
//
// io.ReaderAt carries no context, so the context given to OpenRemote bounds
// every request made through the file.
type RemoteFile struct {
	ctx       context.Context
	fetcher   Fetcher
	url       string
	size      int64
	blockSize int64
	maxBlocks int

	mu       sync.Mutex
	blocks   map[int64][]byte
	order    []int64
	requests int
}

// OpenRemote stats url and returns a RemoteFile for it.
func OpenRemote(ctx context.Context, f Fetcher, url string) (*RemoteFile, error) {
	info, err := f.Stat(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "open remote %s", url)
	}
	return &RemoteFile{
		ctx:       ctx,
		fetcher:   f,
		url:       url,
		size:      info.Size,
		blockSize: defaultBlockSize,
		maxBlocks: defaultMaxBlocks,
		blocks:    make(map[int64][]byte),
	}, nil
}

// Size returns the remote file size in bytes.
func (r *RemoteFile) Size() int64 {
	return r.size
}

// Requests returns the number of range requests issued so far.
func (r *RemoteFile) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

// ReadAt implements io.ReaderAt.
func (r *RemoteFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, eris.New("remote file: negative offset")
	}
	if off >= r.size {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && off+int64(n) < r.size {
		pos := off + int64(n)
		idx := pos / r.blockSize
		block, err := r.block(idx)
		if err != nil {
			return n, err
		}
		n += copy(p[n:], block[pos-idx*r.blockSize:])
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *RemoteFile) block(idx int64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.blocks[idx]; ok {
		return b, nil
	}

	start := idx * r.blockSize
	length := r.blockSize
	if start+length > r.size {
		length = r.size - start
	}

	b, err := r.fetcher.ReadRange(r.ctx, r.url, start, length)
	r.requests++
	if err != nil {
		return nil, eris.Wrapf(err, "remote file: read block %d", idx)
	}
	if int64(len(b)) != length {
		return nil, eris.Errorf("remote file: short block %d: got %d bytes, want %d", idx, len(b), length)
	}

	if len(r.order) >= r.maxBlocks {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.blocks, oldest)
	}
	r.blocks[idx] = b
	r.order = append(r.order, idx)

	zap.L().Debug("remote file block fetched",
		zap.String("url", r.url),
		zap.Int64("block", idx),
		zap.Int64("bytes", length),
	)
	return b, nil
}
