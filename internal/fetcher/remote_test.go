package fetcher

import (
	"context"
	"io"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestRemoteFile_ReadAtAcrossBlocks(t *testing.T) {
	data := patterned(1000)
	srv := httptest.NewServer(serveBytes(data, nil))
	defer srv.Close()

	rf, err := OpenRemote(context.Background(), newTestFetcher(), srv.URL+"/map.tif")
	require.NoError(t, err)
	rf.blockSize = 64
	assert.Equal(t, int64(1000), rf.Size())

	buf := make([]byte, 200)
	n, err := rf.ReadAt(buf, 50)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Equal(t, data[50:250], buf)
}

func TestRemoteFile_BlocksAreCached(t *testing.T) {
	data := patterned(512)
	var hits atomic.Int32
	srv := httptest.NewServer(serveBytes(data, &hits))
	defer srv.Close()

	rf, err := OpenRemote(context.Background(), newTestFetcher(), srv.URL+"/map.tif")
	require.NoError(t, err)
	rf.blockSize = 128
	headHits := hits.Load()

	buf := make([]byte, 8)
	for range 10 {
		_, err := rf.ReadAt(buf, 4)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, rf.Requests())
	assert.Equal(t, headHits+1, hits.Load())
}

func TestRemoteFile_EvictsOldestBlock(t *testing.T) {
	srv := httptest.NewServer(serveBytes(patterned(400), nil))
	defer srv.Close()

	rf, err := OpenRemote(context.Background(), newTestFetcher(), srv.URL+"/map.tif")
	require.NoError(t, err)
	rf.blockSize = 100
	rf.maxBlocks = 2

	buf := make([]byte, 1)
	for _, off := range []int64{0, 100, 200, 0} {
		_, err := rf.ReadAt(buf, off)
		require.NoError(t, err)
	}
	// Block 0 was evicted by block 2 and had to be fetched again.
	assert.Equal(t, 4, rf.Requests())
	assert.Len(t, rf.blocks, 2)
}

func TestRemoteFile_EOF(t *testing.T) {
	data := patterned(100)
	srv := httptest.NewServer(serveBytes(data, nil))
	defer srv.Close()

	rf, err := OpenRemote(context.Background(), newTestFetcher(), srv.URL+"/map.tif")
	require.NoError(t, err)

	buf := make([]byte, 20)
	n, err := rf.ReadAt(buf, 90)
	assert.Equal(t, 10, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, data[90:], buf[:10])

	_, err = rf.ReadAt(buf, 100)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenRemote_NotFound(t *testing.T) {
	srv := httptest.NewServer(serveBytes(nil, nil))
	srv.Close()

	_, err := OpenRemote(context.Background(), newTestFetcher(), srv.URL+"/map.tif")
	require.Error(t, err)
}
