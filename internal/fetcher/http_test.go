package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/biodt/soilgrids-cli/internal/resilience"
)

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent: "test-agent",
		Timeout:   5 * time.Second,
		Retry:     fastRetry(1),
	})
}

// serveBytes serves data with Range and HEAD support.
func serveBytes(data []byte, hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		http.ServeContent(w, r, "map.tif", time.Time{}, bytes.NewReader(data))
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	body, err := f.Download(context.Background(), srv.URL+"/data")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestDownload_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such map"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.Download(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
	assert.Contains(t, err.Error(), "no such map")
}

func TestDownload_SingleAttemptByDefault(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{UserAgent: "test-agent"})
	_, err := f.Download(context.Background(), srv.URL+"/query")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestDownload_RetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("success"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{UserAgent: "test-agent", Retry: fastRetry(3)})
	body, err := f.Download(context.Background(), srv.URL+"/retry")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "success", string(data))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDownload_429ReducesRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	lim := NewAdaptiveLimiter(100, 10)
	f := NewHTTPFetcher(HTTPOptions{
		Retry:        fastRetry(1),
		RateLimiters: map[string]*AdaptiveLimiter{srv.Listener.Addr().String(): lim},
	})

	_, err := f.Download(context.Background(), srv.URL+"/limited")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.InDelta(t, 50.0, float64(lim.Limit()), 0.001)
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file content here"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	path := filepath.Join(t.TempDir(), "out.tif")

	n, err := f.DownloadToFile(context.Background(), srv.URL+"/file", path)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file content here", string(data))
}

func TestDownloadToFile_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher()
	path := filepath.Join(t.TempDir(), "out.tif")
	_, err := f.DownloadToFile(context.Background(), srv.URL+"/notfound", path)
	require.Error(t, err)
	assert.NoFileExists(t, path)
}

func TestStat(t *testing.T) {
	srv := httptest.NewServer(serveBytes(make([]byte, 1234), nil))
	defer srv.Close()

	f := newTestFetcher()
	info, err := f.Stat(context.Background(), srv.URL+"/map.tif")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), info.Size)
}

func TestStat_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.Stat(context.Background(), srv.URL+"/map.tif")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestReadRange(t *testing.T) {
	data := []byte("0123456789abcdefghij")
	srv := httptest.NewServer(serveBytes(data, nil))
	defer srv.Close()

	f := newTestFetcher()
	got, err := f.ReadRange(context.Background(), srv.URL+"/map.tif", 5, 7)
	require.NoError(t, err)
	assert.Equal(t, "56789ab", string(got))
}

func TestReadRange_ServerIgnoresRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("whole file"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.ReadRange(context.Background(), srv.URL+"/map.tif", 2, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected status 206")
}

func TestSoilGridsLimiter(t *testing.T) {
	lim := SoilGridsLimiter(5)
	assert.InDelta(t, float64(rate.Every(12*time.Second)), float64(lim.Limit()), 1e-9)

	lim = SoilGridsLimiter(0)
	assert.InDelta(t, float64(rate.Every(12*time.Second)), float64(lim.Limit()), 1e-9)
}

func TestSoilGridsLimiter_NeverExceedsFairUse(t *testing.T) {
	lim := SoilGridsLimiter(5)
	for i := 0; i < 10; i++ {
		lim.OnSuccess()
	}
	assert.InDelta(t, float64(rate.Every(12*time.Second)), float64(lim.Limit()), 1e-9)
	assert.Equal(t, 1, lim.limiter.Burst())

	lim.OnRateLimit()
	assert.InDelta(t, float64(rate.Every(24*time.Second)), float64(lim.Limit()), 1e-9)
	lim.OnSuccess()
	assert.LessOrEqual(t, float64(lim.Limit()), float64(rate.Every(12*time.Second)))
}

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)
	for range 10 {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.001)

	for range 10 {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.001)
}

func TestLimiterFor_UnknownHost(t *testing.T) {
	f := newTestFetcher()
	lim := f.limiterFor("https://opendap.example.org/map.tif")
	require.NotNil(t, lim)
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.001)
	assert.Same(t, lim, f.limiterFor("https://opendap.example.org/other.tif"))
}

func TestDefaultRateLimiters(t *testing.T) {
	assert.Contains(t, DefaultRateLimiters(), SoilGridsHost)
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "soilgrids-cli/1.0", f.opts.UserAgent)
	assert.Equal(t, 60*time.Second, f.opts.Timeout)
	assert.Equal(t, 1, f.opts.Retry.MaxAttempts)
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher().Download(ctx, srv.URL+"/data")
	require.Error(t, err)
}

func TestDownload_BreakerStopsRequestsToFailingHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		Timeout:  5 * time.Second,
		Retry:    fastRetry(1),
		Breakers: resilience.NewHostBreakers(resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}),
	})

	for i := 0; i < 4; i++ {
		_, err := f.Download(context.Background(), srv.URL+"/WCsat_0-5cm_M_250m.tif")
		require.Error(t, err)
		if i >= 2 {
			assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
		}
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestDownload_BreakerIgnoresNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		Timeout:  5 * time.Second,
		Retry:    fastRetry(1),
		Breakers: resilience.NewHostBreakers(resilience.BreakerConfig{FailureThreshold: 1}),
	})
	for i := 0; i < 3; i++ {
		_, err := f.Download(context.Background(), srv.URL+"/missing.tif")
		require.Error(t, err)
	}
	assert.Equal(t, int32(3), hits.Load())
}
