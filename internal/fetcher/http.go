package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/biodt/soilgrids-cli/internal/resilience"
)

// SoilGridsHost is the host of the SoilGrids REST API.
const SoilGridsHost = "rest.isric.org"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig
	// RateLimiters overrides the adaptive per-host limiters.
	RateLimiters map[string]*AdaptiveLimiter
	// Breakers, when set, rejects requests to a host whose circuit is open.
	Breakers *resilience.HostBreakers
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// SoilGridsLimiter enforces the SoilGrids fair-use policy of perMinute
// requests per minute. Successes never raise the rate above that policy and
// there is no burst.
func SoilGridsLimiter(perMinute int) *AdaptiveLimiter {
	if perMinute <= 0 {
		perMinute = 5
	}
	lim := NewAdaptiveLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	lim.maxRate = lim.initialRate
	return lim
}

// DefaultRateLimiters returns the default per-host limiters.
func DefaultRateLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		SoilGridsHost: SoilGridsLimiter(5),
	}
}

// HTTPFetcher implements Fetcher using net/http with rate limiting and
// bounded retries.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "soilgrids-cli/1.0"
	}
	limiters := DefaultRateLimiters()
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
	}
}

// limiterFor returns the limiter for the URL's host, creating a permissive
// one for hosts without a policy.
func (f *HTTPFetcher) limiterFor(rawURL string) *AdaptiveLimiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(20, 20)
		f.limiters[host] = lim
	}
	return lim
}

// do sends req, retrying transient failures per the retry config. Non-2xx
// responses other than 429/5xx are returned to the caller.
func (f *HTTPFetcher) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	lim := f.limiterFor(req.URL.String())

	retry := f.opts.Retry
	retry.OnRetry = resilience.RetryLogger(req.URL.Host, req.URL.String())

	attempt := func(ctx context.Context) (*http.Response, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*http.Response, error) {
			if err := lim.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "rate limiter wait")
			}

			resp, err := f.client.Do(req.Clone(ctx))
			if err != nil {
				return nil, err
			}

			if resp.StatusCode == http.StatusTooManyRequests {
				_ = resp.Body.Close()
				lim.OnRateLimit()
				return nil, resilience.NewTransientError(
					eris.Errorf("http 429 from %s", req.URL.String()), resp.StatusCode)
			}
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				_ = resp.Body.Close()
				return nil, resilience.NewTransientError(
					eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String()), resp.StatusCode)
			}

			lim.OnSuccess()
			return resp, nil
		})
	}

	var (
		resp *http.Response
		err  error
	)
	if f.opts.Breakers != nil {
		resp, err = resilience.ExecuteVal(ctx, f.opts.Breakers.For(req.URL.Host), attempt)
	} else {
		resp, err = attempt(ctx)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "%s %s", req.Method, req.URL.String())
	}
	return resp, nil
}

func (f *HTTPFetcher) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	return req, nil
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, */*")

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s: %s", resp.StatusCode, rawURL, body)
	}

	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to the given path.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}

	n, err := io.Copy(file, body)
	if err != nil {
		_ = file.Close()
		return n, eris.Wrap(err, "write file")
	}
	if err := file.Close(); err != nil {
		return n, eris.Wrap(err, "close file")
	}

	return n, nil
}

// Stat performs a HEAD request and returns the remote size.
func (f *HTTPFetcher) Stat(ctx context.Context, rawURL string) (RemoteInfo, error) {
	req, err := f.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return RemoteInfo{}, err
	}

	resp, err := f.do(ctx, req)
	if err != nil {
		return RemoteInfo{}, eris.Wrap(err, "head request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return RemoteInfo{}, eris.Errorf("head: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	if resp.ContentLength < 0 {
		return RemoteInfo{}, eris.Errorf("head: %s did not report a content length", rawURL)
	}

	return RemoteInfo{Size: resp.ContentLength}, nil
}

// ReadRange fetches length bytes starting at offset. The server must honour
// Range requests (206 Partial Content).
func (f *HTTPFetcher) ReadRange(ctx context.Context, rawURL string, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "range request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusPartialContent {
		return nil, eris.Errorf("range request: expected status 206 from %s, got %d", rawURL, resp.StatusCode)
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, length))
	if err != nil {
		return nil, eris.Wrap(err, "range request: read body")
	}
	return buf, nil
}
