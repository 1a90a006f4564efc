// Package soilgrids provides a client for the ISRIC SoilGrids v2.0
// properties query API.
package soilgrids

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/biodt/soilgrids-cli/internal/fetcher"
)

// DefaultBaseURL is the public SoilGrids v2.0 REST endpoint.
const DefaultBaseURL = "https://rest.isric.org/soilgrids/v2.0"

// ErrUnexpectedShape is returned when a response lacks properties.layers.
var ErrUnexpectedShape = eris.New("soilgrids: unexpected response shape")

// Client defines the SoilGrids operations.
type Client interface {
	// Query fetches point values for the requested properties and depths.
	Query(ctx context.Context, req Request) (*Response, error)
	// QueryURL returns the URL Query would request.
	QueryURL(req Request) string
}

// Getter performs a GET and returns the body of a 200 response.
// *fetcher.HTTPFetcher satisfies it.
type Getter interface {
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Request selects what to query. Values defaults to "mean".
type Request struct {
	Lat        float64
	Lon        float64
	Properties []string
	Depths     []string
	Values     []string
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithGetter routes requests through g, e.g. a rate limited fetcher.
func WithGetter(g Getter) Option {
	return func(c *httpClient) {
		c.get = g
	}
}

type httpClient struct {
	baseURL string
	get     Getter
}

// NewClient creates a SoilGrids client. Without WithGetter a plain
// net/http client with a 60s timeout is used.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: DefaultBaseURL,
		get:     plainGetter{hc: &http.Client{Timeout: 60 * time.Second}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) QueryURL(req Request) string {
	q := url.Values{}
	q.Set("lon", strconv.FormatFloat(req.Lon, 'f', -1, 64))
	q.Set("lat", strconv.FormatFloat(req.Lat, 'f', -1, 64))
	for _, p := range req.Properties {
		q.Add("property", p)
	}
	for _, d := range req.Depths {
		q.Add("depth", d)
	}
	values := req.Values
	if len(values) == 0 {
		values = []string{"mean"}
	}
	for _, v := range values {
		q.Add("value", v)
	}
	return c.baseURL + "/properties/query?" + q.Encode()
}

func (c *httpClient) Query(ctx context.Context, req Request) (*Response, error) {
	if len(req.Properties) == 0 {
		return nil, eris.New("soilgrids: no properties requested")
	}

	body, err := c.get.Download(ctx, c.QueryURL(req))
	if err != nil {
		return nil, eris.Wrap(err, "soilgrids: request failed")
	}
	defer body.Close() //nolint:errcheck

	return Decode(body)
}

// Decode parses a properties query response.
func Decode(r io.Reader) (*Response, error) {
	resp, err := fetcher.DecodeJSONObject[Response](r)
	if err != nil {
		return nil, eris.Wrap(err, "soilgrids: unmarshal response")
	}
	if resp.Properties == nil || resp.Properties.Layers == nil {
		return nil, eris.Wrap(ErrUnexpectedShape, "missing properties.layers")
	}
	return resp, nil
}

type plainGetter struct {
	hc *http.Client
}

func (g plainGetter) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "soilgrids: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, eris.Errorf("soilgrids: unexpected status %d: %s", resp.StatusCode, msg)
	}
	return resp.Body, nil
}
