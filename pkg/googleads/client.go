// Package googleads is a minimal Google Ads API client. It executes GAQL
// queries through the REST searchStream method and hands back the response
// batch by batch without buffering the whole result.
//
// The client never retries. Failures are returned as typed errors from the
// errors package so callers can decide what to do with them.
package googleads

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/adsync/pkg/clients"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/metrics"
)

const (
	// DefaultEndpoint is the production API host
	DefaultEndpoint = "https://googleads.googleapis.com"
	// DefaultAPIVersion is the REST API version queried
	DefaultAPIVersion = "v21"
)

// APIClient executes GAQL queries
type APIClient interface {
	ExecuteStreamingQuery(ctx context.Context, customerID, query string) (Stream, error)
}

// Stream yields the batches of one searchStream response.
// Next returns io.EOF after the last batch. Close must always be called.
type Stream interface {
	Next(ctx context.Context) (*Batch, error)
	Close() error
}

// Batch is one element of a searchStream response
type Batch struct {
	Results   []map[string]any `json:"results"`
	FieldMask string           `json:"fieldMask"`
	RequestID string           `json:"requestId"`
	// Error is set when the API fails part way through a stream
	Error *Status `json:"error,omitempty"`
}

// Options configures a Client
type Options struct {
	DeveloperToken  string
	LoginCustomerID string
	Endpoint        string
	APIVersion      string
	TokenSource     oauth2.TokenSource
	HTTP            *clients.HTTPConfig
	// BaseTransport replaces the default transport, for tests
	BaseTransport http.RoundTripper
}

// Client talks to the REST API
type Client struct {
	opts   Options
	http   *clients.HTTPClient
	logger *zap.Logger
}

// NewClient creates a client. Every request carries a bearer token from
// opts.TokenSource and the developer-token header.
func NewClient(opts Options) (*Client, error) {
	if opts.DeveloperToken == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "developer token is required")
	}
	if opts.TokenSource == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "token source is required")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	opts.LoginCustomerID = normalizeCustomerID(opts.LoginCustomerID)

	log := logger.Get().With(zap.String("component", "googleads_client"))

	httpCfg := opts.HTTP
	if httpCfg == nil {
		httpCfg = clients.DefaultHTTPConfig()
	}
	base := opts.BaseTransport
	if base == nil {
		base = clients.NewTransport(httpCfg, log)
	}
	traced := otelhttp.NewTransport(base, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return "googleads " + r.Method
	}))
	authed := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, opts.TokenSource),
			Base:   traced,
		},
	}

	return &Client{
		opts:   opts,
		http:   clients.WrapHTTPClient(httpCfg, authed, log),
		logger: log,
	}, nil
}

// ExecuteStreamingQuery starts a searchStream request. The returned stream
// holds the open response body.
func (c *Client) ExecuteStreamingQuery(ctx context.Context, customerID, query string) (Stream, error) {
	customerID = normalizeCustomerID(customerID)
	url := fmt.Sprintf("%s/%s/customers/%s/googleAds:searchStream", c.opts.Endpoint, c.opts.APIVersion, customerID)

	body, err := gojson.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", c.opts.DeveloperToken)
	if c.opts.LoginCustomerID != "" {
		req.Header.Set("login-customer-id", c.opts.LoginCustomerID)
	}

	c.logger.Debug("executing query",
		zap.String("customer_id", customerID),
		zap.String("query", query))

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues("error").Inc()
		return nil, transportError(ctx, err)
	}
	metrics.APIRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}

	sep := &separatorReader{r: resp.Body}
	return &restStream{
		body:      resp.Body,
		dec:       gojson.NewDecoder(sep),
		sep:       sep,
		requestID: resp.Header.Get("request-id"),
	}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	return c.http.Close()
}

// Stats returns transport statistics
func (c *Client) Stats() clients.HTTPStats {
	return c.http.GetStats()
}

type restStream struct {
	body      io.ReadCloser
	dec       *gojson.Decoder
	sep       *separatorReader
	requestID string
	started   bool
	done      bool
	closed    bool
}

// Next decodes the next array element of the response
func (s *restStream) Next(ctx context.Context) (*Batch, error) {
	if s.closed || s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "stream canceled")
	}

	if !s.started {
		s.started = true
		tok, err := s.dec.Token()
		if errors.Is(err, io.EOF) {
			// an empty body is an empty result
			s.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, s.readError(ctx, err)
		}
		if d, ok := tok.(gojson.Delim); !ok || d != '[' {
			return nil, errors.Newf(errors.ErrorTypeData, "unexpected searchStream token %v", tok)
		}
	}

	if !s.dec.More() {
		s.done = true
		if err := s.sep.err; err != nil {
			return nil, s.malformed(err)
		}
		return nil, io.EOF
	}

	var batch Batch
	if err := s.dec.Decode(&batch); err != nil {
		return nil, s.readError(ctx, err)
	}
	if err := s.sep.err; err != nil {
		s.done = true
		return nil, s.malformed(err)
	}
	if batch.Error != nil {
		s.done = true
		return nil, batch.Error.toError(0, s.requestID)
	}
	return &batch, nil
}

func (s *restStream) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "stream canceled")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read searchStream response").
		WithDetail("request_id", s.requestID)
}

func (s *restStream) malformed(err error) error {
	return errors.Wrap(err, errors.ErrorTypeData, "malformed searchStream response").
		WithDetail("request_id", s.requestID)
}

// separatorReader watches the bytes of a searchStream body and records an
// error when two elements of the top-level array are not separated by a
// comma. The decoder's token walk does not check this.
type separatorReader struct {
	r        io.Reader
	depth    int
	inString bool
	escaped  bool
	needSep  bool
	err      error
}

func (s *separatorReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	for _, b := range p[:n] {
		if s.err != nil {
			break
		}
		if s.inString {
			switch {
			case s.escaped:
				s.escaped = false
			case b == '\\':
				s.escaped = true
			case b == '"':
				s.inString = false
				if s.depth == 1 {
					s.needSep = true
				}
			}
			continue
		}
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		if s.needSep {
			if b != ',' && b != ']' {
				s.err = fmt.Errorf("missing ',' before %q at depth %d", b, s.depth)
				break
			}
			s.needSep = false
		}
		switch b {
		case '"':
			s.inString = true
		case '{', '[':
			s.depth++
		case '}', ']':
			s.depth--
			if s.depth == 1 {
				s.needSep = true
			}
		}
	}
	return n, err
}

// Close releases the response body
func (s *restStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// normalizeCustomerID strips the dashes of the 123-456-7890 display form
func normalizeCustomerID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "-", "")
}
