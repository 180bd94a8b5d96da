package cometdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// HTTPClient is the interface for HTTP client.
type HTTPClient interface {
	// Get sends a GET request to the CometDB server.
	Get(ctx context.Context, u *url.URL, headers http.Header) (*http.Response, error)
	// Post sends a POST request with a JSON body to the CometDB server.
	Post(ctx context.Context, u *url.URL, body []byte, headers http.Header) (*http.Response, error)
	// Upload sends a PUT request with a multipart file body to the CometDB server.
	Upload(ctx context.Context, u *url.URL, headers http.Header, fileName string, data io.Reader) (*http.Response, error)
}

type httpClient struct {
	client *http.Client
}

// NewHTTPClient creates a new internal HTTP client.
func NewHTTPClient() HTTPClient {
	return &httpClient{
		client: http.DefaultClient,
	}
}

// Ensure httpClient implements HTTPClient.
var _ HTTPClient = (*httpClient)(nil)

func (c *httpClient) Get(ctx context.Context, u *url.URL, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	mergeHeaders(req, headers)
	return c.client.Do(req)
}

func (c *httpClient) Post(ctx context.Context, u *url.URL, body []byte, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	mergeHeaders(req, headers)
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

func (c *httpClient) Upload(ctx context.Context, u *url.URL, headers http.Header, fileName string, data io.Reader) (*http.Response, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("upload", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), &buf)
	if err != nil {
		return nil, err
	}
	mergeHeaders(req, headers)
	req.Header.Set("Content-Type", form.FormDataContentType())
	return c.client.Do(req)
}

func mergeHeaders(req *http.Request, headers http.Header) {
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

// Client is the connection factory. It resolves the configured node set and
// hands out connections, each pinned to one node for its entire lifetime.
type Client struct {
	config *Config
	http   HTTPClient
	log    *zap.Logger
	clock  clockwork.Clock

	nextNode atomic.Uint64
}

// NewClient creates a client struct with the given config.
func NewClient(config *Config) *Client {
	cfg := config.withDefaults()
	httpCli := cfg.HTTPClient
	if httpCli == nil {
		httpCli = NewHTTPClient()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		config: cfg,
		http:   httpCli,
		log:    log,
		clock:  clock,
	}
}

// GetConn creates a new connection pinned to one of the configured nodes.
//
// The session is established lazily on the first request. The caller owns
// the connection and must call Close on every exit path: server-side session
// resources (temporary tables, open result cursors) live until the session
// is torn down.
func (c *Client) GetConn(ctx context.Context) (*Connection, error) {
	if len(c.config.Nodes) == 0 {
		return nil, fmt.Errorf("cometdb: no nodes configured")
	}
	n := c.nextNode.Add(1) - 1
	endpoint := c.config.Nodes[n%uint64(len(c.config.Nodes))]
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("cometdb: invalid node endpoint %q: %w", endpoint, err)
	}
	return newConnection(c, u), nil
}
