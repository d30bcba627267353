package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/yndnr/cfenv-go/internal/storage"
	"github.com/yndnr/cfenv-go/internal/telemetry/logger"
	"github.com/yndnr/cfenv-go/internal/telemetry/metric"
)

// Defaults.
const (
	DefaultBaseURL        = "https://api.cloudflare.com/client/v4"
	DefaultUserAgent      = "cfenv-go"
	DefaultTimeout        = 15 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultMaxRetryDelay  = 30 * time.Second

	listKeysLimit     = 1000
	namespacesPerPage = 100
)

// Config holds client configuration.
type Config struct {
	AccountID string
	APIToken  string

	BaseURL   string
	UserAgent string

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// MaxRetries is the number of retries beyond the first attempt.
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration

	// RateLimit is the number of requests per second. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// Transport overrides the base HTTP transport.
	Transport http.RoundTripper

	Logger  logger.Logger
	Metrics *metric.Registry
}

// DefaultConfig returns a Config with default transport settings.
func DefaultConfig(accountID, apiToken string) Config {
	return Config{
		AccountID:      accountID,
		APIToken:       apiToken,
		BaseURL:        DefaultBaseURL,
		UserAgent:      DefaultUserAgent,
		Timeout:        DefaultTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryBaseDelay: DefaultRetryBaseDelay,
		MaxRetryDelay:  DefaultMaxRetryDelay,
	}
}

// Client talks to the Workers KV REST API. It implements storage.Backend.
type Client struct {
	cfg     Config
	baseURL string
	http    *retryablehttp.Client
	logger  logger.Logger
}

var _ storage.Backend = (*Client)(nil)

// New creates a client. AccountID and APIToken are required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccountID) == "" {
		return nil, errors.New("cloudflare: account id is required")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("cloudflare: api token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay < 0 {
		cfg.RetryBaseDelay = 0
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  cfg.Logger.With("component", "cloudflare"),
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: newTransport(cfg.Transport, cfg.RateLimit, cfg.RateBurst, cfg.Metrics),
	}
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.RetryBaseDelay
	rc.RetryWaitMax = cfg.MaxRetryDelay
	rc.CheckRetry = c.checkRetry
	rc.Backoff = c.backoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = c.logger
	c.http = rc

	return c, nil
}

// VerifyCredential checks the API token.
func (c *Client) VerifyCredential(ctx context.Context) (*storage.CredentialStatus, error) {
	var status storage.CredentialStatus
	if _, err := c.requestEnvelope(ctx, http.MethodGet, c.baseURL+"/user/tokens/verify", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListNamespaces returns every namespace of the account.
func (c *Client) ListNamespaces(ctx context.Context) ([]storage.Namespace, error) {
	var all []storage.Namespace
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(namespacesPerPage))

		var batch []storage.Namespace
		info, err := c.requestEnvelope(ctx, http.MethodGet, c.namespacesURL()+"?"+q.Encode(), nil, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)

		totalPages := page
		if info != nil && info.TotalPages > 0 {
			totalPages = info.TotalPages
		}
		if page >= totalPages {
			return all, nil
		}
	}
}

// CreateNamespace creates a namespace titled title.
func (c *Client) CreateNamespace(ctx context.Context, title string) (*storage.Namespace, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("cloudflare: namespace title is required")
	}
	body, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return nil, err
	}

	var ns storage.Namespace
	if _, err := c.requestEnvelope(ctx, http.MethodPost, c.namespacesURL(), body, &ns); err != nil {
		return nil, err
	}
	return &ns, nil
}

// ListKeys returns every key in namespace starting with prefix.
func (c *Client) ListKeys(ctx context.Context, namespace, prefix string) ([]storage.KeyItem, error) {
	var all []storage.KeyItem
	cursor := ""
	for {
		q := url.Values{}
		q.Set("prefix", prefix)
		q.Set("limit", strconv.Itoa(listKeysLimit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var batch []storage.KeyItem
		info, err := c.requestEnvelope(ctx, http.MethodGet, c.namespaceURL(namespace)+"/keys?"+q.Encode(), nil, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)

		if info == nil || info.Cursor == "" {
			return all, nil
		}
		cursor = info.Cursor
	}
}

// Get returns the raw value of key. found is false on HTTP 404.
func (c *Client) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	resp, body, err := c.send(ctx, http.MethodGet, c.valueURL(namespace, key), nil, "")
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if !isSuccess(resp.StatusCode) {
		return "", false, extractError(resp.StatusCode, body)
	}
	return string(body), true, nil
}

// Put writes value as text/plain.
func (c *Client) Put(ctx context.Context, namespace, key, value string) error {
	resp, body, err := c.send(ctx, http.MethodPut, c.valueURL(namespace, key), []byte(value), "text/plain; charset=utf-8")
	if err != nil {
		return err
	}
	if !isSuccess(resp.StatusCode) {
		return extractError(resp.StatusCode, body)
	}
	return nil
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, namespace, key string) error {
	resp, body, err := c.send(ctx, http.MethodDelete, c.valueURL(namespace, key), nil, "")
	if err != nil {
		return err
	}
	if !isSuccess(resp.StatusCode) {
		return extractError(resp.StatusCode, body)
	}
	return nil
}

func (c *Client) namespacesURL() string {
	return c.baseURL + "/accounts/" + url.PathEscape(c.cfg.AccountID) + "/storage/kv/namespaces"
}

func (c *Client) namespaceURL(namespace string) string {
	return c.namespacesURL() + "/" + url.PathEscape(namespace)
}

func (c *Client) valueURL(namespace, key string) string {
	return c.namespaceURL(namespace) + "/values/" + url.PathEscape(key)
}

// requestEnvelope performs a JSON request and decodes the envelope result
// into out.
func (c *Client) requestEnvelope(ctx context.Context, method, rawURL string, body []byte, out any) (*resultInfo, error) {
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}
	resp, data, err := c.send(ctx, method, rawURL, body, contentType)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, NonJSON: true}
	}
	if !isSuccess(resp.StatusCode) || !env.Success {
		return nil, &APIError{StatusCode: resp.StatusCode, Messages: env.messages()}
	}
	if out != nil && len(env.Result) > 0 && !bytes.Equal(env.Result, []byte("null")) {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, fmt.Errorf("cloudflare: decode %s result: %w", method, err)
		}
	}
	return env.ResultInfo, nil
}

// send executes one logical request through the retry loop and returns the
// final response with its body fully read. The body is read inside each
// attempt, so a body that stalls past the timeout is retried like any
// other transport failure.
func (c *Client) send(ctx context.Context, method, rawURL string, body []byte, contentType string) (*http.Response, []byte, error) {
	var reqBody any
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("cloudflare: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	var (
		data []byte
		read bool
	)
	req.SetResponseHandler(func(resp *http.Response) error {
		buf, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = http.NoBody
		data, read = buf, err == nil
		return err
	})

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, nil, c.networkError(ctx, err)
	}
	defer resp.Body.Close()

	// A retryable status that exhausted the budget skips the handler.
	if !read {
		if data, err = io.ReadAll(resp.Body); err != nil {
			return nil, nil, c.networkError(ctx, err)
		}
	}

	c.logger.Debug("cloudflare request completed", "method", method, "status", resp.StatusCode)
	return resp, data, nil
}

func (c *Client) networkError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &NetworkError{Timeout: true, After: c.cfg.Timeout, Err: err}
	}
	return &NetworkError{Err: err}
}
