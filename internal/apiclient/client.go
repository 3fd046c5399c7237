// Package apiclient is the single data-access layer between the portal and
// the mortgage-deed backend API. Reads go through the response cache and a
// bounded retry; mutations are sent once and invalidate what they touch.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"kolibri/internal/cache"
	"kolibri/internal/middleware"
	"kolibri/internal/models"
	"kolibri/internal/retry"
	"kolibri/internal/utils"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 8 << 20
	anonScope      = "anon"
	statsFamily    = "/api/statistics"
)

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns itself.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", utils.NewAPIError(http.StatusUnauthorized, "Unauthorized: No session found")
	}
	return string(t), nil
}

// Recorder receives client instrumentation. *metrics.Metrics implements it.
type Recorder interface {
	ObserveBackend(endpoint string, status int, duration time.Duration)
	IncBackendRetry(endpoint string)
	CacheHit()
	CacheMiss()
}

type nopRecorder struct{}

func (nopRecorder) ObserveBackend(string, int, time.Duration) {}
func (nopRecorder) IncBackendRetry(string)                    {}
func (nopRecorder) CacheHit()                                 {}
func (nopRecorder) CacheMiss()                                {}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	CacheTTL   time.Duration
	Retry      retry.Policy
	HTTPClient *http.Client
	// Cache is optional; without it every read goes to the backend.
	Cache   cache.Store
	Metrics Recorder
	Logger  *zap.Logger
}

// Client talks to the backend API on behalf of one principal. Use ForUser to
// derive per-user clients that share the cache and connection pool.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	ttl     time.Duration
	retry   retry.Policy
	cache   cache.Store
	rec     Recorder
	logger  *zap.Logger
	group   *singleflight.Group
	// gens counts invalidations per family. Reads in flight across an
	// invalidation neither share results with later reads nor cache them.
	gens *cache.Generations

	tokens TokenSource
	scope  string
}

// New creates an anonymous Client. Only public endpoints work until a token
// source is attached with ForUser or WithTokenSource.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base url %q", cfg.BaseURL)
	}
	c := &Client{
		base:    base,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		ttl:     cfg.CacheTTL,
		retry:   cfg.Retry,
		cache:   cfg.Cache,
		rec:     cfg.Metrics,
		logger:  cfg.Logger,
		group:   &singleflight.Group{},
		gens:    &cache.Generations{},
		scope:   anonScope,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.ttl <= 0 {
		c.ttl = cache.DefaultTTL
	}
	if c.rec == nil {
		c.rec = nopRecorder{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// ForUser returns a copy of c that authenticates as userID with a fixed
// access token. Cached reads are scoped to userID.
func (c *Client) ForUser(userID, accessToken string) *Client {
	return c.WithTokenSource(StaticToken(accessToken), userID)
}

// WithTokenSource returns a copy of c that takes tokens from ts. scope
// partitions cached reads between principals.
func (c *Client) WithTokenSource(ts TokenSource, scope string) *Client {
	cp := *c
	cp.tokens = ts
	cp.scope = scope
	if cp.scope == "" {
		cp.scope = anonScope
	}
	return &cp
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// Ping checks that the backend answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, call{method: http.MethodGet, path: "/health", public: true})
	return err
}

type call struct {
	method string
	path   string
	query  url.Values
	body   any
	public bool
}

func (r call) endpoint() string {
	return r.method + " " + r.path
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// cached is what a GET leaves in the cache: the body plus the pagination
// headers list endpoints need.
type cached struct {
	Body   json.RawMessage   `json:"body"`
	Header map[string]string `json:"header,omitempty"`
}

func (c *Client) cacheKey(path string, query url.Values) string {
	return cache.Key(path, query) + "|" + c.scope
}

// get performs a cached, retried, deduplicated GET and decodes the body into
// out. It returns the response's pagination headers.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) (http.Header, error) {
	key := c.cacheKey(path, query)

	if c.cache != nil {
		var hit cached
		raw, ok, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		case ok && json.Unmarshal(raw, &hit) == nil:
			c.rec.CacheHit()
			return hit.header(), decode(hit.Body, out)
		}
		c.rec.CacheMiss()
	}

	storeGen := cache.Generation(c.cache, key)
	flight := key + "#" + strconv.FormatUint(c.gens.Of(key), 10)
	v, err, _ := c.group.Do(flight, func() (any, error) {
		var resp *response
		err := retry.Do(ctx, c.retry, retry.Transient,
			func(attempt int, err error) {
				c.rec.IncBackendRetry(endpoint)
				c.logger.Debug("retrying backend read",
					zap.String("endpoint", endpoint),
					zap.Int("attempt", attempt),
					zap.Error(err))
			},
			func(ctx context.Context) error {
				r, err := c.send(ctx, call{method: http.MethodGet, path: path, query: query})
				resp = r
				return err
			})
		if err != nil {
			return nil, err
		}
		body := resp.body
		if len(bytes.TrimSpace(body)) == 0 {
			body = []byte("null")
		}
		entry := cached{Body: body, Header: paginationOf(resp.header)}
		if c.cache != nil {
			stored, err := cache.SetJSONIfCurrent(ctx, c.cache, key, storeGen, entry, c.ttl)
			switch {
			case err != nil:
				c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
			case !stored:
				c.logger.Debug("read overtaken by invalidation, not cached", zap.String("key", key))
			}
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	entry := v.(cached)
	return entry.header(), decode(entry.Body, out)
}

// mutate sends a write once and, unless the backend rejected it as a client
// error, drops cached reads of the touched families and of the statistics.
func (c *Client) mutate(ctx context.Context, req call, out any, families ...string) error {
	resp, err := c.send(ctx, req)
	if err == nil || !isClientError(err) {
		c.invalidate(families...)
	}
	if err != nil {
		return err
	}
	if out != nil && len(bytes.TrimSpace(resp.body)) > 0 {
		return decode(resp.body, out)
	}
	return nil
}

func (c *Client) invalidate(families ...string) {
	families = append(families, statsFamily)
	for _, f := range families {
		c.gens.Bump(f)
	}
	if c.cache == nil {
		return
	}
	// Invalidation must happen even if the caller's context is already done.
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	for _, f := range families {
		if err := c.cache.InvalidatePrefix(ctx, f); err != nil {
			c.logger.Warn("cache invalidation failed", zap.String("prefix", f), zap.Error(err))
		}
	}
}

// send performs exactly one HTTP round trip.
func (c *Client) send(ctx context.Context, req call) (*response, error) {
	u := *c.base
	u.Path = c.base.Path + req.path
	if len(req.query) > 0 {
		u.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", req.endpoint(), err)
		}
		body = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, req.method, u.String(), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if id := middleware.RequestIDFrom(ctx); id != "" {
		httpReq.Header.Set(middleware.HeaderRequestID, id)
	}
	if !req.public {
		if c.tokens == nil {
			return nil, utils.NewAPIError(http.StatusUnauthorized, "Unauthorized: No session found")
		}
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.rec.ObserveBackend(req.endpoint(), 0, time.Since(start))
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
			return nil, utils.NewAPIError(http.StatusRequestTimeout, "request timed out")
		}
		return nil, fmt.Errorf("%s: %w", req.endpoint(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.rec.ObserveBackend(req.endpoint(), resp.StatusCode, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read %s: %w", req.endpoint(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, utils.NewAPIError(resp.StatusCode, errorMessage(resp.StatusCode, raw))
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: raw}, nil
}

// errorMessage picks the most useful message out of an error body. FastAPI
// style bodies put it in "detail", either as a string or a list of
// validation errors.
func errorMessage(status int, body []byte) string {
	var e struct {
		Message string          `json:"message"`
		Error   string          `json:"error"`
		Detail  json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if len(e.Detail) > 0 {
			var s string
			if json.Unmarshal(e.Detail, &s) == nil && s != "" {
				return s
			}
			var items []struct {
				Msg string `json:"msg"`
			}
			if json.Unmarshal(e.Detail, &items) == nil && len(items) > 0 {
				msgs := make([]string, 0, len(items))
				for _, it := range items {
					msgs = append(msgs, it.Msg)
				}
				return strings.Join(msgs, "; ")
			}
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return "Request failed: " + http.StatusText(status)
}

func isClientError(err error) bool {
	apiErr, ok := utils.AsAPIError(err)
	return ok && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusRequestTimeout
}

func decode(raw []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return utils.NewAPIError(http.StatusBadGateway, "malformed backend response: "+err.Error())
	}
	return nil
}

func paginationOf(h http.Header) map[string]string {
	var out map[string]string
	for _, k := range models.PaginationHeaders {
		if v := h.Get(k); v != "" {
			if out == nil {
				out = make(map[string]string, len(models.PaginationHeaders))
			}
			out[k] = v
		}
	}
	return out
}

func (e cached) header() http.Header {
	h := http.Header{}
	for k, v := range e.Header {
		h.Set(k, v)
	}
	return h
}
