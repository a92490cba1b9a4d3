// Package transport performs authenticated HTTP requests for source adapters:
// session headers and cookies in, raw bytes out, at a bounded request rate.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/logger"
	"golang.org/x/time/rate"
)

const (
	// DefaultMinInterval spaces consecutive requests to one source.
	DefaultMinInterval = time.Second
	defaultTimeout     = 30 * time.Second
	defaultUserAgent   = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	maxErrorBody       = 512
)

// Options configures a Client.
type Options struct {
	MinInterval time.Duration // <0 disables spacing, 0 means DefaultMinInterval
	Timeout     time.Duration
	Session     *Session
	HTTPClient  *http.Client
}

// Client sends requests on behalf of one account. Cookies set by responses
// are kept for later requests.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	session Session

	mu      sync.Mutex
	cookies map[string]string
}

// New creates a Client.
func New(opts Options) *Client {
	interval := opts.MinInterval
	if interval == 0 {
		interval = DefaultMinInterval
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		cookies: make(map[string]string),
	}
	if opts.Session != nil {
		c.session = *opts.Session
		for k, v := range opts.Session.Cookies {
			c.cookies[k] = v
		}
	}
	return c
}

// Request describes one call.
type Request struct {
	Method      string // GET when empty
	URL         string
	Body        []byte
	ContentType string
	Headers     map[string]string
}

// Response is the raw result of a successful call.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// StatusError is the cause of a TransportFailure for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// Do performs req. op names the caller's operation in errors ("balance",
// "walk_pages", ...). Every failure is a *domain.TransportFailure.
func (c *Client) Do(ctx context.Context, op string, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.TransportFailure{Op: op, Err: err}
	}

	log := logger.FromContext(ctx)
	log.Debug().Str("method", method).Str("url", req.URL).Msg("HTTP request")

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, &domain.TransportFailure{Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}
	c.setHeaders(httpReq, req)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &domain.TransportFailure{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.updateCookies(resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportFailure{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(data)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &domain.TransportFailure{Op: op, Err: &StatusError{StatusCode: resp.StatusCode, Body: snippet}}
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// Get is Do for a plain GET.
func (c *Client) Get(ctx context.Context, op, url string) (*Response, error) {
	return c.Do(ctx, op, Request{URL: url})
}

func (c *Client) setHeaders(httpReq *http.Request, req Request) {
	h := httpReq.Header
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.5")

	ua := c.session.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	h.Set("User-Agent", ua)
	if c.session.Referer != "" {
		h.Set("Referer", c.session.Referer)
	}
	if cookie := c.cookieHeader(); cookie != "" {
		h.Set("Cookie", cookie)
	}
	if req.ContentType != "" {
		h.Set("Content-Type", req.ContentType)
	}
	for k, v := range c.session.Headers {
		h.Set(k, v)
	}
	for k, v := range req.Headers {
		h.Set(k, v)
	}
}

func (c *Client) cookieHeader() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.cookies))
	for k := range c.cookies {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + c.cookies[k]
	}
	return strings.Join(parts, "; ")
}

func (c *Client) updateCookies(resp *http.Response) {
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ck := range cookies {
		c.cookies[ck.Name] = ck.Value
	}
}

// Cookie returns the current value of a cookie.
func (c *Client) Cookie(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cookies[name]
	return v, ok
}
