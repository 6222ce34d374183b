// Package fetch is the HTTP collaborator for catalog walking and stream
// resolution: one client with optional SOCKS5 proxy, rate limiting and
// an in-memory response cache.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// Error is a typed upstream fetch failure. StatusCode is 0 when the
// request itself failed before a response arrived.
type Error struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("Bad GET response for %v: %v", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("Couldn't GET %v: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type ClientOptions struct {
	Timeout        time.Duration
	SocksProxyAddr string
	UserAgent      string
	// MaxCacheBytes enables the response-body cache when > 0. Only use
	// it for catalog documents, not for session-bound stream manifests.
	MaxCacheBytes int
	// RequestsPerSecond enables rate limiting when > 0.
	RequestsPerSecond float64
}

var DefaultClientOpts = ClientOptions{
	Timeout: 10 * time.Second,
}

type Client struct {
	httpClient *http.Client
	userAgent  string
	cache      *fastcache.Cache
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewClient(opts ClientOptions, logger *zap.Logger) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultClientOpts.Timeout
	}

	// Some upstream hosts bind sessions to cookies set on the first request.
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("Couldn't create cookie jar: %v", err)
	}
	httpClient := &http.Client{
		Jar:     jar,
		Timeout: opts.Timeout,
	}
	if opts.SocksProxyAddr != "" {
		dialer, err := proxy.SOCKS5("tcp", opts.SocksProxyAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("Couldn't create SOCKS5 dialer: %v", err)
		}
		httpClient.Transport = &http.Transport{
			Dial: dialer.Dial,
		}
	}

	c := &Client{
		httpClient: httpClient,
		userAgent:  opts.UserAgent,
		logger:     logger,
	}
	if opts.MaxCacheBytes > 0 {
		c.cache = fastcache.New(opts.MaxCacheBytes)
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

// Fetch GETs the URL and returns the response body. The passed headers
// are set on top of the client's User-Agent and can override it.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	zapFieldURL := zap.String("url", url)

	if c.cache != nil {
		if body, found := c.cache.HasGet(nil, []byte(url)); found {
			c.logger.Debug("Hit response cache", zapFieldURL)
			return body, nil
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{URL: url, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for key, val := range headers {
		req.Header.Set(key, val)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, &Error{URL: url, StatusCode: res.StatusCode}
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}

	if c.cache != nil {
		c.cache.Set([]byte(url), body)
	}
	return body, nil
}
