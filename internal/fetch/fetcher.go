package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ppiankov/cfrfetch/internal/model"
	"github.com/ppiankov/cfrfetch/internal/util"
	"github.com/ppiankov/cfrfetch/internal/worker"
)

const (
	// A 429 is retried once after its Retry-After wait
	maxRateLimitAttempts = 2
	errorSnippetBytes    = 4096
	drainBytes           = 32 * 1024
)

// fetchSleepFunc is the wait used for Retry-After and quota pacing (injectable for tests)
var fetchSleepFunc = worker.Sleep

// nowFunc is the clock used to compute quota reset waits (injectable for tests)
var nowFunc = time.Now

// Options configures a Fetcher
type Options struct {
	UserAgent         string
	Headers           map[string]string
	ConnectTimeout    time.Duration
	Timeout           time.Duration
	MaxBodyBytes      int64
	MaxRedirects      int
	HTTPProxy         string
	HTTPSProxy        string
	RequestsPerSecond float64
	BurstSize         int
	SafetyRemaining   int
	MinWait           time.Duration
	DefaultRetryAfter time.Duration
	RespectRobots     bool
}

// OptionsFromConfig maps the http and rate_limiting config sections
func OptionsFromConfig(cfg *model.Config) Options {
	return Options{
		UserAgent:         cfg.HTTP.UserAgent,
		Headers:           cfg.HTTP.Headers,
		ConnectTimeout:    cfg.HTTP.ConnectTimeout,
		Timeout:           cfg.HTTP.Timeout,
		MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
		MaxRedirects:      cfg.HTTP.MaxRedirects,
		HTTPProxy:         cfg.HTTP.HTTPProxy,
		HTTPSProxy:        cfg.HTTP.HTTPSProxy,
		RequestsPerSecond: cfg.RateLimiting.RequestsPerSecond,
		BurstSize:         cfg.RateLimiting.BurstSize,
		SafetyRemaining:   cfg.RateLimiting.SafetyRemaining,
		MinWait:           cfg.RateLimiting.MinWait,
		DefaultRetryAfter: cfg.RateLimiting.DefaultRetryAfter,
		RespectRobots:     cfg.RateLimiting.RespectRobots,
	}
}

// Stats counts transport activity over the Fetcher's lifetime
type Stats struct {
	Requests    int64
	RateLimited int64
	QuotaPauses int64
}

// Fetcher issues paced GET requests against the eCFR API and classifies
// responses into Outcomes.
type Fetcher struct {
	httpClient *http.Client
	limiter    *worker.Limiter
	robots     *util.RobotsChecker
	opts       Options
	logger     *slog.Logger

	requests    atomic.Int64
	rateLimited atomic.Int64
	quotaPauses atomic.Int64
}

// NewFetcher creates a Fetcher. A nil logger discards log output.
func NewFetcher(opts Options, logger *slog.Logger) *Fetcher {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 20 * time.Second
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if opts.DefaultRetryAfter <= 0 {
		opts.DefaultRetryAfter = 5 * time.Second
	}
	if opts.MinWait <= 0 {
		opts.MinWait = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			Proxy: util.NewProxyFunc(opts.HTTPProxy, opts.HTTPSProxy),
			DialContext: (&net.Dialer{
				Timeout:   opts.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   opts.ConnectTimeout,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	f := &Fetcher{
		httpClient: client,
		limiter:    worker.NewLimiter(opts.RequestsPerSecond, opts.BurstSize),
		opts:       opts,
		logger:     logger.With("component", "fetch"),
	}
	if opts.RespectRobots {
		f.robots = util.NewRobotsChecker(client, opts.UserAgent)
	}
	return f
}

// Stats returns a snapshot of the transport counters
func (f *Fetcher) Stats() Stats {
	return Stats{
		Requests:    f.requests.Load(),
		RateLimited: f.rateLimited.Load(),
		QuotaPauses: f.quotaPauses.Load(),
	}
}

// Fetch GETs rawURL with the given Accept type.
//
// A 200 is returned as Success after any quota pacing the response asks for.
// A 404 is NotFound. A 429 is waited out per Retry-After and retried once; a
// second 429 is RateLimited. Other statuses are ServerError. The returned
// error is reserved for transport failures and context cancellation.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, accept string) (*Outcome, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.send(ctx, rawURL, accept)
		if err != nil {
			return nil, err
		}

		switch resp.StatusCode {
		case http.StatusOK:
			body, err := f.readBody(resp)
			if err != nil {
				return nil, err
			}
			if err := f.paceQuota(ctx, resp.Header); err != nil {
				return nil, err
			}
			return &Outcome{
				Kind:       Success,
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Body:       body,
				Method:     http.MethodGet,
				URL:        rawURL,
			}, nil

		case http.StatusNotFound:
			discard(resp)
			return &Outcome{
				Kind:       NotFound,
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Method:     http.MethodGet,
				URL:        rawURL,
			}, nil

		case http.StatusTooManyRequests:
			discard(resp)
			f.rateLimited.Add(1)
			wait := retryAfter(resp.Header, f.opts.DefaultRetryAfter)
			if attempt >= maxRateLimitAttempts {
				f.logger.Warn("rate limited after retry", "url", rawURL, "retry_after", wait)
				return &Outcome{
					Kind:       RateLimited,
					StatusCode: resp.StatusCode,
					Header:     resp.Header,
					RetryAfter: wait,
					Method:     http.MethodGet,
					URL:        rawURL,
				}, nil
			}
			f.logger.Warn("rate limit hit", "url", rawURL, "sleep", wait)
			if err := fetchSleepFunc(ctx, wait); err != nil {
				return nil, err
			}

		default:
			snippet := snippetAndDrain(resp)
			return &Outcome{
				Kind:       ServerError,
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Body:       snippet,
				Method:     http.MethodGet,
				URL:        rawURL,
			}, nil
		}
	}
}

func (f *Fetcher) send(ctx context.Context, rawURL string, accept string) (*http.Response, error) {
	if f.robots != nil {
		allowed, crawlDelay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
		}
		if crawlDelay > 0 {
			if u, err := url.Parse(rawURL); err == nil {
				f.limiter.SlowHost(u.Host, crawlDelay)
			}
		}
	}

	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	for k, v := range f.opts.Headers {
		req.Header.Set(k, v)
	}

	f.requests.Add(1)
	f.logger.Debug("request", "url", rawURL, "accept", accept)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Method: req.Method, URL: rawURL, Err: err}
	}
	return resp, nil
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()

	reader := io.Reader(resp.Body)
	if f.opts.MaxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx := resp.Request.Context(); ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		return nil, &TransportError{Method: resp.Request.Method, URL: resp.Request.URL.String(), Err: fmt.Errorf("read body: %w", err)}
	}
	if f.opts.MaxBodyBytes > 0 && int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, resp.Request.URL, f.opts.MaxBodyBytes)
	}
	return body, nil
}

// discard drains and closes a body whose content is not needed
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainBytes))
	_ = resp.Body.Close()
}

func snippetAndDrain(resp *http.Response) []byte {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetBytes))
	discard(resp)
	return b
}
