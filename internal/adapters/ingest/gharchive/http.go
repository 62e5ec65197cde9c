package gharchive

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/platform/logger"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public GH Archive mirror
const DefaultBaseURL = "https://data.gharchive.org"

// HTTPFetcher opens hours straight from the GH Archive mirror. The body is
// streamed back to the caller, nothing touches disk
type HTTPFetcher struct {
	baseURL string
	client  *retryablehttp.Client
	limiter *rate.Limiter
}

// HTTPOption configures an HTTPFetcher
type HTTPOption func(*HTTPFetcher)

// WithBaseURL points the fetcher at another mirror (tests use httptest)
func WithBaseURL(u string) HTTPOption {
	return func(f *HTTPFetcher) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			f.baseURL = u
		}
	}
}

// WithTimeout sets the whole-request client timeout; zero means none
func WithTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFetcher) { f.client.HTTPClient.Timeout = d }
}

// WithRetries sets transport level retries for connection errors, 429 and 5xx
func WithRetries(n int, waitMin, waitMax time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client.RetryMax = max(n, 0)
		if waitMin > 0 {
			f.client.RetryWaitMin = waitMin
		}
		if waitMax > 0 {
			f.client.RetryWaitMax = waitMax
		}
	}
}

// WithRateLimit paces requests; rps <= 0 means unlimited
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(f *HTTPFetcher) {
		if rps <= 0 {
			f.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		f.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// NewHTTPFetcher builds a fetcher with 2 retries and no rate limit
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = leveled{l: logger.Named("gharchive")}

	f := &HTTPFetcher{
		baseURL: DefaultBaseURL,
		client:  rc,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// URL returns the object url for hour
func (f *HTTPFetcher) URL(hour HourRef) string { return f.baseURL + "/" + hour.FileName() }

// Open issues the GET and hands back the body.
// 404 is NotFound (hour not published yet); anything else is Unavailable
func (f *HTTPFetcher) Open(ctx context.Context, hour HourRef) (io.ReadCloser, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "gharchive: rate limiter")
	}
	url := f.URL(hour)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "gharchive: build request %s", url)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "gharchive: get %s", url)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		drain(resp.Body)
		return nil, perr.NotFoundf("gharchive: %s not published", hour)
	default:
		drain(resp.Body)
		return nil, perr.Unavailablef("gharchive: unexpected status %d for %s", resp.StatusCode, url)
	}
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4096))
	_ = rc.Close()
}

// leveled routes retryablehttp logs through zerolog
type leveled struct{ l *logger.Logger }

func (z leveled) Error(msg string, kv ...any) { z.l.Error().Fields(kv).Msg(msg) }
func (z leveled) Info(msg string, kv ...any)  { z.l.Debug().Fields(kv).Msg(msg) }
func (z leveled) Debug(msg string, kv ...any) { z.l.Trace().Fields(kv).Msg(msg) }
func (z leveled) Warn(msg string, kv ...any)  { z.l.Warn().Fields(kv).Msg(msg) }

var _ retryablehttp.LeveledLogger = leveled{}
