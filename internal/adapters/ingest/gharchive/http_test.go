package gharchive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	perr "ghdiscover/internal/platform/errors"
)

func TestHTTPFetcher_Open(t *testing.T) {
	hour := HourRef{Year: 2015, Month: 1, Day: 1, Hour: 15}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/2015-01-01-15.json.gz":
			_, _ = w.Write([]byte("gzbytes"))
		case "/2015-01-01-16.json.gz":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(WithBaseURL(srv.URL+"/"), WithRetries(0, 0, 0), WithTimeout(5*time.Second))
	if got := f.URL(hour); got != srv.URL+"/2015-01-01-15.json.gz" {
		t.Fatalf("URL = %q", got)
	}

	rc, err := f.Open(context.Background(), hour)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "gzbytes" {
		t.Fatalf("body = %q", body)
	}

	if _, err := f.Open(context.Background(), hour.Next()); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("404 err = %v", err)
	}
	if _, err := f.Open(context.Background(), hour.Next().Next()); !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("403 err = %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d", hits.Load())
	}
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(WithBaseURL(srv.URL), WithRetries(3, time.Millisecond, 2*time.Millisecond))
	rc, err := f.Open(context.Background(), HourRef{Year: 2020, Month: 1, Day: 1})
	if err != nil {
		t.Fatal(err)
	}
	_ = rc.Close()
	if hits.Load() != 3 {
		t.Fatalf("hits = %d", hits.Load())
	}
}

func TestHTTPFetcher_RateLimitHonoursContext(t *testing.T) {
	f := NewHTTPFetcher(WithBaseURL("http://127.0.0.1:1"), WithRateLimit(0.001, 1))
	// burn the single token
	f.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Open(ctx, HourRef{Year: 2020, Month: 1, Day: 1})
	if err == nil || perr.Retryable(err) {
		t.Fatalf("err = %v", err)
	}
}
