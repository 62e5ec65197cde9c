package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeNamesAndStatus(t *testing.T) {
	cases := []struct {
		code   ErrorCode
		name   string
		status int
	}{
		{ErrorCodeNotFound, "not_found", http.StatusNotFound},
		{ErrorCodeUnavailable, "unavailable", http.StatusServiceUnavailable},
		{ErrorCodeCodec, "codec", http.StatusBadGateway},
		{ErrorCodeParse, "parse", http.StatusBadGateway},
		{ErrorCodeWorker, "worker", http.StatusInternalServerError},
		{ErrorCodeValidation, "validation", http.StatusBadRequest},
		{ErrorCodeDuplicateKey, "duplicate_key", http.StatusConflict},
	}
	for _, c := range cases {
		if c.code.String() != c.name || HTTPStatusCode(c.code) != c.status {
			t.Fatalf("%d: got %q/%d want %q/%d", c.code, c.code, HTTPStatusCode(c.code), c.name, c.status)
		}
	}
	if got := ErrorCode(999).String(); got != "code(999)" {
		t.Fatalf("unknown code name = %q", got)
	}
	if HTTPStatusCode(999) != http.StatusInternalServerError {
		t.Fatal("unknown code should map to 500")
	}
}

func TestWrapChain(t *testing.T) {
	var nilErr *Error
	if nilErr.Error() != "<nil>" {
		t.Fatalf("nil render = %q", nilErr.Error())
	}

	src := stderrs.New("connection reset")
	e := Wrapf(src, ErrorCodeUnavailable, "fetch %s", "2024-01-01-0")
	if e.Error() != "fetch 2024-01-01-0: connection reset" {
		t.Fatalf("render = %q", e.Error())
	}
	if !stderrs.Is(e, src) || Root(e) != src {
		t.Fatal("cause should stay reachable")
	}

	// outer code wins when stacked
	outer := fmt.Errorf("shard: %w", Wrap(e, ErrorCodeCodec, "gunzip"))
	if CodeOf(outer) != ErrorCodeCodec || HTTPStatus(outer) != http.StatusBadGateway {
		t.Fatalf("CodeOf = %v", CodeOf(outer))
	}
	if CodeOf(src) != ErrorCodeUnknown || Root(nil) != nil {
		t.Fatal("foreign errors are Unknown")
	}
}

func TestWithFieldAndWire(t *testing.T) {
	base := Newf(ErrorCodeValidation, "%s must be positive", "WORKERS")
	tagged := WithField(base, "WORKERS")
	if e, _ := As(base); e.Field() != "" {
		t.Fatal("WithField must copy")
	}
	w := WireFrom(tagged)
	if w.Code != ErrorCodeValidation || w.Field != "WORKERS" || w.Message != "WORKERS must be positive" {
		t.Fatalf("wire = %+v", w)
	}

	plain := stderrs.New("boom")
	if WithField(plain, "x") != plain {
		t.Fatal("foreign error should pass through")
	}
	if w := WireFrom(plain); w.Code != ErrorCodeUnknown || w.Message != "boom" {
		t.Fatalf("foreign wire = %+v", w)
	}
	if WireFrom(nil) != (Wire{}) {
		t.Fatal("nil should give zero wire")
	}
}

func TestSugarCodes(t *testing.T) {
	for err, want := range map[error]ErrorCode{
		NotFoundf("hour %d", 1):  ErrorCodeNotFound,
		InvalidArgf("x"):         ErrorCodeInvalidArgument,
		PanicErrf("stage panic"): ErrorCodePanic,
		Conflictf("started"):     ErrorCodeConflict,
		Unavailablef("503"):      ErrorCodeUnavailable,
		Parsef("line too long"):  ErrorCodeParse,
		ErrNotFound:              ErrorCodeNotFound,
	} {
		if !IsCode(err, want) {
			t.Fatalf("%v: code %v want %v", err, CodeOf(err), want)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestRetryable(t *testing.T) {
	yes := []error{
		Unavailablef("503"),
		Wrap(timeoutErr{}, ErrorCodeUnknown, "read body"),
		fmt.Errorf("commit: %w", stderrs.New("commit unexpectedly resulted in rollback")),
	}
	for _, err := range yes {
		if !Retryable(err) {
			t.Fatalf("%v should be retryable", err)
		}
	}
	no := []error{
		nil,
		Parsef("truncated"),
		Wrap(stderrs.New("bad magic"), ErrorCodeCodec, "gunzip"),
		Wrap(context.Canceled, ErrorCodeUnavailable, "fetch"),
		context.DeadlineExceeded,
	}
	for _, err := range no {
		if Retryable(err) {
			t.Fatalf("%v should not be retryable", err)
		}
	}
}
