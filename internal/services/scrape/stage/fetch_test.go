package stage

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"ghdiscover/internal/core/streamlink"
	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/services/scrape/domain"
)

func TestFetch_ChunksBodyAndCloses(t *testing.T) {
	ctx := context.Background()
	body := bytes.Repeat([]byte("abcdefghij"), 100)
	out := streamlink.New[[]byte](2)

	var counted int
	errc := make(chan error, 1)
	go func() {
		errc <- Fetch(ctx, memSource{body: body}, testShard, out, 64, WithBytes(func(n int) { counted += n }))
	}()

	got, sizes, err := drain(ctx, out)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) || counted != len(body) {
		t.Fatalf("got %d bytes, counted %d", len(got), counted)
	}
	for _, n := range sizes {
		if n > 64 {
			t.Fatalf("chunk of %d exceeds 64", n)
		}
	}
}

func TestFetch_OpenFailureIsTransport(t *testing.T) {
	ctx := context.Background()
	out := streamlink.New[[]byte](1)
	err := Fetch(ctx, memSource{openErr: perr.NotFoundf("nope")}, testShard, out, 0)

	if !errors.Is(err, domain.ErrTransport) || !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, rerr := out.Read(ctx); !errors.Is(rerr, domain.ErrTransport) {
		t.Fatalf("downstream should see the failure, got %v", rerr)
	}
}

func TestFetch_ReadFailureMidBody(t *testing.T) {
	ctx := context.Background()
	out := streamlink.New[[]byte](8)
	src := memSource{body: []byte("partial"), readErr: errors.New("connection reset")}

	err := Fetch(ctx, src, testShard, out, 4)
	if !errors.Is(err, domain.ErrTransport) || !perr.Retryable(err) {
		t.Fatalf("err = %v", err)
	}
	got, _, rerr := drain(ctx, out)
	if string(got) != "partial" || !errors.Is(rerr, domain.ErrTransport) {
		t.Fatalf("downstream got %q, %v", got, rerr)
	}
}

func TestFetch_ReaderGone(t *testing.T) {
	ctx := context.Background()
	out := streamlink.New[[]byte](1)
	out.CloseRead()
	err := Fetch(ctx, memSource{body: bytes.Repeat([]byte("x"), 100)}, testShard, out, 10)
	if !domain.Derived(err) {
		t.Fatalf("abandoned link should be a derived failure: %v", err)
	}
}
