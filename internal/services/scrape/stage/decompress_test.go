package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"ghdiscover/internal/adapters/ingest/gharchive"
	"ghdiscover/internal/core/streamlink"
	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/services/scrape/domain"
)

func samplePlain() []byte {
	var b bytes.Buffer
	for i := range 500 {
		fmt.Fprintf(&b, `{"id":"%d","type":"PushEvent","payload":{"n":%d}}`+"\n", i, i*i)
	}
	return b.Bytes()
}

func TestDecompress_ChunkingInvariance(t *testing.T) {
	plain := samplePlain()
	compressed := gzipBytes(t, plain)

	for _, inChunk := range []int{1, 3, 17, 512, 4096, len(compressed)} {
		for _, outChunk := range []int{1, 100, 0} {
			t.Run(fmt.Sprintf("in=%d/out=%d", inChunk, outChunk), func(t *testing.T) {
				ctx := context.Background()
				in := feed(ctx, compressed, inChunk, nil)
				out := streamlink.New[[]byte](4)

				var inflated int
				errc := make(chan error, 1)
				go func() {
					errc <- Decompress(ctx, gharchive.GzipCodec{}, testShard, in, out, outChunk,
						WithBytes(func(n int) { inflated += n }))
				}()

				got, sizes, err := drain(ctx, out)
				if err != nil {
					t.Fatal(err)
				}
				if err := <-errc; err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got, plain) {
					t.Fatalf("output differs: %d vs %d bytes", len(got), len(plain))
				}
				if inflated != len(plain) {
					t.Fatalf("inflated counter = %d", inflated)
				}
				limit := chunkSize(outChunk)
				for _, n := range sizes {
					if n > limit {
						t.Fatalf("chunk %d over %d", n, limit)
					}
				}
			})
		}
	}
}

func TestDecompress_TruncatedInputIsCodecError(t *testing.T) {
	ctx := context.Background()
	compressed := gzipBytes(t, samplePlain())
	in := feed(ctx, compressed[:len(compressed)/2], 64, nil)
	out := streamlink.New[[]byte](64)

	err := Decompress(ctx, gharchive.GzipCodec{}, testShard, in, out, 0)
	if !errors.Is(err, domain.ErrCodec) || !perr.IsCode(err, perr.ErrorCodeCodec) {
		t.Fatalf("err = %v", err)
	}
	if domain.Derived(err) {
		t.Fatal("codec failure must be a root failure")
	}
	if _, _, rerr := drain(ctx, out); !errors.Is(rerr, domain.ErrCodec) {
		t.Fatalf("downstream end = %v", rerr)
	}
}

func TestDecompress_GarbageHeader(t *testing.T) {
	ctx := context.Background()
	in := feed(ctx, []byte("definitely not gzip"), 5, nil)
	out := streamlink.New[[]byte](1)
	if err := Decompress(ctx, gharchive.GzipCodec{}, testShard, in, out, 0); !errors.Is(err, domain.ErrCodec) {
		t.Fatalf("err = %v", err)
	}
}

func TestDecompress_UpstreamFailureIsDerived(t *testing.T) {
	ctx := context.Background()
	compressed := gzipBytes(t, samplePlain())
	boom := domain.Transport(testShard, errors.New("reset"))
	in := feed(ctx, compressed[:100], 10, boom)
	out := streamlink.New[[]byte](64)

	err := Decompress(ctx, gharchive.GzipCodec{}, testShard, in, out, 0)
	if !domain.Derived(err) || !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("err = %v", err)
	}
}
