package stage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"ghdiscover/internal/core/streamlink"
	"ghdiscover/internal/services/scrape/domain"

	"github.com/klauspost/compress/gzip"
)

var testShard = domain.Shard{Year: 2015, Month: 1, Day: 1, Hour: 15}

// feed writes data into a fresh link in chunks of size n, then closes it with end
func feed(ctx context.Context, data []byte, n int, end error) *streamlink.Link[[]byte] {
	l := streamlink.New[[]byte](4)
	go func() {
		for off := 0; off < len(data); off += n {
			stop := min(off+n, len(data))
			if err := l.Write(ctx, bytes.Clone(data[off:stop])); err != nil {
				return
			}
		}
		l.CloseWithError(end)
	}()
	return l
}

// drain reads l to the end, returning the concatenated chunks and the end error
func drain(ctx context.Context, l *streamlink.Link[[]byte]) ([]byte, []int, error) {
	var out bytes.Buffer
	var sizes []int
	for {
		chunk, err := l.Read(ctx)
		if errors.Is(err, io.EOF) {
			return out.Bytes(), sizes, nil
		}
		if err != nil {
			return out.Bytes(), sizes, err
		}
		sizes = append(sizes, len(chunk))
		out.Write(chunk)
	}
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

type memSource struct {
	body    []byte
	openErr error
	readErr error
}

func (m memSource) Open(ctx context.Context, _ domain.Shard) (io.ReadCloser, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	var r io.Reader = bytes.NewReader(m.body)
	if m.readErr != nil {
		r = io.MultiReader(r, errReader{m.readErr})
	}
	return io.NopCloser(r), ctx.Err()
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
