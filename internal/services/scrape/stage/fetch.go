package stage

import (
	"context"
	"io"

	"ghdiscover/internal/core/streamlink"
	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/services/scrape/domain"
)

// Fetch opens shard through src and copies the body into out in chunks of at
// most chunk bytes. It never retries; failures are TransportErrors
func Fetch(
	ctx context.Context,
	src domain.ArchiveSource,
	shard domain.Shard,
	out *streamlink.Link[[]byte],
	chunk int,
	opts ...Option,
) (err error) {
	o := apply(opts)
	defer func() { out.CloseWithError(err) }()

	body, err := src.Open(ctx, shard)
	if err != nil {
		return domain.Transport(shard, err)
	}
	defer func() { _ = body.Close() }()

	buf := make([]byte, chunkSize(chunk))
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			if werr := out.Write(ctx, cp); werr != nil {
				return domain.Transport(shard, werr)
			}
			o.bytes(n)
		}
		switch {
		case rerr == io.EOF:
			return nil
		case rerr != nil:
			return domain.Transport(shard, perr.Wrap(rerr, perr.ErrorCodeUnavailable, "read body"))
		}
	}
}
