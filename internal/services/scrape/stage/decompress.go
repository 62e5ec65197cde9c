package stage

import (
	"context"
	"io"

	"ghdiscover/internal/core/streamlink"
	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/services/scrape/domain"
)

// Decompress inflates the chunks of in through codec and writes plain chunks
// of at most chunk bytes to out. The codec sees one continuous stream whatever
// the input chunking. Corrupt or truncated input is a CodecError
func Decompress(
	ctx context.Context,
	codec domain.Codec,
	shard domain.Shard,
	in, out *streamlink.Link[[]byte],
	chunk int,
	opts ...Option,
) (err error) {
	o := apply(opts)
	defer func() { out.CloseWithError(err) }()
	defer in.CloseRead()

	src := streamlink.NewReader(ctx, in)
	zr, err := codec.NewReader(src)
	if err != nil {
		return codecFailure(shard, src, err)
	}
	defer func() { _ = zr.Close() }()

	buf := make([]byte, chunkSize(chunk))
	for {
		n, rerr := zr.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			if werr := out.Write(ctx, cp); werr != nil {
				return domain.Tag(domain.StageDecompress, shard, werr)
			}
			o.bytes(n)
		}
		switch {
		case rerr == io.EOF:
			return nil
		case rerr != nil:
			return codecFailure(shard, src, rerr)
		}
	}
}

// codecFailure blames the fetcher when the input link itself ended with an error
func codecFailure(shard domain.Shard, src *streamlink.Reader, err error) error {
	if up := src.Err(); up != nil {
		return domain.Upstream(domain.StageDecompress, shard, up)
	}
	if !perr.IsCode(err, perr.ErrorCodeCodec) {
		err = perr.Wrap(err, perr.ErrorCodeCodec, "inflate")
	}
	return domain.CodecFailure(shard, err)
}
