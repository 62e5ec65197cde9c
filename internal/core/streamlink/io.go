package streamlink

import (
	"context"
	"io"
)

// Reader adapts a byte-chunk link to io.Reader
type Reader struct {
	ctx     context.Context
	link    *Link[[]byte]
	pending []byte
	err     error
}

// NewReader returns an io.Reader over l; a chunk larger than the caller's
// buffer is handed out across several Read calls
func NewReader(ctx context.Context, l *Link[[]byte]) *Reader {
	return &Reader{ctx: ctx, link: l}
}

// Read implements io.Reader
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.pending) == 0 {
		chunk, err := r.link.Read(r.ctx)
		if err != nil {
			if err != io.EOF {
				r.err = err
			}
			return 0, err
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Err returns the failure the link ended with, nil on a clean EOF or while still open
func (r *Reader) Err() error { return r.err }

// Writer adapts a byte-chunk link to io.WriteCloser
type Writer struct {
	ctx  context.Context
	link *Link[[]byte]
}

// NewWriter returns an io.WriteCloser over l; every Write sends a private copy of p
func NewWriter(ctx context.Context, l *Link[[]byte]) *Writer {
	return &Writer{ctx: ctx, link: l}
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	if err := w.link.Write(w.ctx, cp); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the write end of the link
func (w *Writer) Close() error {
	w.link.CloseWrite()
	return nil
}

var (
	_ io.Reader      = (*Reader)(nil)
	_ io.WriteCloser = (*Writer)(nil)
)
