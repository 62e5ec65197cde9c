// Package streamlink provides a bounded single-writer single-reader conduit
// that connects pipeline stages. A full buffer blocks the writer, which is how
// backpressure travels upstream.
package streamlink

import (
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrClosed is returned by Write after the write end was closed
	ErrClosed = errors.New("streamlink: write on closed link")

	// ErrReaderGone is returned by Write once the reader abandoned the link
	ErrReaderGone = errors.New("streamlink: reader gone")
)

// Link carries items of T in write order
type Link[T any] struct {
	ch chan T

	closeOnce sync.Once
	closed    chan struct{}
	err       error // set once before closed is closed

	goneOnce sync.Once
	gone     chan struct{}
}

// New returns a link buffering at most capacity unread items; capacity must be >= 1
func New[T any](capacity int) *Link[T] {
	if capacity < 1 {
		panic("streamlink: capacity must be >= 1")
	}
	return &Link[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
		gone:   make(chan struct{}),
	}
}

// Write appends v, blocking while the buffer is full
func (l *Link[T]) Write(ctx context.Context, v T) error {
	select {
	case <-l.closed:
		return ErrClosed
	case <-l.gone:
		return ErrReaderGone
	default:
	}
	select {
	case l.ch <- v:
		return nil
	case <-l.gone:
		return ErrReaderGone
	case <-l.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read returns the next item. Once the write end is closed and the buffer
// drained it returns io.EOF (or the close error) without blocking.
func (l *Link[T]) Read(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-l.ch:
		return v, nil
	default:
	}
	select {
	case v := <-l.ch:
		return v, nil
	case <-l.closed:
		select {
		case v := <-l.ch:
			return v, nil
		default:
			return zero, l.endErr()
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// CloseWrite signals end of stream; idempotent
func (l *Link[T]) CloseWrite() { l.CloseWithError(nil) }

// CloseWithError closes the write end so the reader sees err after draining.
// A nil err reads as io.EOF. Only the first close takes effect.
func (l *Link[T]) CloseWithError(err error) {
	l.closeOnce.Do(func() {
		l.err = err
		close(l.closed)
	})
}

// CloseRead abandons the link from the reader side; blocked writers return ErrReaderGone
func (l *Link[T]) CloseRead() {
	l.goneOnce.Do(func() { close(l.gone) })
}

// Closed reports whether the write end has been closed
func (l *Link[T]) Closed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Len is the number of unread buffered items
func (l *Link[T]) Len() int { return len(l.ch) }

// Cap is the buffer capacity
func (l *Link[T]) Cap() int { return cap(l.ch) }

func (l *Link[T]) endErr() error {
	if l.err != nil {
		return l.err
	}
	return io.EOF
}
