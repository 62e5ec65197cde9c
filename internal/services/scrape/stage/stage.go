// Package stage implements the three streaming stages of a shard chain:
// fetch, decompress and parse. Each stage reads from and writes to bounded
// links and closes its output link when it returns, with its error if any
package stage

// DefaultChunkBytes is the chunk size used when callers pass zero
const DefaultChunkBytes = 32 * 1024

// Option tunes a stage
type Option func(*options)

type options struct {
	bytes func(n int)
}

// WithBytes reports every chunk written to the output link
func WithBytes(fn func(n int)) Option {
	return func(o *options) { o.bytes = fn }
}

func apply(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.bytes == nil {
		o.bytes = func(int) {}
	}
	return o
}

func chunkSize(n int) int {
	if n <= 0 {
		return DefaultChunkBytes
	}
	return n
}
