package channel

import (
	"context"
	"io"
)

// Reader exposes a byte-slice channel as an io.Reader
type Reader struct {
	ctx  context.Context
	ch   *Bounded[[]byte]
	rest []byte
}

func NewReader(ctx context.Context, ch *Bounded[[]byte]) *Reader {
	return &Reader{ctx: ctx, ch: ch}
}

// Read returns io.EOF once the channel is closed and drained
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.rest) == 0 {
		data, err := r.ch.Pop(r.ctx)
		if err != nil {
			return 0, err
		}
		r.rest = data
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}

var _ io.Reader = (*Reader)(nil)
