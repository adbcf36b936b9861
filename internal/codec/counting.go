package codec

import (
	"context"
	"sync/atomic"
)

// Counting wraps a Codec and counts calls. Failed calls are counted too.
//
// Thread-safety: safe for concurrent use.
type Counting struct {
	inner   Codec
	encodes atomic.Int64
	decodes atomic.Int64
}

// NewCounting wraps inner.
func NewCounting(inner Codec) *Counting {
	return &Counting{inner: inner}
}

func (c *Counting) Encode(ctx context.Context, primary string) ([]byte, error) {
	c.encodes.Add(1)
	return c.inner.Encode(ctx, primary)
}

func (c *Counting) Decode(ctx context.Context, derived []byte) (string, error) {
	c.decodes.Add(1)
	return c.inner.Decode(ctx, derived)
}

// Encodes returns the number of Encode calls so far.
func (c *Counting) Encodes() int64 { return c.encodes.Load() }

// Decodes returns the number of Decode calls so far.
func (c *Counting) Decodes() int64 { return c.decodes.Load() }

// Reset zeroes both counters.
func (c *Counting) Reset() {
	c.encodes.Store(0)
	c.decodes.Store(0)
}
