package discount

import "sync"

// FormatterPool recycles Formatters between requests. Put resets the cache,
// so a formatter obtained from Get never carries coupons from an earlier
// request.
type FormatterPool struct {
	pool sync.Pool
}

// NewFormatterPool creates a pool whose formatters share lookup and opts.
func NewFormatterPool(lookup CouponLookup, opts ...Option) *FormatterPool {
	return &FormatterPool{
		pool: sync.Pool{
			New: func() any { return NewFormatter(lookup, opts...) },
		},
	}
}

// Get returns a formatter with an empty cache.
func (p *FormatterPool) Get() *Formatter {
	return p.pool.Get().(*Formatter)
}

// Put resets f and returns it to the pool. f must not be used afterwards.
func (p *FormatterPool) Put(f *Formatter) {
	f.Reset()
	p.pool.Put(f)
}
