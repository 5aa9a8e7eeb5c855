package gibridge

import "context"

// Pool bounds the number of concurrently executing native calls. A
// native call can block for an unbounded time; running it through a
// slot means a hung call occupies one slot instead of starving the
// rest of the server. No slot ever times out on its own.
type Pool struct {
	slots chan struct{}
}

const defaultPoolSize = 8

// NewPool creates a pool with the given number of slots. Sizes below
// one fall back to the default.
func NewPool(size int) *Pool {
	if size < 1 {
		size = defaultPoolSize
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Do runs fn in a pool slot, blocking until a slot is free or ctx is
// done. fn runs on the calling goroutine; the slot is what is bounded,
// not the goroutine.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()
	return fn()
}
