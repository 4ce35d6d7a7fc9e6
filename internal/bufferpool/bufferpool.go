// Package bufferpool recycles fixed-size byte slices between goroutines.
package bufferpool

import "sync"

// Pool is a wrapper around sync.Pool with a helper Release method on returned objects.
type Pool struct {
	pool sync.Pool
}

// New returns a new Pool for Buffers of size buflen.
func New(buflen int) *Pool {
	p := &Pool{}
	p.pool.New = func() interface{} {
		b := make([]byte, buflen)
		return &b
	}
	return p
}

// Get a Buffer from the pool. Call Buffer.Release when done with it.
func (p *Pool) Get() Buffer {
	buf := p.pool.Get().(*[]byte)
	return Buffer{
		Data: *buf,
		buf:  buf,
		pool: p,
	}
}

// Buffer is a slice with a pointer to its Pool.
type Buffer struct {
	Data []byte
	buf  *[]byte
	pool *Pool
}

// Release the Buffer and return it to the Pool. Data must not be used afterwards.
func (b Buffer) Release() {
	// argument to Put should be pointer-like to avoid allocations
	b.pool.pool.Put(b.buf)
}
