package proxy

import "sync"

// bufferPool hands out fixed-size read buffers. A buffer taken for a
// session is returned only after that session ends.
type bufferPool struct {
	size int
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

func (p *bufferPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return (*b)[:p.size]
}

func (p *bufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	// This &b forces a 32-byte heap allocation.  There's no way to avoid this when converting a non-pointer to an interface{}.
	p.pool.Put(&b)
}
