package optimize

import (
	"bytes"
	"sync"
)

// BytePool is a pool of fixed size byte slices
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a new byte pool with specified size
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Size returns the length of the slices handed out by the pool
func (p *BytePool) Size() int { return p.size }

// Get gets a byte slice from the pool
func (p *BytePool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put returns a byte slice to the pool
func (p *BytePool) Put(b []byte) {
	// Only put back if it's the right size
	if cap(b) >= p.size {
		b = b[:p.size]
		p.pool.Put(&b)
	}
}

// BufferPool recycles growable buffers. Buffers larger than maxRetained are
// dropped instead of being pooled.
type BufferPool struct {
	pool        sync.Pool
	maxRetained int
}

func NewBufferPool(maxRetained int) *BufferPool {
	return &BufferPool{
		maxRetained: maxRetained,
		pool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Get returns an empty buffer
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns a buffer to the pool
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if p.maxRetained > 0 && buf.Cap() > p.maxRetained {
		return
	}
	p.pool.Put(buf)
}

// GrowSlice grows a slice to newLen, keeping its contents
func GrowSlice[T any](s []T, newLen int) []T {
	if newLen <= cap(s) {
		return s[:newLen]
	}

	// Double capacity strategy
	newCap := cap(s) * 2
	if newCap < newLen {
		newCap = newLen
	}

	newSlice := make([]T, newLen, newCap)
	copy(newSlice, s)
	return newSlice
}
