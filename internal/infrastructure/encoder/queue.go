package encoder

import "duetrec/internal/core/domain"

// chunkQueue decouples producers from the consumer of Chunks. push never
// blocks on a slow reader; out is closed after close once every queued chunk
// has been delivered.
type chunkQueue struct {
	in  chan domain.Chunk
	out chan domain.Chunk
}

func newChunkQueue() *chunkQueue {
	q := &chunkQueue{
		in:  make(chan domain.Chunk),
		out: make(chan domain.Chunk),
	}
	go q.run()
	return q
}

func (q *chunkQueue) run() {
	defer close(q.out)

	var pending []domain.Chunk
	in := q.in
	for in != nil || len(pending) > 0 {
		var out chan domain.Chunk
		var next domain.Chunk
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}

		select {
		case c, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, c)
		case out <- next:
			pending[0] = domain.Chunk{}
			pending = pending[1:]
		}
	}
}

func (q *chunkQueue) push(c domain.Chunk) { q.in <- c }

func (q *chunkQueue) close() { close(q.in) }
