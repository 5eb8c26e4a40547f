package packet

import (
	"sync"

	"github.com/sebas/rocpipe/internal/status"
)

// Reader is the capability trait every packet source implements:
// composers, session queues, FEC readers.
type Reader interface {
	// ReadPacket returns the next packet, or a status-coded error.
	// status.ErrNoData means the queue is empty right now (transient).
	ReadPacket() (*Packet, error)
}

// Writer is the capability trait every packet sink implements.
type Writer interface {
	WritePacket(p *Packet) error
}

// Queue is a bounded FIFO connecting the I/O plane to the pipeline
// plane (spec.md §5): network threads write, the pipeline loop reads.
// It is safe for one writer and one reader to operate concurrently
// without external locking beyond what's built in here.
type Queue struct {
	mu       sync.Mutex
	buf      []*Packet
	capacity int
}

// NewQueue returns a Queue bounded to capacity packets. capacity <= 0
// means unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// WritePacket appends p to the tail. Returns status.ErrNoMem if the
// queue is at capacity.
func (q *Queue) WritePacket(p *Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.buf) >= q.capacity {
		return status.ErrNoMem
	}
	q.buf = append(q.buf, p)
	return nil
}

// ReadPacket pops the head packet, or status.ErrNoData if empty.
func (q *Queue) ReadPacket() (*Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil, status.ErrNoData
	}
	p := q.buf[0]
	q.buf[0] = nil
	q.buf = q.buf[1:]
	return p, nil
}

// Len returns the number of packets currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
